package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exitList = `# exit nodes
203.0.113.50
198.51.100.7

192.0.2.1
not-an-ip
`

func providers(t *testing.T) (relayHits, geoHits *int64, relayURL, geoURL string) {
	t.Helper()
	relayHits, geoHits = new(int64), new(int64)

	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(relayHits, 1)
		fmt.Fprint(w, exitList)
	}))
	t.Cleanup(relaySrv.Close)

	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(geoHits, 1)
		ip := strings.TrimPrefix(r.URL.Path, "/")
		if ip == "10.0.0.1" {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ip": %q, "country": "NL", "region": "North Holland"}`, ip)
	}))
	t.Cleanup(geoSrv.Close)

	return relayHits, geoHits, relaySrv.URL, geoSrv.URL
}

func TestIsKnownRelayFetchesOnce(t *testing.T) {
	relayHits, _, relayURL, geoURL := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), NewIPInfo(geoURL, "secret", time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	tests := []struct {
		ip   string
		want bool
	}{
		{"203.0.113.50", true},
		{"198.51.100.7", true},
		{"192.0.2.1", true},
		{"192.0.2.2", false},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		got, err := c.IsKnownRelay(ctx, tt.ip)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.ip)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(relayHits), "exit list fetched exactly once")
}

func TestIsKnownRelayInvalidAddress(t *testing.T) {
	_, _, relayURL, geoURL := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), NewIPInfo(geoURL, "secret", time.Second))
	require.NoError(t, err)

	_, err = c.IsKnownRelay(context.Background(), "nope")
	assert.Error(t, err)
}

type failingRelays struct{ calls int }

func (f *failingRelays) ExitNodes(context.Context) ([]string, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestIsKnownRelayFailureIsSticky(t *testing.T) {
	_, _, _, geoURL := providers(t)
	relays := &failingRelays{}
	c, err := NewCache(relays, NewIPInfo(geoURL, "secret", time.Second))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.IsKnownRelay(context.Background(), "192.0.2.1")
		assert.ErrorIs(t, err, ErrRelayList)
	}
	assert.Equal(t, 1, relays.calls)
}

func TestLookupGeo(t *testing.T) {
	_, geoHits, relayURL, geoURL := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), NewIPInfo(geoURL, "secret", time.Second))
	require.NoError(t, err)
	ctx := context.Background()

	info := c.LookupGeo(ctx, "203.0.113.9")
	require.True(t, info.Available())
	assert.JSONEq(t, `{"ip": "203.0.113.9", "country": "NL", "region": "North Holland"}`, info.Raw)

	// no memo by default: every call reaches the provider
	c.LookupGeo(ctx, "203.0.113.9")
	assert.Equal(t, int64(2), atomic.LoadInt64(geoHits))

	failed := c.LookupGeo(ctx, "10.0.0.1")
	assert.False(t, failed.Available())
}

func TestLookupGeoBadToken(t *testing.T) {
	_, _, relayURL, geoURL := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), NewIPInfo(geoURL, "wrong", time.Second))
	require.NoError(t, err)

	assert.False(t, c.LookupGeo(context.Background(), "203.0.113.9").Available())
}

func TestLookupGeoMemo(t *testing.T) {
	_, geoHits, relayURL, geoURL := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), NewIPInfo(geoURL, "secret", time.Second), WithGeoMemo(8))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, c.LookupGeo(ctx, "203.0.113.9").Available())
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(geoHits))

	// failures are not memoized
	c.LookupGeo(ctx, "10.0.0.1")
	c.LookupGeo(ctx, "10.0.0.1")
	assert.Equal(t, int64(3), atomic.LoadInt64(geoHits))
}

type slowGeo struct{}

func (slowGeo) Locate(ctx context.Context, ip string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestLookupGeoTimeout(t *testing.T) {
	_, _, relayURL, _ := providers(t)
	c, err := NewCache(NewExitList(relayURL, time.Second), slowGeo{}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	info := c.LookupGeo(context.Background(), "203.0.113.9")
	assert.False(t, info.Available())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewCacheRequiresProviders(t *testing.T) {
	_, err := NewCache(nil, slowGeo{})
	assert.Error(t, err)
}
