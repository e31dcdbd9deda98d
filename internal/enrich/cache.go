// Package enrich attaches geolocation and exit node membership to hits.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/runreveal/canaryhits/internal/types"
)

// ErrRelayList is returned by IsKnownRelay when the exit node list could not
// be fetched. The failure is remembered for the lifetime of the Cache.
var ErrRelayList = errors.New("exit node list unavailable")

type Option func(*Cache)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.timeout = d
	}
}

// WithGeoMemo keeps up to size successful geolocation results in memory.
// Zero, the default, queries the provider for every call.
func WithGeoMemo(size int) Option {
	return func(c *Cache) {
		c.geoMemoSize = size
	}
}

// Cache memoizes lookups for one run. The exit node list is fetched at most
// once; geolocation is only memoized when WithGeoMemo is set.
type Cache struct {
	relays  RelayLister
	geo     GeoLocator
	timeout time.Duration

	relayOnce sync.Once
	exitNodes []string
	relayErr  error

	geoMemoSize int
	geoMemo     *lru.Cache[string, types.GeoInfo]
}

func NewCache(relays RelayLister, geo GeoLocator, opts ...Option) (*Cache, error) {
	if relays == nil || geo == nil {
		return nil, errors.New("enrich: relay and geo providers are required")
	}
	c := &Cache{
		relays:  relays,
		geo:     geo,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.geoMemoSize > 0 {
		memo, err := lru.New[string, types.GeoInfo](c.geoMemoSize)
		if err != nil {
			return nil, fmt.Errorf("enrich: %w", err)
		}
		c.geoMemo = memo
	}
	return c, nil
}

// IsKnownRelay reports whether ip is in the exit node list. The first call
// fetches and sorts the list; later calls never fetch again.
func (c *Cache) IsKnownRelay(ctx context.Context, ip string) (bool, error) {
	c.relayOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		slog.Info("fetching exit node list")
		nodes, err := c.relays.ExitNodes(ctx)
		if err != nil {
			c.relayErr = fmt.Errorf("%w: %w", ErrRelayList, err)
			slog.Error(fmt.Sprintf("exit node list: %s", err))
			return
		}
		slices.Sort(nodes)
		c.exitNodes = slices.Compact(nodes)
		slog.Info(fmt.Sprintf("loaded %d exit nodes", len(c.exitNodes)))
	})
	if c.relayErr != nil {
		return false, c.relayErr
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, fmt.Errorf("invalid address %q: %w", ip, err)
	}
	_, found := slices.BinarySearch(c.exitNodes, addr.String())
	return found, nil
}

// LookupGeo queries the geolocation provider. Failures are logged and
// reported as an unavailable GeoInfo rather than an error.
func (c *Cache) LookupGeo(ctx context.Context, ip string) types.GeoInfo {
	if c.geoMemo != nil {
		if info, ok := c.geoMemo.Get(ip); ok {
			return info
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.geo.Locate(ctx, ip)
	if err != nil {
		slog.Warn(fmt.Sprintf("geolocation unavailable for %s: %s", ip, err))
		return types.GeoInfo{}
	}
	info := types.GeoInfo{Raw: raw}
	if c.geoMemo != nil {
		c.geoMemo.Add(ip, info)
	}
	return info
}
