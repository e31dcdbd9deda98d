package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

const (
	DefaultExitListURL = "https://check.torproject.org/torbulkexitlist"
	DefaultGeoURL      = "https://ipinfo.io"
	DefaultTimeout     = 10 * time.Second
)

// RelayLister returns the current set of anonymizing exit node addresses.
type RelayLister interface {
	ExitNodes(ctx context.Context) ([]string, error)
}

// GeoLocator returns the serialized geolocation attributes for an address.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// ExitList fetches a newline separated list of addresses, as published by
// the Tor project's bulk exit list.
type ExitList struct {
	url    string
	client *http.Client
}

func NewExitList(url string, timeout time.Duration) *ExitList {
	if url == "" {
		url = DefaultExitListURL
	}
	return &ExitList{url: url, client: httpClient(timeout)}
}

func (l *ExitList) ExitNodes(ctx context.Context) ([]string, error) {
	var body string
	err := requests.
		URL(l.url).
		Client(l.client).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exit list %s: %w", l.url, err)
	}

	var nodes []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			continue
		}
		nodes = append(nodes, addr.String())
	}
	return nodes, nil
}

// IPInfo queries an ipinfo.io compatible endpoint. The response body is kept
// verbatim as the geo attributes.
type IPInfo struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewIPInfo(baseURL, token string, timeout time.Duration) *IPInfo {
	if baseURL == "" {
		baseURL = DefaultGeoURL
	}
	return &IPInfo{baseURL: baseURL, token: token, client: httpClient(timeout)}
}

func (g *IPInfo) Locate(ctx context.Context, ip string) (string, error) {
	var body string
	rb := requests.
		URL(g.baseURL).
		Pathf("/%s", ip).
		Client(g.client).
		Accept("application/json").
		ToString(&body)
	if g.token != "" {
		rb = rb.Param("token", g.token)
	}
	if err := rb.Fetch(ctx); err != nil {
		return "", fmt.Errorf("geo lookup %s: %w", ip, err)
	}

	// compacted so the attributes stay on one line in record files
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(body)); err != nil {
		return "", fmt.Errorf("geo lookup %s: response is not json: %w", ip, err)
	}
	return compact.String(), nil
}
