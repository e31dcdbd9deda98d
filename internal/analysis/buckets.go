package analysis

import (
	"sort"

	"github.com/mssola/useragent"
	"github.com/runreveal/canaryhits/internal/types"
	"github.com/tidwall/gjson"
)

const unknown = "unknown"

type Bucket struct {
	Key   string
	Count int
}

// Chart is one titled grouping of a collection's events.
type Chart struct {
	Title   string
	Buckets []Bucket
}

// Buckets groups events the same way for every collection: hits per day in
// chronological order, then hits per country, region, browser family, OS
// family and device class, each ordered by key.
func Buckets(events []types.Event) []Chart {
	return []Chart{
		{Title: "Requests over time", Buckets: group(events, day)},
		{Title: "Requests by country", Buckets: group(events, geoField("country"))},
		{Title: "Requests by region", Buckets: group(events, geoField("region"))},
		{Title: "Requests by browser family", Buckets: group(events, browser)},
		{Title: "Requests by OS", Buckets: group(events, osFamily)},
		{Title: "Requests by mobile devices", Buckets: group(events, device)},
	}
}

func group(events []types.Event, key func(types.Event) string) []Bucket {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[key(ev)]++
	}
	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// day keys sort chronologically as strings.
func day(ev types.Event) string {
	return ev.OccurredAt.UTC().Format("2006-01-02")
}

func geoField(name string) func(types.Event) string {
	return func(ev types.Event) string {
		if !ev.Geo.Available() || !gjson.Valid(ev.Geo.Raw) {
			return unknown
		}
		v := gjson.Get(ev.Geo.Raw, name)
		if !v.Exists() || v.String() == "" {
			return unknown
		}
		return v.String()
	}
}

func browser(ev types.Event) string {
	if ev.UserAgent == "" {
		return unknown
	}
	name, _ := useragent.New(ev.UserAgent).Browser()
	if name == "" {
		return unknown
	}
	return name
}

func osFamily(ev types.Event) string {
	if ev.UserAgent == "" {
		return unknown
	}
	name := useragent.New(ev.UserAgent).OSInfo().Name
	if name == "" {
		return unknown
	}
	return name
}

func device(ev types.Event) string {
	if ev.UserAgent != "" && useragent.New(ev.UserAgent).Mobile() {
		return "Mobile"
	}
	return "PC"
}
