package types

import (
	"time"
)

// TimeLayout is the textual form of an Event timestamp, both in the
// notification emails and in persisted records.
const TimeLayout = "2006-01-02 15:04:05 (UTC)"

// Event is a single enriched token hit.
type Event struct {
	OccurredAt time.Time `json:"occurredAt"`
	SrcIP      string    `json:"srcIP"`
	Channel    string    `json:"channel"`
	UserAgent  string    `json:"userAgent,omitempty"`

	Geo     GeoInfo `json:"geo"`
	IsRelay bool    `json:"isRelay"`

	// Only set for channels that report them.
	Referer  *string `json:"referer,omitempty"`
	Location *string `json:"location,omitempty"`
}

// GeoInfo holds the serialized attributes returned by the geolocation
// provider. An empty Raw value means the lookup was unavailable.
type GeoInfo struct {
	Raw string `json:"raw,omitempty"`
}

func (g GeoInfo) Available() bool {
	return g.Raw != ""
}

// Timestamp formats OccurredAt the way it is persisted.
func (e Event) Timestamp() string {
	return e.OccurredAt.UTC().Format(TimeLayout)
}

// Optional returns nil for an empty string so absent and empty optional
// fields have a single representation.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of an optional field or "" when absent.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
