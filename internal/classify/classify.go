// Package classify turns a raw token notification email into a structured
// hit and the source id of the record collection it belongs to.
package classify

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/runreveal/canaryhits/internal/types"
)

// Kind is the outcome of classifying one message.
type Kind int

const (
	// Hit means the message is a token hit and every required field was
	// extracted.
	Hit Kind = iota
	// NotAToken means there is no structured payload or no source id.
	NotAToken
	// MissingField means the payload was found but a required field is
	// missing or unparseable.
	MissingField
)

func (k Kind) String() string {
	switch k {
	case Hit:
		return "hit"
	case NotAToken:
		return "not-a-token"
	case MissingField:
		return "missing-field"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AddressPolicy selects which address is used when the source IP cell holds
// a comma separated list.
type AddressPolicy int

const (
	// LastAddress takes the final entry of the list.
	LastAddress AddressPolicy = iota
	FirstAddress
)

func ParseAddressPolicy(s string) (AddressPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return LastAddress, nil
	case "first":
		return FirstAddress, nil
	}
	return LastAddress, fmt.Errorf("unknown address policy %q (want first or last)", s)
}

func (p AddressPolicy) String() string {
	if p == FirstAddress {
		return "first"
	}
	return "last"
}

// Fields are the values extracted from a hit, before enrichment.
type Fields struct {
	OccurredAt time.Time
	SrcIP      string
	Channel    string
	UserAgent  string
	Referer    *string
	Location   *string
}

// Result is returned by Classify. SourceID and Fields are only meaningful
// when Kind is Hit. Reason describes why a message was rejected.
type Result struct {
	Kind     Kind
	SourceID string
	Fields   Fields
	Reason   string
}

func (r Result) OK() bool {
	return r.Kind == Hit
}

// Event returns the unenriched event for a hit.
func (r Result) Event() types.Event {
	return types.Event{
		OccurredAt: r.Fields.OccurredAt,
		SrcIP:      r.Fields.SrcIP,
		Channel:    r.Fields.Channel,
		UserAgent:  r.Fields.UserAgent,
		Referer:    r.Fields.Referer,
		Location:   r.Fields.Location,
	}
}

type Option func(*Classifier)

func WithAddressPolicy(p AddressPolicy) Option {
	return func(c *Classifier) {
		c.policy = p
	}
}

// Classifier has no mutable state; Classify is safe for concurrent use and
// always returns the same Result for the same input.
type Classifier struct {
	policy AddressPolicy
}

func New(opts ...Option) *Classifier {
	c := &Classifier{policy: LastAddress}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Classify(raw []byte) Result {
	body, ok := htmlBody(raw)
	if !ok {
		return Result{Kind: NotAToken, Reason: "no html payload"}
	}
	cells, ok := labeledCells(body)
	if !ok {
		return Result{Kind: NotAToken, Reason: "no labeled fields in payload"}
	}
	sourceID := cells[LabelSourceID]
	if sourceID == "" {
		return Result{Kind: NotAToken, Reason: fmt.Sprintf("no %q field", LabelSourceID)}
	}

	missing := func(label string) Result {
		return Result{Kind: MissingField, SourceID: sourceID, Reason: fmt.Sprintf("missing %q field", label)}
	}

	channel := cells[LabelChannel]
	if channel == "" {
		return missing(LabelChannel)
	}
	rawTime := cells[LabelTime]
	if rawTime == "" {
		return missing(LabelTime)
	}
	occurred, err := ParseTime(rawTime)
	if err != nil {
		return Result{Kind: MissingField, SourceID: sourceID, Reason: err.Error()}
	}
	rawIP := cells[LabelSourceIP]
	if rawIP == "" {
		return missing(LabelSourceIP)
	}
	ip, err := c.pickAddress(rawIP)
	if err != nil {
		return Result{Kind: MissingField, SourceID: sourceID, Reason: err.Error()}
	}

	return Result{
		Kind:     Hit,
		SourceID: sourceID,
		Fields: Fields{
			OccurredAt: occurred,
			SrcIP:      ip,
			Channel:    channel,
			UserAgent:  cells[LabelUserAgent],
			Referer:    types.Optional(cells[LabelReferer]),
			Location:   types.Optional(cells[LabelLocation]),
		},
	}
}

// pickAddress applies the address policy. The provider sometimes reports a
// proxy chain here; which end is the client is not documented.
func (c *Classifier) pickAddress(s string) (string, error) {
	parts := strings.Split(s, ",")
	candidate := parts[len(parts)-1]
	if c.policy == FirstAddress {
		candidate = parts[0]
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(candidate))
	if err != nil {
		return "", fmt.Errorf("invalid source address %q: %w", s, err)
	}
	return addr.String(), nil
}

var timeLayouts = []string{
	types.TimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999 (UTC)",
	"2006-01-02 15:04:05.999999",
}

// ParseTime parses a hit timestamp. All accepted layouts are interpreted as
// UTC and truncated to whole seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
