package records

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/runreveal/canaryhits/internal/types"
)

// Header is the fixed first row of every record file.
var Header = []string{"Timestamp", "src_ip", "input_channel", "geo_info", "is_tor_relay", "referer", "location", "useragent"}

var ErrHeader = errors.New("unexpected record header")

// Encode writes the header and one row per event. Every field is quoted and
// line breaks inside fields are stored as a bare LF.
func Encode(w io.Writer, events []types.Event) error {
	bw := bufio.NewWriter(w)
	if err := writeRow(bw, Header); err != nil {
		return err
	}
	for _, ev := range events {
		if err := writeRow(bw, toRow(ev)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func toRow(ev types.Event) []string {
	return []string{
		ev.Timestamp(),
		ev.SrcIP,
		ev.Channel,
		ev.Geo.Raw,
		strconv.FormatBool(ev.IsRelay),
		types.Deref(ev.Referer),
		types.Deref(ev.Location),
		ev.UserAgent,
	}
}

// fieldEscaper doubles quotes. CRLF inside a field is written as LF, which is
// what encoding/csv hands back for it anyway.
var fieldEscaper = strings.NewReplacer(`"`, `""`, "\r\n", "\n")

func writeRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		fieldEscaper.WriteString(w, f)
		w.WriteByte('"')
	}
	_, err := w.WriteString("\r\n")
	return err
}

// Decode reads a record file written by Encode. Files produced by older
// tooling (capitalized booleans, timestamps without the zone suffix) are
// accepted too.
func Decode(r io.Reader) ([]types.Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrHeader)
		}
		return nil, err
	}
	for i := range Header {
		if strings.TrimSpace(head[i]) != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrHeader, i, head[i], Header[i])
		}
	}

	var events []types.Event
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		ev, err := fromRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
}

func fromRow(row []string) (types.Event, error) {
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return types.Event{}, err
	}
	relay := false
	if row[4] != "" {
		relay, err = strconv.ParseBool(row[4])
		if err != nil {
			return types.Event{}, fmt.Errorf("is_tor_relay: %w", err)
		}
	}
	return types.Event{
		OccurredAt: ts,
		SrcIP:      row[1],
		Channel:    row[2],
		Geo:        types.GeoInfo{Raw: row[3]},
		IsRelay:    relay,
		Referer:    types.Optional(row[5]),
		Location:   types.Optional(row[6]),
		UserAgent:  row[7],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{types.TimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
