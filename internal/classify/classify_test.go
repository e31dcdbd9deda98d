package classify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ label, value string }

func hitHTML(rows ...row) string {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">`)
	sb.WriteString("<html><body><table class=\"a1\">\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "<tr><td class=\"k%d\">%s</td>\n  <td class=\"v\"><span>%s</span></td></tr>\n", len(r.label), r.label, r.value)
	}
	sb.WriteString("</table></body></html>\n")
	return sb.String()
}

func defaultRows() []row {
	return []row{
		{"Channel", "HTTP"},
		{"Time", "2023-04-05 06:07:08 (UTC)"},
		{"Source IP", "203.0.113.9"},
		{"User Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/112.0"},
		{"Token Reminder", "alpha"},
	}
}

func qpEmail(t *testing.T, body string) []byte {
	t.Helper()
	var enc bytes.Buffer
	w := quotedprintable.NewWriter(&enc)
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return []byte("From: Canarytokens <noreply@canarytokens.org>\r\n" +
		"To: ops@example.com\r\n" +
		"Subject: Canarytoken triggered\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
		"\r\n" +
		"Your token was triggered\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=\"utf-8\"\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		enc.String() + "\r\n" +
		"--BOUNDARY--\r\n")
}

func base64Email(body string) []byte {
	return []byte("From: noreply@canarytokens.org\r\n" +
		"Subject: Canarytoken triggered\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		base64.StdEncoding.EncodeToString([]byte(body)) + "\r\n")
}

func TestClassifyHit(t *testing.T) {
	raw := qpEmail(t, hitHTML(defaultRows()...))

	res := New().Classify(raw)
	require.Equal(t, Hit, res.Kind, res.Reason)
	assert.Equal(t, "alpha", res.SourceID)
	assert.Equal(t, "HTTP", res.Fields.Channel)
	assert.Equal(t, "203.0.113.9", res.Fields.SrcIP)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64) Firefox/112.0", res.Fields.UserAgent)
	assert.Equal(t, time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC), res.Fields.OccurredAt)
	assert.Nil(t, res.Fields.Referer)
	assert.Nil(t, res.Fields.Location)

	ev := res.Event()
	assert.Equal(t, "2023-04-05 06:07:08 (UTC)", ev.Timestamp())
	assert.False(t, ev.Geo.Available())
}

func TestClassifyEncodings(t *testing.T) {
	body := hitHTML(defaultRows()...)
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "quoted_printable_multipart", raw: qpEmail(t, body)},
		{name: "base64_single_part", raw: base64Email(body)},
		{name: "bare_html", raw: []byte(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New().Classify(tt.raw)
			require.Equal(t, Hit, res.Kind, res.Reason)
			assert.Equal(t, "alpha", res.SourceID)
			assert.Equal(t, "203.0.113.9", res.Fields.SrcIP)
		})
	}
}

func TestClassifyRejections(t *testing.T) {
	without := func(label string) []row {
		var out []row
		for _, r := range defaultRows() {
			if r.label != label {
				out = append(out, r)
			}
		}
		return out
	}
	with := func(label, value string) []row {
		out := defaultRows()
		for i := range out {
			if out[i].label == label {
				out[i].value = value
			}
		}
		return out
	}

	tests := []struct {
		name string
		raw  []byte
		want Kind
	}{
		{
			name: "plain_text_email",
			raw:  []byte("From: a@example.com\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\nnothing to see\r\n"),
			want: NotAToken,
		},
		{
			name: "not_an_email_at_all",
			raw:  []byte("just some notes"),
			want: NotAToken,
		},
		{
			name: "no_source_id",
			raw:  qpEmail(t, hitHTML(without("Token Reminder")...)),
			want: NotAToken,
		},
		{
			name: "html_without_table",
			raw:  qpEmail(t, "<html><body><p>newsletter</p></body></html>"),
			want: NotAToken,
		},
		{
			name: "missing_channel",
			raw:  qpEmail(t, hitHTML(without("Channel")...)),
			want: MissingField,
		},
		{
			name: "missing_source_ip",
			raw:  qpEmail(t, hitHTML(without("Source IP")...)),
			want: MissingField,
		},
		{
			name: "bad_time",
			raw:  qpEmail(t, hitHTML(with("Time", "yesterday-ish")...)),
			want: MissingField,
		},
		{
			name: "bad_address",
			raw:  qpEmail(t, hitHTML(with("Source IP", "not-an-ip")...)),
			want: MissingField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New().Classify(tt.raw)
			assert.Equal(t, tt.want, res.Kind, res.Reason)
			assert.False(t, res.OK())
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestClassifyMissingUserAgentIsAllowed(t *testing.T) {
	var rows []row
	for _, r := range defaultRows() {
		if r.label != "User Agent" {
			rows = append(rows, r)
		}
	}
	res := New().Classify(qpEmail(t, hitHTML(rows...)))
	require.Equal(t, Hit, res.Kind, res.Reason)
	assert.Equal(t, "", res.Fields.UserAgent)
}

func TestClassifyAddressPolicy(t *testing.T) {
	rows := defaultRows()
	rows[2].value = "198.51.100.1, 192.0.2.44"
	raw := qpEmail(t, hitHTML(rows...))

	res := New().Classify(raw)
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, "192.0.2.44", res.Fields.SrcIP)

	res = New(WithAddressPolicy(FirstAddress)).Classify(raw)
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, "198.51.100.1", res.Fields.SrcIP)
}

func TestClassifyOptionalFields(t *testing.T) {
	rows := append(defaultRows(),
		row{"Referer", "https://intranet.example.com/wiki"},
		row{"Location", "https://intranet.example.com/wiki/secrets"},
	)
	res := New().Classify(qpEmail(t, hitHTML(rows...)))
	require.True(t, res.OK(), res.Reason)
	require.NotNil(t, res.Fields.Referer)
	require.NotNil(t, res.Fields.Location)
	assert.Equal(t, "https://intranet.example.com/wiki", *res.Fields.Referer)
	assert.Equal(t, "https://intranet.example.com/wiki/secrets", *res.Fields.Location)
}

func TestClassifyIsPure(t *testing.T) {
	raws := [][]byte{
		qpEmail(t, hitHTML(defaultRows()...)),
		[]byte("junk"),
		base64Email(hitHTML(defaultRows()...)),
	}
	c := New()
	first := make([]Result, len(raws))
	for i, raw := range raws {
		first[i] = c.Classify(raw)
	}
	// reverse order, fresh classifier
	c2 := New()
	for i := len(raws) - 1; i >= 0; i-- {
		assert.Equal(t, first[i], c2.Classify(raws[i]))
	}
}

func TestParseAddressPolicy(t *testing.T) {
	p, err := ParseAddressPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LastAddress, p)

	p, err = ParseAddressPolicy("First")
	require.NoError(t, err)
	assert.Equal(t, FirstAddress, p)

	_, err = ParseAddressPolicy("middle")
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2021, 12, 31, 23, 59, 1, 0, time.UTC)
	for _, s := range []string{
		"2021-12-31 23:59:01 (UTC)",
		"2021-12-31 23:59:01",
		" 2021-12-31 23:59:01.123456 ",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
}

func TestClassifyDeclaredCharset(t *testing.T) {
	rows := defaultRows()
	rows[3] = row{"User Agent", "Navegador Se\xf1or/1.0"}
	rows[4] = row{"Token Reminder", "caf\xe9 wifi"}

	tests := []struct {
		name    string
		charset string
		wantID  string
		wantUA  string
	}{
		{name: "latin1", charset: "iso-8859-1", wantID: "café wifi", wantUA: "Navegador Señor/1.0"},
		{name: "windows1252", charset: "windows-1252", wantID: "café wifi", wantUA: "Navegador Señor/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var enc bytes.Buffer
			w := quotedprintable.NewWriter(&enc)
			_, err := w.Write([]byte(hitHTML(rows...)))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			raw := []byte("Subject: Canarytoken triggered\r\n" +
				"Content-Type: text/html; charset=" + tt.charset + "\r\n" +
				"Content-Transfer-Encoding: quoted-printable\r\n" +
				"\r\n" + enc.String() + "\r\n")

			res := New().Classify(raw)
			require.Equal(t, Hit, res.Kind, res.Reason)
			assert.Equal(t, tt.wantID, res.SourceID)
			assert.Equal(t, tt.wantUA, res.Fields.UserAgent)
		})
	}
}
