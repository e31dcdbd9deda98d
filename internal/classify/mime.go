package classify

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/net/html/charset"
)

// maxPartDepth bounds recursion into nested multipart bodies.
const maxPartDepth = 8

// htmlBody returns the decoded text/html payload of a raw message. Files that
// are not RFC 5322 messages are accepted when they look like bare HTML.
func htmlBody(raw []byte) ([]byte, bool) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return sniffHTML(raw)
	}
	body, ok := findHTML(textproto.MIMEHeader(msg.Header), msg.Body, 0)
	if ok {
		return body, true
	}
	// some providers send html with no content type at all
	rest, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, false
	}
	return sniffHTML(rest)
}

func findHTML(header textproto.MIMEHeader, body io.Reader, depth int) ([]byte, bool) {
	if depth > maxPartDepth {
		return nil, false
	}
	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return nil, false
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, false
		}
		mr := multipart.NewReader(body, boundary)
		for {
			// NextRawPart leaves transfer decoding to us so quoted-printable
			// and base64 parts are handled the same way.
			part, err := mr.NextRawPart()
			if err != nil {
				return nil, false
			}
			if out, ok := findHTML(part.Header, part, depth+1); ok {
				return out, true
			}
		}
	case mediaType == "text/html":
		r := transferDecoder(header.Get("Content-Transfer-Encoding"), body)
		out, err := io.ReadAll(toUTF8(params["charset"], r))
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false
		}
		return out, len(out) > 0
	}
	return nil, false
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		// the decoder skips CR and LF itself
		return base64.NewDecoder(base64.StdEncoding, r)
	}
	return r
}

// toUTF8 converts r from the declared charset. Unknown labels are passed
// through unchanged.
func toUTF8(label string, r io.Reader) io.Reader {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "utf-8", "utf8", "us-ascii":
		return r
	}
	cr, err := charset.NewReaderLabel(label, r)
	if err != nil {
		return r
	}
	return cr
}

func sniffHTML(b []byte) ([]byte, bool) {
	lower := bytes.ToLower(b)
	if bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<td")) {
		return b, true
	}
	return nil, false
}
