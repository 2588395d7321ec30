package source

import (
	"bytes"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Response is an already fetched document together with the transport
// metadata needed to decode it.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Encoding string
}

var xmlDeclEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*?encoding\s*=\s*["']([A-Za-z0-9._:\-]+)["']`)

// NewResponse builds a Response and resolves its encoding from, in order:
// the Content-Type charset, a byte order mark, the XML declaration, and for
// HTML bodies a <meta> charset. Anything else is assumed to be UTF-8.
func NewResponse(url string, status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	r := &Response{URL: url, Status: status, Header: header, Body: body}
	r.Encoding = detectEncoding(body, header.Get("Content-Type"))
	return r
}

// ContentType returns the media type without parameters, lowercased.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

// IsText reports whether the body carries decodable text (markup, CSV, JSON,
// plain text). Responses without a content type are text when the body is
// valid UTF-8.
func (r *Response) IsText() bool {
	mt := r.ContentType()
	if mt == "" {
		return utf8.Valid(r.Body)
	}
	return isTextMediaType(mt)
}

// IsHTML reports whether the response declares an HTML or XHTML body.
func (r *Response) IsHTML() bool {
	mt := r.ContentType()
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Text decodes the body with the response encoding. A leading byte order
// mark is dropped.
func (r *Response) Text() (string, error) {
	enc := r.Encoding
	if enc == "" {
		enc = DefaultEncoding
	}
	body := r.Body
	if _, name := charset.Lookup(enc); name == "utf-8" {
		body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	}
	return decode(body, enc)
}

// Replace returns a copy of r carrying body instead of the original body.
// Headers are shared with r.
func (r *Response) Replace(body []byte) *Response {
	cp := *r
	cp.Body = body
	return &cp
}

func isTextMediaType(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	for _, marker := range []string{"xml", "json", "csv", "javascript"} {
		if strings.Contains(mt, marker) {
			return true
		}
	}
	return false
}

func detectEncoding(body []byte, contentType string) string {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if label := params["charset"]; label != "" {
				if _, name := charset.Lookup(label); name != "" {
					return name
				}
			}
		}
	}
	switch {
	case bytes.HasPrefix(body, []byte("\xef\xbb\xbf")):
		return "utf-8"
	case bytes.HasPrefix(body, []byte("\xfe\xff")):
		return "utf-16be"
	case bytes.HasPrefix(body, []byte("\xff\xfe")):
		return "utf-16le"
	}
	if m := xmlDeclEncoding.FindSubmatch(body); m != nil {
		if _, name := charset.Lookup(string(m[1])); name != "" {
			return name
		}
	}
	if strings.Contains(strings.ToLower(contentType), "html") {
		if _, name, _ := charset.DetermineEncoding(body, contentType); name != "" {
			return name
		}
	}
	return DefaultEncoding
}
