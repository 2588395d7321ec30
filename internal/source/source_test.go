package source

import (
	"errors"
	"net/http"
	"testing"
)

func TestFrom_AcceptsSupportedShapes(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{"<a/>", KindText},
		{[]byte("<a/>"), KindBytes},
		{NewResponse("http://example.com", 200, nil, []byte("<a/>")), KindResponse},
		{Text("x"), KindText},
	}
	for _, tc := range cases {
		doc, err := From(tc.in)
		if err != nil {
			t.Fatalf("From(%T): unexpected error: %v", tc.in, err)
		}
		if doc.Kind() != tc.kind {
			t.Fatalf("From(%T): expected kind %s, got %s", tc.in, tc.kind, doc.Kind())
		}
	}
}

func TestFrom_RejectsUnsupported(t *testing.T) {
	for _, in := range []any{42, nil, struct{}{}, Document{}, (*Response)(nil)} {
		if _, err := From(in); !errors.Is(err, ErrUnsupportedSource) {
			t.Fatalf("From(%#v): expected ErrUnsupportedSource, got %v", in, err)
		}
	}
}

func TestZeroDocument_CoercionFails(t *testing.T) {
	var d Document
	if _, err := d.Text(); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource from Text, got %v", err)
	}
	if _, err := d.Bytes(); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource from Bytes, got %v", err)
	}
}

func TestBytesWithEncoding_DecodesLatin1(t *testing.T) {
	d := BytesWithEncoding([]byte("caf\xe9"), "iso-8859-1")
	s, err := d.Text()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "café" {
		t.Fatalf("expected café, got %q", s)
	}
	if d.Encoding() != "iso-8859-1" {
		t.Fatalf("unexpected encoding %q", d.Encoding())
	}
}

func TestText_EncodesToUTF8Bytes(t *testing.T) {
	b, err := Text("ä").Bytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "ä" || len(b) != 2 {
		t.Fatalf("expected two UTF-8 bytes, got %v", b)
	}
	if Text("ä").Encoding() != "utf-8" {
		t.Fatalf("text documents must report utf-8")
	}
}

func TestNewResponse_EncodingFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/xml; charset=ISO-8859-1")
	r := NewResponse("http://example.com/feed", 200, h, []byte("<a>\xe9</a>"))
	if r.Encoding != "windows-1252" && r.Encoding != "iso-8859-1" {
		t.Fatalf("unexpected encoding %q", r.Encoding)
	}
	s, err := FromResponse(r).Text()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "<a>é</a>" {
		t.Fatalf("unexpected text %q", s)
	}
}

func TestNewResponse_EncodingFromXMLDeclaration(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/rss+xml")
	body := []byte(`<?xml version="1.0" encoding="iso-8859-2"?><rss/>`)
	r := NewResponse("http://example.com/feed", 200, h, body)
	if r.Encoding != "iso-8859-2" {
		t.Fatalf("expected iso-8859-2, got %q", r.Encoding)
	}
	if !r.IsText() {
		t.Fatalf("expected rss+xml to be text")
	}
}

func TestNewResponse_DefaultsToUTF8(t *testing.T) {
	r := NewResponse("http://example.com/data", 200, nil, []byte("a,b\n1,2\n"))
	if r.Encoding != "utf-8" {
		t.Fatalf("expected utf-8, got %q", r.Encoding)
	}
	if !r.IsText() {
		t.Fatalf("expected valid UTF-8 body without content type to be text")
	}
}

func TestResponse_BinaryIsNotText(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")
	r := NewResponse("http://example.com/bin", 200, h, []byte("<a/>"))
	if r.IsText() {
		t.Fatalf("octet-stream must not be text")
	}
	s, err := FromResponse(r).Text()
	if err != nil || s != "<a/>" {
		t.Fatalf("expected UTF-8 fallback decode, got %q, %v", s, err)
	}
}

func TestResponse_ReplaceKeepsMetadata(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/xml; charset=utf-8")
	r := NewResponse("http://example.com/feed", 200, h, []byte("<a/>"))
	cp := r.Replace([]byte("<b/>"))
	if string(r.Body) != "<a/>" {
		t.Fatalf("original body must not change")
	}
	if string(cp.Body) != "<b/>" || cp.URL != r.URL || cp.Encoding != r.Encoding {
		t.Fatalf("unexpected replaced response: %+v", cp)
	}
}

func TestResponse_TextDropsBOM(t *testing.T) {
	r := NewResponse("http://example.com", 200, nil, []byte("\xef\xbb\xbf<a/>"))
	s, err := r.Text()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "<a/>" {
		t.Fatalf("expected BOM to be dropped, got %q", s)
	}
}
