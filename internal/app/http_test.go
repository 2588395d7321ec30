package app

import (
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestNewFeedHTTPClient_Config(t *testing.T) {
	c := newFeedHTTPClient(true, 0)
	if c.Timeout != timeoutDefault {
		t.Fatalf("expected default timeout, got %v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected http.Transport")
	}
	if tr.MaxIdleConnsPerHost != feedIdleConnsPerHost {
		t.Fatalf("unexpected MaxIdleConnsPerHost %d", tr.MaxIdleConnsPerHost)
	}
	if tr.ResponseHeaderTimeout != timeoutDefault {
		t.Fatalf("expected header timeout to follow client timeout, got %v", tr.ResponseHeaderTimeout)
	}
	// Ensure we didn't return the default client's transport
	if reflect.ValueOf(http.DefaultTransport).Pointer() == reflect.ValueOf(tr).Pointer() {
		t.Fatalf("transport should not be default")
	}
	if c := newFeedHTTPClient(true, 3*time.Second); c.Timeout != 3*time.Second {
		t.Fatalf("expected explicit timeout, got %v", c.Timeout)
	}
}

func TestNewFeedHTTPClient_SSLVerify(t *testing.T) {
	tests := []struct {
		name      string
		sslVerify bool
		wantSkip  bool
	}{
		{"SSL verification enabled", true, false},
		{"SSL verification disabled", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFeedHTTPClient(tt.sslVerify, 0)
			transport, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("expected *http.Transport, got %T", client.Transport)
			}
			var actualSkip bool
			if transport.TLSClientConfig != nil {
				actualSkip = transport.TLSClientConfig.InsecureSkipVerify
			}
			if actualSkip != tt.wantSkip {
				t.Errorf("SSLVerify=%v: expected InsecureSkipVerify=%v, got %v", tt.sslVerify, tt.wantSkip, actualSkip)
			}
		})
	}
}
