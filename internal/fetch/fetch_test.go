package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/feedx/internal/cache"
	"github.com/hyperifyio/feedx/internal/curl"
)

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=iso-8859-1")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<rss><item>caf\xe9</item></rss>"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 || len(resp.Body) == 0 {
		t.Fatalf("expected status and body, got %d %q", resp.Status, resp.Body)
	}
	if resp.Encoding != "windows-1252" && resp.Encoding != "iso-8859-1" {
		t.Fatalf("unexpected encoding %q", resp.Encoding)
	}
	text, err := resp.Text()
	if err != nil || text != "<rss><item>café</item></rss>" {
		t.Fatalf("unexpected text %q (%v)", text, err)
	}
}

func TestGet_RetryOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(502)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
}

func TestGet_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 3, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 404")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestGet_Conditional304_UsesCache(t *testing.T) {
	// First return 200 with ETag. Subsequent requests that include If-None-Match should get 304.
	var calls int
	etag := `"abc123"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/xml")
		if calls == 1 {
			w.Header().Set("ETag", etag)
			_, _ = w.Write([]byte("<first/>"))
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		// Should not happen if cache sends conditional headers
		fmt.Fprintln(w, "unexpected")
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: &cache.HTTPCache{Dir: t.TempDir()}}

	r1, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("first get error: %v", err)
	}
	if string(r1.Body) != "<first/>" {
		t.Fatalf("unexpected body1: %q", r1.Body)
	}

	r2, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second get error: %v", err)
	}
	if string(r2.Body) != "<first/>" || r2.Status != 200 {
		t.Fatalf("expected cached body, got %d %q", r2.Status, r2.Body)
	}
	if r2.ContentType() != "application/xml" {
		t.Fatalf("expected cached content type, got %q", r2.ContentType())
	}
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	c := &Client{UserAgent: "feedx-test", MaxAttempts: 1, PerRequestTimeout: 1 * time.Second}
	_, err := c.Get(context.Background(), "file:///etc/hosts")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestGet_ContentTypeGating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Get(context.Background(), srv.URL); !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected ErrUnsupportedContentType, got %v", err)
	}
	c.AnyContentType = true
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("expected gating disabled, got %v", err)
	}
}

func TestIsFeedContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/rss+xml":          true,
		"application/atom+xml":         true,
		"text/xml; charset=utf-8":      true,
		"application/xml":              true,
		"text/csv":                     true,
		"application/vnd.ms-excel.csv": true,
		"application/json":             true,
		"application/octet-stream":     true,
		"":                             true,
		"image/png":                    false,
		"application/pdf":              false,
		"not a type;;":                 false,
	} {
		if got := isFeedContentType(ct); got != want {
			t.Fatalf("%q: got %v, want %v", ct, got, want)
		}
	}
}

func TestGet_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, MaxBodyBytes: 4}
	if _, err := c.Get(context.Background(), srv.URL); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestGet_RedirectLimit(t *testing.T) {
	// First path redirects once to /next; with RedirectMaxHops=1 this should fail immediately
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte("<ok/>"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, RedirectMaxHops: 1}
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected redirect limit error")
	}

	c.RedirectMaxHops = 3
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if resp.URL != srv.URL+"/next" {
		t.Fatalf("expected final URL, got %q", resp.URL)
	}
}

func TestDo_ReplaysCurlRequest(t *testing.T) {
	var gotMethod, gotBody, gotCookie, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("a\n1\n"))
	}))
	defer srv.Close()

	req, err := curl.Parse("curl "+srv.URL+" -H 'Cookie: sid=7' -u u:p -d q=1", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dir := t.TempDir()
	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, Cache: &cache.HTTPCache{Dir: dir}}
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotMethod != http.MethodPost || gotBody != "q=1" || gotCookie != "7" || gotAuth == "" {
		t.Fatalf("request not replayed: %s %q cookie=%q auth=%q", gotMethod, gotBody, gotCookie, gotAuth)
	}
	if string(resp.Body) != "a\n1\n" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if _, err := c.Cache.LoadMeta(context.Background(), srv.URL); err == nil {
		t.Fatalf("POST responses must not be cached")
	}
}

func TestGet_MaxConcurrent(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr > prev {
				if atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
					break
				}
				continue
			}
			break
		}
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<ok/>"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := &Client{UserAgent: "feedx-test", MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, MaxConcurrent: 2}

	var wg sync.WaitGroup
	start := make(chan struct{})
	num := 6
	wg.Add(num)
	for i := 0; i < num; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Get(context.Background(), srv.URL)
		}()
	}
	close(start)
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", maxObserved)
	}
}
