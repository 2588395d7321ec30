package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestComputeSHA256Hex(t *testing.T) {
	// sha256("hello")
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := computeSHA256Hex([]byte("hello")); got != want {
		t.Fatalf("got %s", got)
	}
}

func TestWriteManifest_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run.manifest.json")
	m := runManifest{RunID: "r1", Mode: ModeXML, Node: "item", Source: "feed.xml", Records: 3, GeneratedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	if err := writeManifest(p, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got runManifest
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.GeneratedAt.Equal(m.GeneratedAt) {
		t.Fatalf("generated_at mismatch: %v", got.GeneratedAt)
	}
	got.GeneratedAt = m.GeneratedAt
	if got != m {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
