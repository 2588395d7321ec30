package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateConfig(t *testing.T) {
	ok := Config{Mode: ModeXML, InputPath: "feed.xml", Node: "item"}
	if err := ValidateConfig(ok); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	cases := map[string]Config{
		"no input":       {Mode: ModeXML, Node: "item"},
		"two inputs":     {Mode: ModeXML, Node: "item", InputPath: "a", URL: "http://x"},
		"no node":        {Mode: ModeXMLStream, InputPath: "a"},
		"bad mode":       {Mode: "json", InputPath: "a"},
		"long delimiter": {Mode: ModeCSV, InputPath: "a", Delimiter: ";;"},
		"long quote":     {Mode: ModeCSV, InputPath: "a", QuoteChar: "''"},
		"empty field":    {Mode: ModeXML, InputPath: "a", Node: "item", Fields: []Field{{Name: "x"}}},
		"negative limit": {Mode: ModeCSV, InputPath: "a", Limit: -1},
	}
	for name, cfg := range cases {
		if err := ValidateConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadConfigFile_YAMLAndApply(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "feedx.yaml")
	yml := `mode: xml-stream
url: https://example.com/feed.xml
xml:
  node: entry
  namespace: http://www.w3.org/2005/Atom
  prefix: a
  namespaces:
    media: http://search.yahoo.com/mrss/
  fields:
    - name: title
      xpath: a:title
http:
  timeout: 10s
  sslVerify: false
cache:
  dir: /tmp/feedx
  maxAge: 24h
  maxEntries: 50
`
	if err := os.WriteFile(p, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := Config{Mode: modeDefault, OutputPath: outputDefault, CacheDir: cacheDirDefault, Timeout: timeoutDefault, SSLVerify: true, Node: "explicit"}
	ApplyFileConfig(&cfg, fc)
	if cfg.Mode != ModeXMLStream || cfg.URL != "https://example.com/feed.xml" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Node != "explicit" {
		t.Fatalf("explicit flag must win, got %q", cfg.Node)
	}
	if cfg.Timeout != 10*time.Second || cfg.SSLVerify || cfg.CacheDir != "/tmp/feedx" || cfg.CacheMaxAge != 24*time.Hour || cfg.CacheMaxEntries != 50 {
		t.Fatalf("http/cache values not applied: %+v", cfg)
	}
	if len(cfg.Fields) != 1 || cfg.Fields[0].XPath != "a:title" || cfg.Namespaces["media"] == "" {
		t.Fatalf("xml values not applied: %+v", cfg)
	}
}

func TestLoadConfigFile_JSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "feedx.json")
	if err := os.WriteFile(p, []byte(`{"mode":"csv","input":"rows.csv","csv":{"delimiter":";","headers":["a","b"]}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var cfg Config
	ApplyFileConfig(&cfg, fc)
	if cfg.Mode != ModeCSV || cfg.InputPath != "rows.csv" || cfg.Delimiter != ";" || strings.Join(cfg.Headers, ",") != "a,b" {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "feedx.conf")
	if err := os.WriteFile(p, []byte("mode: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyEnvToConfig(t *testing.T) {
	t.Setenv("FEEDX_NODE", "item")
	t.Setenv("FEEDX_HEADERS", "a, b,,c")
	t.Setenv("FEEDX_LIMIT", "5")
	t.Setenv("CACHE_MAX_AGE", "1h")
	t.Setenv("CACHE_STRICT_PERMS", "yes")
	t.Setenv("SSL_VERIFY", "false")
	t.Setenv("FEEDX_URL", "https://env.example.com")

	cfg := Config{URL: "https://flag.example.com", SSLVerify: true}
	ApplyEnvToConfig(&cfg)
	if cfg.URL != "https://flag.example.com" {
		t.Fatalf("explicit value must win over env, got %q", cfg.URL)
	}
	if cfg.Node != "item" || cfg.Limit != 5 || cfg.CacheMaxAge != time.Hour || !cfg.CacheStrictPerms || cfg.SSLVerify {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if strings.Join(cfg.Headers, "|") != "a|b|c" {
		t.Fatalf("unexpected headers %q", cfg.Headers)
	}
}
