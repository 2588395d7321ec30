package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	yaml "gopkg.in/yaml.v3"
)

// Flag defaults that a file config may replace.
const (
	modeDefault        = ModeXML
	outputDefault      = "-"
	userAgentDefault   = "feedx/1.0 (+https://github.com/hyperifyio/feedx)"
	cacheDirDefault    = ".feedx-cache"
	maxAttemptsDefault = 2
	timeoutDefault     = 30 * time.Second
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Mode     string `yaml:"mode" json:"mode"`
	Input    string `yaml:"input" json:"input"`
	URL      string `yaml:"url" json:"url"`
	Curl     string `yaml:"curl" json:"curl"`
	Encoding string `yaml:"encoding" json:"encoding"`
	Output   string `yaml:"output" json:"output"`
	Manifest string `yaml:"manifest" json:"manifest"`
	Limit    int    `yaml:"limit" json:"limit"`
	Verbose  bool   `yaml:"verbose" json:"verbose"`

	XML struct {
		Node       string            `yaml:"node" json:"node"`
		Namespace  string            `yaml:"namespace" json:"namespace"`
		Prefix     string            `yaml:"prefix" json:"prefix"`
		Namespaces map[string]string `yaml:"namespaces" json:"namespaces"`
		Fields     []Field           `yaml:"fields" json:"fields"`
	} `yaml:"xml" json:"xml"`

	CSV struct {
		Delimiter string   `yaml:"delimiter" json:"delimiter"`
		Quote     string   `yaml:"quote" json:"quote"`
		Headers   []string `yaml:"headers" json:"headers"`
	} `yaml:"csv" json:"csv"`

	HTTP struct {
		UserAgent      string        `yaml:"userAgent" json:"userAgent"`
		Timeout        time.Duration `yaml:"timeout" json:"timeout"`
		MaxAttempts    int           `yaml:"maxAttempts" json:"maxAttempts"`
		MaxBodyBytes   int64         `yaml:"maxBodyBytes" json:"maxBodyBytes"`
		AnyContentType bool          `yaml:"anyContentType" json:"anyContentType"`
		SSLVerify      *bool         `yaml:"sslVerify" json:"sslVerify"`
		CurlStrict     bool          `yaml:"curlStrict" json:"curlStrict"`
	} `yaml:"http" json:"http"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxEntries  int           `yaml:"maxEntries" json:"maxEntries"`
		Bypass      bool          `yaml:"bypass" json:"bypass"`
	} `yaml:"cache" json:"cache"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset or still at their flag default, so explicit flags win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if (cfg.Mode == "" || cfg.Mode == modeDefault) && fc.Mode != "" {
		cfg.Mode = fc.Mode
	}
	if cfg.InputPath == "" && fc.Input != "" {
		cfg.InputPath = fc.Input
	}
	if cfg.URL == "" && fc.URL != "" {
		cfg.URL = fc.URL
	}
	if cfg.Curl == "" && fc.Curl != "" {
		cfg.Curl = fc.Curl
	}
	if cfg.Encoding == "" && fc.Encoding != "" {
		cfg.Encoding = fc.Encoding
	}
	if (cfg.OutputPath == "" || cfg.OutputPath == outputDefault) && fc.Output != "" {
		cfg.OutputPath = fc.Output
	}
	if cfg.ManifestPath == "" && fc.Manifest != "" {
		cfg.ManifestPath = fc.Manifest
	}
	if cfg.Limit == 0 && fc.Limit > 0 {
		cfg.Limit = fc.Limit
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}

	if cfg.Node == "" && fc.XML.Node != "" {
		cfg.Node = fc.XML.Node
	}
	if cfg.Namespace == "" && fc.XML.Namespace != "" {
		cfg.Namespace = fc.XML.Namespace
	}
	if cfg.Prefix == "" && fc.XML.Prefix != "" {
		cfg.Prefix = fc.XML.Prefix
	}
	if len(fc.XML.Namespaces) > 0 {
		if cfg.Namespaces == nil {
			cfg.Namespaces = map[string]string{}
		}
		for p, uri := range fc.XML.Namespaces {
			if _, set := cfg.Namespaces[p]; !set {
				cfg.Namespaces[p] = uri
			}
		}
	}
	if len(cfg.Fields) == 0 && len(fc.XML.Fields) > 0 {
		cfg.Fields = append([]Field{}, fc.XML.Fields...)
	}

	if cfg.Delimiter == "" && fc.CSV.Delimiter != "" {
		cfg.Delimiter = fc.CSV.Delimiter
	}
	if cfg.QuoteChar == "" && fc.CSV.Quote != "" {
		cfg.QuoteChar = fc.CSV.Quote
	}
	if len(cfg.Headers) == 0 && len(fc.CSV.Headers) > 0 {
		cfg.Headers = append([]string{}, fc.CSV.Headers...)
	}

	if (cfg.UserAgent == "" || cfg.UserAgent == userAgentDefault) && fc.HTTP.UserAgent != "" {
		cfg.UserAgent = fc.HTTP.UserAgent
	}
	if (cfg.Timeout == 0 || cfg.Timeout == timeoutDefault) && fc.HTTP.Timeout > 0 {
		cfg.Timeout = fc.HTTP.Timeout
	}
	if (cfg.MaxAttempts == 0 || cfg.MaxAttempts == maxAttemptsDefault) && fc.HTTP.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.HTTP.MaxAttempts
	}
	if cfg.MaxBodyBytes == 0 && fc.HTTP.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.HTTP.MaxBodyBytes
	}
	if !cfg.AnyContentType && fc.HTTP.AnyContentType {
		cfg.AnyContentType = true
	}
	// SSL verification is on by default; the file may only turn it off
	if fc.HTTP.SSLVerify != nil && !*fc.HTTP.SSLVerify {
		cfg.SSLVerify = false
	}
	if !cfg.CurlStrict && fc.HTTP.CurlStrict {
		cfg.CurlStrict = true
	}

	if (cfg.CacheDir == "" || cfg.CacheDir == cacheDirDefault) && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
	if cfg.CacheMaxBytes == 0 && fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	if cfg.CacheMaxEntries == 0 && fc.Cache.MaxEntries > 0 {
		cfg.CacheMaxEntries = fc.Cache.MaxEntries
	}
	if !cfg.BypassCache && fc.Cache.Bypass {
		cfg.BypassCache = true
	}
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	inputs := 0
	for _, s := range []string{cfg.InputPath, cfg.URL, cfg.Curl} {
		if strings.TrimSpace(s) != "" {
			inputs++
		}
	}
	if inputs == 0 {
		return errors.New("config: one of input, url or curl is required")
	}
	if inputs > 1 {
		return errors.New("config: input, url and curl are mutually exclusive")
	}
	switch cfg.Mode {
	case ModeXML, ModeXMLStream:
		if strings.TrimSpace(cfg.Node) == "" {
			return errors.New("config: xml.node is required in xml modes")
		}
		for i, f := range cfg.Fields {
			if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.XPath) == "" {
				return fmt.Errorf("config: field %d needs a name and an xpath", i)
			}
		}
	case ModeCSV:
		if cfg.Delimiter != "" && utf8.RuneCountInString(cfg.Delimiter) != 1 {
			return fmt.Errorf("config: csv.delimiter must be one character, got %q", cfg.Delimiter)
		}
		if cfg.QuoteChar != "" && utf8.RuneCountInString(cfg.QuoteChar) != 1 {
			return fmt.Errorf("config: csv.quote must be one character, got %q", cfg.QuoteChar)
		}
	default:
		return fmt.Errorf("config: unknown mode %q (want %s, %s or %s)", cfg.Mode, ModeXML, ModeXMLStream, ModeCSV)
	}
	if cfg.Limit < 0 || cfg.MaxAttempts < 0 || cfg.MaxBodyBytes < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxEntries < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	return nil
}
