package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, envKey string) {
		if *dst == "" {
			*dst = strings.TrimSpace(os.Getenv(envKey))
		}
	}
	setString(&cfg.URL, "FEEDX_URL")
	setString(&cfg.Curl, "FEEDX_CURL")
	setString(&cfg.Node, "FEEDX_NODE")
	setString(&cfg.Namespace, "FEEDX_NAMESPACE")
	setString(&cfg.Encoding, "FEEDX_ENCODING")
	setString(&cfg.CacheDir, "CACHE_DIR")
	if cfg.UserAgent == "" || cfg.UserAgent == userAgentDefault {
		if v := strings.TrimSpace(os.Getenv("FEEDX_USER_AGENT")); v != "" {
			cfg.UserAgent = v
		}
	}

	// FEEDX_HEADERS is a comma-separated CSV header list
	if len(cfg.Headers) == 0 {
		if v := strings.TrimSpace(os.Getenv("FEEDX_HEADERS")); v != "" {
			cfg.Headers = splitList(v)
		}
	}

	if cfg.Limit == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("FEEDX_LIMIT"))); err == nil && n > 0 {
			cfg.Limit = n
		}
	}

	// Optional durations
	setDuration := func(dst *time.Duration, envKey string) {
		if *dst != 0 {
			return
		}
		if s := os.Getenv(envKey); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}
	setDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")
	setDuration(&cfg.Timeout, "FEEDX_TIMEOUT")

	// Booleans
	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			if s == "1" || s == "true" || s == "yes" || s == "on" {
				*dst = true
			}
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	setBool(&cfg.BypassCache, "CACHE_BYPASS")
	setBool(&cfg.CurlStrict, "FEEDX_CURL_STRICT")
	setBool(&cfg.AnyContentType, "FEEDX_ANY_CONTENT_TYPE")

	if s := strings.ToLower(strings.TrimSpace(os.Getenv("SSL_VERIFY"))); s == "0" || s == "false" || s == "no" || s == "off" {
		cfg.SSLVerify = false
	}
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
