package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/feedx/internal/app"
)

// fieldsFlag collects repeated -field name=xpath values.
type fieldsFlag []app.Field

func (f *fieldsFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, fl := range *f {
		parts = append(parts, fl.Name+"="+fl.XPath)
	}
	return strings.Join(parts, ",")
}

func (f *fieldsFlag) Set(v string) error {
	name, expr, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(expr) == "" {
		return fmt.Errorf("want name=xpath, got %q", v)
	}
	*f = append(*f, app.Field{Name: strings.TrimSpace(name), XPath: strings.TrimSpace(expr)})
	return nil
}

// namespacesFlag collects repeated -ns prefix=uri values.
type namespacesFlag map[string]string

func (n namespacesFlag) String() string {
	parts := make([]string, 0, len(n))
	for p, uri := range n {
		parts = append(parts, p+"="+uri)
	}
	return strings.Join(parts, ",")
}

func (n namespacesFlag) Set(v string) error {
	prefix, uri, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(prefix) == "" || strings.TrimSpace(uri) == "" {
		return fmt.Errorf("want prefix=uri, got %q", v)
	}
	n[strings.TrimSpace(prefix)] = strings.TrimSpace(uri)
	return nil
}

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := app.LoadEnvFiles(".env"); err != nil {
		log.Warn().Err(err).Msg("load .env")
	}

	var (
		configPath     string
		mode           string
		inputPath      string
		feedURL        string
		curlCmd        string
		curlStrict     bool
		encoding       string
		outputPath     string
		manifestPath   string
		node           string
		namespace      string
		prefix         string
		delimiter      string
		quote          string
		headers        string
		limit          int
		userAgent      string
		timeout        time.Duration
		maxAttempts    int
		maxBodyBytes   int64
		anyContentType bool
		cacheDir       string
		cacheMaxAge    time.Duration
		cacheClear     bool
		cacheStrict    bool
		cacheMaxBytes  int64
		cacheMaxCount  int
		cacheBypass    bool
		verbose        bool
		fields         fieldsFlag
		namespaces     = namespacesFlag{}
	)

	flag.StringVar(&configPath, "config", os.Getenv("FEEDX_CONFIG"), "Path to a YAML or JSON config file")
	flag.StringVar(&mode, "mode", "xml", "Extraction mode: xml, xml-stream or csv")
	flag.StringVar(&inputPath, "input", "", "Input file path, or - for stdin")
	flag.StringVar(&feedURL, "url", "", "Fetch the input from this URL")
	flag.StringVar(&curlCmd, "curl", "", "Fetch the input by replaying a curl command")
	flag.BoolVar(&curlStrict, "curl.strict", false, "Reject unrecognized curl options instead of warning")
	flag.StringVar(&encoding, "encoding", "", "Override the detected encoding of file or stdin input")
	flag.StringVar(&outputPath, "output", "-", "Path to write JSON lines, or - for stdout")
	flag.StringVar(&manifestPath, "manifest", "", "Optional path to write a run manifest JSON")
	flag.StringVar(&node, "node", "", "Element name to extract (xml modes), e.g. item or media:content")
	flag.StringVar(&namespace, "namespace", "", "Namespace URI the node must be in (xml-stream)")
	flag.StringVar(&prefix, "prefix", "", "Prefix bound to -namespace in queries (default x)")
	flag.Var(&fields, "field", "Output field as name=xpath, relative to the node; repeatable")
	flag.Var(namespaces, "ns", "Extra namespace for -field queries as prefix=uri; repeatable")
	flag.StringVar(&delimiter, "csv.delimiter", "", "CSV field delimiter (default ,)")
	flag.StringVar(&quote, "csv.quote", "", "CSV quote character (default \")")
	flag.StringVar(&headers, "csv.headers", "", "Comma-separated CSV header names; the first row is then data")
	flag.IntVar(&limit, "limit", 0, "Stop after this many records (0 means all)")
	flag.StringVar(&userAgent, "ua", "feedx/1.0 (+https://github.com/hyperifyio/feedx)", "User-Agent for HTTP requests")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Per-request HTTP timeout")
	flag.IntVar(&maxAttempts, "retries", 2, "HTTP attempts including the first")
	flag.Int64Var(&maxBodyBytes, "max.bodyBytes", 0, "Maximum HTTP body size in bytes (0 disables)")
	flag.BoolVar(&anyContentType, "any-content-type", false, "Accept any HTTP Content-Type")
	flag.StringVar(&cacheDir, "cache.dir", ".feedx-cache", "HTTP cache directory path (empty disables)")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before purge (e.g. 24h); 0 disables")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Clear cache directory before run")
	flag.BoolVar(&cacheStrict, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	flag.Int64Var(&cacheMaxBytes, "cache.maxBytes", 0, "Evict least recently used entries above this size (0 disables)")
	flag.IntVar(&cacheMaxCount, "cache.maxEntries", 0, "Evict least recently used entries above this count (0 disables)")
	flag.BoolVar(&cacheBypass, "cache.bypass", false, "Fetch fresh without conditional headers, still saving to cache")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	cfg := app.Config{
		Mode:             mode,
		InputPath:        inputPath,
		URL:              feedURL,
		Curl:             curlCmd,
		CurlStrict:       curlStrict,
		Encoding:         encoding,
		OutputPath:       outputPath,
		ManifestPath:     manifestPath,
		Node:             node,
		Namespace:        namespace,
		Prefix:           prefix,
		Fields:           fields,
		Delimiter:        delimiter,
		QuoteChar:        quote,
		Limit:            limit,
		UserAgent:        userAgent,
		Timeout:          timeout,
		MaxAttempts:      maxAttempts,
		MaxBodyBytes:     maxBodyBytes,
		AnyContentType:   anyContentType,
		SSLVerify:        os.Getenv("SSL_VERIFY") != "false",
		CacheDir:         cacheDir,
		CacheMaxAge:      cacheMaxAge,
		CacheClear:       cacheClear,
		CacheStrictPerms: cacheStrict,
		CacheMaxBytes:    cacheMaxBytes,
		CacheMaxEntries:  cacheMaxCount,
		BypassCache:      cacheBypass,
		Verbose:          verbose,
	}
	if len(namespaces) > 0 {
		cfg.Namespaces = namespaces
	}
	if s := strings.TrimSpace(headers); s != "" {
		for _, h := range strings.Split(s, ",") {
			if v := strings.TrimSpace(h); v != "" {
				cfg.Headers = append(cfg.Headers, v)
			}
		}
	}

	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("load config")
			os.Exit(1)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvToConfig(&cfg)

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps run errors to the process exit status: 2 when nothing was
// extracted, 1 for every other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrNoRecords):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}
