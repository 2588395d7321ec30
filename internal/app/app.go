package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/feedx/internal/cache"
	"github.com/hyperifyio/feedx/internal/csviter"
	"github.com/hyperifyio/feedx/internal/curl"
	"github.com/hyperifyio/feedx/internal/fetch"
	"github.com/hyperifyio/feedx/internal/selector"
	"github.com/hyperifyio/feedx/internal/source"
	"github.com/hyperifyio/feedx/internal/xmliter"
)

// ErrNoRecords is returned when a run extracts nothing. Per the exit code
// policy this maps to a non-zero process exit.
var ErrNoRecords = errors.New("no records extracted")

type App struct {
	cfg       Config
	fetcher   *fetch.Client
	httpCache *cache.HTTPCache
	runID     string
	logger    zerolog.Logger

	stdin  io.Reader
	stdout io.Writer
}

// xmlRecord is the output shape for a node when no fields are configured.
type xmlRecord struct {
	XML string `json:"xml"`
}

// loaded is a resolved input document and what it came from.
type loaded struct {
	doc   source.Document
	label string
	raw   []byte
}

func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: log.With().Str("run_id", runID).Logger(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	if cfg.CacheDir != "" {
		// Apply cache invalidation controls; failures only cost a cache miss
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				a.logger.Warn().Err(err).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				a.logger.Warn().Err(err).Msg("cache purge failed")
			}
			a.logger.Debug().Int("removed", n).Dur("max_age", cfg.CacheMaxAge).Msg("cache purged")
		}
		a.httpCache = &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}
	a.fetcher = &fetch.Client{
		HTTPClient:        newFeedHTTPClient(cfg.SSLVerify, cfg.Timeout),
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.Timeout,
		Cache:             a.httpCache,
		BypassCache:       cfg.BypassCache,
		AnyContentType:    cfg.AnyContentType,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}
	return a, nil
}

// RunID identifies this run in logs and the manifest.
func (a *App) RunID() string { return a.runID }

// Close enforces cache size limits.
func (a *App) Close() {
	if a.httpCache == nil || (a.cfg.CacheMaxBytes <= 0 && a.cfg.CacheMaxEntries <= 0) {
		return
	}
	n, err := cache.EnforceLimits(a.cfg.CacheDir, a.cfg.CacheMaxBytes, a.cfg.CacheMaxEntries)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn().Err(err).Msg("cache limit enforcement failed")
		return
	}
	if n > 0 {
		a.logger.Debug().Int("evicted", n).Msg("cache limits enforced")
	}
}

// Run resolves the input, extracts records and writes them as JSON lines.
func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	in, err := a.load(ctx)
	if err != nil {
		return err
	}

	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var records, skipped int
	switch a.cfg.Mode {
	case ModeCSV:
		records, skipped, err = a.extractCSV(ctx, in.doc, enc)
	default:
		records, err = a.extractXML(ctx, in.doc, enc)
	}
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("write output: %w", ferr)
	}
	if cerr := closeOut(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}

	encoding := in.doc.Encoding()
	a.logger.Info().
		Str("mode", a.cfg.Mode).
		Str("source", in.label).
		Str("encoding", encoding).
		Int("records", records).
		Int("skipped", skipped).
		Dur("elapsed", time.Since(start)).
		Msg("extraction finished")

	if path := a.cfg.ManifestPath; path != "" {
		m := runManifest{
			RunID:       a.runID,
			Version:     BuildVersion,
			Commit:      BuildCommit,
			Mode:        a.cfg.Mode,
			Source:      in.label,
			Encoding:    encoding,
			SHA256:      computeSHA256Hex(in.raw),
			Bytes:       len(in.raw),
			Records:     records,
			Skipped:     skipped,
			HTTPCache:   a.httpCache != nil,
			GeneratedAt: time.Now().UTC(),
		}
		if a.cfg.Mode != ModeCSV {
			m.Node = a.cfg.Node
		}
		if merr := writeManifest(path, m); merr != nil {
			a.logger.Warn().Err(merr).Str("path", path).Msg("write manifest failed")
		}
	}

	if err != nil {
		return err
	}
	if records == 0 {
		return ErrNoRecords
	}
	return nil
}

// load resolves the configured input into a document.
func (a *App) load(ctx context.Context) (loaded, error) {
	switch {
	case a.cfg.URL != "":
		resp, err := a.fetcher.Get(ctx, a.cfg.URL)
		if err != nil {
			return loaded{}, fmt.Errorf("fetch %s: %w", a.cfg.URL, err)
		}
		return loaded{doc: source.FromResponse(resp), label: resp.URL, raw: resp.Body}, nil
	case a.cfg.Curl != "":
		req, err := curl.Parse(a.cfg.Curl, !a.cfg.CurlStrict)
		if err != nil {
			return loaded{}, err
		}
		resp, err := a.fetcher.Do(ctx, req)
		if err != nil {
			return loaded{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		return loaded{doc: source.FromResponse(resp), label: resp.URL, raw: resp.Body}, nil
	}

	var b []byte
	var err error
	label := a.cfg.InputPath
	if label == "-" {
		label = "stdin"
		b, err = io.ReadAll(a.stdin)
	} else {
		b, err = os.ReadFile(a.cfg.InputPath)
	}
	if err != nil {
		return loaded{}, fmt.Errorf("read input: %w", err)
	}
	return loaded{doc: a.fileDocument(b), label: label, raw: b}, nil
}

// fileDocument wraps local bytes. Without an explicit encoding the bytes go
// through the same detection as a response: BOM, XML declaration, then the
// extension's media type.
func (a *App) fileDocument(b []byte) source.Document {
	if a.cfg.Encoding != "" {
		return source.BytesWithEncoding(b, a.cfg.Encoding)
	}
	h := http.Header{}
	// media type only; the platform table may carry a charset that would
	// override the document's own declaration
	if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(a.cfg.InputPath)))); err == nil {
		h.Set("Content-Type", mt)
	}
	u := "file://" + a.cfg.InputPath
	if a.cfg.InputPath == "-" {
		u = "stdin:"
	}
	return source.FromResponse(source.NewResponse(u, http.StatusOK, h, b))
}

func (a *App) openOutput() (io.Writer, func() error, error) {
	if a.cfg.OutputPath == "" || a.cfg.OutputPath == "-" {
		return a.stdout, func() error { return nil }, nil
	}
	if dir := filepath.Dir(a.cfg.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(a.cfg.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func (a *App) extractXML(ctx context.Context, doc source.Document, enc *json.Encoder) (int, error) {
	var it xmliter.Iterator
	var err error
	if a.cfg.Mode == ModeXMLStream {
		opts := []xmliter.Option{xmliter.WithPrefix(a.cfg.Prefix)}
		if a.cfg.Namespace != "" {
			opts = append(opts, xmliter.WithNamespace(a.cfg.Namespace))
		}
		it, err = xmliter.NewIncremental(doc, a.cfg.Node, opts...)
	} else {
		it, err = xmliter.NewPattern(doc, a.cfg.Node)
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := a.nodeRecord(it.Node())
		if err != nil {
			return n, err
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("write output: %w", err)
		}
		n++
		if a.cfg.Limit > 0 && n >= a.cfg.Limit {
			return n, nil
		}
	}
	return n, it.Err()
}

func (a *App) nodeRecord(node *selector.Node) (any, error) {
	if len(a.cfg.Fields) == 0 {
		return xmlRecord{XML: node.OutputXML()}, nil
	}
	if a.cfg.Namespace != "" {
		prefix := a.cfg.Prefix
		if prefix == "" {
			prefix = xmliter.DefaultPrefix
		}
		node.RegisterNamespace(prefix, a.cfg.Namespace)
	}
	for p, uri := range a.cfg.Namespaces {
		node.RegisterNamespace(p, uri)
	}
	rec := csviter.Record{Keys: make([]string, 0, len(a.cfg.Fields)), Values: make(map[string]string, len(a.cfg.Fields))}
	for _, f := range a.cfg.Fields {
		found, err := node.First(f.XPath)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if _, dup := rec.Values[f.Name]; !dup {
			rec.Keys = append(rec.Keys, f.Name)
		}
		rec.Values[f.Name] = ""
		if found != nil {
			rec.Values[f.Name] = strings.TrimSpace(found.Text())
		}
	}
	return rec, nil
}

func (a *App) extractCSV(ctx context.Context, doc source.Document, enc *json.Encoder) (int, int, error) {
	var opts []csviter.Option
	if a.cfg.Delimiter != "" {
		r, _ := utf8.DecodeRuneInString(a.cfg.Delimiter)
		opts = append(opts, csviter.WithDelimiter(r))
	}
	if a.cfg.QuoteChar != "" {
		r, _ := utf8.DecodeRuneInString(a.cfg.QuoteChar)
		opts = append(opts, csviter.WithQuoteChar(r))
	}
	if len(a.cfg.Headers) > 0 {
		opts = append(opts, csviter.WithHeaders(a.cfg.Headers...))
	}
	if a.cfg.Encoding != "" {
		opts = append(opts, csviter.WithEncoding(a.cfg.Encoding))
	}
	rows, err := csviter.NewRows(doc, opts...)
	if err != nil {
		return 0, 0, err
	}
	n := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return n, rows.Skipped(), err
		}
		if err := enc.Encode(rows.Record()); err != nil {
			return n, rows.Skipped(), fmt.Errorf("write output: %w", err)
		}
		n++
		if a.cfg.Limit > 0 && n >= a.cfg.Limit {
			break
		}
	}
	return n, rows.Skipped(), rows.Err()
}
