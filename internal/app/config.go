package app

import "time"

// Extraction modes.
const (
	ModeXML       = "xml"
	ModeXMLStream = "xml-stream"
	ModeCSV       = "csv"
)

// Field names one value pulled from each XML node with an XPath expression.
type Field struct {
	Name  string `yaml:"name" json:"name"`
	XPath string `yaml:"xpath" json:"xpath"`
}

// Config holds runtime configuration for the application.
type Config struct {
	Mode string

	// Input: exactly one of InputPath, URL, Curl. InputPath "-" reads stdin.
	InputPath string
	URL       string
	Curl      string
	// CurlStrict rejects unrecognized curl options instead of warning.
	CurlStrict bool
	// Encoding overrides the detected encoding of file and stdin input.
	Encoding string

	// OutputPath "-" or empty writes to stdout.
	OutputPath   string
	ManifestPath string

	// XML
	Node       string
	Namespace  string
	Prefix     string
	Namespaces map[string]string // extra prefixes for Fields queries
	Fields     []Field

	// CSV
	Delimiter string
	QuoteChar string
	Headers   []string

	// Limit stops after this many records. Zero means all.
	Limit int

	// HTTP
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	MaxBodyBytes   int64
	AnyContentType bool
	SSLVerify      bool

	// Behavior
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	CacheMaxBytes    int64
	CacheMaxEntries  int
	BypassCache      bool
	Verbose          bool
}
