// Package curl turns a curl command line into request parameters.
package curl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotCurl is returned when the command does not start with "curl".
	ErrNotCurl = errors.New(`curl: a curl command must start with "curl"`)
	// ErrInvalidCommand is returned for commands curl itself would reject.
	ErrInvalidCommand = errors.New("curl: invalid command")
	// ErrUnknownOption is returned for unrecognized options when they are not ignored.
	ErrUnknownOption = errors.New("curl: unrecognized options")
)

// Request holds the parts of a curl invocation needed to replay it.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Cookies []*http.Cookie
	Body    string
}

type valueOption int

const (
	optHeader valueOption = iota + 1
	optMethod
	optData
	optUser
)

var valueOptions = map[string]valueOption{
	"-H": optHeader, "--header": optHeader,
	"-X": optMethod, "--request": optMethod,
	"-d": optData, "--data": optData, "--data-raw": optData,
	"-u": optUser, "--user": optUser,
}

// Flags that change only how curl reports progress or decodes the body.
var ignoredOptions = map[string]bool{
	"--compressed": true,
	"-s":           true, "--silent": true,
	"-v": true, "--verbose": true,
	"-#": true, "--progress-bar": true,
}

type parsed struct {
	url     string
	urlSet  bool
	method  string
	data    string
	user    string
	headers []string
	unknown []string
}

// Parse converts command into a Request. Unrecognized options are logged
// when ignoreUnknown is true and rejected with ErrUnknownOption otherwise.
func Parse(command string, ignoreUnknown bool) (Request, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if len(args) == 0 || args[0] != "curl" {
		return Request{}, ErrNotCurl
	}
	p, err := parseArgs(args[1:])
	if err != nil {
		return Request{}, err
	}
	if len(p.unknown) > 0 {
		msg := strings.Join(p.unknown, ", ")
		if !ignoreUnknown {
			return Request{}, fmt.Errorf("%w: %s", ErrUnknownOption, msg)
		}
		log.Warn().Strs("options", p.unknown).Msg("ignoring unrecognized curl options")
	}

	u := p.url
	// curl assumes http when the scheme is missing
	if parsedURL, err := url.Parse(u); err != nil || parsedURL.Scheme == "" {
		u = "http://" + u
	}
	req := Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
	if p.method != "" {
		req.Method = strings.ToUpper(p.method)
	}

	cookies := map[string]int{}
	for _, h := range p.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return Request{}, fmt.Errorf("%w: header %q has no colon", ErrInvalidCommand, h)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, "Cookie") {
			for _, c := range parseCookies(value) {
				if i, seen := cookies[c.Name]; seen {
					req.Cookies[i] = c
					continue
				}
				cookies[c.Name] = len(req.Cookies)
				req.Cookies = append(req.Cookies, c)
			}
			continue
		}
		req.Header.Add(name, value)
	}

	if p.user != "" {
		user, password, ok := strings.Cut(p.user, ":")
		if !ok {
			return Request{}, fmt.Errorf("%w: -u needs user:password", ErrInvalidCommand)
		}
		req.Header.Add("Authorization", basicAuth(user, password))
	}

	if p.data != "" {
		req.Body = p.data
		if p.method == "" {
			req.Method = http.MethodPost
		}
	}
	return req, nil
}

func parseArgs(args []string) (parsed, error) {
	var p parsed
	positional := func(a string) {
		if p.urlSet {
			p.unknown = append(p.unknown, a)
			return
		}
		p.url, p.urlSet = a, true
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			for _, rest := range args[i+1:] {
				positional(rest)
			}
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional(a)
			continue
		}
		if ignoredOptions[a] {
			continue
		}
		name, value, hasValue := splitOption(a)
		opt, ok := valueOptions[name]
		if !ok {
			p.unknown = append(p.unknown, a)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return p, fmt.Errorf("%w: option %s expects a value", ErrInvalidCommand, name)
			}
			i++
			value = args[i]
		}
		switch opt {
		case optHeader:
			p.headers = append(p.headers, value)
		case optMethod:
			p.method = value
		case optData:
			p.data = value
		case optUser:
			p.user = value
		}
	}
	if !p.urlSet {
		return p, fmt.Errorf("%w: missing URL", ErrInvalidCommand)
	}
	return p, nil
}

// splitOption separates an attached value: "--header=X: y" and "-HX: y".
func splitOption(a string) (string, string, bool) {
	if strings.HasPrefix(a, "--") {
		if name, value, ok := strings.Cut(a, "="); ok {
			return name, value, true
		}
		return a, "", false
	}
	if len(a) > 2 {
		if _, ok := valueOptions[a[:2]]; ok {
			return a[:2], a[2:], true
		}
	}
	return a, "", false
}

// parseCookies reads "a=1; b=2" leniently; pairs without a name are dropped.
func parseCookies(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(s, ";") {
		name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// HTTPRequest builds an *http.Request bound to ctx.
func (r Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body *strings.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.URL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		// curl's default for -d
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}
	return req, nil
}
