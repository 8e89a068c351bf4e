package core

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Parameters are the query options of an endpoint URI.
type Parameters map[string]string

// Take returns the value of key and removes it.
func (p Parameters) Take(key string) (string, bool) {
	v, ok := p[key]
	if ok {
		delete(p, key)
	}
	return v, ok
}

// TakeOr is Take with a default for missing keys.
func (p Parameters) TakeOr(key, def string) string {
	if v, ok := p.Take(key); ok {
		return v
	}
	return def
}

// Keys returns the parameter names in sorted order.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	rawDoubleAmp = regexp.MustCompile(`RAW[({].*&&.*[)}]`)
	secretParams = regexp.MustCompile(`(?i)([?&][^=&]*(?:passphrase|password|secretkey|secret|accesskey|accesstoken|token|apikey|credentials)[^=&]*)=(RAW\{[^}]*\}|RAW\([^)]*\)|[^&]*)`)
	userInfoPass = regexp.MustCompile(`^([^:]+://[^/@:]*:)([^@/]*)(@)`)
)

// ParseURI splits an endpoint URI into scheme, remaining path and parameters.
// Values wrapped in RAW(...) or RAW{...} are taken literally.
func ParseURI(raw string) (scheme, remaining string, params Parameters, err error) {
	raw = strings.TrimSpace(raw)
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return "", "", nil, NewResolveEndpointError(raw, "missing scheme", nil)
	}
	scheme = raw[:idx]
	rest := strings.TrimPrefix(raw[idx+1:], "//")

	if strings.Contains(raw, "&&") && !rawDoubleAmp.MatchString(raw) {
		return "", "", nil, NewResolveEndpointError(raw,
			"Invalid uri syntax: Double && marker found. Check the uri and remove the duplicate & marker.", nil)
	}
	if strings.HasSuffix(raw, "&") {
		return "", "", nil, NewResolveEndpointError(raw,
			"Invalid uri syntax: Trailing & marker found. Check the uri and remove the trailing & marker.", nil)
	}

	path, query, _ := strings.Cut(rest, "?")
	remaining, err = url.PathUnescape(path)
	if err != nil {
		return "", "", nil, NewResolveEndpointError(raw, "invalid path", err)
	}

	params, err = ParseQuery(query)
	if err != nil {
		return "", "", nil, NewResolveEndpointError(raw, "invalid query", err)
	}
	return scheme, remaining, params, nil
}

// ParseQuery parses a query string. Repeated keys are joined with a comma.
func ParseQuery(query string) (Parameters, error) {
	params := Parameters{}
	if query == "" {
		return params, nil
	}
	for _, pair := range splitQuery(query) {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter name %q: %w", k, err)
		}
		value, ok := rawValue(v)
		if !ok {
			value, err = url.QueryUnescape(v)
			if err != nil {
				return nil, fmt.Errorf("invalid value for parameter %s: %w", key, err)
			}
		}
		if existing, dup := params[key]; dup {
			value = existing + "," + value
		}
		params[key] = value
	}
	return params, nil
}

// splitQuery splits on & except inside RAW values.
func splitQuery(query string) []string {
	var parts []string
	start := 0
	var closer byte
	for i := 0; i < len(query); i++ {
		switch {
		case closer != 0:
			if query[i] == closer {
				closer = 0
			}
		case strings.HasPrefix(query[i:], "RAW(") && i > 0 && query[i-1] == '=':
			closer = ')'
			i += 3
		case strings.HasPrefix(query[i:], "RAW{") && i > 0 && query[i-1] == '=':
			closer = '}'
			i += 3
		case query[i] == '&':
			parts = append(parts, query[start:i])
			start = i + 1
		}
	}
	return append(parts, query[start:])
}

func rawValue(v string) (string, bool) {
	if len(v) < 5 || !strings.HasPrefix(v, "RAW") {
		return "", false
	}
	open, end := v[3], v[len(v)-1]
	if (open == '(' && end == ')') || (open == '{' && end == '}') {
		return v[4 : len(v)-1], true
	}
	return "", false
}

// NormalizeURI renders the URI with its query parameters sorted by key, so
// equivalent URIs map to the same endpoint.
func NormalizeURI(raw string) (string, error) {
	scheme, remaining, params, err := ParseURI(raw)
	if err != nil {
		return "", err
	}
	return BuildURI(scheme, remaining, params), nil
}

// BuildURI assembles a URI from its parts with parameters in sorted order.
func BuildURI(scheme, remaining string, params Parameters) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteByte(':')
	b.WriteString(remaining)
	for i, k := range params.Keys() {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		v := params[k]
		if strings.ContainsAny(v, "&=%+") {
			b.WriteString("RAW(" + v + ")")
		} else {
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// SanitizeURI masks secret values so the URI can be logged.
func SanitizeURI(raw string) string {
	s := secretParams.ReplaceAllString(raw, "${1}=xxxxxx")
	return userInfoPass.ReplaceAllString(s, "${1}xxxxxx${3}")
}
