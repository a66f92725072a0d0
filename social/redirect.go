package social

import (
	"net/url"
	"path"
	"strings"
)

// RedirectPolicy restricts post login redirects to internal paths.
type RedirectPolicy struct {
	allowed  []string
	fallback string
}

// NewRedirectPolicy creates a policy accepting paths under any of the
// allowed prefixes. fallback is returned for rejected targets.
func NewRedirectPolicy(fallback string, allowed ...string) *RedirectPolicy {
	if !isInternalPath(fallback) {
		fallback = "/"
	}
	prefixes := make([]string, 0, len(allowed))
	for _, prefix := range allowed {
		if prefix = strings.TrimSpace(prefix); isInternalPath(prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	if len(prefixes) == 0 {
		prefixes = append(prefixes, "/")
	}
	return &RedirectPolicy{allowed: prefixes, fallback: fallback}
}

// Default returns the fallback path.
func (p *RedirectPolicy) Default() string {
	return p.fallback
}

// Resolve returns raw, with dot segments removed, when it is an allowed
// internal path and the fallback otherwise. raw may be URL escaped once, as
// it is when it travels as a path segment.
func (p *RedirectPolicy) Resolve(raw string) string {
	target := strings.TrimSpace(raw)
	if unescaped, err := url.PathUnescape(target); err == nil {
		target = unescaped
	}
	if !isInternalPath(target) {
		return p.fallback
	}

	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" || parsed.User != nil {
		return p.fallback
	}

	cleaned := path.Clean(parsed.Path)
	if strings.HasSuffix(parsed.Path, "/") && cleaned != "/" {
		cleaned += "/"
	}
	parsed.Path, parsed.RawPath = cleaned, ""

	for _, prefix := range p.allowed {
		if hasPathPrefix(cleaned, prefix) {
			return parsed.RequestURI()
		}
	}
	return p.fallback
}

func isInternalPath(s string) bool {
	return strings.HasPrefix(s, "/") &&
		!strings.HasPrefix(s, "//") &&
		!strings.Contains(s, `\`) &&
		!strings.ContainsAny(s, "\r\n\t")
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return strings.HasPrefix(path, prefix+"/")
}
