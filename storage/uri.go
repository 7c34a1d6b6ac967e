package storage

import (
	"os"
	"path"
	"strings"

	"github.com/ruteri/resource-store/interfaces"
)

// ExpandPlaceholders replaces every ${name} in s with the value of name in
// params, falling back to the process environment. An unknown or
// unterminated placeholder is an invalid argument.
func ExpandPlaceholders(s string, params map[string]string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return "", interfaces.InvalidArgument("expand", s, "unterminated placeholder")
		}
		name := rest[start+2 : start+end]
		value, ok := params[name]
		if !ok {
			value, ok = os.LookupEnv(name)
		}
		if !ok || name == "" {
			return "", interfaces.InvalidArgument("expand", s, "unresolved placeholder ${%s}", name)
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[start+end+1:]
	}
}

// NormalizeRootURI expands placeholders, lower-cases the scheme and collapses
// "." and ".." segments of hierarchical paths, keeping a trailing slash.
// Opaque URIs (no leading slash after the scheme) keep their text.
func NormalizeRootURI(raw string, params map[string]string) (string, error) {
	expanded, err := ExpandPlaceholders(strings.TrimSpace(raw), params)
	if err != nil {
		return "", err
	}
	scheme, ok := interfaces.SchemeOf(expanded)
	if !ok {
		return "", interfaces.InvalidArgument("normalize", raw, "missing or invalid URI scheme")
	}

	parts := splitURI(expanded)
	p := parts.path
	if strings.HasPrefix(p, "/") {
		cleaned := path.Clean(p)
		if strings.HasSuffix(p, "/") && cleaned != "/" {
			cleaned += "/"
		}
		p = cleaned
	} else if p == "" && parts.hasAuthority {
		p = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(":")
	if parts.hasAuthority {
		b.WriteString("//")
		b.WriteString(parts.authority)
	}
	b.WriteString(p)
	b.WriteString(parts.query)
	return b.String(), nil
}

// ResolveURI resolves p against root. A relative p is joined to root with
// exactly one slash, whatever characters it contains. An absolute URI is
// accepted only when it lies under root. Other absolute URIs and ".."
// segments are invalid arguments.
func ResolveURI(root, p string) (string, error) {
	base := strings.TrimSuffix(root, "/") + "/"
	var rel string
	switch {
	case strings.HasPrefix(p, base):
		rel = p[len(base):]
	case isAbsoluteURI(p):
		return "", interfaces.InvalidArgument("resolve", p, "URI is outside of store root %s", root)
	default:
		rel = strings.TrimPrefix(p, "/")
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", interfaces.InvalidArgument("resolve", p, "path escapes store root %s", root)
		}
	}
	return base + rel, nil
}

// isAbsoluteURI reports whether p is a hierarchical URI such as
// "memory:/a" or "https://host/a". Names like "report:2024.txt" are not.
func isAbsoluteURI(p string) bool {
	scheme, ok := interfaces.SchemeOf(p)
	return ok && strings.HasPrefix(p[len(scheme)+1:], "/")
}

type uriParts struct {
	authority    string
	hasAuthority bool
	path         string
	query        string
}

// splitURI splits a URI that is known to carry a scheme. The query includes
// its leading '?' and any fragment.
func splitURI(uri string) uriParts {
	var parts uriParts
	rest := uri[strings.Index(uri, ":")+1:]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		parts.query = rest[i:]
		rest = rest[:i]
	}
	if strings.HasPrefix(rest, "//") {
		parts.hasAuthority = true
		rest = rest[2:]
		if i := strings.Index(rest, "/"); i >= 0 {
			parts.authority = rest[:i]
			rest = rest[i:]
		} else {
			parts.authority = rest
			rest = ""
		}
	}
	parts.path = rest
	return parts
}

// uriPath returns the path component of uri, without authority or query.
func uriPath(uri string) string {
	if _, ok := interfaces.SchemeOf(uri); !ok {
		return uri
	}
	return splitURI(uri).path
}
