// Package render expands {name} placeholders in stored email templates.
package render

import (
	"sort"
	"strings"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

// Render substitutes every {name} token in format with data[name]. Values
// are inserted verbatim and never expanded again. Tokens whose keys are
// missing from data fail with one InvalidArgument error naming all of them.
//
// A '{' without a matching '}' and the empty token "{}" are kept as
// literal text.
func Render(format string, data map[string]string) (string, error) {
	if missing := missingKeys(format, data); len(missing) > 0 {
		if len(missing) == 1 {
			return "", apperr.InvalidArgument("template placeholder %q has no value", missing[0])
		}
		return "", apperr.InvalidArgument("template placeholders have no value: %s", strings.Join(missing, ", "))
	}

	var out strings.Builder
	out.Grow(len(format))

	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out.WriteString(rest)
			break
		}
		closing := strings.IndexByte(rest[open+1:], '}')
		if closing < 0 {
			out.WriteString(rest)
			break
		}
		name := rest[open+1 : open+1+closing]
		if name == "" || strings.ContainsRune(name, '{') {
			// Not a token; emit through the brace and keep scanning.
			out.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}

		out.WriteString(rest[:open])
		out.WriteString(data[name])
		rest = rest[open+1+closing+1:]
	}
	return out.String(), nil
}

// placeholders lists the distinct token names used by format, sorted.
func placeholders(format string) []string {
	seen := map[string]struct{}{}
	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '}')
		if closing < 0 {
			break
		}
		name := rest[open+1 : open+1+closing]
		if name == "" || strings.ContainsRune(name, '{') {
			rest = rest[open+1:]
			continue
		}
		seen[name] = struct{}{}
		rest = rest[open+1+closing+1:]
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// missingKeys lists the placeholders of format that data has no value for,
// sorted.
func missingKeys(format string, data map[string]string) []string {
	var keys []string
	for _, name := range placeholders(format) {
		if _, ok := data[name]; !ok {
			keys = append(keys, name)
		}
	}
	return keys
}
