// Package naming picks collision-free display names inside an owner's
// storage namespace.
package naming

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ExistsFunc reports whether name is already used under owner.
type ExistsFunc func(ctx context.Context, owner, name string) (bool, error)

// MaxVersion bounds the version search so a pathological namespace cannot spin
// forever.
const MaxVersion = 10000

const replacement = '_'

// MaxNameBytes is the usual filesystem limit on a single path element.
const MaxNameBytes = 255

// versionRoom is what Versioned may add: "(" + MaxVersion + ")".
var versionRoom = len(fmt.Sprintf("(%d)", MaxVersion))

// Sanitize decodes a percent-encoded upload name and replaces characters that
// are illegal in the storage namespace.
func Sanitize(raw string) string {
	name := raw
	if decoded, err := url.PathUnescape(raw); err == nil {
		name = decoded
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '|', ':', '?', '*', '<', '>', '+', '"':
			return replacement
		}
		if r < 0x20 || r == 0x7f {
			return replacement
		}
		return r
	}, name)
	switch name {
	case "", ".", "..":
		return string(replacement)
	}
	return clamp(name, MaxNameBytes-versionRoom)
}

// clamp shortens the stem so name fits in limit bytes, keeping the extension
// when it leaves room for at least one stem byte. Cuts fall on rune
// boundaries.
func clamp(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	stem, ext := Split(name)
	if len(ext) >= limit {
		stem, ext = name, ""
	}
	return truncateRunes(stem, limit-len(ext)) + ext
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Split cuts name at its first dot. A leading dot belongs to the stem, so
// ".profile" has no extension.
func Split(name string) (stem, ext string) {
	pos := strings.IndexByte(name, '.')
	if pos <= 0 {
		return name, ""
	}
	return name[:pos], name[pos:]
}

// Versioned renders stem(n)ext.
func Versioned(name string, n int) string {
	stem, ext := Split(name)
	return fmt.Sprintf("%s(%d)%s", stem, n, ext)
}

type Resolver struct {
	exists ExistsFunc
}

func NewResolver(exists ExistsFunc) *Resolver {
	return &Resolver{exists: exists}
}

// Resolve returns proposed when it is free, otherwise the lowest free
// stem(n)ext. Existence is re-checked for every candidate.
func (r *Resolver) Resolve(ctx context.Context, owner, proposed string) (string, error) {
	taken, err := r.exists(ctx, owner, proposed)
	if err != nil {
		return "", err
	}
	if !taken {
		return proposed, nil
	}
	for n := 1; n <= MaxVersion; n++ {
		candidate := Versioned(proposed, n)
		taken, err := r.exists(ctx, owner, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("naming: no free version of %q after %d attempts", proposed, MaxVersion)
}

// AnyOf combines several namespaces: a name is taken if any of them has it.
func AnyOf(fns ...ExistsFunc) ExistsFunc {
	return func(ctx context.Context, owner, name string) (bool, error) {
		for _, fn := range fns {
			taken, err := fn(ctx, owner, name)
			if err != nil || taken {
				return taken, err
			}
		}
		return false, nil
	}
}
