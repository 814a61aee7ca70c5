// Package asset provides the virtual file type that flows through task
// pipelines, and the glob patterns used both to select task sources and to
// match watched paths.
//
// Patterns are slash-separated and relative to the project root. A single
// "*" never crosses a path separator; "**" matches any number of segments.
package asset

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

const metaChars = "*?[{"

// Pattern is a compiled source or watch pattern.
type Pattern struct {
	raw       string
	base      string
	literal   bool
	recursive bool
	matchers  []glob.Glob
}

// ParsePattern normalises and compiles a pattern.
func ParsePattern(raw string) (*Pattern, error) {
	p := filepath.ToSlash(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "./")

	if p == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	if path.IsAbs(p) || filepath.IsAbs(raw) {
		return nil, fmt.Errorf("pattern %q must be relative to the project root", raw)
	}

	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return nil, fmt.Errorf("pattern %q escapes the project root", raw)
	}

	var matchers []glob.Glob

	for _, variant := range globstarVariants(p) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", raw, err)
		}

		matchers = append(matchers, g)
	}

	base, literal := splitBase(p)

	return &Pattern{
		raw:       p,
		base:      base,
		literal:   literal,
		recursive: strings.Contains(p, "**"),
		matchers:  matchers,
	}, nil
}

// MustParsePattern is like ParsePattern but panics on error. Intended for
// tests and static tables.
func MustParsePattern(raw string) *Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}

	return p
}

// String returns the normalised pattern.
func (p *Pattern) String() string { return p.raw }

// Base returns the longest directory prefix without glob syntax, "." when
// the first segment already contains a wildcard.
func (p *Pattern) Base() string { return p.base }

// Literal reports whether the pattern names a single file.
func (p *Pattern) Literal() bool { return p.literal }

// Recursive reports whether the pattern can match below its base directory
// at arbitrary depth.
func (p *Pattern) Recursive() bool { return p.recursive }

// Match reports whether the root-relative path rel matches the pattern.
func (p *Pattern) Match(rel string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	for _, m := range p.matchers {
		if m.Match(rel) {
			return true
		}
	}

	return false
}

// RelName returns rel relative to the pattern base. This is the name a
// matched source file carries through the pipeline.
func (p *Pattern) RelName(rel string) string {
	rel = filepath.ToSlash(rel)
	if p.base == "." {
		return rel
	}

	return strings.TrimPrefix(rel, p.base+"/")
}

// globstarVariants returns p plus, when p has "**" segments, a variant with
// those segments removed so that "src/**/*.js" also matches "src/main.js".
func globstarVariants(p string) []string {
	if !strings.Contains(p, "**/") {
		return []string{p}
	}

	collapsed := strings.ReplaceAll(p, "/**/", "/")
	collapsed = strings.TrimPrefix(collapsed, "**/")

	return []string{p, collapsed}
}

func splitBase(p string) (string, bool) {
	if !strings.ContainsAny(p, metaChars) {
		return path.Dir(p), true
	}

	segments := strings.Split(p, "/")

	var static []string

	for _, seg := range segments {
		if strings.ContainsAny(seg, metaChars) {
			break
		}

		static = append(static, seg)
	}

	if len(static) == 0 {
		return ".", false
	}

	return strings.Join(static, "/"), false
}
