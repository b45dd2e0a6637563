// Package filter decides which filesystem changes are worth acting on.
//
// A Builder accumulates gitignore-style ignore rules, whitelist filter
// rules, and an extension set, then compiles them into an immutable
// Filter. Building is the only point where a pattern can fail; once
// compiled, matching is total over any path.
package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"watchrun/internal/log"
	"watchrun/internal/watch"

	gitignore "github.com/denormal/go-gitignore"
	"github.com/gobwas/glob"
)

// DefaultIgnores are always added regardless of user configuration:
// Python bytecode, vim swap files, and anything beneath a dot-prefixed
// directory at any depth.
var DefaultIgnores = []string{
	"*.pyc",
	"*.swp",
	"**/.*/**",
}

// Rule is a single gitignore-style pattern anchored at a directory.
// Rules follow gitignore precedence: the last matching rule wins, a
// leading "!" negates a prior match, a trailing "/" matches only
// directories, and patterns without a separator match at any depth.
type Rule struct {
	Pattern string
	Anchor  string
}

// Builder accumulates rules and extensions for a Filter.
type Builder struct {
	origin  string
	ignores []Rule
	filters []Rule
	exts    []string
}

// NewBuilder creates a builder whose rules are anchored at origin unless
// a rule carries its own anchor.
func NewBuilder(origin string) *Builder {
	abs, err := filepath.Abs(origin)
	if err != nil {
		abs = origin
	}
	return &Builder{origin: abs}
}

// AddIgnore adds an ignore rule anchored at the origin. Matching paths
// are excluded.
func (b *Builder) AddIgnore(pattern string) {
	b.ignores = append(b.ignores, Rule{Pattern: pattern, Anchor: b.origin})
}

// AddIgnoreIn adds an ignore rule anchored at a specific directory.
func (b *Builder) AddIgnoreIn(pattern, anchor string) {
	b.ignores = append(b.ignores, Rule{Pattern: pattern, Anchor: anchor})
}

// AddFilter adds a whitelist rule anchored at the origin. Once any
// filter rules exist, a path must match one of them to pass.
func (b *Builder) AddFilter(pattern string) {
	b.filters = append(b.filters, Rule{Pattern: pattern, Anchor: b.origin})
}

// AddFilterIn adds a whitelist rule anchored at a specific directory.
func (b *Builder) AddFilterIn(pattern, anchor string) {
	b.filters = append(b.filters, Rule{Pattern: pattern, Anchor: anchor})
}

// AddExtension adds an extension to the whitelist. A leading dot is
// stripped; comparison is case-sensitive.
func (b *Builder) AddExtension(ext string) {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext != "" {
		b.exts = append(b.exts, ext)
	}
}

// Build validates every pattern and compiles the immutable Filter. A
// malformed pattern fails the whole build; the caller must treat that as
// fatal and not start watching.
func (b *Builder) Build() (*Filter, error) {
	ignores, err := compileRules(b.ignores)
	if err != nil {
		return nil, fmt.Errorf("ignore rules: %w", err)
	}

	filters, err := compileRules(b.filters)
	if err != nil {
		return nil, fmt.Errorf("filter rules: %w", err)
	}

	exts := make(map[string]struct{}, len(b.exts))
	for _, e := range b.exts {
		exts[e] = struct{}{}
	}

	return &Filter{
		ignores:    ignores,
		filters:    filters,
		extensions: exts,
	}, nil
}

// Filter is the compiled aggregate of ignore rules, whitelist rules and
// an extension set. It is immutable and safe for concurrent reads.
type Filter struct {
	ignores    *ruleSet
	filters    *ruleSet
	extensions map[string]struct{}
}

var _ watch.Gate = (*Filter)(nil)

// Relevant applies the ignore, whitelist and extension checks to every
// path carried by the event, rejecting the whole event on the first path
// that fails. Events with no path always pass.
func (f *Filter) Relevant(e watch.Event) bool {
	for _, p := range e.Paths {
		if !f.relevantPath(p) {
			return false
		}
	}
	return true
}

func (f *Filter) relevantPath(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	dir := isDir(abs)

	if m := f.ignores.match(abs, dir); m != nil && m.Ignore() {
		log.LogWithFields(log.F("path", path), log.F("reason", "ignore match")).Debug("Path excluded")
		return false
	}

	if f.filters.count > 0 {
		m := f.filters.match(abs, dir)
		if m == nil || !m.Ignore() {
			log.LogWithFields(log.F("path", path), log.F("reason", "filter non-match")).Debug("Path excluded")
			return false
		}
	}

	if len(f.extensions) > 0 && !dir {
		base := filepath.Base(abs)
		// The extension starts after the last dot of the basename; a
		// single leading dot (.gitignore) marks a hidden name, not an
		// extension. A missing extension is inconclusive, never
		// exclusionary; only a mismatched one rejects
		if i := strings.LastIndex(base, "."); i > 0 {
			if _, ok := f.extensions[base[i+1:]]; !ok {
				log.LogWithFields(log.F("path", path), log.F("reason", "extension mismatch")).Debug("Path excluded")
				return false
			}
		}
	}

	return true
}

// ruleSet holds one gitignore matcher per anchor directory, in the order
// the anchors first appeared. The last matcher with an opinion wins,
// mirroring how a deeper ignore file overrides a shallower one.
type ruleSet struct {
	matchers []anchoredMatcher
	count    int
}

type anchoredMatcher struct {
	base    string
	matcher gitignore.GitIgnore
}

func compileRules(rules []Rule) (*ruleSet, error) {
	for _, r := range rules {
		if err := validatePattern(r.Pattern); err != nil {
			return nil, err
		}
	}

	set := &ruleSet{count: len(rules)}

	order := []string{}
	lines := map[string][]string{}
	for _, r := range rules {
		anchor, err := filepath.Abs(r.Anchor)
		if err != nil {
			anchor = r.Anchor
		}
		if _, seen := lines[anchor]; !seen {
			order = append(order, anchor)
		}
		lines[anchor] = append(lines[anchor], r.Pattern)
	}

	for _, anchor := range order {
		src := strings.NewReader(strings.Join(lines[anchor], "\n"))
		matcher := gitignore.New(src, anchor, nil)
		set.matchers = append(set.matchers, anchoredMatcher{base: anchor, matcher: matcher})
	}

	return set, nil
}

// validatePattern rejects malformed glob syntax up front. The gitignore
// matcher is lenient about bad patterns, so the net pattern (negation
// and directory markers stripped) is compiled once here to force an
// error at build time.
func validatePattern(pattern string) error {
	p := strings.TrimPrefix(pattern, "!")
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if _, err := glob.Compile(p, '/'); err != nil {
		return fmt.Errorf("malformed pattern %q: %w", pattern, err)
	}
	return nil
}

// match returns the last matching rule for the path across all anchors,
// or nil when no rule matches. Paths outside an anchor skip that
// anchor's rules.
func (s *ruleSet) match(abs string, isDir bool) gitignore.Match {
	var last gitignore.Match
	for _, am := range s.matchers {
		rel, err := filepath.Rel(am.base, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if m := am.matcher.Relative(rel, isDir); m != nil {
			last = m
		}
	}
	return last
}

// isDir reports whether the path currently names a directory. Paths that
// no longer exist (delete events) are treated as files; matching stays
// total either way.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
