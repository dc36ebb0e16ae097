package watcher

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// IgnorePatterns matches paths against gitignore-style rules.
//
// Supported forms:
//   - *.log          any file whose name ends in .log
//   - /build/        a build directory directly under the base
//   - **/gen/**      anything below a gen component
//   - !keep.log      re-include a path excluded by an earlier rule
//
// Rules apply in order and the last matching rule wins. A rule only
// looks at the path it is given, so excluding a directory means not
// watching it rather than filtering every event beneath it.
type IgnorePatterns struct {
	mu    sync.RWMutex
	rules []ignoreRule
}

type ignoreRule struct {
	source   string
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewIgnorePatterns creates an empty matcher.
func NewIgnorePatterns() *IgnorePatterns {
	return &IgnorePatterns{}
}

// AddPattern parses one gitignore line. Blank lines and comments are
// skipped. Malformed globs are reported by path.Match syntax errors.
func (ip *IgnorePatterns) AddPattern(pattern string) error {
	pattern = strings.TrimRight(pattern, " \t")
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}

	r := ignoreRule{source: pattern}
	if rest, ok := strings.CutPrefix(pattern, "!"); ok {
		r.negate = true
		pattern = rest
	}
	if rest, ok := strings.CutSuffix(pattern, "/"); ok {
		r.dirOnly = true
		pattern = rest
	}
	if rest, ok := strings.CutPrefix(pattern, "/"); ok {
		r.anchored = true
		pattern = rest
	}
	if pattern == "" {
		return nil
	}
	if _, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), ""); err != nil {
		return err
	}
	r.glob = pattern

	ip.mu.Lock()
	ip.rules = append(ip.rules, r)
	ip.mu.Unlock()
	return nil
}

// AddPatterns adds each pattern in order.
func (ip *IgnorePatterns) AddPatterns(patterns []string) error {
	for _, p := range patterns {
		if err := ip.AddPattern(p); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile loads patterns from a .gitignore-style file.
func (ip *IgnorePatterns) AddFromFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ip.AddPattern(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Match reports whether p should be ignored.
func (ip *IgnorePatterns) Match(p string, isDir bool) bool {
	return ip.MatchRelative(p, "", isDir)
}

// MatchRelative reports whether p should be ignored, with anchored rules
// evaluated relative to base.
func (ip *IgnorePatterns) MatchRelative(p, base string, isDir bool) bool {
	rel := p
	if base != "" {
		if r, err := filepath.Rel(base, p); err == nil {
			rel = r
		}
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")

	ip.mu.RLock()
	defer ip.mu.RUnlock()

	ignored := false
	for _, r := range ip.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string) bool {
	parts := strings.Split(rel, "/")

	if strings.Contains(r.glob, "**") {
		return matchDoubleStar(strings.Split(r.glob, "/"), parts)
	}

	if r.anchored {
		n := strings.Count(r.glob, "/") + 1
		if n > len(parts) {
			return false
		}
		return globMatch(r.glob, strings.Join(parts[:n], "/")) && n == len(parts)
	}

	if !strings.Contains(r.glob, "/") {
		return globMatch(r.glob, parts[len(parts)-1])
	}

	// Multi-segment rule: try every suffix of the path
	for i := range parts {
		if globMatch(r.glob, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

// matchDoubleStar matches glob segments where "**" spans zero or more
// path components. A leading "**" lets the rule start anywhere.
func matchDoubleStar(glob, parts []string) bool {
	if len(glob) == 0 {
		return len(parts) == 0
	}
	if glob[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchDoubleStar(glob[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 || !globMatch(glob[0], parts[0]) {
		return false
	}
	return matchDoubleStar(glob[1:], parts[1:])
}

func globMatch(pattern, name string) bool {
	ok, _ := path.Match(pattern, name)
	return ok
}

// Count returns the number of rules.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.rules)
}

// Patterns returns the rules as they were added.
func (ip *IgnorePatterns) Patterns() []string {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	out := make([]string, len(ip.rules))
	for i, r := range ip.rules {
		out[i] = r.source
	}
	return out
}

// DefaultIgnorePatterns keeps VCS metadata, dependency trees and build
// output out of recursive watches. Marker directories such as .git are
// watched explicitly by the session, not through recursion.
var DefaultIgnorePatterns = []string{
	".git/",
	".hg/",
	".svn/",

	"node_modules/",
	".venv/",
	"__pycache__/",

	".idea/",
	".vscode/",
	"*.swp",
	"*~",
	".DS_Store",
}
