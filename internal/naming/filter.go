package naming

import (
	"path/filepath"
	"strings"
)

// KeywordFilter decides which paths below a source root take part in a scan.
// Keywords are case-insensitive substrings matched against each path segment.
// An exclude match always wins; an empty include list admits everything.
type KeywordFilter struct {
	include []string
	exclude []string
}

// NewKeywordFilter normalises the keyword lists. Blank entries and entries
// starting with '#' are dropped.
func NewKeywordFilter(include, exclude []string) *KeywordFilter {
	return &KeywordFilter{
		include: normaliseKeywords(include),
		exclude: normaliseKeywords(exclude),
	}
}

func normaliseKeywords(raw []string) []string {
	var out []string
	for _, k := range raw {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || strings.HasPrefix(k, "#") {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Excluded reports whether any segment of relativePath hits an exclude
// keyword. Directories are pruned with it during the walk.
func (f *KeywordFilter) Excluded(relativePath string) bool {
	if len(f.exclude) == 0 {
		return false
	}
	for _, seg := range segments(relativePath) {
		for _, k := range f.exclude {
			if strings.Contains(seg, k) {
				return true
			}
		}
	}
	return false
}

// Admit reports whether a file at relativePath is scanned.
func (f *KeywordFilter) Admit(relativePath string) bool {
	if f.Excluded(relativePath) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	for _, seg := range segments(relativePath) {
		for _, k := range f.include {
			if strings.Contains(seg, k) {
				return true
			}
		}
	}
	return false
}

func segments(relativePath string) []string {
	normalized := strings.ToLower(filepath.ToSlash(relativePath))
	var out []string
	for _, s := range strings.Split(normalized, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
