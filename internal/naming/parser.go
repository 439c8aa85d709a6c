package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultExtensions are the media extensions recognised when a source does
// not configure its own list.
var DefaultExtensions = []string{
	".exr", ".dpx", ".tif", ".tiff", ".png", ".jpg", ".jpeg", ".mov", ".mxf", ".mp4",
}

const (
	DefaultVersionPrefix  = "v"
	DefaultMinFrameDigits = 3
	DefaultMaxFrameDigits = 8
)

// Convention holds the naming rules of a single source.
type Convention struct {
	VersionPrefix  string
	Extensions     []string
	MinFrameDigits int
	MaxFrameDigits int
}

// DefaultConvention returns the convention used when nothing is configured.
func DefaultConvention() Convention {
	return Convention{
		VersionPrefix:  DefaultVersionPrefix,
		Extensions:     DefaultExtensions,
		MinFrameDigits: DefaultMinFrameDigits,
		MaxFrameDigits: DefaultMaxFrameDigits,
	}
}

// Parsed is the token set extracted from one file or directory name.
type Parsed struct {
	Name        string
	Base        string
	Number      int
	HasVersion  bool
	Frame       int
	HasFrame    bool
	FrameDigits int
	FrameDelim  string // "." or "_"
	Ext         string // including the leading dot, original case
	IsDir       bool
}

// Parser classifies names according to a Convention. It holds no state beyond
// the compiled patterns and is safe for concurrent use.
type Parser struct {
	conv      Convention
	versionRe *regexp.Regexp
	frameRe   *regexp.Regexp
	exts      map[string]bool
}

// NewParser compiles the patterns for conv, filling in defaults for zero values.
func NewParser(conv Convention) (*Parser, error) {
	if conv.VersionPrefix == "" {
		conv.VersionPrefix = DefaultVersionPrefix
	}
	if len(conv.Extensions) == 0 {
		conv.Extensions = DefaultExtensions
	}
	if conv.MinFrameDigits <= 0 {
		conv.MinFrameDigits = DefaultMinFrameDigits
	}
	if conv.MaxFrameDigits <= 0 {
		conv.MaxFrameDigits = DefaultMaxFrameDigits
	}
	if conv.MinFrameDigits > conv.MaxFrameDigits {
		return nil, fmt.Errorf("min frame digits %d exceeds max %d", conv.MinFrameDigits, conv.MaxFrameDigits)
	}
	if strings.ContainsAny(conv.VersionPrefix, "0123456789") {
		return nil, fmt.Errorf("version prefix %q must not contain digits", conv.VersionPrefix)
	}

	versionRe, err := regexp.Compile(`(?i)(?:^|[._-])` + regexp.QuoteMeta(conv.VersionPrefix) + `(\d+)`)
	if err != nil {
		return nil, fmt.Errorf("compiling version pattern: %w", err)
	}

	exts := make(map[string]bool, len(conv.Extensions))
	for _, e := range conv.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	return &Parser{
		conv:      conv,
		versionRe: versionRe,
		frameRe:   regexp.MustCompile(`[._](\d+)$`),
		exts:      exts,
	}, nil
}

// Convention returns the effective convention, defaults applied.
func (p *Parser) Convention() Convention {
	return p.conv
}

// Parse classifies name. Files are recognised when their extension is one of
// the convention's extensions; directories only when they carry a version tag.
func (p *Parser) Parse(name string, isDir bool) (Parsed, bool) {
	out := Parsed{Name: name, IsDir: isDir}
	stem := name

	if !isDir {
		ext := filepath.Ext(name)
		if ext == "" || !p.exts[strings.ToLower(ext)] {
			return Parsed{}, false
		}
		out.Ext = ext
		stem = strings.TrimSuffix(name, ext)

		if m := p.frameRe.FindStringSubmatchIndex(stem); m != nil {
			digits := stem[m[2]:m[3]]
			if len(digits) >= p.conv.MinFrameDigits && len(digits) <= p.conv.MaxFrameDigits {
				frame, err := strconv.Atoi(digits)
				if err == nil {
					out.Frame = frame
					out.HasFrame = true
					out.FrameDigits = len(digits)
					out.FrameDelim = stem[m[0] : m[0]+1]
					stem = stem[:m[0]]
				}
			}
		}
	}

	start, end, number, ok := p.findVersion(stem)
	if ok {
		out.Number = number
		out.HasVersion = true
		stem = stem[:start] + stem[end:]
	} else if isDir {
		return Parsed{}, false
	}

	out.Base = cleanBase(stem)
	return out, true
}

// findVersion returns the span of the last prefix-tagged numeric group in stem,
// including its leading divider. A tag must be followed by a divider or the end.
func (p *Parser) findVersion(stem string) (start, end, number int, ok bool) {
	for _, m := range p.versionRe.FindAllStringSubmatchIndex(stem, -1) {
		if m[3] < len(stem) && !isDivider(stem[m[3]]) {
			continue
		}
		n, err := strconv.Atoi(stem[m[2]:m[3]])
		if err != nil {
			continue
		}
		start, end, number, ok = m[0], m[3], n, true
	}
	return start, end, number, ok
}

// Token renders the canonical version token for n.
func (p *Parser) Token(n int) string {
	return FormatToken(p.conv.VersionPrefix, n)
}

// ParseToken accepts "v3", "V003" or a bare "3" and returns the version number.
func (p *Parser) ParseToken(token string) (int, error) {
	return ParseToken(p.conv.VersionPrefix, token)
}

// FormatToken renders prefix followed by n zero-padded to three digits.
func FormatToken(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// ParseToken parses a version token written with prefix, or a bare number.
func ParseToken(prefix, token string) (int, error) {
	t := strings.TrimSpace(token)
	if len(t) >= len(prefix) && strings.EqualFold(t[:len(prefix)], prefix) {
		t = t[len(prefix):]
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid version token %q", token)
	}
	return n, nil
}

// DestName renders the version-agnostic file name for p using base.
func DestName(p Parsed, base string) string {
	if !p.HasFrame {
		if base == "" {
			base = "untitled"
		}
		return base + p.Ext
	}
	frame := fmt.Sprintf("%0*d", p.FrameDigits, p.Frame)
	if base == "" {
		return frame + p.Ext
	}
	return base + p.FrameDelim + frame + p.Ext
}

func isDivider(c byte) bool {
	return c == '.' || c == '_' || c == '-'
}

// cleanBase collapses runs of dividers left behind by token removal and trims
// dividers from both ends.
func cleanBase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isDivider(s[i]) && i > 0 && isDivider(s[i-1]) {
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.TrimFunc(b.String(), func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
}
