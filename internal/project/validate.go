package project

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"lvm-go/internal/lvm"
)

// ValidationError lists every problem found in a project.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid project: " + e.Errors[0]
	}
	return fmt.Sprintf("invalid project: %d problems:\n  %s", len(e.Errors), strings.Join(e.Errors, "\n  "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

var tokenRe = regexp.MustCompile(`\{(\w+)\}`)

// Validate checks the document without touching the disk. It returns a
// *ValidationError listing every problem, or nil.
func (p *Project) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(p.Name) == "" {
		verr.add("project name is required")
	}
	if p.LinkMode != "" {
		if _, err := lvm.ParseLinkMode(p.LinkMode); err != nil {
			verr.add("project: %v", err)
		}
	}
	if strings.ContainsAny(p.VersionPrefix, "0123456789") {
		verr.add("project: version prefix %q must not contain digits", p.VersionPrefix)
	}

	groups := make(map[string]bool, len(p.Groups))
	for i, g := range p.Groups {
		if g.Name == "" {
			verr.add("group %d: name is required", i+1)
			continue
		}
		if groups[g.Name] {
			verr.add("group %s: defined twice", g.Name)
		}
		groups[g.Name] = true
	}

	ids := make(map[string]bool, len(p.Sources))
	for i, sc := range p.Sources {
		label := sc.SourceID()
		if label == "" {
			label = fmt.Sprintf("source %d", i+1)
			verr.add("%s: id or name is required", label)
		} else if ids[label] {
			verr.add("source %s: id used twice", label)
		}
		ids[label] = true

		if strings.ContainsAny(sc.SourceID(), `/\`) {
			verr.add("source %s: id must not contain path separators", label)
		}
		if sc.Root == "" {
			verr.add("source %s: root is required", label)
		}
		if sc.Target == "" && p.TargetTemplate == "" {
			verr.add("source %s: target is required when the project has no target_template", label)
		}
		if sc.Target != "" && sc.Root != "" && filepath.Clean(p.abs(sc.Target)) == filepath.Clean(p.abs(sc.Root)) {
			verr.add("source %s: target must differ from root", label)
		}
		if sc.Depth < 0 {
			verr.add("source %s: depth must not be negative", label)
		}
		if sc.LinkMode != "" {
			if _, err := lvm.ParseLinkMode(sc.LinkMode); err != nil {
				verr.add("source %s: %v", label, err)
			}
		}
		if strings.ContainsAny(sc.VersionPrefix, "0123456789") {
			verr.add("source %s: version prefix %q must not contain digits", label, sc.VersionPrefix)
		}
		if sc.Group != "" && !groups[sc.Group] {
			verr.add("source %s: group %q is not defined", label, sc.Group)
		}
		for _, tpl := range []string{sc.Target, sc.RenameTemplate} {
			for _, tok := range unknownTokens(tpl) {
				verr.add("source %s: unknown token {%s}", label, tok)
			}
		}
	}

	for _, tpl := range []string{p.TargetTemplate, p.RenameTemplate} {
		for _, tok := range unknownTokens(tpl) {
			verr.add("project: unknown token {%s}", tok)
		}
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

func unknownTokens(template string) []string {
	var out []string
	for _, m := range tokenRe.FindAllStringSubmatch(template, -1) {
		if !knownTokens[m[1]] {
			out = append(out, m[1])
		}
	}
	return out
}
