package project

import (
	"path/filepath"
	"regexp"
	"strings"

	"lvm-go/internal/lvm"
)

var knownTokens = map[string]bool{
	"project_root":    true,
	"group_root":      true,
	"source_name":     true,
	"source_basename": true,
	"source_dir":      true,
	"group":           true,
	"task":            true,
}

// groupToken matches {group} and one trailing divider, dropped together when
// a source has no group.
var groupToken = regexp.MustCompile(`\{group\}[/\\_.\-]?`)

// Resolver expands path-template tokens for the sources of one project.
type Resolver struct {
	projectRoot string
	groupRoots  map[string]string
	taskTokens  []string
}

var _ lvm.PathResolver = (*Resolver)(nil)

// NewResolver captures the project context the tokens refer to.
func NewResolver(p *Project) *Resolver {
	r := &Resolver{
		projectRoot: p.EffectiveRoot(),
		groupRoots:  make(map[string]string, len(p.Groups)),
		taskTokens:  p.TaskTokens,
	}
	for _, g := range p.Groups {
		if g.Root != "" {
			r.groupRoots[g.Name] = p.abs(g.Root)
		}
	}
	return r
}

// Resolve replaces known tokens in template. Unknown tokens are left as
// written. The result may still be relative.
func (r *Resolver) Resolve(template string, src *lvm.Source) string {
	if !strings.Contains(template, "{") {
		return template
	}

	group := ""
	task := ""
	name := ""
	root := ""
	if src != nil {
		group = src.GroupID
		task = src.Task
		name = src.Name
		root = src.Root
	}
	if task == "" {
		task = findTask(name, r.taskTokens)
	}

	groupRoot := r.projectRoot
	if gr, ok := r.groupRoots[group]; ok {
		groupRoot = gr
	}

	out := strings.NewReplacer(
		"{project_root}", r.projectRoot,
		"{group_root}", groupRoot,
		"{source_name}", name,
		"{source_basename}", stripTasks(name, r.taskTokens),
		"{source_dir}", root,
		"{task}", task,
	).Replace(template)

	if group != "" {
		return strings.ReplaceAll(out, "{group}", group)
	}
	return groupToken.ReplaceAllString(out, "")
}

// ResolvePath resolves template and anchors a relative result at base.
func (r *Resolver) ResolvePath(template string, src *lvm.Source, base string) string {
	out := r.Resolve(template, src)
	if out == "" {
		return ""
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(base, out)
	}
	return filepath.Clean(out)
}
