package project

import (
	"fmt"

	"lvm-go/internal/lvm"
	"lvm-go/internal/naming"
)

// BuildSources turns the document into engine sources. Project defaults fill
// empty fields, templates are expanded, and every path is made absolute.
func (p *Project) BuildSources() ([]*lvm.Source, *Resolver, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	r := NewResolver(p)

	out := make([]*lvm.Source, 0, len(p.Sources))
	for _, sc := range p.Sources {
		src := &lvm.Source{
			ID:               sc.SourceID(),
			Name:             sc.Name,
			Include:          append(append([]string(nil), p.Include...), sc.Include...),
			Exclude:          append(append([]string(nil), p.Exclude...), sc.Exclude...),
			Depth:            sc.Depth,
			GroupID:          sc.Group,
			Task:             sc.Task,
			HashContent:      sc.HashContent,
			StrictDivergence: sc.StrictDivergence,
			RenameTemplate:   firstNonEmpty(sc.RenameTemplate, p.RenameTemplate),
			Convention: naming.Convention{
				VersionPrefix: firstNonEmpty(sc.VersionPrefix, p.VersionPrefix),
				Extensions:    sc.Extensions,
			},
		}
		if src.Name == "" {
			src.Name = src.ID
		}
		if len(src.Convention.Extensions) == 0 {
			src.Convention.Extensions = p.Extensions
		}

		mode, err := lvm.ParseLinkMode(firstNonEmpty(sc.LinkMode, p.LinkMode))
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		src.LinkMode = mode

		// The root is resolved first so {source_dir} in the target sees it.
		src.Root = r.ResolvePath(sc.Root, src, p.Dir())
		src.Target = r.ResolvePath(firstNonEmpty(sc.Target, p.TargetTemplate), src, p.Dir())

		out = append(out, src)
	}
	return out, r, nil
}

// BuildGroups returns the groups with absolute roots.
func (p *Project) BuildGroups() []*lvm.Group {
	out := make([]*lvm.Group, 0, len(p.Groups))
	for _, g := range p.Groups {
		out = append(out, &lvm.Group{ID: g.Name, Name: g.Name, Root: p.abs(g.Root)})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
