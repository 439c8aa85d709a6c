package lvm

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"lvm-go/internal/naming"
)

// DefaultDiscoverDepth bounds the discovery walk when no depth is given.
const DefaultDiscoverDepth = 4

// DiscoverOptions tunes a discovery walk.
type DiscoverOptions struct {
	Depth      int
	Include    []string
	Exclude    []string
	Convention naming.Convention
}

// DiscoveredVersion summarises one version found during discovery.
type DiscoveredVersion struct {
	Token  string
	Number int
	Files  int
	Size   int64
	Frames *naming.FrameRange
}

// DiscoveryResult is a directory that looks like a source: it holds version
// folders or versioned files.
type DiscoveryResult struct {
	Path            string
	Name            string
	Versions        []DiscoveredVersion
	SuggestedPrefix string
	Extensions      []string
	SampleFile      string
}

// Discover walks root and reports every directory that could be configured as
// a source. It only reads; nothing enters the registry.
func (s *LVMService) Discover(ctx context.Context, root string, opts DiscoverOptions) ([]*DiscoveryResult, error) {
	parser, err := naming.NewParser(opts.Convention)
	if err != nil {
		return nil, err
	}
	filter := naming.NewKeywordFilter(opts.Include, opts.Exclude)
	depth := opts.Depth
	if depth <= 0 {
		depth = DefaultDiscoverDepth
	}

	info, err := s.fsmgr.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnreachable, root)
	}

	d := &discoverer{svc: s, parser: parser, filter: filter, root: root, maxDepth: depth}
	if err := d.walk(ctx, "", 0); err != nil {
		return nil, err
	}
	return d.results, nil
}

type discoverer struct {
	svc      *LVMService
	parser   *naming.Parser
	filter   *naming.KeywordFilter
	root     string
	maxDepth int
	results  []*DiscoveryResult
}

func (d *discoverer) walk(ctx context.Context, rel string, level int) error {
	if level > d.maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := d.svc.fsmgr.ReadDir(absPath(d.root, rel))
	if err != nil {
		d.svc.logger.Debug("skipping unreadable directory", "path", rel, "error", err)
		return nil
	}

	type versionDir struct {
		rel    string
		parsed naming.Parsed
	}
	var versionDirs []versionDir
	var versionFiles []naming.Parsed
	var sizes = make(map[string]int64)
	var subdirs []string

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		child := path.Join(rel, name)
		if e.IsDir() {
			if d.filter.Excluded(child) {
				continue
			}
			if p, ok := d.parser.Parse(name, true); ok {
				versionDirs = append(versionDirs, versionDir{rel: child, parsed: p})
			} else {
				subdirs = append(subdirs, child)
			}
			continue
		}
		if p, ok := d.parser.Parse(name, false); ok && p.HasVersion && d.filter.Admit(child) {
			versionFiles = append(versionFiles, p)
			if info, err := e.Info(); err == nil {
				sizes[name] = info.Size()
			}
		}
	}

	switch {
	case len(versionDirs) > 0:
		res := d.newResult(rel)
		exts := make(map[string]bool)
		for _, vd := range versionDirs {
			dv := DiscoveredVersion{Token: d.parser.Token(vd.parsed.Number), Number: vd.parsed.Number}
			var items []naming.Parsed
			files, _ := d.svc.fsmgr.ReadDir(absPath(d.root, vd.rel))
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				p, ok := d.parser.Parse(f.Name(), false)
				if !ok {
					continue
				}
				dv.Files++
				if info, err := f.Info(); err == nil {
					dv.Size += info.Size()
				}
				p.Number = vd.parsed.Number
				items = append(items, p)
				exts[strings.ToLower(p.Ext)] = true
				if res.SampleFile == "" {
					res.SampleFile = f.Name()
				}
			}
			dv.Frames = naming.Coverage(naming.Aggregate(items))
			res.Versions = append(res.Versions, dv)
		}
		res.SuggestedPrefix = suggestPrefix(versionDirs[0].parsed.Name, d.parser.Convention().VersionPrefix)
		res.Extensions = sortedKeys(exts)
		d.finish(res)

	case len(versionFiles) > 0:
		res := d.newResult(rel)
		exts := make(map[string]bool)
		byNumber := make(map[int]*DiscoveredVersion)
		items := make(map[int][]naming.Parsed)
		for _, p := range versionFiles {
			items[p.Number] = append(items[p.Number], p)
			exts[strings.ToLower(p.Ext)] = true
			dv, ok := byNumber[p.Number]
			if !ok {
				dv = &DiscoveredVersion{Token: d.parser.Token(p.Number), Number: p.Number}
				byNumber[p.Number] = dv
			}
			dv.Files++
			dv.Size += sizes[p.Name]
		}
		for n, dv := range byNumber {
			dv.Frames = naming.Coverage(naming.Aggregate(items[n]))
			res.Versions = append(res.Versions, *dv)
		}
		res.SampleFile = versionFiles[0].Name
		res.SuggestedPrefix = suggestPrefix(strings.TrimSuffix(versionFiles[0].Name, versionFiles[0].Ext), d.parser.Convention().VersionPrefix)
		res.Extensions = sortedKeys(exts)
		d.finish(res)
	}

	for _, sub := range subdirs {
		if err := d.walk(ctx, sub, level+1); err != nil {
			return err
		}
	}
	return nil
}

func (d *discoverer) newResult(rel string) *DiscoveryResult {
	name := path.Base(rel)
	if rel == "" {
		name = path.Base(strings.ReplaceAll(d.root, `\`, "/"))
	}
	return &DiscoveryResult{Path: absPath(d.root, rel), Name: name}
}

func (d *discoverer) finish(res *DiscoveryResult) {
	slices.SortFunc(res.Versions, func(a, b DiscoveredVersion) int { return a.Number - b.Number })
	d.results = append(d.results, res)
}

// suggestPrefix returns the divider and prefix that introduce the version tag
// in name, e.g. "_v" for "hero_comp_v003".
func suggestPrefix(name, prefix string) string {
	lower := strings.ToLower(name)
	i := strings.LastIndex(lower, strings.ToLower(prefix))
	if i <= 0 {
		return prefix
	}
	if c := name[i-1]; c == '_' || c == '.' || c == '-' {
		return name[i-1 : i+len(prefix)]
	}
	return name[i : i+len(prefix)]
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
