package lvm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"lvm-go/internal/naming"
)

// Scan walks a source and reconciles the registry with what is on disk. A
// non-empty scope limits the walk to one top-level entry below the root;
// versions outside it keep their registry state.
func (s *LVMService) Scan(ctx context.Context, sourceID, scope string) (*ScanResult, error) {
	src, err := s.Source(sourceID)
	if err != nil {
		return nil, err
	}

	release, err := s.coord.AcquireScan(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", sourceID, err)
	}
	defer release()

	return s.scanLocked(ctx, src, scope)
}

// ScanAll scans every source. A failing source does not stop the others; its
// error is joined into the returned error.
func (s *LVMService) ScanAll(ctx context.Context) ([]*ScanResult, error) {
	var results []*ScanResult
	var errs []error
	for _, src := range s.sources {
		r, err := s.Scan(ctx, src.ID, "")
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			s.logger.Error("scan failed", "source", src.ID, "error", err)
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

func (s *LVMService) scanLocked(ctx context.Context, src *Source, scope string) (*ScanResult, error) {
	info, err := s.fsmgr.Stat(src.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, src.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceUnreachable, src.Root)
	}

	scope = topSegment(scope)
	entries, err := s.collect(ctx, src, scope)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &ScanResult{SourceID: src.ID}

	s.registry.Update(src.ID, func(current map[int]*Version) (map[int]*Version, []*Version) {
		var merged []FileEntry
		if scope != "" {
			for _, v := range current {
				for _, f := range v.Files {
					if !inScope(f.RelPath, scope) {
						merged = append(merged, f)
					}
				}
			}
		}
		merged = append(merged, entries...)

		fresh := s.groupVersions(src, merged)
		next := make(map[int]*Version, len(fresh))
		var superseded []*Version

		for n, v := range fresh {
			old, ok := current[n]
			switch {
			case !ok:
				v.DiscoveredAt = now
				v.Revision = 1
				v.Timecode = s.readTimecode(v)
				result.Added = append(result.Added, v.Token)
			case old.Fingerprint == v.Fingerprint:
				next[n] = old
				result.Unchanged = append(result.Unchanged, old.Token)
				continue
			default:
				v.DiscoveredAt = now
				v.Revision = old.Revision + 1
				v.Timecode = s.readTimecode(v)
				superseded = append(superseded, old)
				result.Updated = append(result.Updated, v.Token)
			}
			next[n] = v
		}
		for n, old := range current {
			if _, ok := fresh[n]; !ok {
				superseded = append(superseded, old)
				result.Removed = append(result.Removed, old.Token)
			}
		}
		return next, superseded
	})

	for _, list := range [][]string{result.Added, result.Removed, result.Updated, result.Unchanged} {
		slices.Sort(list)
	}

	if result.Changed() {
		s.logger.Info("scan complete", "source", src.ID, "scope", scope,
			"added", len(result.Added), "removed", len(result.Removed), "updated", len(result.Updated))
	} else {
		s.logger.Debug("scan complete", "source", src.ID, "scope", scope, "unchanged", len(result.Unchanged))
	}
	return result, nil
}

// collect walks the source root and returns every admitted versioned file.
// Non-version directories are descended while their level is below the
// source depth; version folders are read, flat, up to and including it.
func (s *LVMService) collect(ctx context.Context, src *Source, scope string) ([]FileEntry, error) {
	parser := s.parsers[src.ID]
	filter := s.filters[src.ID]
	var out []FileEntry

	var walk func(dirRel string, level int) error
	walk = func(dirRel string, level int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := s.fsmgr.ReadDir(absPath(src.Root, dirRel))
		if err != nil {
			if level == 0 {
				return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
			}
			s.logger.Warn("skipping unreadable directory", "source", src.ID, "path", dirRel, "error", err)
			return nil
		}

		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if level == 0 && scope != "" && name != scope {
				continue
			}
			rel := path.Join(dirRel, name)

			if e.IsDir() {
				if filter.Excluded(rel) {
					continue
				}
				if parsed, ok := parser.Parse(name, true); ok {
					if level+1 <= src.Depth {
						out = append(out, s.collectFolder(src, rel, parsed.Number)...)
					}
					continue
				}
				if level+1 < src.Depth {
					if err := walk(rel, level+1); err != nil {
						return err
					}
				}
				continue
			}

			parsed, ok := parser.Parse(name, false)
			if !ok || !parsed.HasVersion || !filter.Admit(rel) {
				continue
			}
			fe, err := s.fileEntry(src, rel, parsed, parsed.Number, dirRel, e)
			if err != nil {
				s.logger.Warn("skipping file", "source", src.ID, "path", rel, "error", err)
				continue
			}
			out = append(out, fe)
		}
		return nil
	}

	if err := walk("", 0); err != nil {
		return nil, err
	}
	return out, nil
}

// collectFolder reads the files directly inside a version folder. Every file
// takes the folder's version, whatever its own name says.
func (s *LVMService) collectFolder(src *Source, folderRel string, number int) []FileEntry {
	parser := s.parsers[src.ID]
	filter := s.filters[src.ID]

	entries, err := s.fsmgr.ReadDir(absPath(src.Root, folderRel))
	if err != nil {
		s.logger.Warn("skipping unreadable version folder", "source", src.ID, "path", folderRel, "error", err)
		return nil
	}

	var out []FileEntry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		rel := path.Join(folderRel, name)
		parsed, ok := parser.Parse(name, false)
		if !ok || !filter.Admit(rel) {
			continue
		}
		fe, err := s.fileEntry(src, rel, parsed, number, folderRel, e)
		if err != nil {
			s.logger.Warn("skipping file", "source", src.ID, "path", rel, "error", err)
			continue
		}
		out = append(out, fe)
	}
	return out
}

func (s *LVMService) fileEntry(src *Source, rel string, parsed naming.Parsed, number int, origin string, e fs.DirEntry) (FileEntry, error) {
	info, err := e.Info()
	if err != nil {
		return FileEntry{}, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		info, err = s.fsmgr.Stat(absPath(src.Root, rel))
		if err != nil {
			return FileEntry{}, err
		}
	}
	if !info.Mode().IsRegular() {
		return FileEntry{}, fmt.Errorf("not a regular file")
	}

	fe := FileEntry{
		RelPath: rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Name:    parsed,
		Number:  number,
		Origin:  origin,
	}
	if src.HashContent {
		fe.Hash, err = s.fsmgr.HashFile(absPath(src.Root, rel))
		if err != nil {
			return FileEntry{}, fmt.Errorf("hashing: %w", err)
		}
	}
	return fe, nil
}

// groupVersions turns file entries into versions keyed by number. When two
// origins claim the same number the lexically first wins.
func (s *LVMService) groupVersions(src *Source, entries []FileEntry) map[int]*Version {
	parser := s.parsers[src.ID]
	slices.SortFunc(entries, func(a, b FileEntry) int { return strings.Compare(a.RelPath, b.RelPath) })

	origins := make(map[int]string)
	for _, e := range entries {
		if o, ok := origins[e.Number]; !ok || e.Origin < o {
			origins[e.Number] = e.Origin
		}
	}

	out := make(map[int]*Version)
	dropped := make(map[string]bool)
	for _, e := range entries {
		if e.Origin != origins[e.Number] {
			if !dropped[e.Origin] {
				dropped[e.Origin] = true
				s.logger.Warn("duplicate version ignored", "source", src.ID,
					"version", parser.Token(e.Number), "kept", origins[e.Number], "ignored", e.Origin)
			}
			continue
		}
		v, ok := out[e.Number]
		if !ok {
			v = &Version{
				SourceID: src.ID,
				Token:    parser.Token(e.Number),
				Number:   e.Number,
				Path:     absPath(src.Root, e.Origin),
			}
			if p, isDir := parser.Parse(path.Base(e.Origin), true); isDir && e.Origin != "" && p.Number == e.Number {
				v.Folder = true
			}
			out[e.Number] = v
		}
		v.Files = append(v.Files, e)
	}

	for _, v := range out {
		v.Frames = versionFrames(v)
		v.Fingerprint = fingerprint(v.Files)
	}
	return out
}

// versionFrames groups a version's files into sequences by base, extension
// and padding, then reports the frames every sequence covers. Layers that
// stop short of each other show up as gaps.
func versionFrames(v *Version) *naming.FrameRange {
	items := make([]naming.Parsed, len(v.Files))
	for i, f := range v.Files {
		items[i] = f.Name
		// Files in a version folder take the folder's version.
		items[i].Number = v.Number
	}
	return naming.Coverage(naming.Aggregate(items))
}

func (s *LVMService) readTimecode(v *Version) TimecodeInfo {
	if len(v.Files) == 0 {
		return TimecodeInfo{}
	}
	first := v.Files[0]
	tc, err := s.timecode.ReadTimecode(filepath.Join(v.Path, path.Base(first.RelPath)))
	if err != nil {
		s.logger.Warn("reading timecode", "source", v.SourceID, "version", v.Token, "error", err)
		return TimecodeInfo{}
	}
	return tc
}

// fingerprint digests the identity of every file of a version, so a rewrite
// with an unchanged name is still noticed.
func fingerprint(files []FileEntry) string {
	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s|%d|%d|%s\n", f.RelPath, f.Size, f.ModTime.UnixNano(), f.Hash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func absPath(root, rel string) string {
	if rel == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

func topSegment(scope string) string {
	scope = strings.Trim(filepath.ToSlash(scope), "/")
	if scope == "" || scope == "." {
		return ""
	}
	if i := strings.Index(scope, "/"); i >= 0 {
		return scope[:i]
	}
	return scope
}

func inScope(rel, scope string) bool {
	return rel == scope || strings.HasPrefix(rel, scope+"/")
}
