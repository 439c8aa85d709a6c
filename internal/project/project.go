package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up when a project is given as a directory.
const DefaultFileName = "lvm_project.toml"

var candidateNames = []string{DefaultFileName, "lvm_project.yaml", "lvm_project.yml"}

// Project is the document enumerating sources and groups. Paths are kept as
// written; relative ones are resolved against the project file's directory
// when sources are built.
type Project struct {
	ID             string   `toml:"id" yaml:"id"`
	Name           string   `toml:"name" yaml:"name"`
	Root           string   `toml:"project_root,omitempty" yaml:"project_root,omitempty"`
	TargetTemplate string   `toml:"target_template,omitempty" yaml:"target_template,omitempty"`
	RenameTemplate string   `toml:"rename_template,omitempty" yaml:"rename_template,omitempty"`
	LinkMode       string   `toml:"link_mode,omitempty" yaml:"link_mode,omitempty"`
	VersionPrefix  string   `toml:"version_prefix,omitempty" yaml:"version_prefix,omitempty"`
	Extensions     []string `toml:"extensions,omitempty" yaml:"extensions,omitempty"`
	TaskTokens     []string `toml:"task_tokens,omitempty" yaml:"task_tokens,omitempty"`
	Include        []string `toml:"include,omitempty" yaml:"include,omitempty"`
	Exclude        []string `toml:"exclude,omitempty" yaml:"exclude,omitempty"`

	Groups  []GroupConfig  `toml:"groups,omitempty" yaml:"groups,omitempty"`
	Sources []SourceConfig `toml:"sources" yaml:"sources"`

	path string
}

// GroupConfig names a collection of sources and, optionally, its root.
type GroupConfig struct {
	Name string `toml:"name" yaml:"name"`
	Root string `toml:"root,omitempty" yaml:"root,omitempty"`
}

// SourceConfig is one source as written in the project file. Empty fields
// take the project-level default.
type SourceConfig struct {
	ID               string   `toml:"id,omitempty" yaml:"id,omitempty"`
	Name             string   `toml:"name" yaml:"name"`
	Root             string   `toml:"root" yaml:"root"`
	Target           string   `toml:"target,omitempty" yaml:"target,omitempty"`
	Group            string   `toml:"group,omitempty" yaml:"group,omitempty"`
	Task             string   `toml:"task,omitempty" yaml:"task,omitempty"`
	Depth            int      `toml:"depth,omitempty" yaml:"depth,omitempty"`
	Include          []string `toml:"include,omitempty" yaml:"include,omitempty"`
	Exclude          []string `toml:"exclude,omitempty" yaml:"exclude,omitempty"`
	LinkMode         string   `toml:"link_mode,omitempty" yaml:"link_mode,omitempty"`
	RenameTemplate   string   `toml:"rename_template,omitempty" yaml:"rename_template,omitempty"`
	VersionPrefix    string   `toml:"version_prefix,omitempty" yaml:"version_prefix,omitempty"`
	Extensions       []string `toml:"extensions,omitempty" yaml:"extensions,omitempty"`
	HashContent      bool     `toml:"hash_content,omitempty" yaml:"hash_content,omitempty"`
	StrictDivergence bool     `toml:"strict_divergence,omitempty" yaml:"strict_divergence,omitempty"`
}

// SourceID returns the configured id, falling back to the name.
func (sc SourceConfig) SourceID() string {
	if sc.ID != "" {
		return sc.ID
	}
	return sc.Name
}

// New creates an empty project that will be saved at path.
func New(path, name string) *Project {
	return &Project{ID: uuid.NewString(), Name: name, path: path}
}

// Path returns the file the project was loaded from or will be saved to.
func (p *Project) Path() string { return p.path }

// Dir returns the directory relative paths are resolved against.
func (p *Project) Dir() string { return filepath.Dir(p.path) }

// EffectiveRoot is the value of {project_root}: the configured root, or the
// project directory.
func (p *Project) EffectiveRoot() string {
	if p.Root == "" {
		return p.Dir()
	}
	return p.abs(p.Root)
}

// Source returns the source config with the given id.
func (p *Project) Source(id string) (*SourceConfig, bool) {
	for i := range p.Sources {
		if p.Sources[i].SourceID() == id {
			return &p.Sources[i], true
		}
	}
	return nil, false
}

// Group returns the group with the given name.
func (p *Project) Group(name string) (*GroupConfig, bool) {
	for i := range p.Groups {
		if p.Groups[i].Name == name {
			return &p.Groups[i], true
		}
	}
	return nil, false
}

func (p *Project) abs(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(p.Dir(), path)
}

// Find returns the project file for pathOrDir. A directory is searched for
// the default file names.
func Find(pathOrDir string) (string, error) {
	info, err := os.Stat(pathOrDir)
	if err != nil {
		return "", fmt.Errorf("finding project: %w", err)
	}
	if !info.IsDir() {
		return pathOrDir, nil
	}
	for _, name := range candidateNames {
		candidate := filepath.Join(pathOrDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no project file in %s (looked for %s)", pathOrDir, strings.Join(candidateNames, ", "))
}

// Load reads, decodes and validates a project file or directory.
func Load(pathOrDir string) (*Project, error) {
	path, err := Find(pathOrDir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening project file: %w", err)
	}
	defer f.Close()

	p, err := Decode(f, formatOf(abs))
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", abs, err)
	}
	p.path = abs
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("project %s: %w", abs, err)
	}
	return p, nil
}

// Format is the encoding of a project file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Decode reads a project document in the given format.
func Decode(r io.Reader, format Format) (*Project, error) {
	var p Project
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(&p)
		if err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unknown project format: %q", format)
	}
	return &p, nil
}

// Encode writes p in the given format.
func (p *Project) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(p); err != nil {
			return fmt.Errorf("encoding toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown project format: %q", format)
	}
}

// Save validates p and writes it to its path through a temporary file.
func (p *Project) Save() error {
	if p.path == "" {
		return fmt.Errorf("project has no path")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := p.Encode(&buf, formatOf(p.path)); err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lvm-project-*")
	if err != nil {
		return fmt.Errorf("creating temporary project file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing project: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing project: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing project file: %w", err)
	}
	return nil
}
