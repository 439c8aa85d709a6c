package project

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lvm-go/internal/lvm"
)

const sampleTOML = `
id = "5d7c0c1e-0000-4000-8000-000000000001"
name = "feature"
target_template = "{project_root}/latest/{group}/{source_basename}"
link_mode = "hardlink"
task_tokens = ["comp", "grade"]
exclude = ["_old"]

[[groups]]
name = "sq010"
root = "shots/sq010"

[[sources]]
name = "hero_comp"
root = "renders/hero"
group = "sq010"
include = ["exr"]

[[sources]]
id = "bg"
name = "bg_grade"
root = "/mnt/renders/bg"
target = "out/bg"
link_mode = "copy"
depth = 3
hash_content = true
`

func writeProject(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeProject(t, DefaultFileName, sampleTOML)

	p, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Name != "feature" || len(p.Sources) != 2 || len(p.Groups) != 1 {
		t.Fatalf("Load() = %+v", p)
	}
	if p.Path() != path {
		t.Errorf("Path() = %s, want %s", p.Path(), path)
	}

	sources, _, err := p.BuildSources()
	if err != nil {
		t.Fatalf("BuildSources() error = %v", err)
	}
	dir := filepath.Dir(path)

	hero := sources[0]
	if hero.ID != "hero_comp" {
		t.Errorf("ID = %q, want name as id", hero.ID)
	}
	if hero.Root != filepath.Join(dir, "renders", "hero") {
		t.Errorf("Root = %s", hero.Root)
	}
	if want := filepath.Join(dir, "latest", "sq010", "hero"); hero.Target != want {
		t.Errorf("Target = %s, want %s", hero.Target, want)
	}
	if hero.LinkMode != lvm.LinkHardlink {
		t.Errorf("LinkMode = %s, want the project default", hero.LinkMode)
	}
	if len(hero.Exclude) != 1 || hero.Exclude[0] != "_old" || len(hero.Include) != 1 {
		t.Errorf("filters = %v / %v", hero.Include, hero.Exclude)
	}

	bg := sources[1]
	if bg.ID != "bg" || bg.Root != "/mnt/renders/bg" || bg.Target != filepath.Join(dir, "out", "bg") {
		t.Errorf("bg = %+v", bg)
	}
	if bg.LinkMode != lvm.LinkCopy || bg.Depth != 3 || !bg.HashContent {
		t.Errorf("bg overrides not applied: %+v", bg)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeProject(t, "show.yaml", `
name: show
sources:
  - name: plate
    root: plates
    target: /tmp/latest/plate
    version_prefix: V
    extensions: [.dpx]
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sources, _, err := p.BuildSources()
	if err != nil {
		t.Fatal(err)
	}
	if sources[0].Convention.VersionPrefix != "V" || sources[0].Convention.Extensions[0] != ".dpx" {
		t.Errorf("Convention = %+v", sources[0].Convention)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	for name, content := range map[string]string{
		"p.toml": "name = \"x\"\nsourcez = []\n",
		"p.yaml": "name: x\nsourcez: []\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeProject(t, name, content)); err == nil {
				t.Error("Load() accepted an unknown key")
			}
		})
	}
}

func TestFind_MissingProject(t *testing.T) {
	if _, err := Find(t.TempDir()); err == nil {
		t.Error("Find() in an empty directory expected error")
	}
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	p := &Project{
		LinkMode: "reflink",
		Groups:   []GroupConfig{{Name: "a"}, {Name: "a"}},
		Sources: []SourceConfig{
			{Name: "one", Root: "r"},
			{Name: "one", Root: "r", Target: "t", Group: "missing"},
			{Name: "two", Target: "{shot}/x", Depth: -1},
			{Name: "same", Root: "dir", Target: "dir"},
		},
	}

	err := p.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}

	want := []string{
		"project name is required",
		"unknown link mode",
		"group a: defined twice",
		"source one: target is required",
		"source one: id used twice",
		`group "missing" is not defined`,
		"source two: root is required",
		"depth must not be negative",
		"unknown token {shot}",
		"source same: target must differ from root",
	}
	msg := err.Error()
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Errorf("Validate() error lacks %q:\n%s", w, msg)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"p.toml", "p.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			p := New(path, "roundtrip")
			p.Sources = []SourceConfig{{Name: "hero", Root: "r", Target: "t", Include: []string{"comp"}}}

			if err := p.Save(); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			entries, _ := os.ReadDir(filepath.Dir(path))
			if len(entries) != 1 {
				t.Errorf("directory holds %d entries after Save, want 1", len(entries))
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.ID != p.ID || got.Name != "roundtrip" {
				t.Errorf("loaded %q/%q, want %q/roundtrip", got.ID, got.Name, p.ID)
			}
			if len(got.Sources) != 1 || got.Sources[0].Include[0] != "comp" {
				t.Errorf("Sources = %+v", got.Sources)
			}
		})
	}
}

func TestSave_RefusesInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.toml")
	p := New(path, "")
	if err := p.Save(); err == nil {
		t.Fatal("Save() accepted an invalid project")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid project written to disk")
	}
}

func TestEncode_TOMLUsesArrayTables(t *testing.T) {
	p := New("/x/p.toml", "enc")
	p.Sources = []SourceConfig{{Name: "a", Root: "r", Target: "t"}}
	var buf bytes.Buffer
	if err := p.Encode(&buf, FormatTOML); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[[sources]]") {
		t.Errorf("encoded project:\n%s", buf.String())
	}
}
