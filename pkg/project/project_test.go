package project

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestInit(t *testing.T) {
	dir := t.TempDir()

	if err := Init(dir, "gcc"); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := Init(dir, "gcc"); err == nil {
		t.Error("expected error when the manifest already exists, got nil")
	}

	cfg, macros, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Project.Name != "gcc" {
		t.Errorf("Project.Name = %q, want %q", cfg.Project.Name, "gcc")
	}
	if got, want := macros.Define("_sourcedir"), filepath.Join(dir, "sources"); got != want {
		t.Errorf("_sourcedir = %q, want %q", got, want)
	}
}

func TestLoadManifestMacros(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`
[project]
name = "newlib"

[macros]
version = "2.0.0"
_sourcedir = "/var/cache/sb:%{_topdir}/sources"
`), 0o644)

	_, macros, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := macros.Expand("newlib-%{version}"); got != "newlib-2.0.0" {
		t.Errorf("Expand() = %q", got)
	}
	if got, want := macros.Define("_sourcedir"), "/var/cache/sb:"+dir+"/sources"; got != want {
		t.Errorf("_sourcedir = %q, want %q", got, want)
	}
}

func TestEnsureGitignore(t *testing.T) {
	tests := map[string]struct {
		existing  string
		entries   []string
		wantAdded []string
		wantFile  string
	}{
		"new file": {
			entries:   []string{"sb.local.toml", "sources/"},
			wantAdded: []string{"sb.local.toml", "sources/"},
			wantFile:  "sb.local.toml\nsources/\n",
		},
		"already present": {
			existing: "sources/\n",
			entries:  []string{"sources/"},
			wantFile: "sources/\n",
		},
		"missing trailing newline": {
			existing:  "build",
			entries:   []string{"patches/"},
			wantAdded: []string{"patches/"},
			wantFile:  "build\npatches/\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, ".gitignore")
			if tc.existing != "" {
				os.WriteFile(path, []byte(tc.existing), 0o644)
			}

			added, err := EnsureGitignore(dir, tc.entries)
			if err != nil {
				t.Fatalf("EnsureGitignore() error: %v", err)
			}
			if !reflect.DeepEqual(added, tc.wantAdded) {
				t.Errorf("added = %v, want %v", added, tc.wantAdded)
			}
			data, _ := os.ReadFile(path)
			if string(data) != tc.wantFile {
				t.Errorf(".gitignore = %q, want %q", data, tc.wantFile)
			}
		})
	}
}
