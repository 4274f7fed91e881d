package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFileName)
	os.WriteFile(path, []byte(`
[project]
name = "gcc"

[macros]
version = "4.8.2"

[[sources]]
url = "http://ftp.gnu.org/gnu/gcc/gcc-%{version}/gcc-%{version}.tar.bz2"

[[sources]]
url = "git://gcc.gnu.org/git/gcc.git?branch=releases/gcc-4.8?pull"

[[patches]]
url = "http://example.org/gcc-fix.patch"
`), 0o644)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.Project.Name != "gcc" {
		t.Errorf("Project.Name = %q, want %q", cfg.Project.Name, "gcc")
	}
	if cfg.Macros["version"] != "4.8.2" {
		t.Errorf("Macros[version] = %q, want %q", cfg.Macros["version"], "4.8.2")
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[1].URL != "git://gcc.gnu.org/git/gcc.git?branch=releases/gcc-4.8?pull" {
		t.Errorf("Sources[1].URL = %q", cfg.Sources[1].URL)
	}
	if len(cfg.Patches) != 1 {
		t.Fatalf("len(Patches) = %d, want 1", len(cfg.Patches))
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for a missing manifest, got nil")
	}

	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("[[sources]\nurl ="), 0o644)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for a malformed manifest, got nil")
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	want := &Config{
		Project: ProjectConfig{Name: "newlib"},
		Sources: []SourceEntry{{URL: "ftp://sourceware.org/pub/newlib/newlib-2.0.0.tar.gz"}},
	}

	if err := SaveFile(path, want); err != nil {
		t.Fatalf("SaveFile() error: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if got.Project.Name != want.Project.Name || len(got.Sources) != 1 || got.Sources[0].URL != want.Sources[0].URL {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
