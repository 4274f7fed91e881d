package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// maxExpandDepth bounds recursive macro expansion so self referencing
// macros terminate.
const maxExpandDepth = 32

// Macros is the build's macro table. Values may reference other macros as
// %{name}; %{?name} expands to nothing when name is undefined and %{nil}
// is always empty. Macros is safe for concurrent reads once populated.
type Macros struct {
	values map[string]string
}

func NewMacros() *Macros {
	return &Macros{values: map[string]string{}}
}

// DefaultMacros returns the host and tree defaults for a build rooted at
// topdir.
func DefaultMacros(topdir string) *Macros {
	m := NewMacros()
	m.Merge(HostMacros())
	m.Merge(map[string]string{
		"_topdir":    topdir,
		"_sourcedir": "%{_topdir}/sources",
		"_patchdir":  "%{_topdir}/patches",
	})
	return m
}

// HostMacros describes the machine sb runs on and the tools it needs.
func HostMacros() map[string]string {
	cpu := hostCPU()
	values := map[string]string{
		"_ncpus":       strconv.Itoa(runtime.NumCPU()),
		"_os":          runtime.GOOS,
		"_host":        cpu + "-" + runtime.GOOS + "-gnu",
		"_host_vendor": "gnu",
		"_host_os":     runtime.GOOS,
		"_host_cpu":    cpu,
		"_host_alias":  "%{nil}",
		"_host_arch":   cpu,
		"_usr":         "/usr",
		"_var":         "/var",
		"_prefix":      "/opt",
	}
	if runtime.GOOS != "linux" {
		values["_host"] = cpu + "-" + runtime.GOOS
	}
	for macro, tool := range map[string]string{
		"__bzip2": "bzip2",
		"__gzip":  "gzip",
		"__xz":    "xz",
		"__tar":   "tar",
		"__git":   "git",
	} {
		values[macro] = toolPath(tool)
	}
	return values
}

func hostCPU() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "ppc64le":
		return "powerpc64le"
	}
	return runtime.GOARCH
}

func toolPath(tool string) string {
	if p, err := exec.LookPath(tool); err == nil {
		return p
	}
	return filepath.Join("/bin", tool)
}

// Set defines key as value, replacing any previous definition.
func (m *Macros) Set(key, value string) {
	m.values[key] = value
}

// Merge defines every key of values.
func (m *Macros) Merge(values map[string]string) {
	for k, v := range values {
		m.values[k] = v
	}
}

// Raw returns the unexpanded value of key.
func (m *Macros) Raw(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Define returns the expanded value of key, or "" if it is undefined.
func (m *Macros) Define(key string) string {
	v, ok := m.values[key]
	if !ok {
		return ""
	}
	return m.Expand(v)
}

// Expand substitutes every macro reference in s. References to undefined
// macros are left in place.
func (m *Macros) Expand(s string) string {
	return m.expand(s, 0)
}

func (m *Macros) expand(s string, depth int) string {
	if depth > maxExpandDepth || !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 || i == len(s)-1 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		s = s[i:]

		switch s[1] {
		case '%':
			b.WriteByte('%')
			s = s[2:]
			continue
		case '{':
		default:
			b.WriteByte('%')
			s = s[1:]
			continue
		}

		end := strings.IndexByte(s, '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		name := s[2:end]
		ref := s[:end+1]
		s = s[end+1:]

		optional := strings.HasPrefix(name, "?")
		name = strings.TrimPrefix(name, "?")

		switch v, ok := m.values[name]; {
		case name == "nil":
		case ok:
			b.WriteString(m.expand(v, depth+1))
		case optional:
		default:
			b.WriteString(ref)
		}
	}
	return b.String()
}

// String lists the macros one per line, for tracing.
func (m *Macros) String() string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, m.values[k])
	}
	return b.String()
}
