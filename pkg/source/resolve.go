package source

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/sourcebuilder/sb/pkg/errdefs"
	"github.com/sourcebuilder/sb/pkg/store"
)

const (
	argDelimiter  = "?"
	pathSeparator = ":"
	gitDir        = "git"
)

// compressors maps an archive extension to its decompression command.
var compressors = map[string]string{
	"gz":  "%{__gzip} -dc",
	"bz2": "%{__bzip2} -dc",
	"xz":  "%{__xz} -dc",
}

type resolveOptions struct {
	dryRun   bool
	newStore func(root string) store.Store
}

// ResolveOption configures Resolve.
type ResolveOption func(*resolveOptions)

// WithDryRun stops Resolve from creating the chosen cache directory.
func WithDryRun(dryRun bool) ResolveOption {
	return func(o *resolveOptions) {
		o.dryRun = dryRun
	}
}

// WithStore sets how a cache root is opened. The default is store.New.
func WithStore(newStore func(root string) store.Store) ResolveOption {
	return func(o *resolveOptions) {
		o.newStore = newStore
	}
}

// Resolve parses a declared source URL into a Source and picks its cache
// location from the ordered search paths: the first root that already
// holds the source wins, otherwise the first root is used.
func Resolve(rawURL string, searchPaths []string, options ...ResolveOption) (Source, error) {
	opts := resolveOptions{newStore: store.New}
	for _, opt := range options {
		opt(&opts)
	}

	scheme, ok := DetectScheme(rawURL)
	if !ok {
		return nil, errdefs.Errorf(errdefs.ErrConfig, rawURL, "unsupported url scheme")
	}

	roots, err := searchRoots(searchPaths, opts.newStore)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case Git:
		repo, rest, _ := strings.Cut(rawURL, argDelimiter)
		loc := splitLocation(rawURL, repo)
		if err := locate(&loc, roots, opts, gitDir, loc.File); err != nil {
			return nil, err
		}
		return &GitSource{
			Location: loc,
			Repo:     repo,
			Args:     ParseArgs(rest),
			Symlink:  loc.Local,
		}, nil

	case File:
		loc := splitLocation(rawURL, rawURL)
		if err := locate(&loc, roots, opts, loc.File); err != nil {
			return nil, err
		}
		return &FileSource{Location: loc, Symlink: loc.Local}, nil

	default:
		loc := splitLocation(rawURL, rawURL)
		if err := locate(&loc, roots, opts, loc.File); err != nil {
			return nil, err
		}
		return &ArchiveSource{
			Location:   loc,
			Kind:       scheme,
			Compressed: Compression(loc.Ext),
		}, nil
	}
}

// Compression returns the decompression command for an archive extension
// such as ".gz", or "" when the extension is not a known compression.
func Compression(ext string) string {
	return compressors[strings.TrimPrefix(ext, ".")]
}

// ParseArgs splits the action part of a git source URL. Tokens are
// separated by '?' and each is a key with an optional "=value".
func ParseArgs(s string) []Arg {
	var args []Arg
	for _, tok := range strings.Split(s, argDelimiter) {
		if tok == "" {
			continue
		}
		key, value, hasValue := strings.Cut(tok, "=")
		args = append(args, Arg{Key: key, Value: value, HasValue: hasValue})
	}
	return args
}

// SplitPaths splits a colon separated search path definition.
func SplitPaths(define string) []string {
	if define == "" {
		return nil
	}
	return strings.Split(define, pathSeparator)
}

// splitLocation fills the directory, file, stem and extension of target,
// which is the declared URL or the part of it naming the file.
func splitLocation(rawURL, target string) Location {
	loc := Location{URL: rawURL}
	if i := strings.LastIndex(target, "/"); i >= 0 {
		loc.Path = target[:i]
		loc.File = target[i+1:]
	} else {
		loc.File = target
	}
	loc.Ext = path.Ext(loc.File)
	loc.Name = strings.TrimSuffix(loc.File, loc.Ext)
	return loc
}

// searchRoots validates every search path entry and makes it absolute.
func searchRoots(searchPaths []string, newStore func(string) store.Store) ([]store.Store, error) {
	if len(searchPaths) == 0 {
		return nil, errdefs.Errorf(errdefs.ErrConfig, "", "source/patch search path is empty")
	}

	roots := make([]store.Store, 0, len(searchPaths))
	for _, p := range searchPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errdefs.Errorf(errdefs.ErrConfig, "", "source/patch search path %q has an empty entry", strings.Join(searchPaths, pathSeparator))
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errdefs.Errorf(errdefs.ErrConfig, "", "source/patch path invalid: %s: %w", p, err)
		}
		roots = append(roots, newStore(abs))
	}
	return roots, nil
}

// locate sets LocalPrefix and Local on loc for the target segments and
// creates the chosen root unless this is a dry run.
func locate(loc *Location, roots []store.Store, opts resolveOptions, segments ...string) error {
	chosen := roots[0]
	for _, root := range roots {
		exists, err := root.Exists(segments...)
		if err != nil {
			return errdefs.Errorf(errdefs.ErrConfig, loc.URL, "checking %s: %w", root.Path(segments...), err)
		}
		if exists {
			chosen = root
			break
		}
	}

	loc.LocalPrefix = chosen.Root()
	loc.Local = chosen.Path(segments...)

	if !opts.dryRun {
		if err := chosen.EnsureDir(); err != nil {
			return errdefs.Errorf(errdefs.ErrConfig, loc.URL, "creating %s: %w", chosen.Root(), err)
		}
	}
	return nil
}
