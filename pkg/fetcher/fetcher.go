package fetcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sourcebuilder/sb/pkg/config"
	"github.com/sourcebuilder/sb/pkg/source"
)

// Search path macros for the two kinds of manifest entries.
const (
	SourceDirMacro = "_sourcedir"
	PatchDirMacro  = "_patchdir"
)

// Downloader fetches a resolved source into its cache path.
type Downloader interface {
	Fetch(ctx context.Context, src source.Source) error
}

// Macros is the subset of the build configuration a fetch reads.
type Macros interface {
	Define(key string) string
	Expand(template string) string
}

// Target is a declared URL and the macro naming its search path.
type Target struct {
	URL      string
	DirMacro string
}

type Fetcher struct {
	Macros     Macros
	Downloader Downloader
	DryRun     bool
	// Jobs bounds how many targets are fetched at once.
	Jobs int
}

// Targets lists the sources then the patches of cfg, with macros in their
// URLs expanded.
func (f *Fetcher) Targets(cfg *config.Config) []Target {
	targets := make([]Target, 0, len(cfg.Sources)+len(cfg.Patches))
	for _, s := range cfg.Sources {
		targets = append(targets, Target{URL: f.Macros.Expand(s.URL), DirMacro: SourceDirMacro})
	}
	for _, p := range cfg.Patches {
		targets = append(targets, Target{URL: f.Macros.Expand(p.URL), DirMacro: PatchDirMacro})
	}
	return targets
}

// Resolve resolves one target against the search path its macro defines.
func (f *Fetcher) Resolve(t Target) (source.Source, error) {
	return source.Resolve(t.URL, source.SplitPaths(f.Macros.Define(t.DirMacro)), source.WithDryRun(f.DryRun))
}

// FetchAll fetches every source and patch declared in cfg. The first
// failure cancels the fetches still running and is returned.
func (f *Fetcher) FetchAll(ctx context.Context, cfg *config.Config) error {
	return f.Fetch(ctx, f.Targets(cfg)...)
}

// Fetch resolves and fetches each target, at most Jobs at a time.
func (f *Fetcher) Fetch(ctx context.Context, targets ...Target) error {
	g, ctx := errgroup.WithContext(ctx)
	jobs := f.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g.SetLimit(jobs)

	for _, t := range targets {
		g.Go(func() error {
			src, err := f.Resolve(t)
			if err != nil {
				return fmt.Errorf("resolving %q: %w", t.URL, err)
			}
			if err := f.Downloader.Fetch(ctx, src); err != nil {
				return fmt.Errorf("fetching %q: %w", t.URL, err)
			}
			return nil
		})
	}
	return g.Wait()
}
