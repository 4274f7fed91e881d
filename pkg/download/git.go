package download

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcebuilder/sb/pkg/errdefs"
	"github.com/sourcebuilder/sb/pkg/source"
)

// fetchGit clones a git URL to local when there is no working copy yet,
// then applies the "?"-separated actions in the URL in order. A dry run
// or offline mode reports each step without running it.
func (d *Dispatcher) fetchGit(ctx context.Context, rawURL, local string) error {
	repoURL, query, _ := strings.Cut(rawURL, "?")
	repoURL = strings.TrimPrefix(repoURL, "git+")
	skip := d.Options.DryRun() || d.Options.DownloadDisabled()

	wc := d.NewWorkingCopy(local)
	if !wc.Valid() {
		d.notice(fmt.Sprintf("git: clone: %s -> %s", repoURL, relPath(local)))
		if !skip {
			if err := wc.Clone(repoURL, local); err != nil {
				return errdefs.New(errdefs.ErrRepository, rawURL, err)
			}
		}
	}

	for _, arg := range source.ParseArgs(query) {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch arg.Key {
		case "branch":
			if !arg.HasValue || arg.Value == "" {
				return errdefs.Errorf(errdefs.ErrConfig, rawURL, "branch action needs a name")
			}
			d.notice(fmt.Sprintf("git: checkout: %s => %s", relPath(local), arg.Value))
			if !skip {
				err = wc.Checkout(arg.Value)
			}
		case "pull":
			d.notice("git: pull: " + relPath(local))
			if !skip {
				err = wc.Pull()
			}
		case "fetch":
			d.notice(fmt.Sprintf("git: fetch: %s -> %s", repoURL, relPath(local)))
			if !skip {
				err = wc.Fetch()
			}
		case "reset":
			d.notice("git: reset: " + relPath(local))
			if !skip {
				if arg.HasValue && arg.Value != "" {
					err = wc.Reset("--" + arg.Value)
				} else {
					err = wc.Reset()
				}
			}
		default:
			d.output(fmt.Sprintf("git: ignoring unknown action %q in %s", arg.String(), rawURL))
		}
		if err != nil {
			return errdefs.New(errdefs.ErrRepository, rawURL, err)
		}
	}
	return nil
}
