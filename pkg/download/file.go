package download

import (
	"context"
	"path/filepath"

	"github.com/sourcebuilder/sb/pkg/errdefs"
	"github.com/sourcebuilder/sb/pkg/source"
)

// fetchFile accepts a file URL that is already in the cache, or that names
// a local directory used in place. Nothing is copied.
func (d *Dispatcher) fetchFile(_ context.Context, rawURL, local string) error {
	if exists(local) {
		return nil
	}

	p, err := filepath.Abs(source.FilePath(rawURL))
	if err != nil {
		return errdefs.New(errdefs.ErrMalformed, rawURL, err)
	}
	if isDir(p) {
		d.output("file: using directory " + p)
		return nil
	}
	return errdefs.Errorf(errdefs.ErrUnavailable, rawURL, "local source not found: %s", p)
}
