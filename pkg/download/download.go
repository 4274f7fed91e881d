// Package download fetches resolved sources into the cache. A fetch walks
// the mirror candidates for a source in order and hands each one to the
// transport handler for its scheme until one succeeds.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/sourcebuilder/sb/pkg/errdefs"
	"github.com/sourcebuilder/sb/pkg/repo"
	"github.com/sourcebuilder/sb/pkg/source"
	"github.com/sourcebuilder/sb/pkg/store"
)

// Macros is the build configuration a fetch consults.
type Macros interface {
	// Define returns the expanded value of a macro.
	Define(key string) string
	// Expand substitutes macro references in template.
	Expand(template string) string
}

// Options are the user's fetch settings.
type Options interface {
	Quiet() bool
	DryRun() bool
	// DownloadDisabled reports offline mode: only the cache may be used.
	DownloadDisabled() bool
	Trace() bool
	// URLs returns the mirror bases to try before a source's own URL.
	URLs() []string
}

// Logger is the sink every attempted action is reported to.
type Logger interface {
	Output(text string)
	// Trace records a detail line with structured fields.
	Trace(msg string, fields logrus.Fields)
	// HasStdout reports whether the log already echoes to the console.
	HasStdout() bool
	Flush() error
}

// WorkingCopy is a version-control checkout at a cache path.
type WorkingCopy interface {
	Valid() bool
	Clone(url, dest string) error
	Checkout(ref string) error
	Pull() error
	Fetch() error
	Reset(args ...string) error
}

type handlerFunc func(ctx context.Context, url, local string) error

// handler binds a transport to the scheme it serves.
type handler struct {
	scheme source.Scheme
	fetch  handlerFunc
}

// Dispatcher fetches sources into the cache.
type Dispatcher struct {
	Macros  Macros
	Options Options
	Log     Logger
	// Stdout receives notices when the log does not already echo them.
	Stdout io.Writer
	// NewWorkingCopy opens the working copy for a git cache path.
	NewWorkingCopy func(local string) WorkingCopy
	// Client performs http and https transfers.
	Client *http.Client
	// Timeout bounds connection setup for http and ftp transfers.
	Timeout time.Duration
	// NewStore opens the cache directory a source is written to.
	NewStore func(dir string) store.Store
}

// New returns a Dispatcher using git working copies and the default HTTP
// client settings.
func New(macros Macros, opts Options, log Logger) *Dispatcher {
	return &Dispatcher{
		Macros:  macros,
		Options: opts,
		Log:     log,
		Stdout:  os.Stdout,
		NewWorkingCopy: func(local string) WorkingCopy {
			return repo.NewGit(local)
		},
		Client:   NewHTTPClient(DefaultTimeout),
		Timeout:  DefaultTimeout,
		NewStore: store.New,
	}
}

// handlers is checked in order; the first handler for a candidate's
// scheme fetches it.
func (d *Dispatcher) handlers() []handler {
	return []handler{
		{scheme: source.HTTP, fetch: d.fetchArchive},
		{scheme: source.FTP, fetch: d.fetchArchive},
		{scheme: source.Git, fetch: d.fetchGit},
		{scheme: source.File, fetch: d.fetchFile},
	}
}

// Fetch fetches a resolved source to its cache path.
func (d *Dispatcher) Fetch(ctx context.Context, src source.Source) error {
	loc := src.Describe()
	return d.FetchSource(ctx, loc.URL, loc.Local)
}

// FetchSource fetches declaredURL to localPath, trying each configured
// mirror first and the declared URL last. A failure that a different
// mirror could fix moves on to the next candidate; any other failure is
// returned at once. When every candidate fails the error wraps
// errdefs.ErrExhausted, except in a dry run where that is not an error.
func (d *Dispatcher) FetchSource(ctx context.Context, declaredURL, localPath string) error {
	if localPath == "" {
		return errdefs.Errorf(errdefs.ErrConfig, declaredURL, "source/patch path invalid")
	}

	if err := d.prepare(declaredURL, localPath); err != nil {
		return err
	}

	candidates := Candidates(declaredURL, d.Options.URLs())
	if d.Options.Trace() {
		fmt.Fprintf(d.stdout(), "_url: %s -> %s\n", strings.Join(candidates, ","), localPath)
	}

	if d.needsLock(declaredURL, localPath) {
		st := d.openStore(filepath.Dir(localPath))
		unlock, err := st.Lock(ctx, filepath.Base(localPath))
		if err != nil {
			return err
		}
		defer unlock()
	}

	var failures *multierror.Error
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.fetchCandidate(ctx, candidate, localPath)
		if d.Options.Trace() {
			d.Log.Trace("candidate", logrus.Fields{"index": i, "url": candidate, "error": err})
		}
		if err == nil {
			return nil
		}
		if !errdefs.Recoverable(err) {
			return err
		}
		failures = multierror.Append(failures, err)
	}

	if d.Options.DryRun() {
		return nil
	}
	return errdefs.New(errdefs.ErrExhausted, declaredURL, failures.ErrorOrNil())
}

// prepare makes sure the cache directory for localPath exists, or fails
// when it cannot be used.
func (d *Dispatcher) prepare(declaredURL, localPath string) error {
	dir := filepath.Dir(localPath)
	if !isDir(dir) {
		if d.Options.DownloadDisabled() {
			return errdefs.Errorf(errdefs.ErrConfig, declaredURL, "source directory not found: %s", relPath(dir))
		}
		d.notice("Creating source directory: " + relPath(dir))
		d.output("making dir: " + dir)
		if !d.Options.DryRun() {
			if err := d.openStore(dir).EnsureDir(); err != nil {
				return errdefs.Errorf(errdefs.ErrConfig, declaredURL, "creating %s: %w", dir, err)
			}
		}
	}

	if d.Options.DownloadDisabled() && !exists(localPath) {
		return errdefs.Errorf(errdefs.ErrConfig, declaredURL, "source not found: %s", relPath(localPath))
	}
	return nil
}

// needsLock reports whether the fetch may write to localPath. Archive and
// file sources already in the cache are hits for every candidate, so they
// take no lock; a git working copy is updated in place and always does.
func (d *Dispatcher) needsLock(declaredURL, localPath string) bool {
	if d.Options.DryRun() || d.Options.DownloadDisabled() {
		return false
	}
	if scheme, ok := source.DetectScheme(declaredURL); ok && scheme == source.Git {
		return true
	}
	return !exists(localPath)
}

func (d *Dispatcher) openStore(dir string) store.Store {
	if d.NewStore == nil {
		return store.New(dir)
	}
	return d.NewStore(dir)
}

func (d *Dispatcher) fetchCandidate(ctx context.Context, candidate, localPath string) error {
	scheme, ok := source.DetectScheme(candidate)
	if ok {
		for _, h := range d.handlers() {
			if h.scheme == scheme {
				return h.fetch(ctx, candidate, localPath)
			}
		}
	}
	return errdefs.Errorf(errdefs.ErrUnavailable, candidate, "no transport for url")
}

// notice reports text on the console, unless quiet or the log already
// echoes there, and in the log.
func (d *Dispatcher) notice(text string) {
	if !d.Options.Quiet() && !d.Log.HasStdout() {
		fmt.Fprintln(d.stdout(), text)
	}
	d.Log.Output(text)
	d.Log.Flush()
}

// output reports text in the log only.
func (d *Dispatcher) output(text string) {
	if !d.Options.Quiet() {
		d.Log.Output(text)
	}
}

func (d *Dispatcher) stdout() io.Writer {
	if d.Stdout == nil {
		return os.Stdout
	}
	return d.Stdout
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// relPath shortens path relative to the working directory for messages.
func relPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil {
		return path
	}
	return rel
}
