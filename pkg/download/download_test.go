package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcebuilder/sb/pkg/config"
	"github.com/sourcebuilder/sb/pkg/errdefs"
	"github.com/sourcebuilder/sb/pkg/log"
	"github.com/sourcebuilder/sb/pkg/source"
	"github.com/sourcebuilder/sb/pkg/store"
)

// archiveServer serves files by path and records every request path.
type archiveServer struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string]string
	hits  []string
}

func newArchiveServer(t *testing.T, files map[string]string) *archiveServer {
	t.Helper()
	s := &archiveServer{files: files}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits = append(s.hits, r.URL.Path)
		body, ok := s.files[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

type testDispatcher struct {
	*Dispatcher
	stdout *bytes.Buffer
	log    *bytes.Buffer
}

func newTestDispatcher(settings config.Settings) *testDispatcher {
	var stdout, logBuf bytes.Buffer
	macros := config.NewMacros()
	macros.Set("version", "1.2")

	d := New(macros, config.NewOptions(settings), log.NewWriter(&logBuf, false))
	d.Stdout = &stdout
	return &testDispatcher{Dispatcher: d, stdout: &stdout, log: &logBuf}
}

func assertNoPartials(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".partial-*"))
	if err != nil {
		t.Fatalf("globbing partials: %v", err)
	}
	if len(matches) > 0 {
		t.Errorf("partial files left behind: %v", matches)
	}
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Errorf("error = %v, want %v", err, kind)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestCandidates(t *testing.T) {
	tests := map[string]struct {
		url   string
		bases []string
		want  []string
	}{
		"no mirrors": {
			url:  "http://x/pkg.tgz",
			want: []string{"http://x/pkg.tgz"},
		},
		"mirrors first then declared": {
			url:   "http://origin/a/b/pkg-1.2.tar.gz",
			bases: []string{"http://m1/", "http://m2/pub"},
			want: []string{
				"http://m1/pkg-1.2.tar.gz",
				"http://m2/pub/pkg-1.2.tar.gz",
				"http://origin/a/b/pkg-1.2.tar.gz",
			},
		},
		"git query is not carried to mirrors": {
			url:   "git://host/repo.git?branch=dev",
			bases: []string{"git://mirror/"},
			want: []string{
				"git://mirror/repo.git",
				"git://host/repo.git?branch=dev",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := Candidates(tc.url, tc.bases); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Candidates() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFetchSourceMirrorFallback(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{
		"/m2/pkg-1.2.tar.gz":     "from m2",
		"/origin/pkg-1.2.tar.gz": "from origin",
	})
	td := newTestDispatcher(config.Settings{URLs: []string{srv.URL + "/m1", srv.URL + "/m2"}})

	local := filepath.Join(t.TempDir(), "sources", "pkg-1.2.tar.gz")
	if err := td.FetchSource(context.Background(), srv.URL+"/origin/pkg-1.2.tar.gz", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}

	if got := readFile(t, local); got != "from m2" {
		t.Errorf("content = %q, want %q", got, "from m2")
	}
	wantHits := []string{"/m1/pkg-1.2.tar.gz", "/m2/pkg-1.2.tar.gz"}
	if got := srv.requests(); !reflect.DeepEqual(got, wantHits) {
		t.Errorf("requests = %v, want %v", got, wantHits)
	}
	assertNoPartials(t, filepath.Dir(local))

	if !strings.Contains(td.stdout.String(), "Creating source directory") {
		t.Errorf("stdout = %q, want the directory notice", td.stdout.String())
	}
	if want := "download: " + srv.URL + "/m1/pkg-1.2.tar.gz -> "; !strings.Contains(td.log.String(), want) {
		t.Errorf("log = %q, want %q", td.log.String(), want)
	}
}

func TestFetchSourceExhausted(t *testing.T) {
	srv := newArchiveServer(t, nil)
	td := newTestDispatcher(config.Settings{URLs: []string{srv.URL + "/m1"}})

	dir := t.TempDir()
	local := filepath.Join(dir, "pkg.tgz")
	err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local)

	assertKind(t, err, errdefs.ErrExhausted)
	if err != nil && !strings.Contains(err.Error(), "all paths have failed, giving up") {
		t.Errorf("error = %q, want the exhaustion message", err)
	}
	wantHits := []string{"/m1/pkg.tgz", "/x/pkg.tgz"}
	if got := srv.requests(); !reflect.DeepEqual(got, wantHits) {
		t.Errorf("requests = %v, want %v", got, wantHits)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("destination exists after every candidate failed")
	}
	assertNoPartials(t, dir)
}

// failingWriteStore is a cache directory whose writes always fail.
type failingWriteStore struct {
	store.Store
}

func (failingWriteStore) WriteAtomic(r io.Reader, segments ...string) (int64, error) {
	return 0, errors.New("no space left on device")
}

func TestFetchSourceLocalWriteFailureIsFatal(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{
		"/m1/pkg.tgz": "from m1",
		"/m2/pkg.tgz": "from m2",
		"/x/pkg.tgz":  "from origin",
	})
	td := newTestDispatcher(config.Settings{URLs: []string{srv.URL + "/m1", srv.URL + "/m2"}})
	td.NewStore = func(dir string) store.Store {
		return failingWriteStore{Store: store.New(dir)}
	}

	local := filepath.Join(t.TempDir(), "pkg.tgz")
	err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local)

	assertKind(t, err, errdefs.ErrTransport)
	if errors.Is(err, errdefs.ErrExhausted) {
		t.Errorf("error = %v, want no exhaustion after a fatal failure", err)
	}
	if errdefs.Recoverable(err) {
		t.Errorf("error = %v reported recoverable", err)
	}
	if got, want := srv.requests(), []string{"/m1/pkg.tgz"}; !reflect.DeepEqual(got, want) {
		t.Errorf("requests = %v, want only %v", got, want)
	}
}

func TestFetchSourceSlowBody(t *testing.T) {
	const chunks = 6
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			w.Write([]byte("chunk\n"))
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)

	td := newTestDispatcher(config.Settings{})
	td.Timeout = 250 * time.Millisecond
	td.Client = NewHTTPClient(td.Timeout)

	local := filepath.Join(t.TempDir(), "gcc.tar.bz2")
	if err := td.FetchSource(context.Background(), srv.URL+"/gcc.tar.bz2", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}
	if got, want := readFile(t, local), strings.Repeat("chunk\n", chunks); got != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestFetchSourceSlowHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	t.Cleanup(srv.Close)

	td := newTestDispatcher(config.Settings{})
	td.Client = NewHTTPClient(100 * time.Millisecond)

	local := filepath.Join(t.TempDir(), "pkg.tgz")
	err := td.FetchSource(context.Background(), srv.URL+"/pkg.tgz", local)
	assertKind(t, err, errdefs.ErrExhausted)
	assertKind(t, err, errdefs.ErrNetwork)
}

func TestFetchSourceDryRun(t *testing.T) {
	srv := newArchiveServer(t, nil)
	td := newTestDispatcher(config.Settings{DryRun: true, URLs: []string{srv.URL + "/m1"}})

	root := t.TempDir()
	local := filepath.Join(root, "sources", "pkg.tgz")
	if err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}

	if got := srv.requests(); len(got) != 0 {
		t.Errorf("requests = %v, want none", got)
	}
	if _, err := os.Stat(filepath.Join(root, "sources")); !os.IsNotExist(err) {
		t.Error("dry run created the source directory")
	}
	if want := "download: " + srv.URL + "/m1/pkg.tgz"; !strings.Contains(td.stdout.String(), want) {
		t.Errorf("stdout = %q, want %q", td.stdout.String(), want)
	}
}

func TestFetchSourceDryRunSuppressesExhaustion(t *testing.T) {
	td := newTestDispatcher(config.Settings{DryRun: true})

	local := filepath.Join(t.TempDir(), "missing")
	if err := td.FetchSource(context.Background(), "file:///no/such/source", local); err != nil {
		t.Errorf("FetchSource() error = %v, want nil", err)
	}
}

func TestFetchSourceCacheHit(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/x/pkg.tgz": "new"})

	tests := map[string]string{
		"http": srv.URL + "/x/pkg.tgz",
		"ftp":  "ftp://127.0.0.1:1/x/pkg.tgz",
		"file": "file:///no/such/pkg.tgz",
	}

	for name, rawURL := range tests {
		t.Run(name, func(t *testing.T) {
			td := newTestDispatcher(config.Settings{})
			dir := t.TempDir()
			local := filepath.Join(dir, "pkg.tgz")
			os.WriteFile(local, []byte("cached"), 0o644)

			if err := td.FetchSource(context.Background(), rawURL, local); err != nil {
				t.Fatalf("FetchSource() error: %v", err)
			}
			if got := readFile(t, local); got != "cached" {
				t.Errorf("content = %q, want %q", got, "cached")
			}

			entries, _ := os.ReadDir(dir)
			if len(entries) != 1 {
				t.Errorf("cache dir holds %d entries after a hit, want only the source", len(entries))
			}
		})
	}
	if got := srv.requests(); len(got) != 0 {
		t.Errorf("requests = %v, want none", got)
	}
}

func TestFetchSourceLeavesNoLockBeside(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/x/pkg.tgz": "data"})
	td := newTestDispatcher(config.Settings{})

	dir := t.TempDir()
	local := filepath.Join(dir, "pkg.tgz")
	if err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}
	if _, err := os.Stat(local + ".lock"); !os.IsNotExist(err) {
		t.Error("lock file left beside the downloaded source")
	}
}

func TestFetchSourceOffline(t *testing.T) {
	td := newTestDispatcher(config.Settings{NoDownload: true})
	dir := t.TempDir()

	err := td.FetchSource(context.Background(), "http://example.org/pkg.tgz", filepath.Join(dir, "pkg.tgz"))
	assertKind(t, err, errdefs.ErrConfig)

	err = td.FetchSource(context.Background(), "http://example.org/pkg.tgz", filepath.Join(dir, "missing", "pkg.tgz"))
	assertKind(t, err, errdefs.ErrConfig)
	if _, err := os.Stat(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Error("offline fetch created the source directory")
	}

	cached := filepath.Join(dir, "cached.tgz")
	os.WriteFile(cached, []byte("x"), 0o644)
	if err := td.FetchSource(context.Background(), "http://example.org/cached.tgz", cached); err != nil {
		t.Errorf("offline cache hit error: %v", err)
	}
}

func TestFetchSourceEmptyLocal(t *testing.T) {
	td := newTestDispatcher(config.Settings{})
	err := td.FetchSource(context.Background(), "http://example.org/pkg.tgz", "")
	assertKind(t, err, errdefs.ErrConfig)
}

func TestFetchSourceCancelled(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/x/pkg.tgz": "data"})
	td := newTestDispatcher(config.Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	local := filepath.Join(t.TempDir(), "pkg.tgz")
	err := td.FetchSource(ctx, srv.URL+"/x/pkg.tgz", local)

	assertKind(t, err, context.Canceled)
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("destination exists after a cancelled fetch")
	}
}

func TestFetchSourceMalformedMirrorSkipped(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/x/pkg.tgz": "data"})
	td := newTestDispatcher(config.Settings{URLs: []string{"http://[::1"}})

	local := filepath.Join(t.TempDir(), "pkg.tgz")
	if err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}
	if got := readFile(t, local); got != "data" {
		t.Errorf("content = %q, want %q", got, "data")
	}
}

func TestFetchSourceUnsupportedScheme(t *testing.T) {
	td := newTestDispatcher(config.Settings{})

	err := td.FetchSource(context.Background(), "svn://host/repo", filepath.Join(t.TempDir(), "repo"))
	assertKind(t, err, errdefs.ErrExhausted)
}

func TestFetchResolvedSource(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/dl/pkg-1.2.tar.gz": "tarball"})
	td := newTestDispatcher(config.Settings{})

	root := filepath.Join(t.TempDir(), "sources")
	src, err := source.Resolve(srv.URL+"/dl/pkg-1.2.tar.gz", []string{root})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	archive, ok := src.(*source.ArchiveSource)
	if !ok {
		t.Fatalf("Resolve() returned %T, want *source.ArchiveSource", src)
	}
	if archive.Compressed != "%{__gzip} -dc" {
		t.Errorf("Compressed = %q", archive.Compressed)
	}

	if err := td.Fetch(context.Background(), src); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got := readFile(t, filepath.Join(root, "pkg-1.2.tar.gz")); got != "tarball" {
		t.Errorf("content = %q, want %q", got, "tarball")
	}
}

func TestFetchGitHubRewrite(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/repos/o/r/tarball/1.2": "tarball"})
	orig := githubAPI
	githubAPI = srv.URL
	t.Cleanup(func() { githubAPI = orig })

	td := newTestDispatcher(config.Settings{})
	local := filepath.Join(t.TempDir(), "r-1.2.tar.gz")

	if err := td.FetchSource(context.Background(), srv.URL+"/repos/o/r/", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}
	if got, want := srv.requests(), []string{"/repos/o/r/tarball/1.2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}
}

func TestFetchLocalDirectory(t *testing.T) {
	td := newTestDispatcher(config.Settings{})
	srcDir := t.TempDir()
	local := filepath.Join(t.TempDir(), filepath.Base(srcDir))

	for _, rawURL := range []string{"file://" + srcDir, srcDir} {
		if err := td.FetchSource(context.Background(), rawURL, local); err != nil {
			t.Errorf("FetchSource(%q) error: %v", rawURL, err)
		}
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("a directory source was copied into the cache")
	}

	err := td.FetchSource(context.Background(), "file://"+filepath.Join(srcDir, "missing"), local)
	assertKind(t, err, errdefs.ErrExhausted)
}

func TestNoticeQuiet(t *testing.T) {
	td := newTestDispatcher(config.Settings{Quiet: true})

	td.notice("download: a -> b")
	td.output("making dir: /x")

	if td.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want nothing when quiet", td.stdout.String())
	}
	if got := td.log.String(); got != "download: a -> b\n" {
		t.Errorf("log = %q, want only the notice", got)
	}
}

func TestNoticeLogOnStdout(t *testing.T) {
	var stdout, logBuf bytes.Buffer
	d := New(config.NewMacros(), config.NewOptions(config.Settings{}), log.NewWriter(&logBuf, true))
	d.Stdout = &stdout

	d.notice("git: pull: x")

	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want nothing when the log echoes", stdout.String())
	}
	if got := logBuf.String(); got != "git: pull: x\n" {
		t.Errorf("log = %q", got)
	}
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pkg.tgz")
	os.WriteFile(file, []byte("x"), 0o644)

	tests := map[string]struct {
		path    string
		wantErr bool
	}{
		"regular file": {path: file},
		"directory":    {path: dir, wantErr: true},
		"missing":      {path: filepath.Join(dir, "missing"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := verifyFile("http://x/pkg.tgz", tc.path)
			if (err != nil) != tc.wantErr {
				t.Fatalf("verifyFile() error = %v, wantErr = %v", err, tc.wantErr)
			}
			if err != nil {
				assertKind(t, err, errdefs.ErrVerification)
				if errdefs.Recoverable(err) {
					t.Error("verification failure reported recoverable")
				}
			}
		})
	}
}

func TestTraceReportsCandidates(t *testing.T) {
	srv := newArchiveServer(t, map[string]string{"/x/pkg.tgz": "data"})
	td := newTestDispatcher(config.Settings{Trace: true, URLs: []string{srv.URL + "/m"}})

	local := filepath.Join(t.TempDir(), "pkg.tgz")
	if err := td.FetchSource(context.Background(), srv.URL+"/x/pkg.tgz", local); err != nil {
		t.Fatalf("FetchSource() error: %v", err)
	}

	first := strings.SplitN(td.stdout.String(), "\n", 2)[0]
	if want := "_url: " + srv.URL + "/m/pkg.tgz," + srv.URL + "/x/pkg.tgz -> " + local; first != want {
		t.Errorf("first stdout line = %q, want %q", first, want)
	}
	for _, want := range []string{"candidate ", "sha256:"} {
		if !strings.Contains(td.log.String(), want) {
			t.Errorf("log missing %q:\n%s", want, td.log.String())
		}
	}
}
