package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/sourcebuilder/sb/pkg/errdefs"
)

const (
	// DefaultTimeout bounds connection setup for an archive transfer: the
	// dial, the TLS handshake and the wait for response headers. The body
	// transfer is bounded only by the caller's context.
	DefaultTimeout = 120 * time.Second

	// UserAgent identifies sb to archive servers.
	UserAgent = "sb-source-fetch"

	ftpPort      = "21"
	ftpAnonymous = "anonymous"
)

// githubAPI is the API host whose URLs name a repository rather than an
// archive; they are rewritten to the tarball endpoint for %{version}.
var githubAPI = "https://api.github.com"

// fetchArchive transfers an http(s) or ftp URL to local. An existing
// local file is a cache hit.
func (d *Dispatcher) fetchArchive(ctx context.Context, rawURL, local string) error {
	if exists(local) {
		return nil
	}

	if strings.HasPrefix(rawURL, githubAPI) {
		rawURL = rewriteGitHub(rawURL, d.Macros.Expand("tarball/%{version}"))
	}

	d.notice(fmt.Sprintf("download: %s -> %s", rawURL, relPath(local)))
	if d.Options.DryRun() {
		return nil
	}

	err := d.transfer(ctx, rawURL, local)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errdefs.Recoverable(err) {
			d.notice(fmt.Sprintf("download: %s: error: %v", rawURL, cause(err)))
		}
		return err
	}

	if err := verifyFile(rawURL, local); err != nil {
		return err
	}

	if d.Options.Trace() {
		st := d.openStore(filepath.Dir(local))
		if sum, err := st.HashFile(filepath.Base(local)); err == nil {
			d.output(fmt.Sprintf("download: %s: %s", relPath(local), sum))
		}
	}
	return nil
}

// transfer streams rawURL into local through a temporary file, so local
// only ever appears complete.
func (d *Dispatcher) transfer(ctx context.Context, rawURL, local string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errdefs.New(errdefs.ErrMalformed, rawURL, err)
	}
	if u.Host == "" {
		return errdefs.Errorf(errdefs.ErrMalformed, rawURL, "no host in url")
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = d.openHTTP(ctx, u)
	case "ftp":
		body, err = openFTP(ctx, u, d.timeout())
	default:
		err = errdefs.Errorf(errdefs.ErrMalformed, rawURL, "unsupported archive scheme %q", u.Scheme)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	st := d.openStore(filepath.Dir(local))
	if _, err := st.WriteAtomic(&contextReader{ctx: ctx, r: body}, filepath.Base(local)); err != nil {
		var re *readError
		if errors.As(err, &re) {
			return errdefs.New(errdefs.ErrNetwork, rawURL, re.err)
		}
		return errdefs.New(errdefs.ErrTransport, rawURL, err)
	}
	return nil
}

func (d *Dispatcher) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	href := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, errdefs.New(errdefs.ErrMalformed, href, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	client := d.Client
	if client == nil {
		client = NewHTTPClient(d.timeout())
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errdefs.New(errdefs.ErrNetwork, href, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errdefs.Errorf(errdefs.ErrNetwork, href, "failed to fetch: %s", resp.Status)
	}
	return resp.Body, nil
}

// ftpBody closes the control connection along with the transfer.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	b.conn.Quit()
	return err
}

func openFTP(ctx context.Context, u *url.URL, timeout time.Duration) (io.ReadCloser, error) {
	href := u.String()
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), ftpPort)
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, errdefs.New(errdefs.ErrNetwork, href, err)
	}

	user, pass := ftpAnonymous, ftpAnonymous
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, errdefs.New(errdefs.ErrNetwork, href, err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		conn.Quit()
		return nil, errdefs.New(errdefs.ErrNetwork, href, err)
	}
	return &ftpBody{Response: resp, conn: conn}, nil
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// NewHTTPClient returns a client whose connection setup is bounded by
// timeout. It sets no overall Client.Timeout, so a slow but steady body
// is never cut off.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          10,
		},
	}
}

// rewriteGitHub resolves ref, e.g. "tarball/1.2", against an API URL.
func rewriteGitHub(rawURL, ref string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	r, err := url.Parse(ref)
	if err != nil {
		return rawURL
	}
	return u.ResolveReference(r).String()
}

// verifyFile checks that a completed download left a regular file.
func verifyFile(rawURL, local string) error {
	info, err := os.Lstat(local)
	if err != nil {
		return errdefs.New(errdefs.ErrVerification, rawURL, err)
	}
	if !info.Mode().IsRegular() {
		return errdefs.Errorf(errdefs.ErrVerification, rawURL, "source is not a file: %s", local)
	}
	return nil
}

// cause returns the underlying failure of an errdefs error.
func cause(err error) error {
	var e *errdefs.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}

// readError marks a failure reading the remote side of a transfer, as
// opposed to writing the local file.
type readError struct {
	err error
}

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// contextReader stops a transfer between chunks once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &readError{err: err}
	}
	return n, err
}
