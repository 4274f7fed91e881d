// Package repo implements version-control working copies used to sync git
// sources into the cache.
package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/vcs"
)

// Git is a git working copy rooted at a local directory. The directory
// may not exist or may not be a checkout yet; Valid reports which.
type Git struct {
	local string
	repo  *vcs.GitRepo
}

// NewGit returns the working copy at local without touching the disk.
func NewGit(local string) *Git {
	return &Git{local: local}
}

// Local returns the working copy directory.
func (g *Git) Local() string {
	return g.local
}

// Valid reports whether the directory is an existing git checkout.
func (g *Git) Valid() bool {
	r, err := g.open()
	if err != nil {
		return false
	}
	return r.CheckLocal()
}

// Clone clones url into dest and makes dest this working copy.
func (g *Git) Clone(url, dest string) error {
	r, err := vcs.NewGitRepo(url, dest)
	if err != nil {
		return repoError("clone", err)
	}
	if err := r.Get(); err != nil {
		return repoError("clone", err)
	}
	g.local = dest
	g.repo = r
	return nil
}

// Checkout switches the working copy to ref, a branch, tag or commit.
func (g *Git) Checkout(ref string) error {
	r, err := g.open()
	if err != nil {
		return repoError("checkout", err)
	}
	if err := r.UpdateVersion(ref); err != nil {
		return repoError("checkout", err)
	}
	return nil
}

func (g *Git) Pull() error {
	return g.run("pull")
}

func (g *Git) Fetch() error {
	return g.run("fetch")
}

// Reset runs git reset with args, e.g. "--hard".
func (g *Git) Reset(args ...string) error {
	return g.run("reset", args...)
}

func (g *Git) open() (*vcs.GitRepo, error) {
	if g.repo != nil {
		return g.repo, nil
	}
	r, err := vcs.NewGitRepo("", g.local)
	if err != nil {
		return nil, err
	}
	g.repo = r
	return r, nil
}

func (g *Git) run(op string, args ...string) error {
	r, err := g.open()
	if err != nil {
		return repoError(op, err)
	}
	out, err := r.RunFromDir("git", append([]string{op}, args...)...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("git %s: %w: %s", op, err, msg)
		}
		return fmt.Errorf("git %s: %w", op, err)
	}
	return nil
}

// outputError is implemented by the vcs error types, which carry the
// command output separately from the message.
type outputError interface {
	Out() string
}

func repoError(op string, err error) error {
	var oe outputError
	if errors.As(err, &oe) {
		if msg := strings.TrimSpace(oe.Out()); msg != "" {
			return fmt.Errorf("git %s: %w: %s", op, err, msg)
		}
	}
	return fmt.Errorf("git %s: %w", op, err)
}
