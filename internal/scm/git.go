package scm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes git with args inside dir and returns trimmed stdout.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// Git checks out a location with the git binary.
type Git struct {
	Remote   string
	Revision string
	run      Runner
}

// NewGit is the Factory for git locations.
func NewGit(location string) (Checkout, error) {
	return NewGitWithRunner(location, execGit)
}

// NewGitWithRunner builds a git checkout that shells out through run.
func NewGitWithRunner(location string, run Runner) (*Git, error) {
	remote, rev := SplitRevision(strings.TrimSpace(location))
	if remote == "" {
		return nil, fmt.Errorf("scm: git location is required")
	}
	if run == nil {
		run = execGit
	}
	return &Git{Remote: remote, Revision: rev, run: run}, nil
}

// RunCommand implements Checkout.
func (g *Git) RunCommand(ctx context.Context, command string, opts Options, args []string) ([]string, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("scm: %s: checkout dir is required", opts.Name)
	}
	switch {
	case IsNoop(command):
		return nil, nil
	case command == CommandSync || command == CommandUpdate:
		return g.sync(ctx, opts, args)
	case command == CommandStatus:
		if !isGitDir(opts.Dir) {
			return nil, nil
		}
		out, err := g.run(ctx, opts.Dir, "status", "--porcelain")
		return splitLines(out), err
	case command == CommandRevert:
		if !isGitDir(opts.Dir) {
			return nil, nil
		}
		out, err := g.run(ctx, opts.Dir, "status", "--porcelain")
		if err != nil {
			return nil, err
		}
		if _, err := g.run(ctx, opts.Dir, "reset", "--hard", "--quiet"); err != nil {
			return nil, err
		}
		if _, err := g.run(ctx, opts.Dir, "clean", "-fdq"); err != nil {
			return nil, err
		}
		return splitLines(out), nil
	case command == CommandRevinfo:
		if !isGitDir(opts.Dir) {
			return nil, nil
		}
		head, err := g.run(ctx, opts.Dir, "rev-parse", "HEAD")
		if err != nil {
			return nil, err
		}
		return []string{g.Remote + "@" + head}, nil
	default:
		return nil, fmt.Errorf("scm: git does not support %q", command)
	}
}

func (g *Git) sync(ctx context.Context, opts Options, args []string) ([]string, error) {
	before := ""
	if isGitDir(opts.Dir) {
		before, _ = g.run(ctx, opts.Dir, "rev-parse", "--verify", "--quiet", "HEAD")
	} else {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("scm: create %s: %w", opts.Dir, err)
		}
		if _, err := g.run(ctx, opts.Dir, "init", "--quiet"); err != nil {
			return nil, err
		}
		if _, err := g.run(ctx, opts.Dir, "remote", "add", "origin", g.Remote); err != nil {
			return nil, err
		}
	}
	ref := g.Revision
	if ref == "" {
		ref = "HEAD"
	}
	fetch := append([]string{"fetch", "--quiet", "origin", ref}, args...)
	if _, err := g.run(ctx, opts.Dir, fetch...); err != nil {
		return nil, err
	}
	if _, err := g.run(ctx, opts.Dir, "checkout", "--quiet", "--detach", "FETCH_HEAD"); err != nil {
		return nil, err
	}
	after, err := g.run(ctx, opts.Dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	if before == after {
		return nil, nil
	}
	if before == "" {
		out, err := g.run(ctx, opts.Dir, "ls-files")
		return splitLines(out), err
	}
	out, err := g.run(ctx, opts.Dir, "diff", "--name-only", before, after)
	return splitLines(out), err
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("scm: git %s: %s", strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func isGitDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

func splitLines(out string) []string {
	if strings.TrimSpace(out) == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	files := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		files = append(files, line)
	}
	return files
}
