package scm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesByScheme(t *testing.T) {
	reg := NewRegistry()
	var created []string
	reg.MustRegister("svn", func(location string) (Checkout, error) {
		created = append(created, location)
		return &fakeCheckout{}, nil
	})

	_, err := reg.Create("svn://example.com/foo@12")
	require.NoError(t, err)
	assert.Equal(t, []string{"svn://example.com/foo@12"}, created)

	_, err = reg.Create("hg://example.com/foo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no backend for scheme "hg"`)

	require.Error(t, reg.Register("SVN", func(string) (Checkout, error) { return nil, nil }))
	assert.Equal(t, []string{"svn"}, reg.Schemes())
}

func TestDefaultRegistryHandlesGitLocations(t *testing.T) {
	reg := DefaultRegistry()
	for _, location := range []string{"https://example.com/repo.git", "git@github.com:org/repo.git", "file:///tmp/repo"} {
		checkout, err := reg.Create(location)
		require.NoError(t, err, location)
		assert.IsType(t, &Git{}, checkout)
	}
}

func TestSplitRevision(t *testing.T) {
	cases := []struct {
		location, remote, rev string
	}{
		{"https://example.com/repo.git@v1.2", "https://example.com/repo.git", "v1.2"},
		{"https://example.com/repo.git", "https://example.com/repo.git", ""},
		{"git@github.com:org/repo.git", "git@github.com:org/repo.git", ""},
		{"git@github.com:repo", "git@github.com:repo", ""},
		{"git@github.com:org/repo.git@abc", "git@github.com:org/repo.git", "abc"},
	}
	for _, tc := range cases {
		remote, rev := SplitRevision(tc.location)
		assert.Equal(t, tc.remote, remote, tc.location)
		assert.Equal(t, tc.rev, rev, tc.location)
	}
}

func TestCommandClassification(t *testing.T) {
	assert.True(t, IsMutating(CommandSync))
	assert.True(t, IsMutating(CommandRevert))
	assert.False(t, IsMutating(CommandStatus))
	assert.True(t, IsNoop(CommandValidate))
	assert.True(t, IsNoop(CommandNone))
	assert.False(t, IsNoop(CommandSync))
}

func TestGitSyncFreshCheckout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "foo")
	rec := &gitRecorder{outputs: map[string]string{
		"rev-parse HEAD": "abc123",
		"ls-files":       "README\nsrc/main.go\n",
	}}
	git, err := NewGitWithRunner("https://example.com/foo.git@v1", rec.run)
	require.NoError(t, err)

	files, err := git.RunCommand(context.Background(), CommandSync, Options{Name: "foo", Dir: dir}, []string{"--depth=1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"README", "src/main.go"}, files)
	assert.Equal(t, []string{
		"init --quiet",
		"remote add origin https://example.com/foo.git",
		"fetch --quiet origin v1 --depth=1",
		"checkout --quiet --detach FETCH_HEAD",
		"rev-parse HEAD",
		"ls-files",
	}, rec.calls)
	assert.DirExists(t, dir)
}

func TestGitSyncExistingCheckoutReportsDiff(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	rec := &gitRecorder{outputs: map[string]string{
		"rev-parse --verify --quiet HEAD": "old",
		"rev-parse HEAD":                  "new",
		"diff --name-only old new":        "changed.txt",
	}}
	git, err := NewGitWithRunner("https://example.com/foo.git", rec.run)
	require.NoError(t, err)

	files, err := git.RunCommand(context.Background(), CommandUpdate, Options{Name: "foo", Dir: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"changed.txt"}, files)
	assert.Contains(t, rec.calls, "fetch --quiet origin HEAD")
}

func TestGitNoopAndUnsupportedCommands(t *testing.T) {
	rec := &gitRecorder{}
	git, err := NewGitWithRunner("https://example.com/foo.git", rec.run)
	require.NoError(t, err)
	opts := Options{Name: "foo", Dir: t.TempDir()}

	files, err := git.RunCommand(context.Background(), CommandValidate, opts, nil)
	require.NoError(t, err)
	assert.Nil(t, files)
	assert.Empty(t, rec.calls)

	_, err = git.RunCommand(context.Background(), "bisect", opts, nil)
	require.Error(t, err)
}

func TestGitPropagatesRunnerFailure(t *testing.T) {
	rec := &gitRecorder{fail: "fetch"}
	git, err := NewGitWithRunner("https://example.com/foo.git", rec.run)
	require.NoError(t, err)
	_, err = git.RunCommand(context.Background(), CommandSync, Options{Name: "foo", Dir: t.TempDir()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
}

func TestCopyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "common.gypi")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0o644))
	dstDir := filepath.Join(t.TempDir(), "foo", "build")

	dst, err := CopyFile(src, dstDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dstDir, "common.gypi"), dst)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(content))

	_, err = CopyFile(filepath.Join(t.TempDir(), "missing"), dstDir)
	require.Error(t, err)
}

type fakeCheckout struct{}

func (f *fakeCheckout) RunCommand(context.Context, string, Options, []string) ([]string, error) {
	return nil, nil
}

type gitRecorder struct {
	calls   []string
	outputs map[string]string
	fail    string
}

func (r *gitRecorder) run(_ context.Context, _ string, args ...string) (string, error) {
	call := strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if r.fail != "" && args[0] == r.fail {
		return "", errors.New(r.fail + " failed")
	}
	return r.outputs[call], nil
}
