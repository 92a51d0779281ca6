package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/gsync/internal/config"
	"github.com/kingrea/gsync/internal/workflow"
)

const testSpec = `
solutions:
  - name: foo
    url: https://example.com/foo.git
  - name: bar
    url: https://example.com/bar.git
`

func TestValidateResolvesTreeWithoutCheckouts(t *testing.T) {
	root := writeWorkspace(t)
	out, err := execute(t, "--root", root, "--tui=false", "-j", "4", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "validate: 4 completed, 4 nodes total, status complete")

	logOut, err := execute(t, "--root", root, "log", "-n", "50")
	require.NoError(t, err)
	assert.Contains(t, logOut, "validate started with 4 jobs")
	assert.Contains(t, logOut, "foo/lib synced https://example.com/foo.git/lib")
	assert.Contains(t, logOut, "validate finished: complete")
}

func TestTreePrintsResolvedNodes(t *testing.T) {
	root := writeWorkspace(t)
	out, err := execute(t, "--spec", filepath.Join(root, workflow.SpecFileName), "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "name: foo\nurl: https://example.com/foo.git\n")
	assert.Contains(t, out, "  name: foo/lib\n  url: https://example.com/foo.git/lib\n")
	assert.Contains(t, out, "  name: foo/tools\n  url: https://example.com/tools.git@v1\n")
}

func TestVarFlagReachesManifests(t *testing.T) {
	root := writeWorkspace(t)
	writeFile(t, root, "bar/DEPS", "deps:\n  bar/third_party: https://mirror.example.com/${mirror_rev}\n")
	out, err := execute(t, "--root", root, "--var", "mirror_rev=v2", "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "https://mirror.example.com/v2")

	_, err = execute(t, "--root", root, "tree")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined var "mirror_rev"`)
}

func TestMetricsFileIsWritten(t *testing.T) {
	root := writeWorkspace(t)
	metricsPath := filepath.Join(root, "out", "gsync.prom")
	_, err := execute(t, "--root", root, "--metrics-file", metricsPath, "validate")
	require.NoError(t, err)
	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `gsync_scheduler_node_transitions_total{kind="completed"} 4`)
}

func TestLogWithoutRuns(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, "--root", root, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet.")
}

func TestInitWritesSpecOnce(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, "--root", root, "init", "src", "https://example.com/src.git")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote ")

	spec, err := workflow.LoadSpecFile(filepath.Join(root, workflow.SpecFileName))
	require.NoError(t, err)
	require.Len(t, spec.Solutions, 1)
	assert.Equal(t, "src", spec.Solutions[0].Name)
	assert.FileExists(t, filepath.Join(root, config.GsyncDir, "config.yaml"))

	_, err = execute(t, "--root", root, "init", "src", "https://example.com/src.git")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMissingSpecReportsError(t *testing.T) {
	_, err := execute(t, "--root", t.TempDir(), "sync")
	require.Error(t, err)
}

func TestApplySettingsMergesConfigAndVars(t *testing.T) {
	spec := workflow.Spec{
		TargetOS:  []string{"android"},
		Solutions: []workflow.Solution{{Name: "src", URL: "https://example.com/src.git", DepsFile: "DEPS.yaml"}, {Name: "lib", URL: "https://example.com/lib.git"}},
	}
	settings := config.DefaultSettings()
	settings.TargetOS = []string{"ios", "android"}
	vars := keyValueFlag{}
	require.NoError(t, vars.Set("rev=abc"))

	applySettings(&spec, settings, vars)
	assert.Equal(t, 2, spec.RecursionLimit)
	assert.Equal(t, []string{runtime.GOOS, "ios", "android"}, spec.TargetOS)
	assert.Equal(t, "DEPS.yaml", spec.Solutions[0].DepsFile)
	assert.Equal(t, "DEPS", spec.Solutions[1].DepsFile)
	assert.Equal(t, "abc", spec.Solutions[1].CustomVars["rev"])
}

func TestKeyValueFlag(t *testing.T) {
	var kv keyValueFlag
	require.NoError(t, kv.Set("b=2"))
	require.NoError(t, kv.Set("a= spaced=value"))
	assert.Equal(t, "a= spaced=value, b=2", kv.String())
	assert.Error(t, kv.Set("novalue"))
	assert.Error(t, kv.Set(" =x"))
	assert.Equal(t, "key=value", kv.Type())
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, workflow.SpecFileName, testSpec)
	writeFile(t, root, "foo/DEPS", "deps:\n  foo/lib: /lib\n  foo/tools: https://example.com/tools.git@v1\n")
	return root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o644))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLogLastShowsOnlyMostRecentRun(t *testing.T) {
	root := writeWorkspace(t)
	_, err := execute(t, "--root", root, "--tui=false", "-j", "4", "validate")
	require.NoError(t, err)
	_, err = execute(t, "--root", root, "--tui=false", "-j", "2", "validate")
	require.NoError(t, err)

	out, err := execute(t, "--root", root, "log", "--last")
	require.NoError(t, err)
	assert.Contains(t, out, "validate started with 2 jobs")
	assert.Contains(t, out, "validate finished: complete")
	assert.NotContains(t, out, "with 4 jobs")
}
