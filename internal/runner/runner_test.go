package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchen-metal/metalctl/internal/env"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunsInDirWithEnvAndStdin(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))

	var out bytes.Buffer
	err := NewExec().Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", `ls; echo "$METAL_TEST_VAR"; cat`},
		Dir:    dir,
		Env:    env.Vars{"METAL_TEST_VAR": "hello"},
		Stdin:  []byte("from-stdin"),
		Stdout: &out,
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"marker", "hello", "from-stdin"}, lines)
}

func TestExecReportsFailure(t *testing.T) {
	requireShell(t)
	err := NewExec().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestExecRejectsEmptyName(t *testing.T) {
	require.Error(t, NewExec().Run(context.Background(), Command{}))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "vagrant destroy -f web", Command{Name: "vagrant", Args: []string{"destroy", "-f", "web"}}.String())
	assert.Equal(t, "true", Command{Name: "true"}.String())
}
