package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aisatoshi.yaml")
	body := fmt.Sprintf("memory:\n  database_path: %s\nlogging:\n  level: error\n",
		filepath.Join(dir, "cli.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func resetFlags() {
	verbose = false
	listStatus = ""
	addName, addKind, addDesc, addPriority = "", "generic", "", "normal"
	addEvery, addOnce = 0, false
	addParams = map[string]string{}
	selectAll, selectByID = false, false
	historyLimit = 10
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "aisatoshi 0.3.0")
}

func TestTasksLifecycle(t *testing.T) {
	t.Setenv("AISATOSHI_DB", "")
	cfgFile := writeConfig(t)

	out, err := execute(t, "tasks", "add", "-c", cfgFile,
		"--name", "ETH price monitor", "--kind", "monitor", "--every", "30m", "--param", "coin=eth")
	require.NoError(t, err)
	assert.Contains(t, out, "✅ Created task ETH price monitor")

	_, err = execute(t, "tasks", "add", "-c", cfgFile, "--name", "BTC alert", "--once")
	require.NoError(t, err)

	out, err = execute(t, "tasks", "list", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "ETH price monitor")
	assert.Contains(t, out, "30m0s")
	assert.Contains(t, out, "once")
	assert.Contains(t, out, "Total: 2 tasks")

	out, err = execute(t, "tasks", "stop", "-c", cfgFile, "eth")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped 1 task(s)")
	assert.Contains(t, out, "ETH price monitor")

	out, err = execute(t, "tasks", "list", "-c", cfgFile, "--status", "stopped")
	require.NoError(t, err)
	assert.Contains(t, out, "ETH price monitor")
	assert.NotContains(t, out, "BTC alert")

	out, err = execute(t, "tasks", "stop", "-c", cfgFile, "doge")
	require.NoError(t, err)
	assert.Contains(t, out, "No task matches")

	out, err = execute(t, "tasks", "delete", "-c", cfgFile, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 task(s)")

	out, err = execute(t, "tasks", "list", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks.")
}

func TestTasksStop_NeedsSelector(t *testing.T) {
	_, err := execute(t, "tasks", "stop", "-c", writeConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestTasksHistory_UnknownTask(t *testing.T) {
	t.Setenv("AISATOSHI_DB", "")
	out, err := execute(t, "tasks", "history", "-c", writeConfig(t), "deadbeef")
	require.NoError(t, err)
	assert.Contains(t, out, "Task deadbeef not found.")
}
