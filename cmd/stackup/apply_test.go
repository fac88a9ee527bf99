package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func writeApplyConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func executeCommand(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd.Execute()
}

func TestApplyCommandParsesFlags(t *testing.T) {
	cfgPath := writeApplyConfig(t, `version: "1.0"
name: test
settings:
  parallel: 1
steps:
  - id: test_step
    type: command
    command: "echo test"
`)

	root := newRootCmd()
	require.NoError(t, executeCommand(root, "apply", "--config", cfgPath, "--dry-run", "--verbose"))
}

func TestApplyCommandValidatesConfigFile(t *testing.T) {
	root := newRootCmd()
	err := executeCommand(root, "apply", "--config", "/path/does/not/exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestValidateApplyOptions(t *testing.T) {
	t.Parallel()

	t.Run("returns error when config path is empty", func(t *testing.T) {
		t.Parallel()
		err := validateApplyOptions(applyOptions{ConfigPath: ""})
		require.Error(t, err)
		require.Contains(t, err.Error(), "required")
	})

	t.Run("returns error when config path is whitespace", func(t *testing.T) {
		t.Parallel()
		err := validateApplyOptions(applyOptions{ConfigPath: "   "})
		require.Error(t, err)
		require.Contains(t, err.Error(), "required")
	})

	t.Run("returns error when config file does not exist", func(t *testing.T) {
		t.Parallel()
		err := validateApplyOptions(applyOptions{ConfigPath: "/nonexistent/path/config.yaml"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not exist")
	})

	t.Run("returns error when config path is a directory", func(t *testing.T) {
		t.Parallel()
		err := validateApplyOptions(applyOptions{ConfigPath: t.TempDir()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "directory")
	})

	t.Run("succeeds for valid config file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("test"), 0o644))
		require.NoError(t, validateApplyOptions(applyOptions{ConfigPath: path}))
	})
}

func TestRunApplyExecutesStepsAndWritesSentinel(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sentinel := filepath.Join(dir, "state", ".provisioned")

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: sentinel-run
settings:
  parallel: 1
  sentinel: `+sentinel+`
steps:
  - id: touch_marker
    type: command
    command: "echo ran >> `+marker+`"
`)

	require.NoError(t, runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true}))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "ran\n", string(data))

	sentinelData, err := os.ReadFile(sentinel)
	require.NoError(t, err)
	require.Contains(t, string(sentinelData), "provisioned at")
}

func TestRunApplySkipsWhenSentinelPresent(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sentinel := filepath.Join(dir, ".provisioned")
	require.NoError(t, os.WriteFile(sentinel, []byte("done\n"), 0o644))

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: sentinel-skip
settings:
  parallel: 1
  sentinel: `+sentinel+`
steps:
  - id: touch_marker
    type: command
    command: "echo ran >> `+marker+`"
`)

	require.NoError(t, runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true}))

	_, err := os.Stat(marker)
	require.True(t, os.IsNotExist(err))
}

func TestRunApplyDryRunLeavesNoTraces(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sentinel := filepath.Join(dir, ".provisioned")

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: dry-run
settings:
  sentinel: `+sentinel+`
steps:
  - id: touch_marker
    type: command
    command: "echo ran >> `+marker+`"
`)

	require.NoError(t, runApply(applyOptions{ConfigPath: cfgPath, DryRun: true, NonInteractive: true}))

	_, err := os.Stat(marker)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(sentinel)
	require.True(t, os.IsNotExist(err))
}

func TestRunApplyBestEffortContinuesAndSkipsSentinel(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	sentinel := filepath.Join(dir, ".provisioned")

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: best-effort
settings:
  parallel: 1
  sentinel: `+sentinel+`
steps:
  - id: broken_step
    type: command
    command: "exit 1"
  - id: touch_marker
    type: command
    depends_on: [broken_step]
    command: "echo ran >> `+marker+`"
`)

	require.NoError(t, runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true}))

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "ran\n", string(data))

	// A run with failed steps must stay retryable.
	_, err = os.Stat(sentinel)
	require.True(t, os.IsNotExist(err))
}

func TestRunApplyAbortsWhenContinueOnErrorDisabled(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: strict-run
settings:
  parallel: 1
  continue_on_error: false
steps:
  - id: broken_step
    type: command
    command: "exit 1"
  - id: touch_marker
    type: command
    depends_on: [broken_step]
    command: "echo ran >> `+marker+`"
`)

	err := runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true})
	require.Error(t, err)

	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr))
}

func TestRunApplyValidationFailureIsReportedNotFatal(t *testing.T) {
	sentinel := filepath.Join(t.TempDir(), ".provisioned")

	cfgPath := writeApplyConfig(t, `version: "1.0"
name: validated-run
settings:
  sentinel: `+sentinel+`
steps:
  - id: noop
    type: command
    command: "true"
validations:
  - type: file_exists
    path: /nonexistent/validated/file
`)

	require.NoError(t, runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true}))

	// Failed validations keep the run retryable.
	_, err := os.Stat(sentinel)
	require.True(t, os.IsNotExist(err))
}

func TestRunApplyRejectsInvalidConfig(t *testing.T) {
	cfgPath := writeApplyConfig(t, "version: [broken\n")
	require.Error(t, runApply(applyOptions{ConfigPath: cfgPath, NonInteractive: true}))
}

func TestWriteSentinelWithEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, writeSentinel(""))
}
