package validation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/config"
)

func TestRunValidationsAllPass(t *testing.T) {
	t.Parallel()

	installed := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(installed, []byte("import torch\n"), 0o644))

	validations := []config.Validation{
		{Type: "command_exists", CommandExists: &config.CommandExistsValidation{Command: "sh"}},
		{Type: "file_exists", FileExists: &config.FileExistsValidation{Path: installed}},
		{Type: "path_contains", PathContains: &config.PathContainsValidation{File: installed, Text: "torch"}},
	}

	results, err := RunValidations(context.Background(), validations)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, res.Passed, res.Message)
	}
}

func TestRunValidationsCollectsAllFailures(t *testing.T) {
	t.Parallel()

	validations := []config.Validation{
		{Type: "command_exists", CommandExists: &config.CommandExistsValidation{Command: "no-such-binary-zz"}},
		{Type: "file_exists", FileExists: &config.FileExistsValidation{Path: "/no/such/path"}},
		{Type: "command_exists", CommandExists: &config.CommandExistsValidation{Command: "sh"}},
	}

	results, err := RunValidations(context.Background(), validations)
	require.Error(t, err)
	require.Len(t, results, 3, "a failed rule must not stop later ones")
	assert.False(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)
	assert.Contains(t, err.Error(), "/no/such/path")
}

func TestRunValidationsRejectsMissingPayload(t *testing.T) {
	t.Parallel()

	results, err := RunValidations(context.Background(), []config.Validation{{Type: "file_exists"}})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
}

func TestCheckPathContainsPattern(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(file, []byte("listening on 0.0.0.0:8188\n"), 0o644))

	assert.NoError(t, CheckPathContains(file, `listening on .*:8188`))
	assert.Error(t, CheckPathContains(file, `panic`))
}
