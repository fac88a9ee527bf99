package plugins

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/plugin"
	commandplugin "github.com/stackup-ml/stackup/internal/plugins/command"
	downloadplugin "github.com/stackup-ml/stackup/internal/plugins/download"
	repoplugin "github.com/stackup-ml/stackup/internal/plugins/repo"
)

// contractPlugins returns the plugins whose Evaluate/Apply behavior can be
// exercised hermetically (no package manager, no interpreter, no network
// beyond local fixtures).
func contractPlugins() []plugin.Plugin {
	return []plugin.Plugin{
		commandplugin.New(commandplugin.Options{Sink: noopWriter{}}),
		repoplugin.New(repoplugin.Options{}),
		downloadplugin.New(downloadplugin.Options{}),
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEvaluateContractReadOnly(t *testing.T) {
	t.Parallel()

	for _, p := range contractPlugins() {
		p := p
		t.Run(p.PluginMetadata().Type, func(t *testing.T) {
			t.Parallel()

			fixtureDir := t.TempDir()
			step := contractStep(t, p.PluginMetadata().Type, fixtureDir)

			for i := 0; i < 3; i++ {
				evalResult, err := p.Evaluate(context.Background(), step)
				require.NoError(t, err)
				require.NotNil(t, evalResult)

				entries, err := os.ReadDir(fixtureDir)
				require.NoError(t, err)
				require.Empty(t, entries, "Evaluate() created files on iteration %d", i)
			}
		})
	}
}

func TestEvaluateContractDeterministic(t *testing.T) {
	t.Parallel()

	for _, p := range contractPlugins() {
		p := p
		t.Run(p.PluginMetadata().Type, func(t *testing.T) {
			t.Parallel()

			step := contractStep(t, p.PluginMetadata().Type, t.TempDir())

			var first *model.EvaluationResult
			for i := 0; i < 5; i++ {
				evalResult, err := p.Evaluate(context.Background(), step)
				require.NoError(t, err)
				require.NotNil(t, evalResult)

				if first == nil {
					first = evalResult
					continue
				}
				require.Equal(t, first.StepID, evalResult.StepID)
				require.Equal(t, first.CurrentState, evalResult.CurrentState)
				require.Equal(t, first.RequiresAction, evalResult.RequiresAction)
				require.Equal(t, first.Message, evalResult.Message)
			}
		})
	}
}

func TestEvaluateContractResultsValid(t *testing.T) {
	t.Parallel()

	for _, p := range contractPlugins() {
		p := p
		t.Run(p.PluginMetadata().Type, func(t *testing.T) {
			t.Parallel()

			step := contractStep(t, p.PluginMetadata().Type, t.TempDir())

			evalResult, err := p.Evaluate(context.Background(), step)
			require.NoError(t, err)
			require.NotNil(t, evalResult)

			require.NotEmpty(t, evalResult.StepID)
			require.True(t, evalResult.CurrentState.IsValid())
			require.NotEmpty(t, evalResult.Message)
		})
	}
}

// TestApplyContractIdempotent applies a step twice: the first Apply must
// converge the resource and the second Evaluate must report it satisfied.
func TestApplyContractIdempotent(t *testing.T) {
	t.Parallel()

	for _, p := range contractPlugins() {
		p := p
		t.Run(p.PluginMetadata().Type, func(t *testing.T) {
			t.Parallel()

			step := contractStep(t, p.PluginMetadata().Type, t.TempDir())

			evalResult, err := p.Evaluate(context.Background(), step)
			require.NoError(t, err)

			if !evalResult.RequiresAction {
				return
			}

			result, err := p.Apply(context.Background(), evalResult, step)
			require.NoError(t, err)
			require.NotNil(t, result)
			require.Equal(t, step.ID, result.StepID)
			require.False(t, result.Failed())

			second, err := p.Evaluate(context.Background(), step)
			require.NoError(t, err)
			require.False(t, second.RequiresAction)
		})
	}
}

func contractStep(t *testing.T, pluginType, fixtureDir string) *config.Step {
	t.Helper()

	switch pluginType {
	case "command":
		return &config.Step{
			ID:      "contract_command",
			Type:    pluginType,
			Command: &config.CommandStep{Command: "true", Check: "true"},
		}
	case "repo":
		return &config.Step{
			ID:   "contract_repo",
			Type: pluginType,
			Repo: &config.RepoStep{
				URL:         initContractRepo(t),
				Destination: filepath.Join(fixtureDir, "clone"),
			},
		}
	case "download":
		payload := []byte("artifact payload")
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.ServeContent(w, r, "model.safetensors", time.Now(), bytes.NewReader(payload))
		}))
		t.Cleanup(server.Close)
		return &config.Step{
			ID:   "contract_download",
			Type: pluginType,
			Download: &config.DownloadStep{
				Dir:   filepath.Join(fixtureDir, "models"),
				Items: []config.DownloadItem{{URL: server.URL + "/model.safetensors"}},
			},
		}
	default:
		t.Fatalf("unknown plugin type: %s", pluginType)
		return nil
	}
}

func initContractRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	worktree, err := repo.Worktree()
	require.NoError(t, err)

	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("contract repo"), 0o644))

	_, err = worktree.Add("README.md")
	require.NoError(t, err)

	_, err = worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Contract Test",
			Email: "contract@test",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return dir
}
