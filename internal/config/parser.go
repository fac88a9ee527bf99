package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Environment variable overrides. The token is environment-first so it never
// has to be written into a config file that may be committed.
const (
	EnvWorkspace  = "WORKSPACE"
	EnvHFToken    = "HF_TOKEN"
	EnvAutoUpdate = "AUTO_UPDATE"
)

// ParseConfig loads a provisioning document from disk, applies environment
// overrides, validates it, and resolves relative paths against the workspace.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stackuperrors.NewParseError(path, 0, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, stackuperrors.NewParseError(path, extractLine(err), err)
	}

	applyEnvOverrides(&cfg.Settings)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	resolvePaths(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(settings *Settings) {
	if ws := strings.TrimSpace(os.Getenv(EnvWorkspace)); ws != "" {
		settings.Workspace = ws
	}
	if token := strings.TrimSpace(os.Getenv(EnvHFToken)); token != "" {
		settings.HFToken = token
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvAutoUpdate))) {
	case "true", "1", "yes":
		settings.AutoUpdate = true
	case "false", "0", "no":
		settings.AutoUpdate = false
	}
}

// resolvePaths rewrites relative step paths against the workspace root so no
// operation depends on the ambient working directory.
func resolvePaths(cfg *Config) {
	root := cfg.Settings.Workspace
	if root == "" {
		return
	}

	cfg.Settings.LogFile = resolveAgainst(root, cfg.Settings.LogFile)
	cfg.Settings.Sentinel = resolveAgainst(root, cfg.Settings.Sentinel)

	for i := range cfg.Steps {
		step := &cfg.Steps[i]
		switch {
		case step.Repo != nil:
			step.Repo.Destination = resolveAgainst(root, step.Repo.Destination)
		case step.Pip != nil:
			step.Pip.Requirements = resolveAgainst(root, step.Pip.Requirements)
		case step.Download != nil:
			step.Download.Dir = resolveAgainst(root, step.Download.Dir)
			for j := range step.Download.Items {
				step.Download.Items[j].Dir = resolveAgainst(root, step.Download.Items[j].Dir)
			}
		case step.Command != nil:
			step.Command.WorkDir = resolveAgainst(root, step.Command.WorkDir)
		case step.Serve != nil:
			step.Serve.WorkDir = resolveAgainst(root, step.Serve.WorkDir)
			step.Serve.LogFile = resolveAgainst(root, step.Serve.LogFile)
		}
	}

	for i := range cfg.Validations {
		v := &cfg.Validations[i]
		if v.FileExists != nil {
			v.FileExists.Path = resolveAgainst(root, v.FileExists.Path)
		}
		if v.PathContains != nil {
			v.PathContains.File = resolveAgainst(root, v.PathContains.File)
		}
	}
}

func resolveAgainst(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
