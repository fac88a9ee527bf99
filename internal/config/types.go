package config

import (
	"gopkg.in/yaml.v3"
)

// Config represents a full provisioning document.
type Config struct {
	Version     string       `yaml:"version" validate:"required,semver"`
	Name        string       `yaml:"name" validate:"required,min=1,max=100"`
	Description string       `yaml:"description,omitempty"`
	Settings    Settings     `yaml:"settings,omitempty"`
	Steps       []Step       `yaml:"steps" validate:"required,min=1,dive"`
	Validations []Validation `yaml:"validations,omitempty" validate:"omitempty,dive"`
}

// Settings holds global execution parameters for a provisioning run.
type Settings struct {
	// Workspace is the root directory relative step paths resolve against.
	Workspace string `yaml:"workspace,omitempty"`
	// LogFile receives an append-only copy of every log entry for the run.
	LogFile string `yaml:"log_file,omitempty"`
	// Sentinel names a marker file; when it exists the whole run is skipped.
	Sentinel string `yaml:"sentinel,omitempty"`
	// HFToken is the bearer token for authenticated artifact hosts.
	HFToken string `yaml:"hf_token,omitempty"`
	// AutoUpdate pulls already-cloned plugin repositories in place.
	AutoUpdate bool `yaml:"auto_update,omitempty"`
	Parallel   int  `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=32"`
	Timeout    int  `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=360000"`
	// ContinueOnError defaults to true when omitted: provisioning is
	// best-effort and individual step failures only mark the report.
	ContinueOnError *bool `yaml:"continue_on_error,omitempty"`
	DryRun          bool  `yaml:"dry_run,omitempty"`
	Verbose         bool  `yaml:"verbose,omitempty"`
}

// BestEffort reports the effective continue_on_error setting.
func (s Settings) BestEffort() bool {
	return s.ContinueOnError == nil || *s.ContinueOnError
}

// Step describes an individual unit of work in the provisioning DAG.
type Step struct {
	ID        string   `yaml:"id" validate:"required,step_id"`
	Name      string   `yaml:"name,omitempty"`
	Type      string   `yaml:"type" validate:"required,oneof=package repo pip download command serve"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Enabled   bool     `yaml:"enabled,omitempty"`
	// Background steps run concurrently with later steps; the run joins them
	// before completing, and their non-zero exit is a warning, not an abort.
	Background bool `yaml:"background,omitempty"`

	Package  *PackageStep  `yaml:",inline,omitempty"`
	Repo     *RepoStep     `yaml:",inline,omitempty"`
	Pip      *PipStep      `yaml:",inline,omitempty"`
	Download *DownloadStep `yaml:",inline,omitempty"`
	Command  *CommandStep  `yaml:",inline,omitempty"`
	Serve    *ServeStep    `yaml:",inline,omitempty"`
}

// UnmarshalYAML customises step decoding to populate type-specific structures
// without conflicts.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type baseStep struct {
		ID         string   `yaml:"id"`
		Name       string   `yaml:"name"`
		Type       string   `yaml:"type"`
		DependsOn  []string `yaml:"depends_on"`
		Enabled    *bool    `yaml:"enabled"`
		Background bool     `yaml:"background"`
	}

	var base baseStep
	if err := value.Decode(&base); err != nil {
		return err
	}

	s.ID = base.ID
	s.Name = base.Name
	s.Type = base.Type
	s.DependsOn = append([]string(nil), base.DependsOn...)
	s.Background = base.Background
	if base.Enabled != nil {
		s.Enabled = *base.Enabled
	} else {
		s.Enabled = true
	}

	s.Package = nil
	s.Repo = nil
	s.Pip = nil
	s.Download = nil
	s.Command = nil
	s.Serve = nil

	switch base.Type {
	case "package":
		var pkg PackageStep
		if err := value.Decode(&pkg); err != nil {
			return err
		}
		s.Package = &pkg
	case "repo":
		var repo RepoStep
		if err := value.Decode(&repo); err != nil {
			return err
		}
		s.Repo = &repo
	case "pip":
		var pip PipStep
		if err := value.Decode(&pip); err != nil {
			return err
		}
		s.Pip = &pip
	case "download":
		var dl DownloadStep
		if err := value.Decode(&dl); err != nil {
			return err
		}
		s.Download = &dl
	case "command":
		var cmd CommandStep
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		s.Command = &cmd
	case "serve":
		var srv ServeStep
		if err := value.Decode(&srv); err != nil {
			return err
		}
		s.Serve = &srv
	}

	return nil
}

// PackageStep installs one or more system packages through apt.
type PackageStep struct {
	Packages []string `yaml:"packages" validate:"required,min=1,dive,min=1,max=100"`
	Update   bool     `yaml:"update,omitempty"`
}

// RepoStep ensures a plugin source tree is present, cloning it when absent and
// optionally pulling it in place when auto-update is enabled. When the
// repository declares a requirements manifest, it is installed after a clone
// or update; a missing manifest is not an error.
type RepoStep struct {
	URL               string `yaml:"url" validate:"required,url"`
	Destination       string `yaml:"destination" validate:"required"`
	Branch            string `yaml:"branch,omitempty"`
	Depth             int    `yaml:"depth,omitempty" validate:"omitempty,min=0"`
	RecurseSubmodules bool   `yaml:"recurse_submodules,omitempty"`
	Requirements      string `yaml:"requirements,omitempty"`
}

// PipStep installs Python dependencies from a requirements manifest or an
// explicit package list.
type PipStep struct {
	Requirements string   `yaml:"requirements,omitempty"`
	Packages     []string `yaml:"packages,omitempty" validate:"omitempty,dive,min=1"`
	Python       string   `yaml:"python,omitempty"`
	ExtraArgs    []string `yaml:"extra_args,omitempty"`
}

// DownloadStep fetches a list of large artifacts into target directories.
type DownloadStep struct {
	Dir         string         `yaml:"dir,omitempty"`
	Overwrite   bool           `yaml:"overwrite,omitempty"`
	Connections int            `yaml:"connections,omitempty" validate:"omitempty,min=1,max=64"`
	Items       []DownloadItem `yaml:"items" validate:"required,min=1,dive"`
}

// DownloadItem is a single artifact to fetch. Filename defaults to the final
// URL path segment with any query string stripped; Dir defaults to the step's
// Dir.
type DownloadItem struct {
	URL      string `yaml:"url" validate:"required,url"`
	Dir      string `yaml:"dir,omitempty"`
	Filename string `yaml:"filename,omitempty"`
}

// CommandStep executes an arbitrary shell command.
type CommandStep struct {
	Command string            `yaml:"command" validate:"required,min=1"`
	Check   string            `yaml:"check,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ServeStep launches a long-lived server process detached from the run,
// redirecting its output to a dedicated log file. The run does not wait on the
// process beyond an optional health probe.
type ServeStep struct {
	Command        string            `yaml:"command" validate:"required,min=1"`
	WorkDir        string            `yaml:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	LogFile        string            `yaml:"log_file,omitempty"`
	HealthURL      string            `yaml:"health_url,omitempty" validate:"omitempty,url"`
	StartupTimeout int               `yaml:"startup_timeout,omitempty" validate:"omitempty,min=1,max=3600"`
}

// Validation represents a post-run validation.
type Validation struct {
	Type string `yaml:"type" validate:"required,oneof=command_exists file_exists path_contains"`

	CommandExists *CommandExistsValidation `yaml:",inline,omitempty"`
	FileExists    *FileExistsValidation    `yaml:",inline,omitempty"`
	PathContains  *PathContainsValidation  `yaml:",inline,omitempty"`
}

// UnmarshalYAML populates the type-specific validation payload.
func (v *Validation) UnmarshalYAML(value *yaml.Node) error {
	type baseValidation struct {
		Type string `yaml:"type"`
	}

	var base baseValidation
	if err := value.Decode(&base); err != nil {
		return err
	}
	v.Type = base.Type
	v.CommandExists = nil
	v.FileExists = nil
	v.PathContains = nil

	switch base.Type {
	case "command_exists":
		var c CommandExistsValidation
		if err := value.Decode(&c); err != nil {
			return err
		}
		v.CommandExists = &c
	case "file_exists":
		var f FileExistsValidation
		if err := value.Decode(&f); err != nil {
			return err
		}
		v.FileExists = &f
	case "path_contains":
		var p PathContainsValidation
		if err := value.Decode(&p); err != nil {
			return err
		}
		v.PathContains = &p
	}

	return nil
}

// CommandExistsValidation ensures a command exists on PATH.
type CommandExistsValidation struct {
	Command string `yaml:"command" validate:"required"`
}

// FileExistsValidation ensures a file or directory exists.
type FileExistsValidation struct {
	Path string `yaml:"path" validate:"required"`
}

// PathContainsValidation ensures a file contains specific text.
type PathContainsValidation struct {
	File string `yaml:"file" validate:"required"`
	Text string `yaml:"text" validate:"required"`
}

// StepMap builds a lookup table for steps by ID.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}
