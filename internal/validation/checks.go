package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
)

// CheckCommandExists verifies a tool the provisioned stack depends on (ffmpeg,
// git, an interpreter) is resolvable on PATH.
func CheckCommandExists(command string) error {
	if command == "" {
		return fmt.Errorf("command name is required")
	}

	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("command %q not on PATH: %w", command, err)
	}
	return nil
}

// CheckFileExists verifies a provisioned artifact (model weights, a cloned
// repository, a log file) landed at the given path.
func CheckFileExists(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("path %s does not exist", path)
		}
		return err
	}
	return nil
}

// CheckPathContains verifies a file matches the pattern, typically a server
// log against its ready banner.
func CheckPathContains(path, text string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	if text == "" {
		return fmt.Errorf("text is required")
	}

	pattern, err := regexp.Compile(text)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", text, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if !pattern.Match(data) {
		return fmt.Errorf("pattern %q not found in %s", text, path)
	}
	return nil
}
