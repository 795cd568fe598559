package supervisor

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NotFoundError reports that the service executable was not discoverable in
// any of the candidate locations.
type NotFoundError struct {
	Program  string
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found, searched: %s", e.Program, strings.Join(e.Searched, ", "))
}

// LaunchError reports that the service exited during the startup grace
// period. The message carries the exit code and captured stderr.
type LaunchError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d during startup", filepath.Base(e.Path), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
