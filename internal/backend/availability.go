package backend

import (
	"errors"
	"os/exec"
)

// Availability reports which backend executables are present on PATH.
type Availability map[string]bool

// DetectAvailability probes PATH for every registered backend executable.
func DetectAvailability() Availability {
	return detectAvailability(exec.LookPath)
}

func detectAvailability(lookPath func(file string) (string, error)) Availability {
	availability := Availability{}
	for _, id := range IDs() {
		desc := registry[id]
		_, err := lookPath(desc.Executable)
		availability[id] = err == nil
	}
	return availability
}

// Validate fails when no backend executable is available at all. Individual
// missing executables surface later as configuration errors per invocation.
func (a Availability) Validate() error {
	for _, available := range a {
		if available {
			return nil
		}
	}
	return errors.New("no backend executables found on PATH")
}
