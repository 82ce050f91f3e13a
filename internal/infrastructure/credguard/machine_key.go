package credguard

import (
	"bytes"
	"errors"
	"os"
)

// Default machine id locations on Linux hosts
const (
	DefaultMachineIDPath         = "/etc/machine-id"
	DefaultFallbackMachineIDPath = "/var/lib/dbus/machine-id"
)

// ErrMachineIDUnavailable is returned when no machine id can be read
var ErrMachineIDUnavailable = errors.New("credguard: machine id unavailable")

// MachineKeySource yields the stable identity of the executing machine
type MachineKeySource interface {
	MachineID() ([]byte, error)
}

// FileMachineKey reads the first readable, non-empty file of Paths
type FileMachineKey struct {
	Paths []string
}

// NewFileMachineKey returns a source over the given paths, or the default
// Linux locations when none are given
func NewFileMachineKey(paths ...string) FileMachineKey {
	var clean []string
	for _, p := range paths {
		if p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultMachineIDPath, DefaultFallbackMachineIDPath}
	}
	return FileMachineKey{Paths: clean}
}

// MachineID implements MachineKeySource
func (f FileMachineKey) MachineID() ([]byte, error) {
	for _, p := range f.Paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		id := bytes.TrimSpace(data)
		if len(id) > 0 {
			return id, nil
		}
	}
	return nil, ErrMachineIDUnavailable
}

// StaticMachineKey is a fixed machine id, used to simulate hosts in tests
type StaticMachineKey string

// MachineID implements MachineKeySource
func (s StaticMachineKey) MachineID() ([]byte, error) {
	if s == "" {
		return nil, ErrMachineIDUnavailable
	}
	return []byte(s), nil
}
