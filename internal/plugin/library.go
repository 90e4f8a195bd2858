// Package plugin loads plugin libraries and manages the lifetime of the
// instances they create.
package plugin

import "fmt"

// Runtime selects how a plugin library is mapped into the host.
type Runtime string

const (
	// RuntimeNative maps a shared object into the host process.
	RuntimeNative Runtime = "native"
	// RuntimeProcess starts the plugin as a child process and talks to it over RPC.
	RuntimeProcess Runtime = "process"
)

// ParseRuntime maps a configuration string to a Runtime. Empty means native.
func ParseRuntime(s string) (Runtime, error) {
	switch Runtime(s) {
	case "", RuntimeNative:
		return RuntimeNative, nil
	case RuntimeProcess:
		return RuntimeProcess, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedRuntime, s)
	}
}

// Library is an opened plugin library. Every value obtained through Lookup
// belongs to the library and must not be used after Close.
type Library interface {
	// Path returns the location the library was opened from.
	Path() string

	// Lookup resolves an exported symbol.
	Lookup(symbol string) (any, error)

	// Close releases the library. Lookups fail afterwards.
	Close() error
}

// Opener opens libraries for one runtime.
type Opener interface {
	Open(path string) (Library, error)
}
