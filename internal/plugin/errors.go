package plugin

import "errors"

// Sentinel errors for programmatic error checking. Returned errors wrap one
// of these together with the underlying cause.
var (
	// ErrLibraryLoad is returned when a plugin library cannot be opened.
	ErrLibraryLoad = errors.New("library load error")
	// ErrSymbol is returned when the entry point is missing or has the wrong type.
	ErrSymbol = errors.New("symbol error")
	// ErrLayoutMismatch is returned when the descriptor size differs from the host's.
	ErrLayoutMismatch = errors.New("ABI layout mismatch")
	// ErrIncompatibleAPI is returned when the descriptor API version differs from the host's.
	ErrIncompatibleAPI = errors.New("incompatible API version")
	// ErrInit is returned when a plugin instance fails to initialize.
	ErrInit = errors.New("plugin init failed")
	// ErrPluginFault is returned when plugin code panics or breaks the contract.
	ErrPluginFault = errors.New("plugin fault")
	// ErrNotFound is returned for names that are not registered.
	ErrNotFound = errors.New("plugin not found")
	// ErrAlreadyLoaded is returned when a plugin name is already registered.
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	// ErrClosed is returned when operations are attempted on a closed manager.
	ErrClosed = errors.New("manager is closed")
	// ErrUnsupportedRuntime is returned when a runtime is unavailable on this platform.
	ErrUnsupportedRuntime = errors.New("unsupported plugin runtime")
)
