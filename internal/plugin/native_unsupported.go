//go:build !((linux || darwin || freebsd) && cgo)

package plugin

import (
	"fmt"
	"runtime"
)

// NativeOpener is unavailable on this platform; Open always fails.
type NativeOpener struct{}

func (NativeOpener) Open(path string) (Library, error) {
	return nil, fmt.Errorf("%w: native plugins on %s/%s (cgo required): %s",
		ErrUnsupportedRuntime, runtime.GOOS, runtime.GOARCH, path)
}
