//go:build (linux || darwin || freebsd) && cgo

package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"plugin"
	"sync"

	"szuro.net/plughost/internal/logger"
)

// NativeOpener opens shared objects built with -buildmode=plugin.
type NativeOpener struct{}

// Open maps the shared object at path.
func (NativeOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	return &nativeLibrary{path: path, plugin: p}, nil
}

// nativeLibrary is one handle on a mapped shared object. The Go runtime
// never unmaps a plugin, so Close retires the handle instead.
type nativeLibrary struct {
	path   string
	plugin *plugin.Plugin

	mu     sync.Mutex
	closed bool
}

func (l *nativeLibrary) Path() string {
	return l.path
}

func (l *nativeLibrary) Lookup(symbol string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("lookup %s in %s: library handle is closed", symbol, l.path)
	}
	sym, err := l.plugin.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s does not export %s: %w", l.path, symbol, err)
	}
	return sym, nil
}

func (l *nativeLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("library handle already closed")
	}
	l.closed = true
	logger.Debug("Released native library handle", slog.String("path", l.path))
	return nil
}
