package plugin

import (
	"errors"
	"fmt"

	"szuro.net/plughost/pkg/abi"
)

// guard runs a call into plugin code and turns a panic into ErrPluginFault.
// Every call across the ABI boundary goes through here.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrPluginFault, op, r)
		}
	}()
	return fn()
}

// bind resolves the entry point of lib and returns its validated descriptor.
// Layout size is checked before the version, and neither Create nor Destroy
// is called here.
func bind(lib Library) (*abi.Descriptor, error) {
	sym, err := lib.Lookup(abi.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSymbol, err)
	}

	var entry func() *abi.Descriptor
	switch fn := sym.(type) {
	case func() *abi.Descriptor:
		entry = fn
	case *func() *abi.Descriptor:
		if fn != nil {
			entry = *fn
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s in %s has type %T, want func() *abi.Descriptor",
			ErrSymbol, abi.EntryPoint, lib.Path(), sym)
	}

	var desc *abi.Descriptor
	if err := guard(abi.EntryPoint, func() error {
		desc = entry()
		return nil
	}); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s in %s returned nil descriptor", ErrSymbol, abi.EntryPoint, lib.Path())
	}

	if err := desc.Validate(); err != nil {
		switch {
		case errors.Is(err, abi.ErrLayout):
			return nil, fmt.Errorf("%w: %s: %w", ErrLayoutMismatch, lib.Path(), err)
		case errors.Is(err, abi.ErrVersion):
			return nil, fmt.Errorf("%w: %s: %w", ErrIncompatibleAPI, lib.Path(), err)
		default:
			return nil, fmt.Errorf("%w: %s: %w", ErrSymbol, lib.Path(), err)
		}
	}
	return desc, nil
}
