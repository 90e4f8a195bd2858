package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"szuro.net/plughost/internal/logger"
	"szuro.net/plughost/pkg/abi"
)

// Info describes a registered plugin.
type Info struct {
	abi.Metadata
	ID       uuid.UUID
	Path     string
	Runtime  Runtime
	LoadedAt time.Time
}

// entry owns one instance together with the library that created it.
type entry struct {
	info     Info
	lib      Library
	desc     *abi.Descriptor
	instance abi.Instance
}

// instantiate creates and initializes an instance from a bound descriptor.
// On failure every resource it acquired, lib included, is released.
func instantiate(lib Library, desc *abi.Descriptor, cfg abi.Config) (*entry, error) {
	e := &entry{lib: lib, desc: desc}

	if err := guard("create", func() error {
		e.instance = desc.Create()
		return nil
	}); err != nil {
		return nil, errors.Join(err, closeLibrary(lib))
	}
	if e.instance == nil {
		return nil, errors.Join(
			fmt.Errorf("%w: create returned nil instance in %s", ErrPluginFault, lib.Path()),
			closeLibrary(lib),
		)
	}

	if err := guard("init", func() error { return e.instance.Init(cfg) }); err != nil {
		if !errors.Is(err, ErrPluginFault) {
			err = fmt.Errorf("%w: %s: %w", ErrInit, lib.Path(), err)
		}
		return nil, errors.Join(err, e.retire())
	}

	if err := guard("metadata", func() error {
		e.info.Metadata = e.instance.Metadata()
		return nil
	}); err != nil {
		return nil, errors.Join(err, e.retire())
	}
	if e.info.Name == "" {
		return nil, errors.Join(
			fmt.Errorf("%w: plugin %s reported an empty name", ErrPluginFault, lib.Path()),
			e.retire(),
		)
	}

	return e, nil
}

// retire destroys the instance through its own descriptor and only then
// releases the library. It is the single teardown path for an entry.
func (e *entry) retire() error {
	destroyErr := guard("destroy", func() error {
		e.desc.Destroy(e.instance)
		return nil
	})
	e.instance = nil
	if destroyErr != nil {
		logger.Error("Plugin destructor failed",
			slog.String("plugin", e.info.Name),
			slog.String("path", e.lib.Path()),
			slog.Any("error", destroyErr))
	}
	return errors.Join(destroyErr, closeLibrary(e.lib))
}

func closeLibrary(lib Library) error {
	if err := lib.Close(); err != nil {
		return fmt.Errorf("close library %s: %w", lib.Path(), err)
	}
	return nil
}
