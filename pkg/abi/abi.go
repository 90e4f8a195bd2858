// Package abi defines the binary contract between plughost and its plugins.
//
// A plugin is an independently compiled module that exports a single entry
// point, GetPluginInterface, returning a pointer to a Descriptor with
// library-wide lifetime. The host validates the descriptor's layout size and
// API version before calling any of its functions, creates instances through
// Create and reclaims them only through Destroy.
//
// Creating a native plugin:
//
// 1. Implement the Instance interface
// 2. Keep one package-level Descriptor built with NewDescriptor
// 3. Export GetPluginInterface returning that descriptor
// 4. Compile as shared library: go build -buildmode=plugin
//
// Example plugin structure:
//
//	package main
//
//	import (
//	    "strings"
//
//	    "szuro.net/plughost/pkg/abi"
//	)
//
//	type upper struct{}
//
//	func (u *upper) Init(cfg abi.Config) error { return nil }
//
//	func (u *upper) Execute(in string) (string, error) {
//	    return strings.ToUpper(in), nil
//	}
//
//	func (u *upper) Metadata() abi.Metadata {
//	    return abi.Metadata{Name: "upper", Version: "1.0.0", Description: "Upper-cases input"}
//	}
//
//	var descriptor = abi.NewDescriptor(
//	    func() abi.Instance { return &upper{} },
//	    func(abi.Instance) {},
//	)
//
//	func GetPluginInterface() *abi.Descriptor { return descriptor }
//
//	func main() {}
package abi

import (
	"errors"
	"fmt"
	"unsafe"
)

// EntryPoint is the symbol every plugin library must export.
const EntryPoint = "GetPluginInterface"

// CurrentAPIVersion is bumped whenever Descriptor or Instance change
// incompatibly. Plugins must report exactly this value.
const CurrentAPIVersion uint32 = 1

// DescriptorSize is the host's compiled size of Descriptor.
var DescriptorSize = unsafe.Sizeof(Descriptor{})

var (
	// ErrLayout is returned by Validate when the descriptor size differs from DescriptorSize.
	ErrLayout = errors.New("descriptor layout mismatch")
	// ErrVersion is returned by Validate when APIVersion differs from CurrentAPIVersion.
	ErrVersion = errors.New("descriptor API version mismatch")
	// ErrIncomplete is returned by Validate when a function field is nil.
	ErrIncomplete = errors.New("descriptor is incomplete")
)

// Config is the opaque configuration payload passed to Instance.Init.
// It holds JSON-like data: nil, string, float64/int, bool, map[string]any or []any.
type Config = any

// Metadata identifies a plugin instance. Name is the registry key.
type Metadata struct {
	// Name is the unique name the plugin is registered under.
	Name string

	// Version is the plugin's own version string.
	Version string

	// Description provides a brief description of what the plugin does.
	Description string
}

// Instance is the capability set of a plugin object. Instances are created
// and destroyed only by the Descriptor of the library that produced them.
type Instance interface {
	// Init configures the instance. A nil config is valid.
	Init(config Config) error

	// Execute runs the plugin on input and returns its output.
	Execute(input string) (string, error)

	// Metadata reports the instance's identity.
	Metadata() Metadata
}

// Descriptor is the function table a plugin exports through EntryPoint.
// Field order is part of the contract.
type Descriptor struct {
	// Create returns a new instance owned by the plugin.
	Create func() Instance

	// Destroy reclaims an instance returned by Create.
	Destroy func(Instance)

	// APIVersion must equal CurrentAPIVersion.
	APIVersion uint32

	// Size is unsafe.Sizeof(Descriptor{}) as compiled into the plugin.
	Size uintptr
}

// NewDescriptor builds a descriptor stamped with this package's API version
// and layout size. Plugins should keep the result in a package-level variable.
func NewDescriptor(create func() Instance, destroy func(Instance)) *Descriptor {
	return &Descriptor{
		Create:     create,
		Destroy:    destroy,
		APIVersion: CurrentAPIVersion,
		Size:       DescriptorSize,
	}
}

// Validate checks layout size first, then API version, then that both
// functions are present. No function of d is called.
func (d *Descriptor) Validate() error {
	if d.Size != DescriptorSize {
		return fmt.Errorf("%w: plugin reports %d bytes, host expects %d", ErrLayout, d.Size, DescriptorSize)
	}
	if d.APIVersion != CurrentAPIVersion {
		return fmt.Errorf("%w: plugin reports %d, host expects %d", ErrVersion, d.APIVersion, CurrentAPIVersion)
	}
	if d.Create == nil || d.Destroy == nil {
		return ErrIncomplete
	}
	return nil
}
