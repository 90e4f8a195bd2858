package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"szuro.net/plughost/internal/logger"
	"szuro.net/plughost/pkg/abi"
	"szuro.net/plughost/pkg/rpcabi"
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	// Logger receives go-plugin client logs. Defaults to the host logger.
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client speaking gRPC.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	l := f.Logger
	if l == nil {
		l = logger.NewHCLogAdapter()
	}
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig: rpcabi.Handshake,
		Plugins:          rpcabi.PluginMap(nil, l.Named("rpcabi")),
		Cmd:              exec.Command(execPath), // #nosec G204 -- path supplied by the caller loading the plugin
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           l,
	})
}

// ProcessOpener starts plugin executables as child processes.
type ProcessOpener struct {
	factory ClientFactory
}

// NewProcessOpener creates an opener using factory, or real go-plugin
// clients when factory is nil.
func NewProcessOpener(factory ClientFactory) *ProcessOpener {
	if factory == nil {
		factory = &DefaultClientFactory{}
	}
	return &ProcessOpener{factory: factory}
}

// Open starts the executable at path and connects to its descriptor service.
// The child process is killed on every failure path.
func (o *ProcessOpener) Open(path string) (Library, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plugin executable not found: %s: %w", path, err)
		}
		return nil, fmt.Errorf("cannot access plugin executable %s: %w", path, err)
	}

	client := o.factory.NewClient(path)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense(rpcabi.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense descriptor from plugin %s: %w", path, err)
	}

	dc, ok := raw.(*rpcabi.DescriptorClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s did not return a descriptor client", path)
	}

	logger.Debug("Started plugin process", slog.String("path", path))
	return &processLibrary{path: path, client: client, descriptor: dc}, nil
}

// processLibrary is a running plugin process. Close kills it.
type processLibrary struct {
	path       string
	client     PluginClient
	descriptor *rpcabi.DescriptorClient

	mu     sync.Mutex
	closed bool
}

func (l *processLibrary) Path() string {
	return l.path
}

// Lookup resolves abi.EntryPoint only. The returned function yields the
// descriptor fetched during the lookup.
func (l *processLibrary) Lookup(symbol string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("lookup %s in %s: plugin process is stopped", symbol, l.path)
	}
	if symbol != abi.EntryPoint {
		return nil, fmt.Errorf("plugin process %s does not export %s", l.path, symbol)
	}

	desc, err := l.descriptor.Describe()
	if err != nil {
		return nil, fmt.Errorf("plugin process %s: %w", l.path, err)
	}
	return func() *abi.Descriptor { return desc }, nil
}

func (l *processLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("plugin process already stopped")
	}
	l.closed = true
	l.client.Kill()
	logger.Debug("Stopped plugin process", slog.String("path", l.path))
	return nil
}
