// Package rpcabi carries the plughost ABI Descriptor across a process boundary.
//
// Plugins built as standalone executables call Serve with their descriptor.
// The host starts them through HashiCorp go-plugin and talks to the descriptor
// over gRPC. Instances live in the plugin process and are addressed by id;
// the host only ever holds proxies.
//
// Example plugin:
//
//	package main
//
//	import (
//	    "szuro.net/plughost/pkg/abi"
//	    "szuro.net/plughost/pkg/rpcabi"
//	)
//
//	var descriptor = abi.NewDescriptor(
//	    func() abi.Instance { return &echo{} },
//	    func(abi.Instance) {},
//	)
//
//	func main() {
//	    rpcabi.Serve(descriptor)
//	}
package rpcabi

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"szuro.net/plughost/pkg/abi"
)

// PluginName is the go-plugin dispense key of the descriptor service.
const PluginName = "descriptor"

// Handshake is the shared configuration between plughost and process plugins.
// ProtocolVersion versions the transport only; the ABI itself is gated by
// abi.CurrentAPIVersion after the connection is up.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHOST_PLUGIN",
	MagicCookieValue: "descriptor_v1",
}

// PluginMap is the plugin set shared by Serve and the host's client.
// The plugin side passes its descriptor, the host passes its logger.
func PluginMap(desc *abi.Descriptor, logger hclog.Logger) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginName: &DescriptorPlugin{Impl: desc, Logger: logger},
	}
}

// DescriptorPlugin is the implementation of the plugin.Plugin interface
// for HashiCorp go-plugin. This handles the gRPC server/client setup.
type DescriptorPlugin struct {
	plugin.Plugin

	// Impl is the descriptor served by the plugin process.
	Impl *abi.Descriptor

	// Logger receives host-side proxy errors. Defaults to a null logger.
	Logger hclog.Logger
}

var _ plugin.GRPCPlugin = (*DescriptorPlugin)(nil)

// GRPCServer registers the descriptor service with the plugin's gRPC server.
func (p *DescriptorPlugin) GRPCServer(_ *plugin.GRPCBroker, s *grpc.Server) error {
	RegisterDescriptorServiceServer(s, NewDescriptorServer(p.Impl))
	return nil
}

// GRPCClient returns the host-side proxy for the descriptor service.
func (p *DescriptorPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewDescriptorClient(c, p.Logger), nil
}

// Serve runs the plugin side until the host disconnects.
func Serve(desc *abi.Descriptor) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(desc, nil),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
