package rpcabi

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"szuro.net/plughost/pkg/abi"
)

// DescriptorClient is the host-side view of a DescriptorServer.
type DescriptorClient struct {
	conn   grpc.ClientConnInterface
	logger hclog.Logger
}

// NewDescriptorClient wraps an established gRPC connection.
func NewDescriptorClient(conn grpc.ClientConnInterface, logger hclog.Logger) *DescriptorClient {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DescriptorClient{conn: conn, logger: logger}
}

func (c *DescriptorClient) invoke(method string, in, out proto.Message) error {
	return remoteError(c.conn.Invoke(context.Background(), fullMethod(method), in, out))
}

// Describe fetches the remote descriptor. Create and Destroy of the result
// are RPCs; instances it creates are proxies addressed by id.
func (c *DescriptorClient) Describe() (*abi.Descriptor, error) {
	reply := &structpb.Struct{}
	if err := c.invoke("Describe", &emptypb.Empty{}, reply); err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	fields := reply.GetFields()
	return &abi.Descriptor{
		Create:     c.create,
		Destroy:    c.destroy,
		APIVersion: uint32(fields[fieldAPIVersion].GetNumberValue()),
		Size:       uintptr(fields[fieldSize].GetNumberValue()),
	}, nil
}

func (c *DescriptorClient) create() abi.Instance {
	id := &wrapperspb.UInt64Value{}
	if err := c.invoke("Create", &emptypb.Empty{}, id); err != nil {
		c.logger.Error("remote create failed", "error", err)
		return nil
	}
	return &remoteInstance{client: c, id: id.GetValue()}
}

func (c *DescriptorClient) destroy(inst abi.Instance) {
	ri, ok := inst.(*remoteInstance)
	if !ok {
		c.logger.Error("refusing to destroy foreign instance", "type", fmt.Sprintf("%T", inst))
		return
	}
	if err := c.invoke("Destroy", wrapperspb.UInt64(ri.id), &emptypb.Empty{}); err != nil {
		c.logger.Error("remote destroy failed", "id", ri.id, "error", err)
	}
}

// remoteInstance proxies abi.Instance calls to the plugin process.
type remoteInstance struct {
	client *DescriptorClient
	id     uint64
}

func (r *remoteInstance) Init(cfg abi.Config) error {
	v, err := structpb.NewValue(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:     structpb.NewNumberValue(float64(r.id)),
		fieldConfig: v,
	}}
	return r.client.invoke("Init", in, &emptypb.Empty{})
}

func (r *remoteInstance) Execute(input string) (string, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:    structpb.NewNumberValue(float64(r.id)),
		fieldInput: structpb.NewStringValue(input),
	}}
	out := &wrapperspb.StringValue{}
	if err := r.client.invoke("Execute", in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (r *remoteInstance) Metadata() abi.Metadata {
	reply := &structpb.Struct{}
	if err := r.client.invoke("Metadata", wrapperspb.UInt64(r.id), reply); err != nil {
		r.client.logger.Error("remote metadata failed", "id", r.id, "error", err)
		return abi.Metadata{}
	}
	fields := reply.GetFields()
	return abi.Metadata{
		Name:        fields[fieldName].GetStringValue(),
		Version:     fields[fieldVersion].GetStringValue(),
		Description: fields[fieldDescription].GetStringValue(),
	}
}

// statusError carries a plugin-side error back to the host with the
// plugin's message rather than the gRPC envelope.
type statusError struct {
	st *status.Status
}

func (e *statusError) Error() string {
	return e.st.Message()
}

func (e *statusError) Is(target error) bool {
	return target == ErrUnknownInstance && e.st.Code() == codes.NotFound
}

func (e *statusError) GRPCStatus() *status.Status {
	return e.st
}

func remoteError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &statusError{st: st}
}
