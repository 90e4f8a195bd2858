package rpcabi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the gRPC service a process plugin serves its descriptor on.
const ServiceName = "plughost.rpcabi.Descriptor"

// Struct field names of the composite messages.
const (
	fieldAPIVersion  = "api_version"
	fieldSize        = "size"
	fieldID          = "id"
	fieldConfig      = "config"
	fieldInput       = "input"
	fieldName        = "name"
	fieldVersion     = "version"
	fieldDescription = "description"
)

// DescriptorServiceServer is the plugin side of the descriptor service.
// Messages are protobuf well-known types:
//
//	Describe(Empty) -> Struct{api_version, size}
//	Create(Empty) -> UInt64Value id
//	Destroy(UInt64Value id) -> Empty
//	Init(Struct{id, config}) -> Empty
//	Execute(Struct{id, input}) -> StringValue
//	Metadata(UInt64Value id) -> Struct{name, version, description}
type DescriptorServiceServer interface {
	Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Create(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	Destroy(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error)
	Init(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Execute(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Metadata(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
}

// RegisterDescriptorServiceServer registers srv with s.
func RegisterDescriptorServiceServer(s grpc.ServiceRegistrar, srv DescriptorServiceServer) {
	s.RegisterService(&descriptorServiceDesc, srv)
}

var descriptorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DescriptorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Describe", func(s DescriptorServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.Describe(ctx, in)
		}),
		unary("Create", func(s DescriptorServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.Create(ctx, in)
		}),
		unary("Destroy", func(s DescriptorServiceServer, ctx context.Context, in *wrapperspb.UInt64Value) (proto.Message, error) {
			return s.Destroy(ctx, in)
		}),
		unary("Init", func(s DescriptorServiceServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.Init(ctx, in)
		}),
		unary("Execute", func(s DescriptorServiceServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.Execute(ctx, in)
		}),
		unary("Metadata", func(s DescriptorServiceServer, ctx context.Context, in *wrapperspb.UInt64Value) (proto.Message, error) {
			return s.Metadata(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plughost/rpcabi/descriptor",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary builds the method handler for one request type, the same shape
// protoc-gen-go-grpc emits.
func unary[T any, Req interface {
	*T
	proto.Message
}](method string, call func(DescriptorServiceServer, context.Context, Req) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := Req(new(T))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(DescriptorServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
