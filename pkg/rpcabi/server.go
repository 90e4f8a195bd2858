package rpcabi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"szuro.net/plughost/pkg/abi"
)

// ErrUnknownInstance is returned for ids the server never issued or already destroyed.
var ErrUnknownInstance = errors.New("unknown instance")

// unknownInstanceError travels as codes.NotFound.
type unknownInstanceError struct {
	id uint64
}

func (e *unknownInstanceError) Error() string {
	return fmt.Sprintf("%v: %d", ErrUnknownInstance, e.id)
}

func (e *unknownInstanceError) Unwrap() error {
	return ErrUnknownInstance
}

func (e *unknownInstanceError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

// DescriptorServer exposes a descriptor over gRPC. Instances created
// through it stay in this process and are referenced by id.
type DescriptorServer struct {
	desc *abi.Descriptor

	mu        sync.Mutex
	nextID    uint64
	instances map[uint64]abi.Instance
}

// NewDescriptorServer wraps desc.
func NewDescriptorServer(desc *abi.Descriptor) *DescriptorServer {
	return &DescriptorServer{
		desc:      desc,
		instances: make(map[uint64]abi.Instance),
	}
}

func (s *DescriptorServer) Describe(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if s.desc == nil {
		return nil, status.Error(codes.FailedPrecondition, "no descriptor served")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAPIVersion: structpb.NewNumberValue(float64(s.desc.APIVersion)),
		fieldSize:       structpb.NewNumberValue(float64(s.desc.Size)),
	}}, nil
}

func (s *DescriptorServer) Create(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	if s.desc == nil || s.desc.Create == nil {
		return nil, status.Error(codes.FailedPrecondition, "descriptor has no create function")
	}
	inst := s.desc.Create()
	if inst == nil {
		return nil, status.Error(codes.Internal, "create returned nil instance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.instances[s.nextID] = inst
	return wrapperspb.UInt64(s.nextID), nil
}

func (s *DescriptorServer) Destroy(_ context.Context, in *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	id := in.GetValue()

	s.mu.Lock()
	inst, found := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()

	if !found {
		return nil, &unknownInstanceError{id: id}
	}
	s.desc.Destroy(inst)
	return &emptypb.Empty{}, nil
}

func (s *DescriptorServer) Init(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	inst, err := s.lookup(idField(in))
	if err != nil {
		return nil, err
	}

	var cfg abi.Config
	if v := in.GetFields()[fieldConfig]; v != nil {
		cfg = v.AsInterface()
	}
	if err := inst.Init(cfg); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *DescriptorServer) Execute(_ context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	inst, err := s.lookup(idField(in))
	if err != nil {
		return nil, err
	}
	out, err := inst.Execute(in.GetFields()[fieldInput].GetStringValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(out), nil
}

func (s *DescriptorServer) Metadata(_ context.Context, in *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	inst, err := s.lookup(in.GetValue())
	if err != nil {
		return nil, err
	}
	md := inst.Metadata()
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:        structpb.NewStringValue(md.Name),
		fieldVersion:     structpb.NewStringValue(md.Version),
		fieldDescription: structpb.NewStringValue(md.Description),
	}}, nil
}

func (s *DescriptorServer) lookup(id uint64) (abi.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, &unknownInstanceError{id: id}
	}
	return inst, nil
}

func idField(in *structpb.Struct) uint64 {
	return uint64(in.GetFields()[fieldID].GetNumberValue())
}
