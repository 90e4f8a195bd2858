package rpcabi

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"szuro.net/plughost/pkg/abi"
)

type echoInstance struct {
	prefix string
}

func (e *echoInstance) Init(cfg abi.Config) error {
	m, ok := cfg.(map[string]any)
	if !ok {
		return nil
	}
	if v, ok := m["fail"].(bool); ok && v {
		return errors.New("asked to fail")
	}
	if p, ok := m["prefix"].(string); ok {
		e.prefix = p
	}
	return nil
}

func (e *echoInstance) Execute(in string) (string, error) {
	return e.prefix + in, nil
}

func (e *echoInstance) Metadata() abi.Metadata {
	return abi.Metadata{Name: "echo", Version: "1.0", Description: "Echo"}
}

type destroyLog struct {
	mu        sync.Mutex
	destroyed []abi.Instance
}

func (d *destroyLog) destroy(inst abi.Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = append(d.destroyed, inst)
}

func (d *destroyLog) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.destroyed)
}

// connect serves desc on an in-memory listener and returns a client for it.
func connect(t *testing.T, desc *abi.Descriptor) *DescriptorClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterDescriptorServiceServer(srv, NewDescriptorServer(desc))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return NewDescriptorClient(conn, nil)
}

func TestDescriptorRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &destroyLog{}
	desc := abi.NewDescriptor(func() abi.Instance { return &echoInstance{prefix: "Processed: "} }, log.destroy)

	t.Run("lifecycle", func(t *testing.T) {
		client := connect(t, desc)

		remote, err := client.Describe()
		require.NoError(t, err)
		require.NoError(t, remote.Validate())

		inst := remote.Create()
		require.NotNil(t, inst)
		require.NoError(t, inst.Init(nil))

		out, err := inst.Execute("x")
		require.NoError(t, err)
		require.Equal(t, "Processed: x", out)
		require.Equal(t, abi.Metadata{Name: "echo", Version: "1.0", Description: "Echo"}, inst.Metadata())

		remote.Destroy(inst)
		require.Equal(t, 1, log.count())

		_, err = inst.Execute("after destroy")
		require.ErrorIs(t, err, ErrUnknownInstance)
		require.Equal(t, codes.NotFound, status.Code(err))
	})
}

func TestInitConfigTravelsAsStructValue(t *testing.T) {
	desc := abi.NewDescriptor(func() abi.Instance { return &echoInstance{} }, func(abi.Instance) {})
	client := connect(t, desc)

	remote, err := client.Describe()
	require.NoError(t, err)

	inst := remote.Create()
	require.NoError(t, inst.Init(map[string]any{"prefix": ">> "}))
	out, err := inst.Execute("hi")
	require.NoError(t, err)
	require.Equal(t, ">> hi", out)

	failing := remote.Create()
	err = failing.Init(map[string]any{"fail": true})
	require.EqualError(t, err, "asked to fail")

	require.ErrorContains(t, inst.Init(map[any]any{1: "one"}), "encode config")
}

func TestInitConfigShapes(t *testing.T) {
	var got []abi.Config
	var mu sync.Mutex
	desc := abi.NewDescriptor(func() abi.Instance {
		return &recordingInstance{record: func(cfg abi.Config) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, cfg)
		}}
	}, func(abi.Instance) {})
	client := connect(t, desc)

	remote, err := client.Describe()
	require.NoError(t, err)

	configs := []abi.Config{
		nil,
		"plain",
		true,
		3,
		[]any{"a", 1.5},
		map[string]any{"nested": map[string]any{"n": nil}},
	}
	for _, cfg := range configs {
		require.NoError(t, remote.Create().Init(cfg))
	}

	require.Equal(t, []abi.Config{
		nil,
		"plain",
		true,
		float64(3),
		[]any{"a", 1.5},
		map[string]any{"nested": map[string]any{"n": nil}},
	}, got)
}

func TestDescribeReportsPluginLayout(t *testing.T) {
	desc := &abi.Descriptor{
		Create:     func() abi.Instance { return &echoInstance{} },
		Destroy:    func(abi.Instance) {},
		APIVersion: 7,
		Size:       abi.DescriptorSize + 16,
	}
	client := connect(t, desc)

	remote, err := client.Describe()
	require.NoError(t, err)
	require.Equal(t, uint32(7), remote.APIVersion)
	require.Equal(t, abi.DescriptorSize+16, remote.Size)
	require.ErrorIs(t, remote.Validate(), abi.ErrLayout)
}

func TestCreateNilInstance(t *testing.T) {
	desc := abi.NewDescriptor(func() abi.Instance { return nil }, func(abi.Instance) {})
	client := connect(t, desc)

	remote, err := client.Describe()
	require.NoError(t, err)
	require.Nil(t, remote.Create())
}

func TestDestroyForeignInstanceIsIgnored(t *testing.T) {
	log := &destroyLog{}
	desc := abi.NewDescriptor(func() abi.Instance { return &echoInstance{} }, log.destroy)
	client := connect(t, desc)

	remote, err := client.Describe()
	require.NoError(t, err)
	remote.Destroy(&echoInstance{})
	require.Equal(t, 0, log.count())
}

func TestServerUnknownInstance(t *testing.T) {
	srv := NewDescriptorServer(abi.NewDescriptor(func() abi.Instance { return &echoInstance{} }, func(abi.Instance) {}))
	ctx := context.Background()
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID: structpb.NewNumberValue(42),
	}}

	_, err := srv.Destroy(ctx, wrapperspb.UInt64(42))
	require.ErrorIs(t, err, ErrUnknownInstance)
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = srv.Init(ctx, req)
	require.ErrorIs(t, err, ErrUnknownInstance)

	_, err = srv.Execute(ctx, req)
	require.ErrorIs(t, err, ErrUnknownInstance)

	_, err = srv.Metadata(ctx, wrapperspb.UInt64(42))
	require.ErrorIs(t, err, ErrUnknownInstance)
}

type recordingInstance struct {
	echoInstance
	record func(abi.Config)
}

func (r *recordingInstance) Init(cfg abi.Config) error {
	r.record(cfg)
	return nil
}

func TestPluginMap(t *testing.T) {
	desc := abi.NewDescriptor(func() abi.Instance { return &echoInstance{} }, func(abi.Instance) {})
	logger := hclog.NewNullLogger()

	plugins := PluginMap(desc, logger)
	require.Len(t, plugins, 1)

	dp, ok := plugins[PluginName].(*DescriptorPlugin)
	require.True(t, ok, "dispense key %q must map to a DescriptorPlugin", PluginName)
	require.Same(t, desc, dp.Impl)
	require.Equal(t, logger, dp.Logger)

	_, ok = plugins[PluginName].(plugin.GRPCPlugin)
	require.True(t, ok)
}
