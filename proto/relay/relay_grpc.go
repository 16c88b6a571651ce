// ABOUTME: Service descriptor and typed stream bindings for RelayControl.
// ABOUTME: Mirrors protoc-gen-go-grpc output, with messages carried by the JSON codec.

package relay

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	RelayControl_ServiceName                = "relay.RelayControl"
	RelayControl_AgentStream_FullMethodName = "/relay.RelayControl/AgentStream"
)

// RelayControl_AgentStreamServer is the relay side of an agent stream.
type RelayControl_AgentStreamServer = grpc.BidiStreamingServer[AgentMessage, ServerMessage]

// RelayControl_AgentStreamClient is the agent side of an agent stream.
type RelayControl_AgentStreamClient = grpc.BidiStreamingClient[AgentMessage, ServerMessage]

// RelayControlServer is implemented by the relay.
type RelayControlServer interface {
	AgentStream(RelayControl_AgentStreamServer) error
}

// UnimplementedRelayControlServer can be embedded for forward compatibility.
type UnimplementedRelayControlServer struct{}

func (UnimplementedRelayControlServer) AgentStream(RelayControl_AgentStreamServer) error {
	return status.Error(codes.Unimplemented, "method AgentStream not implemented")
}

// RegisterRelayControlServer registers srv on s.
func RegisterRelayControlServer(s grpc.ServiceRegistrar, srv RelayControlServer) {
	s.RegisterService(&RelayControl_ServiceDesc, srv)
}

func _RelayControl_AgentStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayControlServer).AgentStream(&grpc.GenericServerStream[AgentMessage, ServerMessage]{ServerStream: stream})
}

// RelayControl_ServiceDesc is the grpc.ServiceDesc for RelayControl.
var RelayControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RelayControl_ServiceName,
	HandlerType: (*RelayControlServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AgentStream",
			Handler:       _RelayControl_AgentStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay/relay.go",
}

// RelayControlClient is the agent-side client.
type RelayControlClient interface {
	AgentStream(ctx context.Context, opts ...grpc.CallOption) (RelayControl_AgentStreamClient, error)
}

type relayControlClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayControlClient wraps a client connection.
func NewRelayControlClient(cc grpc.ClientConnInterface) RelayControlClient {
	return &relayControlClient{cc: cc}
}

func (c *relayControlClient) AgentStream(ctx context.Context, opts ...grpc.CallOption) (RelayControl_AgentStreamClient, error) {
	cOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &RelayControl_ServiceDesc.Streams[0], RelayControl_AgentStream_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[AgentMessage, ServerMessage]{ClientStream: stream}, nil
}
