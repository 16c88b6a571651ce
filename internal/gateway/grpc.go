// ABOUTME: RelayControl gRPC service implementation for agent communication
// ABOUTME: Handles bidirectional streaming for agent registration, heartbeats, results and chunks

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/sql-relay/internal/agent"
	"github.com/2389/sql-relay/proto/relay"
)

// relayControlServer implements the RelayControl gRPC service.
type relayControlServer struct {
	relay.UnimplementedRelayControlServer
	gateway *Gateway
	logger  *slog.Logger
}

// newRelayControlServer creates a new RelayControl service instance.
func newRelayControlServer(gw *Gateway, logger *slog.Logger) *relayControlServer {
	return &relayControlServer{
		gateway: gw,
		logger:  logger,
	}
}

// AgentStream handles the bidirectional streaming connection with an agent.
// Protocol flow:
// 1. Agent sends RegisterAgent
// 2. Server responds with Welcome, then the stored configuration if any
// 3. Agent sends Heartbeat, FullResult, DataChunk or TestResult messages
// 4. Server sends RunQuery, StartStream, TestConnection or Configuration messages
func (s *relayControlServer) AgentStream(stream relay.RelayControl_AgentStreamServer) error {
	msg, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return status.Errorf(codes.Internal, "receiving first message: %v", err)
	}

	reg := msg.GetRegister()
	if reg == nil {
		return status.Error(codes.InvalidArgument, "first message must be RegisterAgent")
	}
	if reg.AgentID == "" {
		return status.Error(codes.InvalidArgument, "agent_id is required")
	}

	conn := agent.NewConnection(reg.AgentID, stream, s.logger)

	welcome := &relay.ServerMessage{
		Welcome: &relay.Welcome{
			ServerID: s.gateway.serverID,
			AgentID:  reg.AgentID,
		},
	}
	if err := conn.Send(welcome); err != nil {
		return status.Errorf(codes.Internal, "sending welcome: %v", err)
	}

	registry := s.gateway.registry
	if _, err := registry.Register(stream.Context(), reg.AgentID, reg.PrimaryName, reg.CustomName, conn); err != nil {
		if errors.Is(err, agent.ErrSendFailed) {
			registry.MarkDisconnected(conn)
			return status.Errorf(codes.Unavailable, "registering agent: %v", err)
		}
		return status.Errorf(codes.Internal, "registering agent: %v", err)
	}
	defer registry.MarkDisconnected(conn)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("agent disconnected (EOF)", "agent_id", conn.AgentID)
				return nil
			}
			if status.Code(err) == codes.Canceled {
				s.logger.Info("agent stream cancelled", "agent_id", conn.AgentID)
				return nil
			}
			s.logger.Error("receiving message", "error", err, "agent_id", conn.AgentID)
			return status.Errorf(codes.Internal, "receiving message: %v", err)
		}

		s.dispatch(stream.Context(), conn, msg)
	}
}

// dispatch routes one agent message. Payload agent ids are ignored in favor
// of the id the stream registered with.
func (s *relayControlServer) dispatch(ctx context.Context, conn *agent.Connection, msg *relay.AgentMessage) {
	hub := s.gateway.hub
	switch {
	case msg.GetHeartbeat() != nil:
		s.logger.Debug("received heartbeat", "agent_id", conn.AgentID, "timestamp_ms", msg.Heartbeat.TimestampMs)
		s.gateway.registry.Touch(conn.AgentID)

	case msg.GetFullResult() != nil:
		hub.HandleFullResult(conn.AgentID, msg.FullResult.JSON)

	case msg.GetChunk() != nil:
		s.gateway.metrics.ChunkReceived(ctx, msg.Chunk.IsLastChunk)
		hub.HandleChunk(conn.AgentID, msg.Chunk.Data, msg.Chunk.IsLastChunk)

	case msg.GetTestResult() != nil:
		hub.HandleTestResult(conn.AgentID, msg.TestResult.Result)

	case msg.GetRegister() != nil:
		s.logger.Warn("received duplicate registration", "agent_id", conn.AgentID)

	default:
		s.logger.Warn("received unknown message type", "agent_id", conn.AgentID)
	}
}
