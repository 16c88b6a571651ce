// ABOUTME: Agent transport: dials the relay, registers, heartbeats and dispatches commands
// ABOUTME: Reconnects forever using a RetryPolicy and re-registers after every reconnect

package agentclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/sql-relay/internal/config"
	"github.com/2389/sql-relay/proto/relay"
)

// DefaultHeartbeatInterval is how often the agent reports liveness.
const DefaultHeartbeatInterval = 30 * time.Second

// commandQueueSize bounds relay messages received but not yet dispatched.
const commandQueueSize = 64

// Client keeps one agent connected to the relay.
type Client struct {
	addr        string
	statePath   string
	primaryName string
	executor    *Executor
	retry       RetryPolicy
	heartbeat   time.Duration
	dialOpts    []grpc.DialOption
	logger      *slog.Logger

	mu    sync.Mutex // guards state
	state *config.AgentState

	// onRegistered is called after every successful handshake
	onRegistered func(*relay.Welcome)
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy replaces the reconnect policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p != nil {
			c.retry = p
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithExecutor replaces the query executor.
func WithExecutor(e *Executor) Option {
	return func(c *Client) {
		if e != nil {
			c.executor = e
		}
	}
}

// WithPrimaryName overrides the hostname-derived primary name.
func WithPrimaryName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.primaryName = name
		}
	}
}

// WithDialOptions replaces the default insecure, keepalive dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = opts
	}
}

// WithRegisteredHook is called with the Welcome after every registration.
func WithRegisteredHook(fn func(*relay.Welcome)) Option {
	return func(c *Client) {
		c.onRegistered = fn
	}
}

// New creates a Client for the relay at addr. state is updated in place and
// written to statePath whenever the relay pushes a configuration; an empty
// statePath keeps it in memory only.
func New(addr, statePath string, state *config.AgentState, logger *slog.Logger, opts ...Option) *Client {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	c := &Client{
		addr:        addr,
		statePath:   statePath,
		primaryName: hostname,
		retry:       FixedDelay(DefaultRetryDelay),
		heartbeat:   DefaultHeartbeatInterval,
		state:       state,
		logger:      logger.With("component", "agentclient", "agent_id", state.AgentID),
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.executor == nil {
		c.executor = NewExecutor(logger)
	}
	return c
}

// Configuration returns a copy of the agent's current configuration.
func (c *Client) Configuration() *relay.AgentConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Configuration()
}

// Run connects and serves commands until ctx is cancelled. Connection
// failures are logged and retried; Run only returns once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		registered, err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("agent stopped")
			return nil
		}
		if registered {
			attempt = 0
		}

		delay := c.retry.NextDelay(attempt)
		attempt++
		c.logger.Warn("connection lost, reconnecting", "error", err, "attempt", attempt, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.logger.Info("agent stopped")
			return nil
		case <-t.C:
		}
	}
}

// streamSender serializes writes; a gRPC stream allows one sender at a time.
type streamSender struct {
	mu     sync.Mutex
	stream relay.RelayControl_AgentStreamClient
}

func (s *streamSender) send(msg *relay.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(msg)
}

// session runs one connection from dial to disconnect. registered reports
// whether the handshake completed.
func (c *Client) session(ctx context.Context) (registered bool, err error) {
	conn, err := grpc.NewClient(c.addr, c.dialOpts...)
	if err != nil {
		return false, fmt.Errorf("creating client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := relay.NewRelayControlClient(conn).AgentStream(ctx)
	if err != nil {
		return false, fmt.Errorf("opening stream: %w", err)
	}
	out := &streamSender{stream: stream}

	c.mu.Lock()
	customName := c.state.CustomName
	c.mu.Unlock()

	if err := out.send(&relay.AgentMessage{Register: &relay.RegisterAgent{
		AgentID:     c.state.AgentID,
		PrimaryName: c.primaryName,
		CustomName:  customName,
	}}); err != nil {
		return false, fmt.Errorf("sending register: %w", err)
	}

	msg, err := stream.Recv()
	if err != nil {
		return false, fmt.Errorf("receiving welcome: %w", err)
	}
	welcome := msg.GetWelcome()
	if welcome == nil {
		return false, errors.New("expected welcome as first message")
	}
	c.logger.Info("registered with relay", "server_id", welcome.ServerID, "primary_name", c.primaryName)
	if c.onRegistered != nil {
		c.onRegistered(welcome)
	}

	// Relay messages run one at a time in arrival order, so a configuration push
	// is applied before any command sent after it.
	commands := make(chan *relay.ServerMessage, commandQueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.heartbeatLoop(gctx, out)
	})
	g.Go(func() error {
		for msg := range commands {
			if gctx.Err() != nil {
				continue
			}
			c.dispatch(gctx, out, msg)
		}
		return nil
	})
	g.Go(func() error {
		defer close(commands)
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return errors.New("relay closed the stream")
			}
			if err != nil {
				return fmt.Errorf("receiving: %w", err)
			}
			select {
			case commands <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})
	err = g.Wait()
	cancel()
	return true, err
}

func (c *Client) heartbeatLoop(ctx context.Context, out *streamSender) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if err := out.send(&relay.AgentMessage{Heartbeat: &relay.Heartbeat{TimestampMs: t.UnixMilli()}}); err != nil {
				return fmt.Errorf("sending heartbeat: %w", err)
			}
		}
	}
}

// dispatch runs one relay command and sends its reply.
func (c *Client) dispatch(ctx context.Context, out *streamSender, msg *relay.ServerMessage) {
	agentID := c.state.AgentID

	switch {
	case msg.GetConfiguration() != nil:
		c.applyConfiguration(msg.Configuration)

	case msg.GetRunQuery() != nil:
		idx := msg.RunQuery.QueryIndex
		c.logger.Info("run query", "query_index", idx)
		result := c.executor.RunQuery(ctx, c.Configuration(), idx)
		if err := out.send(&relay.AgentMessage{FullResult: &relay.FullResult{AgentID: agentID, JSON: result}}); err != nil {
			c.logger.Warn("sending full result failed", "error", err)
		}

	case msg.GetTestConnection() != nil:
		result := c.executor.TestConnection(ctx, c.Configuration())
		c.logger.Info("connection test", "result", result)
		if err := out.send(&relay.AgentMessage{TestResult: &relay.TestResult{AgentID: agentID, Result: result}}); err != nil {
			c.logger.Warn("sending test result failed", "error", err)
		}

	case msg.GetStartStream() != nil:
		idx := msg.StartStream.QueryIndex
		c.logger.Info("stream query", "query_index", idx)
		err := c.executor.Stream(ctx, c.Configuration(), idx, func(data string, last bool) error {
			return out.send(&relay.AgentMessage{Chunk: &relay.DataChunk{AgentID: agentID, Data: data, IsLastChunk: last}})
		})
		if err != nil {
			c.logger.Warn("sending chunk failed", "error", err)
		}

	case msg.GetWelcome() != nil:
		c.logger.Debug("ignoring repeated welcome")
	}
}

func (c *Client) applyConfiguration(cfg *relay.AgentConfiguration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Apply(cfg)
	c.logger.Info("configuration updated", "connections", len(cfg.Connections), "custom_name", c.state.CustomName)

	if c.statePath == "" {
		return
	}
	if err := c.state.Save(c.statePath); err != nil {
		c.logger.Error("saving agent state", "error", err)
	}
}
