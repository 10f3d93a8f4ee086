// Package grpc serves the outreach runtime over gRPC.
//
// The service is described by hand (ServiceDesc) and exchanges
// structpb.Struct documents, so clients in any language can call it with
// plain JSON-shaped payloads.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/outreach/coreengine/agents"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Runner is the runtime surface served over gRPC.
type Runner interface {
	Run(ctx context.Context, req runtime.Request) *runtime.Response
	Stream(ctx context.Context, req runtime.Request) <-chan runtime.Event
	Classify(ctx context.Context, req runtime.Request) (agents.RouteResult, error)
}

// OutreachServer implements OutreachServiceServer on a Runner.
type OutreachServer struct {
	runner Runner
	logger Logger
}

// NewOutreachServer creates the service implementation.
func NewOutreachServer(runner Runner, logger Logger) *OutreachServer {
	return &OutreachServer{runner: runner, logger: logger}
}

var _ OutreachServiceServer = (*OutreachServer)(nil)

// wireRequest accepts both camelCase and snake_case field names.
type wireRequest struct {
	Message                  string             `json:"message"`
	Model                    string             `json:"model"`
	ConversationHistory      []envelope.Message `json:"conversationHistory"`
	ConversationHistorySnake []envelope.Message `json:"conversation_history"`
	SessionID                string             `json:"sessionId"`
	SessionIDSnake           string             `json:"session_id"`
}

func decodeRequest(in *structpb.Struct) (runtime.Request, error) {
	var w wireRequest
	if err := FromStruct(in, &w); err != nil {
		return runtime.Request{}, InvalidRequest(err.Error())
	}
	req := runtime.Request{
		Message:   w.Message,
		Model:     w.Model,
		History:   w.ConversationHistory,
		SessionID: w.SessionID,
	}
	if len(req.History) == 0 {
		req.History = w.ConversationHistorySnake
	}
	if req.SessionID == "" {
		req.SessionID = w.SessionIDSnake
	}
	if err := validateRequest(req); err != nil {
		return runtime.Request{}, err
	}
	return req, nil
}

// =============================================================================
// RPCs
// =============================================================================

// Generate runs one request to completion.
func (s *OutreachServer) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	resp := s.runner.Run(ctx, req)
	out, err := ToStruct(resp)
	if err != nil {
		return nil, Internal("encode response", err)
	}
	s.logger.Info("generate_completed",
		"request_id", resp.RequestID,
		"session_id", resp.SessionID,
		"channels", len(resp.Content),
	)
	return out, nil
}

// classification is the Classify response document.
type classification struct {
	Decision         string           `json:"decision"`
	Confidence       int              `json:"confidence"`
	Reason           string           `json:"reason,omitempty"`
	Channels         []string         `json:"channels"`
	AllChannels      bool             `json:"all_channels"`
	ChannelsExplicit bool             `json:"channels_explicit"`
	FastPath         bool             `json:"fast_path"`
	Reply            string           `json:"reply,omitempty"`
	Faults           []envelope.Fault `json:"faults,omitempty"`
}

// Classify routes a request without drafting.
func (s *OutreachServer) Classify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	route, err := s.runner.Classify(ctx, req)
	if err != nil {
		return nil, Unavailable("classify", err)
	}
	channels := make([]string, len(route.Channels))
	for i, c := range route.Channels {
		channels[i] = string(c)
	}
	out, err := ToStruct(classification{
		Decision:         string(route.Decision),
		Confidence:       route.Confidence,
		Reason:           route.Reason,
		Channels:         channels,
		AllChannels:      route.AllChannels,
		ChannelsExplicit: route.ChannelsExplicit,
		FastPath:         route.FastPath,
		Reply:            route.Reply,
		Faults:           route.Faults,
	})
	if err != nil {
		return nil, Internal("encode classification", err)
	}
	return out, nil
}

// GenerateStream runs one request and streams its progress events. The last
// event has type "final" and carries the response.
func (s *OutreachServer) GenerateStream(in *structpb.Struct, stream OutreachService_GenerateStreamServer) error {
	req, err := decodeRequest(in)
	if err != nil {
		return err
	}
	sent := 0
	for ev := range s.runner.Stream(stream.Context(), req) {
		msg, err := ToStruct(ev)
		if err != nil {
			return Internal("encode event", err)
		}
		if err := stream.Send(msg); err != nil {
			s.logger.Warn("generate_stream_send_failed", "request_id", ev.RequestID, "error", err.Error())
			return err
		}
		sent++
	}
	s.logger.Debug("generate_stream_completed", "events", sent)
	return nil
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer registers the outreach service on a new grpc.Server.
// With no options the standard interceptors are installed.
func NewGracefulServer(service *OutreachServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(service.logger, nil)
	}
	grpcServer := grpc.NewServer(opts...)
	RegisterOutreachServiceServer(grpcServer, service)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     service.logger,
		address:    address,
	}
}

// Start listens on the server address and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting connections and waits for in-flight RPCs.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout stops gracefully, forcing an immediate stop when the
// in-flight RPCs outlast timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
		<-done
	}
}

// GetGRPCServer returns the underlying grpc.Server.
func (s *GracefulServer) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
