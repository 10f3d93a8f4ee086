package grpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/outreach/coreengine/kernel"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

// =============================================================================
// LOGGING INTERCEPTOR
// =============================================================================

// callerErrors are status codes caused by the caller; they are logged at warn.
var callerErrors = map[codes.Code]bool{
	codes.InvalidArgument:   true,
	codes.NotFound:          true,
	codes.ResourceExhausted: true,
	codes.Canceled:          true,
	codes.DeadlineExceeded:  true,
}

func logResult(logger Logger, event, method string, duration time.Duration, err error) {
	if err == nil {
		logger.Debug(event+"_completed",
			"method", method,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}
	code := status.Code(err)
	log := logger.Error
	if callerErrors[code] {
		log = logger.Warn
	}
	log(event+"_failed",
		"method", method,
		"duration_ms", duration.Milliseconds(),
		"code", code.String(),
		"error", err.Error(),
	)
}

// LoggingInterceptor logs the start, duration and result of each unary call.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started",
			"method", info.FullMethod,
			"caller", callerKey(ctx, req),
		)

		resp, err := handler(ctx, req)
		logResult(logger, "grpc_request", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// StreamLoggingInterceptor logs the start, duration and result of each stream.
func StreamLoggingInterceptor(logger Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		logger.Debug("grpc_stream_started",
			"method", info.FullMethod,
			"server_stream", info.IsServerStream,
		)

		err := handler(srv, ss)
		logResult(logger, "grpc_stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

// =============================================================================
// RECOVERY INTERCEPTOR
// =============================================================================

// RecoveryHandler is called when a panic is recovered.
// It receives the panic value and should return an appropriate error.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal error with panic details.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor turns a panicking unary handler into the error built by
// handler, Internal by default.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		grpcHandler grpc.UnaryHandler,
	) (any, error) {
		resp, err := kernel.SafeExecuteWithResult(logger, info.FullMethod, func() (any, error) {
			return grpcHandler(ctx, req)
		})
		var perr *kernel.PanicError
		if errors.As(err, &perr) {
			return nil, handler(perr.Value)
		}
		return resp, err
	}
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streams.
func StreamRecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}

	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		grpcHandler grpc.StreamHandler,
	) error {
		err := kernel.SafeExecute(logger, info.FullMethod, func() error {
			return grpcHandler(srv, ss)
		})
		var perr *kernel.PanicError
		if errors.As(err, &perr) {
			return handler(perr.Value)
		}
		return err
	}
}

// =============================================================================
// METRICS INTERCEPTOR
// =============================================================================

// MetricsInterceptor records the status code and duration of each unary call.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// StreamMetricsInterceptor records the status code and duration of each stream.
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return err
	}
}

// =============================================================================
// RATE LIMIT INTERCEPTOR
// =============================================================================

// callerKey identifies the caller of a request: its session id when the
// request carries one, else the peer address.
func callerKey(ctx context.Context, req any) string {
	if s, ok := req.(*structpb.Struct); ok {
		for _, field := range []string{"sessionId", "session_id"} {
			if v := s.GetFields()[field].GetStringValue(); v != "" {
				return "session:" + v
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "peer:" + p.Addr.String()
	}
	return "anonymous"
}

func checkRateLimit(limiter *kernel.RateLimiter, logger Logger, ctx context.Context, req any, method string) error {
	caller := callerKey(ctx, req)
	result := limiter.Allow(caller, method)
	if result.Allowed {
		return nil
	}
	logger.Warn("grpc_rate_limited",
		"method", method,
		"caller", caller,
		"limit_type", result.LimitType,
		"current", result.Current,
		"limit", result.Limit,
	)
	return ResourceExhausted(result.LimitType, result.RetryAfter)
}

// RateLimitInterceptor rejects unary calls over the caller's limit with
// ResourceExhausted.
func RateLimitInterceptor(limiter *kernel.RateLimiter, logger Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := checkRateLimit(limiter, logger, ctx, req, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// rateLimitedStream checks the limit when the request message arrives.
type rateLimitedStream struct {
	grpc.ServerStream
	limiter *kernel.RateLimiter
	logger  Logger
	method  string
	once    sync.Once
}

func (s *rateLimitedStream) RecvMsg(m any) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	var err error
	s.once.Do(func() {
		err = checkRateLimit(s.limiter, s.logger, s.Context(), m, s.method)
	})
	return err
}

// StreamRateLimitInterceptor rejects streams over the caller's limit.
func StreamRateLimitInterceptor(limiter *kernel.RateLimiter, logger Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		return handler(srv, &rateLimitedStream{ServerStream: ss, limiter: limiter, logger: logger, method: info.FullMethod})
	}
}

// =============================================================================
// CHAIN INTERCEPTORS
// =============================================================================

// ChainUnaryInterceptors chains multiple unary interceptors together.
// Interceptors are executed in order: first interceptor wraps second, etc.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, currentHandler)
			}
		}
		return chain(ctx, req)
	}
}

// ChainStreamInterceptors chains multiple stream interceptors together.
func ChainStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(srv any, ss grpc.ServerStream) error {
				return interceptor(srv, ss, info, currentHandler)
			}
		}
		return chain(srv, ss)
	}
}

// =============================================================================
// SERVER OPTIONS BUILDER
// =============================================================================

// ServerOptions returns the standard server options: recovery, logging,
// metrics, per-caller rate limiting when limiter is non-nil, and OpenTelemetry
// tracing through the stats handler.
func ServerOptions(logger Logger, limiter *kernel.RateLimiter) []grpc.ServerOption {
	unary := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(logger, nil),
		LoggingInterceptor(logger),
		MetricsInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		StreamRecoveryInterceptor(logger, nil),
		StreamLoggingInterceptor(logger),
		StreamMetricsInterceptor(),
	}
	if limiter != nil {
		unary = append(unary, RateLimitInterceptor(limiter, logger))
		stream = append(stream, StreamRateLimitInterceptor(limiter, logger))
	}

	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(ChainUnaryInterceptors(unary...)),
		grpc.StreamInterceptor(ChainStreamInterceptors(stream...)),
	}
}
