package grpc

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
)

// Request limits checked before the runtime sees a request.
const (
	maxMessageChars = 20000
	maxHistoryTurns = 100
	maxModelChars   = 100
	maxSessionChars = 128
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// validateRequest rejects requests the runtime cannot use. An empty message
// is valid and answered with a greeting.
func validateRequest(req runtime.Request) error {
	if n := len(req.Message); n > maxMessageChars {
		return InvalidRequest(fmt.Sprintf("message is %d characters, limit %d", n, maxMessageChars))
	}
	if len(req.Model) > maxModelChars {
		return InvalidRequest("model name too long")
	}
	if len(req.SessionID) > maxSessionChars {
		return InvalidRequest("session id too long")
	}
	if n := len(req.History); n > maxHistoryTurns {
		return InvalidRequest(fmt.Sprintf("conversation history has %d turns, limit %d", n, maxHistoryTurns))
	}
	for i, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			return InvalidRequest(fmt.Sprintf("conversation history turn %d: role must be user or assistant", i))
		}
	}
	return nil
}

// =============================================================================
// STATUS ERRORS
// =============================================================================

// InvalidRequest returns a gRPC InvalidArgument error.
func InvalidRequest(reason string) error {
	return status.Errorf(codes.InvalidArgument, "invalid request: %s", reason)
}

// Internal wraps an unexpected server failure.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// Unavailable reports a missing or failing collaborator.
func Unavailable(operation string, cause error) error {
	return status.Errorf(codes.Unavailable, "%s unavailable: %v", operation, cause)
}

// ResourceExhausted returns an error for rate limit violations.
func ResourceExhausted(limitType string, retryAfter float64) error {
	return status.Errorf(codes.ResourceExhausted,
		"rate limit exceeded (%s window), retry after %.0fs", limitType, retryAfter)
}
