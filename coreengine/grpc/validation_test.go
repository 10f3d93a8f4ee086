package grpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
)

func TestValidateRequest(t *testing.T) {
	longHistory := make([]envelope.Message, maxHistoryTurns+1)
	for i := range longHistory {
		longHistory[i] = envelope.Message{Role: "user", Content: "x"}
	}

	tests := []struct {
		name    string
		req     runtime.Request
		wantErr string
	}{
		{"empty message greets", runtime.Request{}, ""},
		{"normal request", runtime.Request{Message: "email Aisha", Model: "gpt-4o-mini", SessionID: "s1",
			History: []envelope.Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}}, ""},
		{"message too long", runtime.Request{Message: strings.Repeat("a", maxMessageChars+1)}, "limit 20000"},
		{"model too long", runtime.Request{Model: strings.Repeat("m", maxModelChars+1)}, "model name too long"},
		{"session too long", runtime.Request{SessionID: strings.Repeat("s", maxSessionChars+1)}, "session id too long"},
		{"history too long", runtime.Request{History: longHistory}, "limit 100"},
		{"bad role", runtime.Request{History: []envelope.Message{{Role: "tool", Content: "x"}}}, "turn 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"invalid", InvalidRequest("x"), codes.InvalidArgument},
		{"internal", Internal("encode", assert.AnError), codes.Internal},
		{"unavailable", Unavailable("classify", assert.AnError), codes.Unavailable},
		{"exhausted", ResourceExhausted("minute", 12), codes.ResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(tt.err))
		})
	}
	assert.Contains(t, ResourceExhausted("minute", 12).Error(), "retry after 12s")
}
