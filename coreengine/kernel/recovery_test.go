package kernel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

// =============================================================================
// SAFE EXECUTE TESTS
// =============================================================================

func TestSafeExecute(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name      string
		fn        func() error
		wantErr   error
		wantPanic bool
	}{
		{"success", func() error { return nil }, nil, false},
		{"error passes through", func() error { return errBoom }, errBoom, false},
		{"panic becomes error", func() error { panic("stage bug") }, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testutil.NewMockLogger()

			err := SafeExecute(logger, "stage.drafting", tt.fn)

			if tt.wantPanic {
				var perr *PanicError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, "stage.drafting", perr.Operation)
				assert.Equal(t, "stage bug", perr.Value)
				assert.NotEmpty(t, perr.Stack)
				assert.Equal(t, "panic in stage.drafting: stage bug", err.Error())
				assert.True(t, logger.HasLog("error", "panic_recovered"))
				return
			}
			assert.Equal(t, tt.wantErr, err)
			assert.False(t, logger.HasLog("error", "panic_recovered"))
		})
	}
}

func TestSafeExecuteNilLogger(t *testing.T) {
	err := SafeExecute(nil, "op", func() error { panic("no logger") })
	assert.Error(t, err)
}

func TestSafeExecuteWithResult(t *testing.T) {
	got, err := SafeExecuteWithResult(nil, "op", func() (Event, error) { return EventDrafted, nil })
	require.NoError(t, err)
	assert.Equal(t, EventDrafted, got)

	got, err = SafeExecuteWithResult(nil, "op", func() (Event, error) {
		panic("mid-stage")
	})
	assert.Error(t, err)
	assert.Equal(t, Event(""), got, "zero value on panic")
}

// =============================================================================
// SAFE GO TESTS
// =============================================================================

func TestSafeGo(t *testing.T) {
	done := make(chan struct{})
	SafeGo(nil, "worker", func() { close(done) }, func(*PanicError) {
		t.Error("unexpected panic callback")
	})
	<-done
}

func TestSafeGoPanic(t *testing.T) {
	logger := testutil.NewMockLogger()
	got := make(chan *PanicError, 1)

	SafeGo(logger, "worker", func() { panic("goroutine panic") }, func(perr *PanicError) {
		got <- perr
	})

	perr := <-got
	assert.Equal(t, "worker", perr.Operation)
	assert.Equal(t, "goroutine panic", perr.Value)
	assert.True(t, logger.HasLog("error", "goroutine_panic_recovered"))
}

func TestSafeGoPanicNilCallback(t *testing.T) {
	logger := testutil.NewMockLogger()
	SafeGo(logger, "worker", func() { panic("unobserved") }, nil)

	assert.Eventually(t, func() bool {
		return logger.HasLog("error", "goroutine_panic_recovered")
	}, time.Second, 5*time.Millisecond)
}
