package commbus

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel causes; match with errors.Is.
var (
	ErrNoHandler         = errors.New("no handler registered")
	ErrHandlerRegistered = errors.New("handler already registered")
	ErrQueryTimeout      = errors.New("query timed out")
)

// BusError reports a failed bus operation on one message type.
type BusError struct {
	MessageType string
	Timeout     time.Duration // set for ErrQueryTimeout
	Err         error
}

func (e *BusError) Error() string {
	if errors.Is(e.Err, ErrQueryTimeout) {
		return fmt.Sprintf("query %s timed out after %s", e.MessageType, e.Timeout)
	}
	return fmt.Sprintf("%s for %s", e.Err, e.MessageType)
}

func (e *BusError) Unwrap() error { return e.Err }

func noHandler(messageType string) error {
	return &BusError{MessageType: messageType, Err: ErrNoHandler}
}

func handlerRegistered(messageType string) error {
	return &BusError{MessageType: messageType, Err: ErrHandlerRegistered}
}

func queryTimeout(messageType string, timeout time.Duration) error {
	return &BusError{MessageType: messageType, Timeout: timeout, Err: ErrQueryTimeout}
}
