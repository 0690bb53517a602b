package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// ExecutionHandle represents a single in-flight turn started with
// Manager.Start.
//
// It is cancelable and waitable. The underlying turn is always driven by context cancellation.
type ExecutionHandle struct {
	SessionID string
	TurnID    string
	Input     string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	out    *Result
	err    error
}

func newExecutionHandle(sessionID, turnID, input string, cancel context.CancelFunc) *ExecutionHandle {
	return &ExecutionHandle{
		SessionID: sessionID,
		TurnID:    turnID,
		Input:     input,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

func (h *ExecutionHandle) setResult(out *Result, err error) {
	h.mu.Lock()
	h.out = out
	h.err = err
	close(h.done)
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel cancels the in-flight turn. It is safe to call multiple times.
func (h *ExecutionHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the turn completes and returns its result and error.
func (h *ExecutionHandle) Wait() (*Result, error) {
	if h == nil {
		return nil, ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}

// Done is closed once the turn has completed.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// IsRunning reports whether the turn appears to still be running.
func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
