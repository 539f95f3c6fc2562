package assistant

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Outcome classifies how a feedback task ended.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	TimedOut  Outcome = "timed_out"
	Failed    Outcome = "failed"
)

// Result is the typed result of a feedback task. Text is set only when
// Outcome is Succeeded; Err is set otherwise.
type Result struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Task is an in-flight feedback round trip.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	result Result
}

// StartFeedback starts the assistant round trip in the background. The task
// ends when the run completes, fails, exceeds the configured timeout, or ctx is
// cancelled. A timed-out or cancelled run is cancelled remotely.
func (c *Client) StartFeedback(ctx context.Context, assistantID, prompt string) *Task {
	taskCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	t := &Task{done: make(chan struct{}), cancel: cancel}

	if c.opts.APIKey == "" || assistantID == "" {
		cancel()
		t.finish(Result{Outcome: Failed, Err: ErrNotConfigured})
		return t
	}

	go func() {
		defer cancel()

		var (
			mu              sync.Mutex
			threadID, runID string
		)
		text, err := c.roundTrip(taskCtx, assistantID, prompt, func(th, run string) {
			mu.Lock()
			threadID, runID = th, run
			mu.Unlock()
		})
		if err == nil {
			t.finish(Result{Outcome: Succeeded, Text: text})
			return
		}

		mu.Lock()
		th, run := threadID, runID
		mu.Unlock()
		if taskCtx.Err() != nil && run != "" {
			c.cancelRun(th, run)
		}

		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("assistant feedback timed out", zap.String("assistant_id", assistantID), zap.Duration("timeout", c.opts.Timeout))
			t.finish(Result{Outcome: TimedOut, Err: context.DeadlineExceeded})
			return
		}
		if taskCtx.Err() != nil {
			err = taskCtx.Err()
		}
		t.finish(Result{Outcome: Failed, Err: err})
	}()
	return t
}

func (t *Task) finish(r Result) {
	t.result = r
	close(t.done)
}

// Done is closed when the task has a result.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the task. Wait still returns its final result.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes or ctx is done. When ctx ends first the
// task is cancelled and its final result is returned.
func (t *Task) Wait(ctx context.Context) Result {
	select {
	case <-t.done:
	case <-ctx.Done():
		t.cancel()
		<-t.done
	}
	return t.result
}
