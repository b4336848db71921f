package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/temporal"
)

type call struct {
	action     string
	workflowID string
	reason     string
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeController) Stop(_ context.Context, workflowID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{action: ActionStop, workflowID: workflowID, reason: reason})
	return f.err
}

func (f *fakeController) Cancel(_ context.Context, workflowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{action: ActionCancel, workflowID: workflowID})
	return f.err
}

// sliceReader returns its messages in order, then blocks until ctx ends.
type sliceReader struct {
	msgs   []kafka.Message
	closed bool
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("stop", func(t *testing.T) {
		ctrl := &fakeController{}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		require.NoError(t, l.handle(ctx, Command{Batch: "review", Action: ActionStop, Reason: "budget"}))
		assert.Equal(t, []call{{action: ActionStop, workflowID: "askllm-batch-review", reason: "budget"}}, ctrl.calls)
	})

	t.Run("stop default reason", func(t *testing.T) {
		ctrl := &fakeController{}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		require.NoError(t, l.handle(ctx, Command{Batch: "review", Action: ActionStop}))
		assert.Equal(t, "control topic", ctrl.calls[0].reason)
	})

	t.Run("cancel", func(t *testing.T) {
		ctrl := &fakeController{}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		require.NoError(t, l.handle(ctx, Command{Batch: "review", Action: ActionCancel}))
		assert.Equal(t, []call{{action: ActionCancel, workflowID: "askllm-batch-review"}}, ctrl.calls)
	})

	t.Run("unknown batch is ignored", func(t *testing.T) {
		ctrl := &fakeController{err: &temporal.TemporalError{Op: "Stop", Kind: temporal.ErrWorkflowNotFound}}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		assert.NoError(t, l.handle(ctx, Command{Batch: "gone", Action: ActionStop}))
	})

	t.Run("controller error", func(t *testing.T) {
		ctrl := &fakeController{err: errors.New("unavailable")}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		assert.EqualError(t, l.handle(ctx, Command{Batch: "review", Action: ActionCancel}), "unavailable")
	})

	t.Run("invalid commands", func(t *testing.T) {
		ctrl := &fakeController{}
		l := newListener(&sliceReader{}, ctrl, zerolog.Nop())
		assert.Error(t, l.handle(ctx, Command{Action: ActionStop}))
		assert.Error(t, l.handle(ctx, Command{Batch: "review", Action: "pause"}))
		assert.Empty(t, ctrl.calls)
	})
}

func TestRun_SkipsBadMessages(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{
		{Value: []byte(`not json`)},
		{Value: []byte(`{"batch":"a","action":"pause"}`)},
		{Value: []byte(`{"batch":"a","action":"stop"}`)},
		{Value: []byte(`{"batch":"b","action":"cancel"}`)},
	}}
	ctrl := &fakeController{}
	l := newListener(reader, ctrl, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.calls) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "askllm-batch-a", ctrl.calls[0].workflowID)
	assert.Equal(t, ActionCancel, ctrl.calls[1].action)

	require.NoError(t, l.Close())
	assert.True(t, reader.closed)
}
