package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWorkerConfig(t *testing.T) {
	cfg := DefaultWorkerConfig("test-queue")

	assert.Equal(t, "test-queue", cfg.TaskQueue)
	assert.Equal(t, 1, cfg.MaxConcurrentActivityExecutionSize)
	assert.Equal(t, 10, cfg.MaxConcurrentWorkflowTaskExecutionSize)
}

func TestNewWorkerManager(t *testing.T) {
	t.Run("errors when task queue is empty", func(t *testing.T) {
		_, err := NewWorkerManager(nil, WorkerConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task queue is required")
	})
}

func TestWorkerOptionsFromConfig(t *testing.T) {
	t.Run("zero values get defaults", func(t *testing.T) {
		opts := workerOptionsFromConfig(WorkerConfig{})

		assert.Equal(t, 1, opts.MaxConcurrentActivityExecutionSize)
		assert.Equal(t, 10, opts.MaxConcurrentWorkflowTaskExecutionSize)
	})

	t.Run("non-zero values are preserved", func(t *testing.T) {
		opts := workerOptionsFromConfig(WorkerConfig{
			MaxConcurrentActivityExecutionSize:     4,
			MaxConcurrentWorkflowTaskExecutionSize: 75,
		})

		assert.Equal(t, 4, opts.MaxConcurrentActivityExecutionSize)
		assert.Equal(t, 75, opts.MaxConcurrentWorkflowTaskExecutionSize)
	})
}
