package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atspro/task-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopHandler struct {
	taskType string
}

func (h *noopHandler) Type() string { return h.taskType }

func (h *noopHandler) Execute(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	h := &noopHandler{taskType: "alpha"}
	require.NoError(t, r.Register(h))

	got, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Same(t, h, got)

	_, ok = r.Get("beta")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&noopHandler{taskType: "alpha"}))

	err := r.Register(&noopHandler{taskType: "alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
}

func TestRegistryRejectsEmptyType(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&noopHandler{taskType: ""})
	require.Error(t, err)
}

func TestRegistrySupports(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&noopHandler{taskType: "alpha"}))

	assert.True(t, r.Supports("alpha"))
	assert.False(t, r.Supports("beta"))
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&noopHandler{taskType: "zeta"}))
	require.NoError(t, r.Register(&noopHandler{taskType: "alpha"}))
	require.NoError(t, r.Register(&noopHandler{taskType: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Types())
}

func TestFatalClassification(t *testing.T) {
	base := errors.New("bad input")

	assert.False(t, IsFatal(base))
	assert.True(t, IsFatal(Fatal(base)))
	assert.Nil(t, Fatal(nil))

	// Wrapping preserves both the classification and the original error.
	wrapped := Fatal(base)
	assert.ErrorIs(t, wrapped, base)
}
