package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Sweep(context.Context) []int64 {
	r.add("sweep")
	return nil
}

func (r *recorder) RequestSave(context.Context) bool {
	r.add("save")
	return true
}

func TestMaintenance_SweepsThenSaves(t *testing.T) {
	rec := &recorder{}
	m := NewMaintenance(rec, rec, time.Millisecond, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 4 }, time.Second, time.Millisecond)
	require.NoError(t, m.Stop(context.Background()))

	calls := rec.snapshot()
	for i := 0; i+1 < len(calls); i += 2 {
		assert.Equal(t, []string{"sweep", "save"}, calls[i:i+2])
	}

	after := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, len(rec.snapshot()), "no runs after stop")
}

func TestMaintenance_DisabledWithoutInterval(t *testing.T) {
	rec := &recorder{}
	m := NewMaintenance(rec, rec, 0, 0, zap.NewNop())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Empty(t, rec.snapshot())
}
