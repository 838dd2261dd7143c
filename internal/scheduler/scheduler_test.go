package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []usecase.RunParams
}

func (r *recordingRunner) Run(ctx context.Context, p usecase.RunParams) (*models.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	return &models.RunReport{RunID: "r"}, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRegisterRejectsBadExpressions(t *testing.T) {
	s := New(&recordingRunner{}, Config{RefreshCron: "not a cron"})
	assert.Error(t, s.Register())
}

func TestTasksPassRunParams(t *testing.T) {
	r := &recordingRunner{}
	s := New(r, Config{})
	s.Refresh()
	s.Backtest()
	require.Len(t, r.calls, 2)
	assert.False(t, r.calls[0].Backtest)
	assert.True(t, r.calls[1].Backtest)
}

func TestCronFiresRefresh(t *testing.T) {
	r := &recordingRunner{}
	s := New(r, Config{RefreshCron: "* * * * * *"})
	require.NoError(t, s.Register())
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	assert.Eventually(t, func() bool { return r.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunOnStart(t *testing.T) {
	r := &recordingRunner{}
	s := New(r, Config{RunOnStart: true})
	require.NoError(t, s.Register())
	s.Start()
	assert.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}
