package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/config"
)

// Sweeper removes expired orders.
type Sweeper interface {
	Sweep(ctx context.Context) []int64
}

// SaveRequester triggers a debounced snapshot.
type SaveRequester interface {
	RequestSave(ctx context.Context) bool
}

// Maintenance runs the expiry sweep followed by a snapshot request on a fixed interval.
type Maintenance struct {
	sweeper  Sweeper
	saver    SaveRequester
	delay    time.Duration
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenance builds the maintenance loop.
func NewMaintenance(sweeper Sweeper, saver SaveRequester, delay, interval time.Duration, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		sweeper:  sweeper,
		saver:    saver,
		delay:    delay,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the loop. The first run happens after the configured delay.
func (m *Maintenance) Start(context.Context) error {
	if m.interval <= 0 {
		m.logger.Info("ledger maintenance disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()

	m.logger.Info("ledger maintenance scheduled",
		zap.Duration("delay", m.delay),
		zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels the loop and waits for an in-progress run.
func (m *Maintenance) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunOnce performs a single maintenance pass.
func (m *Maintenance) RunOnce(ctx context.Context) {
	removed := m.sweeper.Sweep(ctx)
	scheduled := m.saver.RequestSave(ctx)
	m.logger.Debug("ledger maintenance pass",
		zap.Int("expired", len(removed)),
		zap.Bool("save_scheduled", scheduled))
}

func (m *Maintenance) loop(ctx context.Context) {
	timer := time.NewTimer(m.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	m.RunOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Sweeper Sweeper
	Saver   SaveRequester
	Config  config.Config
	Logger  *zap.Logger
}

// New builds the maintenance loop from configuration.
func New(p Params) *Maintenance {
	return NewMaintenance(p.Sweeper, p.Saver, p.Config.Ledger.MaintenanceDelay, p.Config.Ledger.MaintenanceInterval, p.Logger.Named("maintenance"))
}

// Module wires the maintenance loop into the Fx lifecycle.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, m *Maintenance) {
		lc.Append(fx.Hook{
			OnStart: m.Start,
			OnStop:  m.Stop,
		})
	}),
)
