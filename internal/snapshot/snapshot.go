package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Additional-Code/bazaar/internal/entity"
	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

var (
	tracer = otel.Tracer("github.com/Additional-Code/bazaar/snapshot")
	meter  = otel.Meter("github.com/Additional-Code/bazaar/snapshot")
)

// ErrPersistenceFailure reports a snapshot that could not be written. The previous file is untouched.
var ErrPersistenceFailure = errorbank.Internal("order snapshot could not be written", errorbank.WithCode("persistence_failure"))

// Store is the view of the order store the snapshot needs.
type Store interface {
	Snapshot() map[int64]entity.Order
	Watermark() int64
	Restore(entity.Order)
	AdvanceWatermark(next int64)
}

// RestoreReport summarises a restore run.
type RestoreReport struct {
	Restored int
	Skipped  int
	NextID   int64
}

// Persister mirrors the order store to a YAML file.
type Persister struct {
	store  Store
	path   string
	logger *zap.Logger

	pending  atomic.Bool
	inflight sync.WaitGroup
	// writeMu serialises writers sharing the temp file.
	writeMu sync.Mutex

	saveDuration metric.Float64Histogram
	saveFailures metric.Int64Counter
}

// NewPersister builds a persister writing to path.
func NewPersister(store Store, path string, logger *zap.Logger) *Persister {
	p := &Persister{store: store, path: path, logger: logger}

	var err error
	p.saveDuration, err = meter.Float64Histogram("ledger.snapshot.duration",
		metric.WithDescription("Time spent writing the order snapshot"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("snapshot duration histogram unavailable", zap.Error(err))
	}
	p.saveFailures, err = meter.Int64Counter("ledger.snapshot.failures",
		metric.WithDescription("Snapshot writes that failed"))
	if err != nil {
		logger.Warn("snapshot failure counter unavailable", zap.Error(err))
	}
	return p
}

// Path is the durable snapshot file.
func (p *Persister) Path() string {
	return p.path
}

// RestoreAll loads the snapshot file into the store. A missing file leaves the store
// empty. Records that fail to decode are skipped with a warning.
func (p *Persister) RestoreAll(ctx context.Context) (RestoreReport, error) {
	_, span := tracer.Start(ctx, "Snapshot.RestoreAll")
	defer span.End()

	var report RestoreReport
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		p.logger.Info("no order snapshot found; starting empty", zap.String("path", p.path))
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read snapshot: %w", err)
	}

	var doc rawDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return report, fmt.Errorf("parse snapshot %s: %w", p.path, err)
	}

	keys := make([]string, 0, len(doc.Orders))
	for k := range doc.Orders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var rec orderRecord
		node := doc.Orders[key]
		if err := node.Decode(&rec); err != nil {
			report.Skipped++
			p.logger.Warn("skipping unreadable order record", zap.String("key", key), zap.Error(err))
			continue
		}
		o, skipped, err := decode(key, rec)
		if err != nil {
			report.Skipped++
			p.logger.Warn("skipping unreadable order record", zap.String("key", key), zap.Error(err))
			continue
		}
		for _, raw := range skipped {
			p.logger.Warn("dropping invalid trusted collector",
				zap.Int64("order_id", o.ID), zap.String("identity", raw))
		}
		p.store.Restore(o)
		report.Restored++
	}

	var nextID int64
	if doc.NextID.Kind != 0 {
		if err := doc.NextID.Decode(&nextID); err != nil {
			p.logger.Warn("ignoring unreadable id watermark", zap.Error(err))
		}
	}
	p.store.AdvanceWatermark(nextID)
	report.NextID = p.store.Watermark()
	span.SetAttributes(
		attribute.Int("snapshot.restored", report.Restored),
		attribute.Int("snapshot.skipped", report.Skipped),
	)
	p.logger.Info("order snapshot restored",
		zap.Int("restored", report.Restored),
		zap.Int("skipped", report.Skipped),
		zap.Int64("next_id", report.NextID))
	return report, nil
}

// SaveNow writes the current store synchronously. The previous file stays valid until
// the replacement has been fully written.
func (p *Persister) SaveNow(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Snapshot.SaveNow")
	defer span.End()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := time.Now()
	err := p.write()
	if p.saveDuration != nil {
		p.saveDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		if p.saveFailures != nil {
			p.saveFailures.Add(ctx, 1)
		}
		p.logger.Error("order snapshot write failed", zap.String("path", p.path), zap.Error(err))
		return ErrPersistenceFailure.Wrap(errorbank.WithCause(err))
	}
	return nil
}

// RequestSave schedules one asynchronous SaveNow unless a save is already pending or
// running, in which case it does nothing and returns false.
func (p *Persister) RequestSave(ctx context.Context) bool {
	if !p.pending.CompareAndSwap(false, true) {
		return false
	}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.pending.Store(false)
		// failures are logged by SaveNow and retried on the next request
		_ = p.SaveNow(context.WithoutCancel(ctx))
	}()
	return true
}

// Wait blocks until any in-flight asynchronous save finishes.
func (p *Persister) Wait() {
	p.inflight.Wait()
}

func (p *Persister) write() error {
	orders := p.store.Snapshot()
	doc := fileDoc{
		NextID: p.store.Watermark(),
		Orders: make(map[string]orderRecord, len(orders)),
	}
	for id, o := range orders {
		doc.Orders[strconv.FormatInt(id, 10)] = encode(o)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, p.path); err != nil {
		p.logger.Warn("atomic rename failed; falling back to copy", zap.Error(err))
		if cerr := copyFile(tmp, p.path); cerr != nil {
			return fmt.Errorf("replace snapshot: %w", errors.Join(err, cerr))
		}
		_ = os.Remove(tmp)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
