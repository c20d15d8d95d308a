package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// State tracks whether an operator has dealt with an entry.
type State string

const (
	StatePending  State = "PENDING"
	StateResolved State = "RESOLVED"
)

// ErrNotFound is returned by Resolve for an unknown sequence number.
var ErrNotFound = errors.New("journal entry not found")

// Entry records a payout that could not be credited.
type Entry struct {
	Seq        uint64    `json:"seq"`
	OrderID    int64     `json:"orderId"`
	Deliverer  uuid.UUID `json:"deliverer"`
	Quantity   int64     `json:"quantity"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason"`
	State      State     `json:"state"`
	RecordedAt time.Time `json:"recordedAt"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`
}

const (
	prefix = "credit/"
	upper  = "credit/~"
)

// Journal is a durable, append-mostly log of failed credits backed by pebble.
type Journal struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// Open opens or creates the journal in dir.
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}

	last, err := j.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.seq.Store(last)
	return j, nil
}

// Close flushes and closes the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a pending entry and returns it with its sequence number.
func (j *Journal) Record(e Entry) (Entry, error) {
	e.Seq = j.seq.Add(1)
	e.State = StatePending
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if err := j.put(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Resolve marks an entry as handled.
func (j *Journal) Resolve(seq uint64, at time.Time) (Entry, error) {
	val, closer, err := j.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = json.Unmarshal(val, &e)
	_ = closer.Close()
	if err != nil {
		return Entry{}, fmt.Errorf("decode journal entry %d: %w", seq, err)
	}

	e.State = StateResolved
	e.ResolvedAt = at
	if err := j.put(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Scan calls fn for every entry in sequence order. An empty state matches all entries.
func (j *Journal) Scan(state State, fn func(Entry) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("decode journal key %s: %w", iter.Key(), err)
		}
		if state != "" && e.State != state {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// List collects entries matching state.
func (j *Journal) List(state State) ([]Entry, error) {
	var out []Entry
	err := j.Scan(state, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

func (j *Journal) put(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Set(keyFor(e.Seq), val, pebble.Sync)
}

func (j *Journal) lastSeq() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(prefix))), 10, 64)
}
