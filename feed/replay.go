// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/metrics"
	"github.com/luxfi/lending-indexer/storage"
)

// CheckpointKey is the meta key the replay position is stored under.
const CheckpointKey = "replay:checkpoint"

const maxLineSize = 4 << 20

var ErrOutOfOrder = errors.New("feed: event out of order")

// Applier consumes events; *ledger.Engine implements it.
type Applier interface {
	Apply(ctx context.Context, ev ledger.Event) error
}

// MetaStore persists the checkpoint. GetMeta returns storage.ErrNotFound
// when the key is absent.
type MetaStore interface {
	PutMeta(ctx context.Context, key string, value []byte) error
	GetMeta(ctx context.Context, key string) ([]byte, error)
}

// Position orders events within the chain.
type Position struct {
	Block    uint64 `json:"block"`
	TxIndex  uint   `json:"txIndex"`
	LogIndex uint   `json:"logIndex"`
}

func positionOf(m ledger.Meta) Position {
	return Position{Block: m.BlockNumber, TxIndex: m.TxIndex, LogIndex: m.LogIndex}
}

// Less reports whether p comes strictly before o.
func (p Position) Less(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	if p.TxIndex != o.TxIndex {
		return p.TxIndex < o.TxIndex
	}
	return p.LogIndex < o.LogIndex
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d/%d", p.Block, p.TxIndex, p.LogIndex)
}

// Checkpoint is the last applied position of a replay run.
type Checkpoint struct {
	RunID         string    `json:"runId"`
	Position      Position  `json:"position"`
	EventID       string    `json:"eventId"`
	EventsApplied uint64    `json:"eventsApplied"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Stats summarizes a Run.
type Stats struct {
	Lines   int
	Applied int
	Skipped int
}

type ReplayerConfig struct {
	Applier Applier
	Meta    MetaStore
	Logger  *zap.Logger
	Metrics *metrics.Ledger
}

// Replayer applies events one at a time in strictly ascending chain order
// and persists a checkpoint after each one.
type Replayer struct {
	applier Applier
	meta    MetaStore
	log     *zap.Logger
	metrics *metrics.Ledger
	now     func() time.Time

	runID string
	last  *Position
	// resumeAt is the restored checkpoint; events at or before it are skipped.
	resumeAt *Position
	applied  uint64
}

func NewReplayer(cfg ReplayerConfig) (*Replayer, error) {
	if cfg.Applier == nil {
		return nil, errors.New("feed: applier required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{
		applier: cfg.Applier,
		meta:    cfg.Meta,
		log:     log,
		metrics: cfg.Metrics,
		now:     time.Now,
		runID:   uuid.NewString(),
	}, nil
}

// RunID identifies this replay run in checkpoints and logs.
func (r *Replayer) RunID() string { return r.runID }

// LoadCheckpoint reads the stored checkpoint, or returns nil when there is
// none.
func LoadCheckpoint(ctx context.Context, meta MetaStore) (*Checkpoint, error) {
	raw, err := meta.GetMeta(ctx, CheckpointKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Resume restores the stored checkpoint so that already applied events are
// skipped. It returns the checkpoint, or nil when starting fresh.
func (r *Replayer) Resume(ctx context.Context) (*Checkpoint, error) {
	if r.meta == nil {
		return nil, nil
	}
	cp, err := LoadCheckpoint(ctx, r.meta)
	if err != nil || cp == nil {
		return nil, err
	}
	pos := cp.Position
	r.resumeAt = &pos
	r.last = &pos
	r.applied = cp.EventsApplied
	r.metrics.SetCheckpoint(pos.Block)
	r.log.Info("resuming replay",
		zap.String("run", r.runID),
		zap.String("previousRun", cp.RunID),
		zap.Stringer("position", pos),
		zap.Uint64("eventsApplied", cp.EventsApplied))
	return cp, nil
}

// Apply applies one event. It returns false when the event was skipped
// because it lies at or before the resume checkpoint.
func (r *Replayer) Apply(ctx context.Context, ev ledger.Event) (bool, error) {
	m := ev.EventMeta()
	pos := positionOf(m)

	if r.resumeAt != nil && !r.resumeAt.Less(pos) {
		r.metrics.IncSkipped()
		return false, nil
	}
	if r.last != nil && !r.last.Less(pos) {
		return false, fmt.Errorf("%w: %s %s after %s", ErrOutOfOrder, ev.Kind(), pos, *r.last)
	}

	if err := r.applier.Apply(ctx, ev); err != nil {
		return false, err
	}
	r.last = &pos
	r.applied++

	if err := r.saveCheckpoint(ctx, pos, m.ID()); err != nil {
		return true, err
	}
	return true, nil
}

func (r *Replayer) saveCheckpoint(ctx context.Context, pos Position, eventID string) error {
	if r.meta == nil {
		return nil
	}
	raw, err := json.Marshal(Checkpoint{
		RunID:         r.runID,
		Position:      pos,
		EventID:       eventID,
		EventsApplied: r.applied,
		UpdatedAt:     r.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := r.meta.PutMeta(ctx, CheckpointKey, raw); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	r.metrics.SetCheckpoint(pos.Block)
	return nil
}

// Run reads JSON lines from src and applies them until EOF, the first
// error or context cancellation. Blank lines are ignored.
func (r *Replayer) Run(ctx context.Context, src io.Reader) (Stats, error) {
	var stats Stats
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := DecodeLine(line)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		applied, err := r.Apply(ctx, ev)
		if err != nil {
			r.log.Error("replay stopped",
				zap.String("run", r.runID),
				zap.Int("line", stats.Lines),
				zap.Error(err))
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		if applied {
			stats.Applied++
		} else {
			stats.Skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read feed: %w", err)
	}

	r.log.Info("replay finished",
		zap.String("run", r.runID),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}
