package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"peerlend/internal/engine"
	"peerlend/internal/observability"

	"github.com/google/uuid"
)

// SnapshotStore persists full engine state snapshots to Postgres. On
// restart the latest snapshot is imported before the command stream is
// opened, so matching queue order survives the restart.
type SnapshotStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewSnapshotStore(db *sql.DB, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{db: db, metrics: metrics}
}

// Save writes the state as one JSON document. Ray-scaled amounts survive
// the round trip because uint256 marshals losslessly.
func (ss *SnapshotStore) Save(ctx context.Context, state *engine.State) error {
	start := time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO peerlend.snapshots (snapshot_id, taken_at, size_bytes, data)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), time.Unix(state.Timestamp, 0).UTC(), len(data), data)
	if err != nil {
		if ss.metrics != nil {
			ss.metrics.SnapshotErrors.Inc()
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if ss.metrics != nil {
		ss.metrics.SnapshotTaken.Inc()
		ss.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// LoadLatest returns the most recent snapshot, or (nil, nil) on a cold
// start with no snapshot rows.
func (ss *SnapshotStore) LoadLatest(ctx context.Context) (*engine.State, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT data FROM peerlend.snapshots
		ORDER BY taken_at DESC, snapshot_id DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &state, nil
}

// Prune deletes all but the newest keep snapshots.
func (ss *SnapshotStore) Prune(ctx context.Context, keep int) error {
	_, err := ss.db.ExecContext(ctx, `
		DELETE FROM peerlend.snapshots
		WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM peerlend.snapshots
			ORDER BY taken_at DESC, snapshot_id DESC
			LIMIT $1
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Run takes a snapshot every interval until ctx is cancelled. Errors are
// counted and logged by the caller's metrics; snapshotting never stops
// the engine.
func (ss *SnapshotStore) Run(ctx context.Context, eng *engine.Engine, interval time.Duration, keep int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ss.Save(ctx, eng.ExportState()); err != nil {
				continue
			}
			ss.Prune(ctx, keep)
		}
	}
}
