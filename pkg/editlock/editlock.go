// Package editlock implements the Edit-Lock Manager: acquisition and
// release of edit_history_transient rows in a single atomic SQL round
// trip, backed by a pgxpool.Pool. This is deliberately the stateless,
// database-is-the-lock-table design; it does not cache rows in process
// memory the way an older, since-superseded implementation did.
package editlock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cuemby/contour/pkg/types"
)

const defaultTable = "edit_history_transient"

// DB is the subset of pgxpool.Pool this package needs, narrowed so tests
// can substitute pgxmock.PgxPoolIface for a real pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Manager implements pkg/scenario.LockManager against a single
// edit_history_transient table.
type Manager struct {
	pool   DB
	table  string
	nextID int64
}

// New wraps an existing pgx pool (or any DB-shaped fake). Callers own the
// pool's lifetime.
func New(pool DB) *Manager {
	return &Manager{pool: pool, table: defaultTable}
}

// ResetStaleLocks clears every lock_id left over from a previous process
// (a crash mid-lock otherwise leaves rows permanently unavailable). Call
// once at startup before serving any task.
func (m *Manager) ResetStaleLocks(ctx context.Context) (int64, error) {
	tag, err := m.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET lock_id = 0 WHERE lock_id != 0`, m.table))
	if err != nil {
		return 0, fmt.Errorf("reset stale locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Lock atomically claims every free row matching any of pairs, in one SQL
// round trip: the UPDATE's WHERE lock_id = 0 guarantees two concurrent
// Lock calls can never claim the same row.
func (m *Manager) Lock(ctx context.Context, pairs []types.TypeSubtype) (types.LockedData, error) {
	if len(pairs) == 0 {
		return types.LockedData{}, fmt.Errorf("lock: no (type, subtype) pairs given")
	}

	lockID := atomic.AddInt64(&m.nextID, 1)

	var onlyTypes []string
	var pairTypes, pairSubtypes []string
	for _, p := range pairs {
		if p.Subtype == "" {
			onlyTypes = append(onlyTypes, p.Type)
		} else {
			pairTypes = append(pairTypes, p.Type)
			pairSubtypes = append(pairSubtypes, p.Subtype)
		}
	}

	query := fmt.Sprintf(`
WITH pairs AS (
  SELECT * FROM unnest($2::text[], $3::text[]) AS p(type_id, subtype_id)
), updated AS (
  UPDATE %s SET lock_id = $1
  WHERE lock_id = 0
    AND ( (type_id, subtype_id) IN (SELECT type_id, subtype_id FROM pairs)
          OR type_id = ANY($4::text[]) )
  RETURNING id
)
SELECT id, qtree_id, type_id, subtype_id, changed, lock_id
FROM %s WHERE id IN (SELECT id FROM updated)`, m.table, m.table)

	rows, err := m.pool.Query(ctx, query, lockID, pairTypes, pairSubtypes, onlyTypes)
	if err != nil {
		return types.LockedData{}, fmt.Errorf("lock acquire: %w", err)
	}
	defer rows.Close()

	locked := types.LockedData{LockID: lockID, Cells: map[types.TypeSubtype][]int64{}}
	for rows.Next() {
		var row types.HistoryRow
		var changed time.Time
		if err := rows.Scan(&row.ID, &row.QuadtreeCellIndex, &row.TypeID, &row.SubtypeID, &changed, &row.LockID); err != nil {
			return types.LockedData{}, fmt.Errorf("lock scan: %w", err)
		}
		row.Changed = changed
		locked.Rows = append(locked.Rows, row)
		key := types.TypeSubtype{Type: row.TypeID, Subtype: row.SubtypeID}
		locked.Cells[key] = append(locked.Cells[key], row.QuadtreeCellIndex)
	}
	if err := rows.Err(); err != nil {
		return types.LockedData{}, fmt.Errorf("lock rows: %w", err)
	}
	return locked, nil
}

// Unlock releases every row held under data.LockID: deletes them on
// success (they are "spent"), or clears lock_id back to 0 on failure so
// they become re-lockable.
func (m *Manager) Unlock(ctx context.Context, data types.LockedData, success bool) error {
	if len(data.Rows) == 0 {
		return nil
	}
	var sql string
	if success {
		sql = fmt.Sprintf(`DELETE FROM %s WHERE lock_id = $1`, m.table)
	} else {
		sql = fmt.Sprintf(`UPDATE %s SET lock_id = 0 WHERE lock_id = $1`, m.table)
	}
	if _, err := m.pool.Exec(ctx, sql, data.LockID); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	return nil
}
