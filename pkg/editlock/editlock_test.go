package editlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/contour/pkg/types"
)

func setupMock(t *testing.T) (pgxmock.PgxPoolIface, *Manager) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock)
}

func TestLockRejectsEmptyPairs(t *testing.T) {
	_, manager := setupMock(t)

	_, err := manager.Lock(context.Background(), nil)

	assert.Error(t, err)
}

func TestLockReturnsClaimedRowsGroupedByTypeSubtype(t *testing.T) {
	mock, manager := setupMock(t)
	now := time.Now()

	rows := pgxmock.NewRows([]string{"id", "qtree_id", "type_id", "subtype_id", "changed", "lock_id"}).
		AddRow(int64(1), int64(100), "road", "highway", now, int64(1)).
		AddRow(int64(2), int64(101), "road", "highway", now, int64(1))

	mock.ExpectQuery(`WITH pairs AS`).WillReturnRows(rows)

	locked, err := manager.Lock(context.Background(), []types.TypeSubtype{{Type: "road", Subtype: "highway"}})

	require.NoError(t, err)
	assert.Len(t, locked.Rows, 2)
	assert.Equal(t, []int64{100, 101}, locked.Cells[types.TypeSubtype{Type: "road", Subtype: "highway"}])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPropagatesQueryError(t *testing.T) {
	mock, manager := setupMock(t)

	mock.ExpectQuery(`WITH pairs AS`).WillReturnError(errors.New("connection reset"))

	_, err := manager.Lock(context.Background(), []types.TypeSubtype{{Type: "fence"}})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockDeletesRowsOnSuccess(t *testing.T) {
	mock, manager := setupMock(t)

	mock.ExpectExec(`DELETE FROM edit_history_transient WHERE lock_id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	data := types.LockedData{LockID: 5, Rows: []types.HistoryRow{{ID: 1}, {ID: 2}}}
	err := manager.Unlock(context.Background(), data, true)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockResetsLockIDOnFailure(t *testing.T) {
	mock, manager := setupMock(t)

	mock.ExpectExec(`UPDATE edit_history_transient SET lock_id = 0 WHERE lock_id = \$1`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	data := types.LockedData{LockID: 5, Rows: []types.HistoryRow{{ID: 1}, {ID: 2}}}
	err := manager.Unlock(context.Background(), data, false)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockIsNoopWhenNothingWasLocked(t *testing.T) {
	mock, manager := setupMock(t)

	err := manager.Unlock(context.Background(), types.LockedData{}, true)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetStaleLocksClearsLeftoverLockIDs(t *testing.T) {
	mock, manager := setupMock(t)

	mock.ExpectExec(`UPDATE edit_history_transient SET lock_id = 0 WHERE lock_id != 0`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := manager.ResetStaleLocks(context.Background())

	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
