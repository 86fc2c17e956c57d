package sqlitestore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/VinMeld/go-dm/internal/models"
)

func (s *Store) UpsertReadStatuses(ctx context.Context, rows []models.ReadStatus) (err error) {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return errors.Wrap(err, "sqliteStore.UpsertReadStatuses.begin")
	}
	defer endTransaction(&err)

	for _, row := range rows {
		err = sqlitex.Execute(conn, `INSERT INTO read_status (viewer_id, counterpart_id, last_seen_message_id, last_seen_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (viewer_id, counterpart_id) DO UPDATE SET
				last_seen_message_id = excluded.last_seen_message_id,
				last_seen_at = excluded.last_seen_at`,
			&sqlitex.ExecOptions{Args: []any{
				row.ViewerID, row.CounterpartID, row.LastSeenMessageID, nanos(row.LastSeenAt),
			}})
		if err != nil {
			return errors.Wrap(err, "sqliteStore.UpsertReadStatuses.upsert")
		}
	}
	return nil
}

func (s *Store) ListReadStatuses(ctx context.Context, viewer string) ([]models.ReadStatus, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var out []models.ReadStatus
	err = sqlitex.Execute(conn, `SELECT counterpart_id, last_seen_message_id, last_seen_at
		FROM read_status WHERE viewer_id = ? ORDER BY counterpart_id`,
		&sqlitex.ExecOptions{
			Args: []any{viewer},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, models.ReadStatus{
					ViewerID:          viewer,
					CounterpartID:     stmt.ColumnText(0),
					LastSeenMessageID: stmt.ColumnText(1),
					LastSeenAt:        fromNanos(stmt.ColumnInt64(2)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.ListReadStatuses.select")
	}
	return out, nil
}

func (s *Store) DeleteReadStatus(ctx context.Context, viewer, counterpart string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM read_status WHERE viewer_id = ? AND counterpart_id = ?`,
		&sqlitex.ExecOptions{Args: []any{viewer, counterpart}})
	return errors.Wrap(err, "sqliteStore.DeleteReadStatus.delete")
}

func (s *Store) DeleteUserReadStatuses(ctx context.Context, user string) (int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM read_status WHERE viewer_id = ?1 OR counterpart_id = ?1`,
		&sqlitex.ExecOptions{Args: []any{user}})
	if err != nil {
		return 0, errors.Wrap(err, "sqliteStore.DeleteUserReadStatuses.delete")
	}
	return conn.Changes(), nil
}

func (s *Store) PurgeReadStatuses(ctx context.Context, cutoff time.Time) (int, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM read_status WHERE last_seen_at < ?`,
		&sqlitex.ExecOptions{Args: []any{nanos(cutoff)}})
	if err != nil {
		return 0, errors.Wrap(err, "sqliteStore.PurgeReadStatuses.delete")
	}
	return conn.Changes(), nil
}
