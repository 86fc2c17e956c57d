package sqlitestore

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/VinMeld/go-dm/internal/expiry"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	file, err := fileJSON(m.File)
	if err != nil {
		return errors.Wrap(err, "sqliteStore.CreateMessage.fileJSON")
	}
	err = sqlitex.Execute(conn, `INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			m.ID, m.SenderID, m.ReceiverID, string(m.Kind), m.Content,
			m.Envelope.Ciphertext, m.Envelope.IV, m.Envelope.AuthTag, file,
			boolInt(m.IsSeen), nullableNanos(m.SeenAt), nullableNanos(m.ExpiresAt),
			boolInt(m.IsSavedBySender), boolInt(m.IsSavedByReceiver), nanos(m.CreatedAt),
		}})
	if isConstraint(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "sqliteStore.CreateMessage.insert")
}

// getVisible loads one message on an already-taken connection.
func getVisible(conn *sqlite.Conn, id string, now time.Time) (*models.Message, error) {
	var found *models.Message
	err := sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM messages
		WHERE id = ?1 AND (expires_at IS NULL OR expires_at > ?2)`,
		&sqlitex.ExecOptions{
			Args: []any{id, nanos(now)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m, err := scanMessage(stmt)
				found = m
				return err
			},
		})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) GetMessage(ctx context.Context, id string, now time.Time) (*models.Message, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	m, err := getVisible(conn, id, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m, errors.Wrap(err, "sqliteStore.GetMessage.select")
}

func (s *Store) ListConversation(ctx context.Context, a, b string, now time.Time, w store.Window) ([]*models.Message, error) {
	w = w.Normalize()
	before := int64(math.MaxInt64)
	if !w.Before.IsZero() {
		before = nanos(w.Before)
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var out []*models.Message
	err = sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM messages
		WHERE ((sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1))
		  AND (expires_at IS NULL OR expires_at > ?3)
		  AND created_at < ?4
		ORDER BY created_at DESC, id DESC
		LIMIT ?5`,
		&sqlitex.ExecOptions{
			Args: []any{a, b, nanos(now), before, w.Limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m, err := scanMessage(stmt)
				if err != nil {
					return err
				}
				out = append(out, m)
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.ListConversation.select")
	}

	// Newest page was selected; hand it back oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) LastPerCounterpart(ctx context.Context, user string, now time.Time) (map[string]*models.Message, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	out := make(map[string]*models.Message)
	err = sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM (
			SELECT m.*, ROW_NUMBER() OVER (
				PARTITION BY CASE WHEN m.sender_id = ?1 THEN m.receiver_id ELSE m.sender_id END
				ORDER BY m.created_at DESC, m.id DESC
			) AS rn
			FROM messages m
			WHERE (m.sender_id = ?1 OR m.receiver_id = ?1)
			  AND (m.expires_at IS NULL OR m.expires_at > ?2)
		) WHERE rn = 1`,
		&sqlitex.ExecOptions{
			Args: []any{user, nanos(now)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m, err := scanMessage(stmt)
				if err != nil {
					return err
				}
				out[m.Counterpart(user)] = m
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.LastPerCounterpart.select")
	}
	return out, nil
}

func (s *Store) FileReferenced(ctx context.Context, storagePath string, now time.Time) (bool, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM messages
		WHERE kind = ?1 AND json_extract(file_json, '$.storagePath') = ?2
			AND (expires_at IS NULL OR expires_at > ?3)
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{string(models.KindFile), storagePath, nanos(now)},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	return found, errors.Wrap(err, "sqliteStore.FileReferenced.select")
}

func (s *Store) MarkSeen(ctx context.Context, id, viewer string, now time.Time) (m *models.Message, changed bool, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, false, errors.Wrap(err, "sqliteStore.MarkSeen.begin")
	}
	defer endTransaction(&err)

	m, err = getVisible(conn, id, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, errors.Wrap(err, "sqliteStore.MarkSeen.select")
	}
	if m.ReceiverID != viewer {
		return nil, false, store.ErrNotRecipient
	}
	if !expiry.MarkSeen(m, now) {
		return m, false, nil
	}

	err = sqlitex.Execute(conn, `UPDATE messages SET is_seen = 1, seen_at = ?, expires_at = ?
		WHERE id = ? AND is_seen = 0`,
		&sqlitex.ExecOptions{Args: []any{nullableNanos(m.SeenAt), nullableNanos(m.ExpiresAt), id}})
	if err != nil {
		return nil, false, errors.Wrap(err, "sqliteStore.MarkSeen.update")
	}
	return m, conn.Changes() > 0, nil
}

func (s *Store) SetSaved(ctx context.Context, id, actor string, saved bool, now time.Time) (m *models.Message, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.SetSaved.begin")
	}
	defer endTransaction(&err)

	m, err = getVisible(conn, id, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "sqliteStore.SetSaved.select")
	}
	party, ok := m.PartyOf(actor)
	if !ok {
		return nil, store.ErrNotParticipant
	}
	if !expiry.SetSaved(m, party, saved) {
		return m, nil
	}

	err = sqlitex.Execute(conn, `UPDATE messages
		SET saved_by_sender = ?, saved_by_receiver = ?, expires_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			boolInt(m.IsSavedBySender), boolInt(m.IsSavedByReceiver), nullableNanos(m.ExpiresAt), id,
		}})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.SetSaved.update")
	}
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM messages WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	return errors.Wrap(err, "sqliteStore.DeleteMessage.delete")
}

func (s *Store) DeleteUserMessages(ctx context.Context, user string) (res store.CascadeResult, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return res, err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return res, errors.Wrap(err, "sqliteStore.DeleteUserMessages.begin")
	}
	defer endTransaction(&err)

	counterparts := make(map[string]struct{})
	err = sqlitex.Execute(conn, `SELECT sender_id, receiver_id, file_json FROM messages
		WHERE sender_id = ?1 OR receiver_id = ?1`,
		&sqlitex.ExecOptions{
			Args: []any{user},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				other := stmt.ColumnText(0)
				if other == user {
					other = stmt.ColumnText(1)
				}
				counterparts[other] = struct{}{}
				if stmt.ColumnIsNull(2) {
					return nil
				}
				var file models.FileMetadata
				if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &file); err != nil {
					return err
				}
				if file.StoragePath != "" {
					res.StoragePaths = append(res.StoragePaths, file.StoragePath)
				}
				return nil
			},
		})
	if err != nil {
		return res, errors.Wrap(err, "sqliteStore.DeleteUserMessages.select")
	}

	err = sqlitex.Execute(conn, `DELETE FROM messages WHERE sender_id = ?1 OR receiver_id = ?1`,
		&sqlitex.ExecOptions{Args: []any{user}})
	if err != nil {
		return res, errors.Wrap(err, "sqliteStore.DeleteUserMessages.delete")
	}
	res.Messages = conn.Changes()
	for id := range counterparts {
		res.Counterparts = append(res.Counterparts, id)
	}
	sort.Strings(res.Counterparts)
	return res, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time, limit int) (purged []*models.Message, err error) {
	if limit <= 0 {
		limit = 500
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.PurgeExpired.begin")
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `SELECT `+messageColumns+` FROM messages
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{nanos(now), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				m, err := scanMessage(stmt)
				if err != nil {
					return err
				}
				purged = append(purged, m)
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.PurgeExpired.select")
	}

	for _, m := range purged {
		err = sqlitex.Execute(conn, `DELETE FROM messages WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{m.ID}})
		if err != nil {
			return nil, errors.Wrap(err, "sqliteStore.PurgeExpired.delete")
		}
	}
	return purged, nil
}
