// Package sqlitestore implements store.Store on an embedded SQLite
// database. It is the default backend for single-node deployments.
package sqlitestore

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

type Config struct {
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

type Store struct {
	pool   *pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p, err := openPool(cfg.Path, cfg.PoolSize, logger, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.pool.close()
}

// nanos encodes an instant for an INTEGER column.
func nanos(t time.Time) int64 {
	return t.UnixNano()
}

// nullableNanos returns an untyped nil for a missing instant so the
// binder writes NULL.
func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func fromNanos(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func columnTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	t := fromNanos(stmt.ColumnInt64(col))
	return &t
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	n := stmt.ColumnLen(col)
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	stmt.ColumnBytes(col, buf)
	return buf
}

// scanMessage reads a row selected with messageColumns.
func scanMessage(stmt *sqlite.Stmt) (*models.Message, error) {
	m := &models.Message{
		ID:         stmt.ColumnText(0),
		SenderID:   stmt.ColumnText(1),
		ReceiverID: stmt.ColumnText(2),
		Kind:       models.Kind(stmt.ColumnText(3)),
		Content:    stmt.ColumnText(4),
		Envelope: models.Envelope{
			Ciphertext: columnBlob(stmt, 5),
			IV:         columnBlob(stmt, 6),
			AuthTag:    columnBlob(stmt, 7),
		},
		IsSeen:            stmt.ColumnInt64(9) != 0,
		SeenAt:            columnTime(stmt, 10),
		ExpiresAt:         columnTime(stmt, 11),
		IsSavedBySender:   stmt.ColumnInt64(12) != 0,
		IsSavedByReceiver: stmt.ColumnInt64(13) != 0,
		CreatedAt:         fromNanos(stmt.ColumnInt64(14)),
	}
	if !stmt.ColumnIsNull(8) {
		var file models.FileMetadata
		if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &file); err != nil {
			return nil, errors.Wrapf(err, "decoding file metadata of %s", m.ID)
		}
		m.File = &file
	}
	return m, nil
}

func fileJSON(f *models.FileMetadata) (any, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isConstraint(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintPrimaryKey, sqlite.ResultConstraintUnique:
		return true
	}
	return false
}
