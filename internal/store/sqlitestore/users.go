package sqlitestore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

func scanUser(stmt *sqlite.Stmt) models.User {
	return models.User{
		ID:        stmt.ColumnText(0),
		Username:  stmt.ColumnText(1),
		CreatedAt: fromNanos(stmt.ColumnInt64(2)),
	}
}

// AddUser inserts or renames a user. A username held by another id is a
// duplicate.
func (s *Store) AddUser(ctx context.Context, user models.User) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username`,
		&sqlitex.ExecOptions{Args: []any{user.ID, user.Username, nanos(user.CreatedAt)}})
	if isConstraint(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "sqliteStore.AddUser.upsert")
}

func (s *Store) GetUser(ctx context.Context, ref string) (models.User, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer s.pool.put(conn)

	var (
		user  models.User
		found bool
	)
	// An exact id match wins over a username that happens to look like an id.
	err = sqlitex.Execute(conn, `SELECT id, username, created_at FROM users
		WHERE id = ?1 OR username = ?1
		ORDER BY (id = ?1) DESC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{ref},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user = scanUser(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return models.User{}, errors.Wrap(err, "sqliteStore.GetUser.select")
	}
	if !found {
		return models.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	err = sqlitex.Execute(conn, `SELECT id, username, created_at FROM users WHERE id IN (`+placeholders+`)`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				u := scanUser(stmt)
				out[u.ID] = u
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.LookupUsers.select")
	}
	return out, nil
}

func (s *Store) ListAllUsers(ctx context.Context) ([]models.User, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var out []models.User
	err = sqlitex.Execute(conn, `SELECT id, username, created_at FROM users ORDER BY username`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanUser(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "sqliteStore.ListAllUsers.select")
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM users WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	return errors.Wrap(err, "sqliteStore.DeleteUser.delete")
}
