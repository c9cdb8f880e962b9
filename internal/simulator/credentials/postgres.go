package credentials

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

const credentialsTable = "credentials"

// PostgresStash keeps credentials in a single table, created on startup if
// it does not exist.
type PostgresStash struct {
	db *pgxpool.Pool
}

func NewPostgresStash(ctx context.Context, db *pgxpool.Pool) (*PostgresStash, error) {
	stash := &PostgresStash{db: db}
	if err := stash.createTableIfNotExists(ctx); err != nil {
		return nil, err
	}
	return stash, nil
}

func (s *PostgresStash) createTableIfNotExists(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			username TEXT PRIMARY KEY,
			session_cookie TEXT NOT NULL,
			created TIMESTAMP WITH TIME ZONE NOT NULL
		);`, credentialsTable))
	return errors.WithStack(err)
}

func (s *PostgresStash) Get(ctx context.Context, username string) (*Credential, bool, error) {
	sql := fmt.Sprintf("SELECT session_cookie, created FROM %s WHERE username = $1;", credentialsTable)
	credential := &Credential{Username: username}
	err := s.db.QueryRow(ctx, sql, username).Scan(&credential.SessionCookie, &credential.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	return credential, true, nil
}

func (s *PostgresStash) Put(ctx context.Context, credential *Credential) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (username, session_cookie, created) VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET session_cookie = EXCLUDED.session_cookie, created = EXCLUDED.created;`,
		credentialsTable)
	_, err := s.db.Exec(ctx, sql, credential.Username, credential.SessionCookie, credential.Created)
	return errors.WithStack(err)
}

func (s *PostgresStash) Delete(ctx context.Context, username string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE username = $1;", credentialsTable)
	_, err := s.db.Exec(ctx, sql, username)
	return errors.WithStack(err)
}

func (s *PostgresStash) Close() error {
	s.db.Close()
	return nil
}
