package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAuthChallenge persists a fresh single-use OAuth state bound to the
// account label and posting mode.
func (s *Store) CreateAuthChallenge(ctx context.Context, state, accountLabel, mode string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, account_label, mode, used, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		state, accountLabel, mode, timeToDB(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create auth challenge: %w", err)
	}
	return nil
}

// UnusedAuthChallenge looks up the challenge matching state that has not
// been consumed yet.
func (s *Store) UnusedAuthChallenge(ctx context.Context, state string) (*AuthChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, account_label, mode, used, created_at
		 FROM oauth_states WHERE state = ? AND used = 0`, state)

	var (
		ch        AuthChallenge
		createdAt string
	)
	err := row.Scan(&ch.ID, &ch.State, &ch.AccountLabel, &ch.Mode, &ch.Used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth challenge: %w", err)
	}
	ch.CreatedAt = timeFromDB(createdAt)
	return &ch, nil
}

// AuthorizedAccount carries the credential set produced by a successful
// OAuth code exchange.
type AuthorizedAccount struct {
	AccountLabel  string
	OpenID        string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	GrantedScopes string
	PostingMode   string
}

// SaveAuthorizedAccount upserts the account with its new credentials and
// marks the challenge used in one transaction, so a crash can never leave
// a consumed challenge without stored tokens or vice versa.
func (s *Store) SaveAuthorizedAccount(ctx context.Context, challengeID int64, auth AuthorizedAccount) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := timeToDB(time.Now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tiktok_accounts
			(account_label, open_id, access_token, refresh_token, expires_at,
			 granted_scopes, posting_mode, needs_reauth, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(account_label) DO UPDATE SET
			open_id = excluded.open_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			granted_scopes = excluded.granted_scopes,
			posting_mode = excluded.posting_mode,
			needs_reauth = 0,
			updated_at = excluded.updated_at`,
		auth.AccountLabel, auth.OpenID, auth.AccessToken, auth.RefreshToken,
		timeToDB(auth.ExpiresAt), auth.GrantedScopes, auth.PostingMode, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account %s: %w", auth.AccountLabel, err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE oauth_states SET used = 1 WHERE id = ? AND used = 0`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume auth challenge: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("auth challenge already consumed")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit authorization: %w", err)
	}
	return s.AccountByLabel(ctx, auth.AccountLabel)
}
