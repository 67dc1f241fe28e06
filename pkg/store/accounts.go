package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const accountColumns = `id, account_label, COALESCE(open_id, ''), COALESCE(access_token, ''),
	COALESCE(refresh_token, ''), expires_at, COALESCE(granted_scopes, ''),
	posting_mode, needs_reauth, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		acc       Account
		expiresAt sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&acc.ID, &acc.AccountLabel, &acc.OpenID, &acc.AccessToken,
		&acc.RefreshToken, &expiresAt, &acc.GrantedScopes,
		&acc.PostingMode, &acc.NeedsReauth, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.ExpiresAt = nullTimeFromDB(expiresAt)
	acc.CreatedAt = timeFromDB(createdAt)
	acc.UpdatedAt = timeFromDB(updatedAt)
	return &acc, nil
}

// AccountByLabel returns the account with the given label or ErrNotFound.
func (s *Store) AccountByLabel(ctx context.Context, label string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM tiktok_accounts WHERE account_label = ?`, label)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", label, err)
	}
	return acc, nil
}

// ListAccounts returns every account ordered by label ascending. When labels
// is non-empty, only those labels are selected; ordering is preserved so the
// fan-out is deterministic.
func (s *Store) ListAccounts(ctx context.Context, labels []string) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM tiktok_accounts`
	args := make([]any, 0, len(labels))
	if len(labels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
		query += ` WHERE account_label IN (` + placeholders + `)`
		for _, label := range labels {
			args = append(args, label)
		}
	}
	query += ` ORDER BY account_label ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// UpdateAccountTokens persists refreshed credentials and clears the reauth
// flag.
func (s *Store) UpdateAccountTokens(ctx context.Context, label, accessToken, refreshToken string, expiresAt time.Time) error {
	now := timeToDB(time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE tiktok_accounts
		 SET access_token = ?, refresh_token = ?, expires_at = ?, needs_reauth = 0, updated_at = ?
		 WHERE account_label = ?`,
		accessToken, refreshToken, timeToDB(expiresAt), now, label)
	if err != nil {
		return fmt.Errorf("failed to update tokens for %s: %w", label, err)
	}
	return nil
}

// MarkAccountNeedsReauth flags the account so future publishes fail fast
// until the operator re-runs the authorize flow.
func (s *Store) MarkAccountNeedsReauth(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tiktok_accounts SET needs_reauth = 1, updated_at = ? WHERE account_label = ?`,
		timeToDB(time.Now()), label)
	if err != nil {
		return fmt.Errorf("failed to flag reauth for %s: %w", label, err)
	}
	return nil
}
