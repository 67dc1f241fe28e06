package tiktok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crosspost/pkg/config"
	"crosspost/pkg/store"
	"crosspost/pkg/utils"
)

// ModeScopes maps a posting mode to the OAuth scopes it requires. Direct
// posting additionally needs video.publish.
var ModeScopes = map[string]string{
	store.ModeDraft:  "user.info.basic,video.upload",
	store.ModeDirect: "user.info.basic,video.upload,video.publish",
}

// tokenSkew is the minimum remaining lifetime before a token is refreshed
// rather than handed out.
const tokenSkew = 90 * time.Second

// OAuth owns the per-account token lifecycle: authorize-start, callback,
// refresh with skew, and reauth marking. It is the only mutator of account
// credentials.
type OAuth struct {
	store *store.Store
	api   API
	cfg   *config.Settings
}

func NewOAuth(s *store.Store, api API, cfg *config.Settings) *OAuth {
	return &OAuth{store: s, api: api, cfg: cfg}
}

// BuildAuthorizationURL allocates a single-use state challenge bound to
// (accountLabel, mode) and returns the provider authorization URL.
func (o *OAuth) BuildAuthorizationURL(ctx context.Context, accountLabel, mode string) (string, error) {
	accountLabel = strings.TrimSpace(accountLabel)
	if accountLabel == "" {
		return "", fmt.Errorf("account_label is required")
	}
	scopes, ok := ModeScopes[mode]
	if !ok {
		return "", fmt.Errorf("mode must be draft or direct")
	}
	if o.cfg.TikTokClientKey == "" {
		return "", fmt.Errorf("tiktok_client_key is empty")
	}

	state, err := utils.NewStateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	if err := o.store.CreateAuthChallenge(ctx, state, accountLabel, mode); err != nil {
		return "", err
	}

	query := url.Values{
		"client_key":    {o.cfg.TikTokClientKey},
		"response_type": {"code"},
		"scope":         {scopes},
		"redirect_uri":  {o.cfg.TikTokRedirectURI},
		"state":         {state},
	}
	return AuthorizeURL + "?" + query.Encode(), nil
}

// ErrValidation marks callback failures caused by the caller (bad state,
// missing configuration) as opposed to provider failures.
var ErrValidation = errors.New("validation failed")

// HandleCallback exchanges the authorization code, upserts the account and
// consumes the challenge. Credential persistence and challenge consumption
// commit atomically.
func (o *OAuth) HandleCallback(ctx context.Context, code, state string) (*store.Account, error) {
	challenge, err := o.store.UnusedAuthChallenge(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid or already used OAuth state", ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if o.cfg.TikTokClientSecret == "" {
		return nil, fmt.Errorf("%w: tiktok_client_secret is empty", ErrValidation)
	}

	tokenData, err := o.api.ExchangeCode(ctx, o.cfg.TikTokClientKey, o.cfg.TikTokClientSecret, code, o.cfg.TikTokRedirectURI)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	accessToken := stringValue(tokenData["access_token"])
	refreshToken := stringValue(tokenData["refresh_token"])
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("%w: token response does not contain access_token/refresh_token", ErrValidation)
	}

	account, err := o.store.SaveAuthorizedAccount(ctx, challenge.ID, store.AuthorizedAccount{
		AccountLabel:  challenge.AccountLabel,
		OpenID:        stringValue(tokenData["open_id"]),
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		ExpiresAt:     expiryFrom(tokenData["expires_in"]),
		GrantedScopes: normalizeScopes(tokenData),
		PostingMode:   challenge.Mode,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("TikTok account authorized",
		"account_label", account.AccountLabel, "posting_mode", account.PostingMode)
	return account, nil
}

// EnsureValidToken returns an access token with more than 90s of remaining
// lifetime, refreshing when needed. A provider-rejected refresh or a missing
// refresh token flags the account for reauth so subsequent publishes fail
// fast; transport failures leave the account intact so the delivery can
// simply retry.
func (o *OAuth) EnsureValidToken(ctx context.Context, account *store.Account) (string, error) {
	if account.NeedsReauth {
		return "", fmt.Errorf("account %s requires re-auth", account.AccountLabel)
	}
	if account.AccessToken == "" {
		return "", fmt.Errorf("account %s has no access token", account.AccountLabel)
	}

	if account.ExpiresAt != nil && account.ExpiresAt.After(time.Now().Add(tokenSkew)) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		if err := o.store.MarkAccountNeedsReauth(ctx, account.AccountLabel); err != nil {
			return "", err
		}
		account.NeedsReauth = true
		return "", fmt.Errorf("account %s has no refresh token", account.AccountLabel)
	}

	tokenData, err := o.api.Refresh(ctx, o.cfg.TikTokClientKey, o.cfg.TikTokClientSecret, account.RefreshToken)
	if err != nil {
		// Only a provider rejection invalidates the grant. A transport
		// failure says nothing about the refresh token, so the account
		// stays usable for the next attempt.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if markErr := o.store.MarkAccountNeedsReauth(ctx, account.AccountLabel); markErr != nil {
				slog.Error("Failed to persist reauth flag",
					"account_label", account.AccountLabel, "error", markErr)
			}
			account.NeedsReauth = true
		}
		slog.Error("Token refresh failed",
			"event", "refresh_token_failed", "account_label", account.AccountLabel, "error", err)
		return "", fmt.Errorf("token refresh failed for %s: %w", account.AccountLabel, err)
	}

	if v := stringValue(tokenData["access_token"]); v != "" {
		account.AccessToken = v
	}
	if v := stringValue(tokenData["refresh_token"]); v != "" {
		account.RefreshToken = v
	}
	expiresAt := expiryFrom(tokenData["expires_in"])
	account.ExpiresAt = &expiresAt
	account.NeedsReauth = false

	if err := o.store.UpdateAccountTokens(ctx, account.AccountLabel,
		account.AccessToken, account.RefreshToken, expiresAt); err != nil {
		return "", err
	}
	return account.AccessToken, nil
}

// expiryFrom computes now + max(60s, expires_in), defaulting expires_in to
// one hour when absent or malformed.
func expiryFrom(raw interface{}) time.Time {
	seconds := safeInt(raw, 3600)
	if seconds < 60 {
		seconds = 60
	}
	return time.Now().UTC().Add(time.Duration(seconds) * time.Second)
}

// normalizeScopes flattens the granted scope field, which providers return
// as either a comma string or a list.
func normalizeScopes(tokenData Payload) string {
	raw, ok := tokenData["scope"]
	if !ok {
		raw = tokenData["granted_scopes"]
	}
	switch v := raw.(type) {
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return stringValue(raw)
	}
}

func safeInt(raw interface{}, fallback int) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}
