// Package account implements the Account Registry: durable
// fleet state and selection.
package account

import "time"

// Status is the account's lifecycle status.
type Status string

const (
	StatusValid       Status = "VALID"
	StatusInvalid     Status = "INVALID"
	StatusRateLimited Status = "RATE_LIMITED"
)

// Tier is the account's subscription tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierMax  Tier = "max"
)

// Credentials is the credential bundle: a long-lived cookie and/or an
// OAuth refresh token. Shape grounded on store.Credentials.
type Credentials struct {
	SessionKey        string     `json:"session_key,omitempty"`
	OrgID             string     `json:"org_id,omitempty"`
	AccessToken       string     `json:"access_token,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`
}

// Account is one fleet account. Identity is an opaque organization
// identifier (ID). Mutated only by the Registry under its write lock.
type Account struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Credentials Credentials `json:"credentials"`

	CanOAuth bool `json:"can_oauth"`
	CanWeb   bool `json:"can_web"`
	Tier     Tier `json:"tier"`

	Status           Status     `json:"status"`
	RateLimitResetsAt *time.Time `json:"rate_limit_resets_at,omitempty"`
	OverloadedUntil   *time.Time `json:"overloaded_until,omitempty"`

	SessionCount int       `json:"session_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasOAuthToken reports whether the account currently holds an OAuth
// access token (used by the Event Pipeline's DriverDispatch stage to
// choose OAuth vs Web, stage 3).
func (a *Account) HasOAuthToken() bool {
	return a.Credentials.AccessToken != ""
}

// NeedsTokenRefresh reports whether the access token is missing or close
// enough to expiry that the OAuthDriver should refresh it lazily, on
// demand, before the next request.
func (a *Account) NeedsTokenRefresh(now time.Time, skew time.Duration) bool {
	if a.Credentials.AccessToken == "" {
		return true
	}
	if a.Credentials.AccessTokenExpiry == nil {
		return false
	}
	return now.Add(skew).After(*a.Credentials.AccessTokenExpiry)
}

// isOverloaded reports whether OverloadedUntil is still in the future.
func (a *Account) isOverloaded(now time.Time) bool {
	return a.OverloadedUntil != nil && now.Before(*a.OverloadedUntil)
}

// redacted renders a copy with secrets removed, for admin output.
func (a *Account) redacted() Account {
	cp := *a
	if cp.Credentials.SessionKey != "" {
		cp.Credentials.SessionKey = "[redacted]"
	}
	if cp.Credentials.AccessToken != "" {
		cp.Credentials.AccessToken = "[redacted]"
	}
	if cp.Credentials.RefreshToken != "" {
		cp.Credentials.RefreshToken = "[redacted]"
	}
	return cp
}
