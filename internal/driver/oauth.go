package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"claude-relay/internal/account"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

const (
	anthropicVersion = "2023-06-01"
	oauthBetaHeader  = "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
	refreshSkew      = 2 * time.Minute
)

// OAuthDriver talks the public Anthropic Messages API directly against
// api.anthropic.com, using an account's OAuth access token as a Bearer
// credential. Grounded on api_proxy.go's proxyRequest and proxy.go's
// setReqHeaders OAuth branch, which already authenticates this way
// against the same endpoint.
type OAuthDriver struct {
	apiURL   string
	registry *account.Registry

	oauthClientID   string
	oauthTokenURL   string
	requestTimeout  time.Duration
}

// NewOAuthDriver constructs the OAuth driver. oauthClientID/oauthTokenURL
// are the values config.go loads for the refresh-token exchange; they have
// no request-time default since they are deployment credentials, not
// constants of the protocol.
func NewOAuthDriver(apiURL, oauthClientID, oauthTokenURL string, registry *account.Registry) *OAuthDriver {
	return &OAuthDriver{
		apiURL:         apiURL,
		registry:       registry,
		oauthClientID:  oauthClientID,
		oauthTokenURL:  oauthTokenURL,
		requestTimeout: 10 * time.Minute,
	}
}

func (d *OAuthDriver) Kind() Kind { return KindOAuth }

// Stream implements the Driver contract. session is always nil for this
// driver: the OAuth path picks a fresh proxy per call rather than
// binding one at session creation.
func (d *OAuthDriver) Stream(ctx context.Context, req *MessagesRequest, acc *account.Account, proxy *proxypool.Proxy, _ *session.Session) (*http.Response, error) {
	if acc.NeedsTokenRefresh(time.Now(), refreshSkew) {
		if err := d.refresh(ctx, acc); err != nil {
			return nil, fmt.Errorf("oauth refresh: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("anthropic-beta", oauthBetaHeader)
	httpReq.Header.Set("Authorization", "Bearer "+acc.Credentials.AccessToken)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	client := proxypool.NewHTTPClient(proxy, d.requestTimeout)
	return client.Do(httpReq)
}

// oauthTokenResponse is the token-endpoint reply shape. An account's
// credentials carry a long-lived cookie and/or an OAuth refresh token;
// this is the refresh half of that pair.
type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refresh exchanges the account's refresh token for a new access token.
// The login/exchange-code half of the OAuth dance is explicitly out of
// scope (see DESIGN.md); only using an existing refresh token is this
// driver's job.
func (d *OAuthDriver) refresh(ctx context.Context, acc *account.Account) error {
	if acc.Credentials.RefreshToken == "" {
		return fmt.Errorf("account %s has no refresh token", acc.ID)
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": acc.Credentials.RefreshToken,
		"client_id":     d.oauthClientID,
	}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.oauthTokenURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	var tok oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	d.registry.UpdateOAuthToken(acc.ID, tok.AccessToken, tok.RefreshToken, expiresAt)
	acc.Credentials.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acc.Credentials.RefreshToken = tok.RefreshToken
	}
	acc.Credentials.AccessTokenExpiry = &expiresAt
	return nil
}
