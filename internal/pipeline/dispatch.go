package pipeline

import (
	"context"
	"net/http"

	"claude-relay/internal/account"
	"claude-relay/internal/driver"
	"claude-relay/internal/proxypool"
	"claude-relay/internal/session"
)

// SelectDriver implements stage 3, DriverDispatch's account-side half:
// picks OAuth if the account has a valid access token, else Web.
func SelectDriver(acc *account.Account, oauth *driver.OAuthDriver, web *driver.WebDriver) driver.Driver {
	if acc.CanOAuth && acc.HasOAuthToken() {
		return oauth
	}
	return web
}

// Dispatch materializes the raw upstream response by invoking the
// chosen driver's Stream.
func Dispatch(ctx context.Context, d driver.Driver, req *driver.MessagesRequest, acc *account.Account, proxy *proxypool.Proxy, sess *session.Session) (*http.Response, error) {
	return d.Stream(ctx, req, acc, proxy, sess)
}
