package account

import (
	"testing"
	"time"
)

func TestNeedsTokenRefresh_NoToken(t *testing.T) {
	a := &Account{}
	if !a.NeedsTokenRefresh(time.Now(), time.Minute) {
		t.Fatal("expected refresh needed when no access token is present")
	}
}

func TestNeedsTokenRefresh_NoExpirySet(t *testing.T) {
	a := &Account{Credentials: Credentials{AccessToken: "tok"}}
	if a.NeedsTokenRefresh(time.Now(), time.Minute) {
		t.Fatal("expected no refresh needed when expiry is unknown and token is present")
	}
}

func TestNeedsTokenRefresh_WithinSkewWindow(t *testing.T) {
	expiry := time.Now().Add(30 * time.Second)
	a := &Account{Credentials: Credentials{AccessToken: "tok", AccessTokenExpiry: &expiry}}
	if !a.NeedsTokenRefresh(time.Now(), time.Minute) {
		t.Fatal("expected refresh needed when within skew of expiry")
	}
}

func TestNeedsTokenRefresh_FarFromExpiry(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	a := &Account{Credentials: Credentials{AccessToken: "tok", AccessTokenExpiry: &expiry}}
	if a.NeedsTokenRefresh(time.Now(), time.Minute) {
		t.Fatal("expected no refresh needed when token is far from expiry")
	}
}

func TestRedacted_HidesSecrets(t *testing.T) {
	a := &Account{Credentials: Credentials{
		SessionKey:   "sk-123",
		AccessToken:  "at-456",
		RefreshToken: "rt-789",
	}}
	red := a.redacted()
	if red.Credentials.SessionKey != "[redacted]" || red.Credentials.AccessToken != "[redacted]" || red.Credentials.RefreshToken != "[redacted]" {
		t.Fatalf("expected all credentials redacted, got %+v", red.Credentials)
	}
	if a.Credentials.SessionKey == "[redacted]" {
		t.Fatal("redacted() must not mutate the receiver")
	}
}
