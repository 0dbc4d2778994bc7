package adminauth

import (
	"testing"
	"time"
)

func TestIssueAndValidate_RoundTrip(t *testing.T) {
	m := NewManager("test-secret", "relay-test")
	token, info, err := m.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserName != "alice" {
		t.Fatalf("expected UserName=alice, got %q", claims.UserName)
	}
	if claims.ID != info.ID {
		t.Fatalf("claims ID %q != issued ID %q", claims.ID, info.ID)
	}
}

func TestValidate_RejectsExpiredToken(t *testing.T) {
	m := NewManager("test-secret", "relay-test")
	token, _, err := m.Issue("alice", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Validate(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidate_RejectsWrongSecret(t *testing.T) {
	m1 := NewManager("secret-one", "relay-test")
	m2 := NewManager("secret-two", "relay-test")

	token, _, err := m1.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m2.Validate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevoke_InvalidatesToken(t *testing.T) {
	m := NewManager("test-secret", "relay-test")
	token, info, err := m.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m.Revoke(info.ID)

	if _, err := m.Validate(token); err != ErrRevokedToken {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
}

func TestList_OmitsExpiredAndRevoked(t *testing.T) {
	m := NewManager("test-secret", "relay-test")
	_, liveInfo, _ := m.Issue("alice", time.Hour)
	_, expiredInfo, _ := m.Issue("bob", -time.Minute)
	_, revokedInfo, _ := m.Issue("carol", time.Hour)
	m.Revoke(revokedInfo.ID)

	list := m.List()
	ids := map[string]bool{}
	for _, info := range list {
		ids[info.ID] = true
	}

	if !ids[liveInfo.ID] {
		t.Fatal("expected live token in list")
	}
	if ids[expiredInfo.ID] {
		t.Fatal("expected expired token to be omitted")
	}
	if ids[revokedInfo.ID] {
		t.Fatal("expected revoked token to be omitted")
	}
}
