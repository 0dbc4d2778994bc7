package health

import (
	"net/http"
	"testing"
	"time"
)

func TestClassifyOrgInfoStatus(t *testing.T) {
	cases := []struct {
		status    int
		wantValid bool
		wantErr   bool
	}{
		{http.StatusOK, true, false},
		{http.StatusUnauthorized, false, false},
		{http.StatusForbidden, false, false},
		{http.StatusInternalServerError, false, true},
	}
	for _, c := range cases {
		valid, err := classifyOrgInfoStatus(c.status)
		if valid != c.wantValid {
			t.Errorf("status %d: valid = %v, want %v", c.status, valid, c.wantValid)
		}
		if (err != nil) != c.wantErr {
			t.Errorf("status %d: err = %v, wantErr %v", c.status, err, c.wantErr)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		header string
		want   int
	}{
		{"", 60},
		{"not-a-number", 60},
		{"0", 60},
		{"120", 120},
	}
	for _, c := range cases {
		h := http.Header{}
		if c.header != "" {
			h.Set("Retry-After", c.header)
		}
		if got := parseRetryAfterSeconds(h); got != c.want {
			t.Errorf("header %q: got %d, want %d", c.header, got, c.want)
		}
	}
}

func TestNewMonitor_DefaultsTimeout(t *testing.T) {
	m := NewMonitor(nil, nil, nil, 0)
	if m.timeout != 30*time.Second {
		t.Fatalf("expected default 30s timeout, got %v", m.timeout)
	}
}
