package adminauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestSessionAuth_RejectsMissingToken(t *testing.T) {
	m := NewManager("secret", "relay-test")
	r := newTestEngine()
	r.GET("/admin/ping", m.SessionAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionAuth_AcceptsBearerToken(t *testing.T) {
	m := NewManager("secret", "relay-test")
	token, _, err := m.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := newTestEngine()
	r.GET("/admin/ping", m.SessionAuth(), func(c *gin.Context) {
		user, _ := c.Get(ContextKeyUserName)
		c.JSON(http.StatusOK, gin.H{"user": user})
	})

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestKeyAuth_RejectsWrongKey(t *testing.T) {
	r := newTestEngine()
	r.GET("/admin/ping", KeyAuth("correct-key"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("X-Admin-Key", "wrong-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEither_AcceptsAdminKeyWithoutToken(t *testing.T) {
	m := NewManager("secret", "relay-test")
	r := newTestEngine()
	r.GET("/admin/ping", Either(m, "correct-key"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("X-Admin-Key", "correct-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
