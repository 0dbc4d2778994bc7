package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"claude-relay/internal/account"
	"claude-relay/internal/store"
)

// redact strips credential secrets from an unredacted account before it
// reaches an admin response body. account.Registry.List already redacts;
// this mirrors that for the single-account Get path, which returns the
// live record for internal driver use.
func redact(a account.Account) account.Account {
	if a.Credentials.SessionKey != "" {
		a.Credentials.SessionKey = "[redacted]"
	}
	if a.Credentials.AccessToken != "" {
		a.Credentials.AccessToken = "[redacted]"
	}
	if a.Credentials.RefreshToken != "" {
		a.Credentials.RefreshToken = "[redacted]"
	}
	return a
}

type createAccountRequest struct {
	Name         string `json:"name"`
	SessionKey   string `json:"session_key"`
	OrgID        string `json:"org_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	CanOAuth     bool   `json:"can_oauth"`
	CanWeb       bool   `json:"can_web"`
	Tier         string `json:"tier"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SessionKey == "" && req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of session_key or refresh_token is required"})
		return
	}

	tier := account.Tier(req.Tier)
	if tier == "" {
		tier = account.TierPro
	}

	a := account.Account{
		ID:   "acct_" + uuid.New().String(),
		Name: req.Name,
		Credentials: account.Credentials{
			SessionKey:   req.SessionKey,
			OrgID:        req.OrgID,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
		CanOAuth: req.CanOAuth,
		CanWeb:   req.CanWeb,
		Tier:     tier,
		Status:   account.StatusValid,
	}

	if err := s.registry.Add(a); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, redact(a))
}

func (s *Server) handleListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) handleGetAccount(c *gin.Context) {
	a, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, redact(*a))
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	if err := s.registry.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBatchRemoveAccounts(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.registry.BatchRemove(req.IDs)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRefreshAccount(c *gin.Context) {
	status, resetsAt, err := s.registry.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "rate_limit_resets_at": resetsAt})
}

func (s *Server) handleBatchRefreshAccounts(c *gin.Context) {
	var req struct {
		IDs            []string `json:"ids"`
		MaxConcurrency int      `json:"max_concurrency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := s.registry.BatchRefresh(c.Request.Context(), req.IDs, req.MaxConcurrency)
	out := make(map[string]string, len(results))
	for id, err := range results {
		if err != nil {
			out[id] = err.Error()
		} else {
			out[id] = "ok"
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListProxies(c *gin.Context) {
	c.JSON(http.StatusOK, s.proxies.Status())
}

func (s *Server) handlePutProxies(c *gin.Context) {
	var req struct {
		ProxiesText string `json:"proxies_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.proxies.Reload(req.ProxiesText); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.proxies.Status())
}

func (s *Server) handleProxyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.proxies.Status())
}

func (s *Server) handleStatsCircuit(c *gin.Context) {
	if s.circuit == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.circuit.Stats())
}

func (s *Server) handleStatsConcurrency(c *gin.Context) {
	if s.concurrency == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.concurrency.Stats())
}

func (s *Server) handleStatsOverview(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	from, to := parseDateRange(c)
	overview, err := s.store.GetGlobalOverview(from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) handleClientStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	from, to := parseDateRange(c)
	stats, err := s.store.GetClientStats(c.Param("client_key"), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleAccountStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	from, to := parseDateRange(c)
	stats, err := s.store.GetAccountStats(c.Param("id"), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListRequestLogs(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	filter := store.RequestLogFilter{
		ClientKey: c.Query("client_key"),
		AccountID: c.Query("account_id"),
		Driver:    c.Query("driver"),
		Model:     c.Query("model"),
	}
	if p, err := strconv.Atoi(c.Query("page")); err == nil {
		filter.Page = p
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = l
	}
	logs, total, err := s.store.ListRequestLogs(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total})
}

func (s *Server) handleAdminSessionIssue(c *gin.Context) {
	var req struct {
		UserName string        `json:"user_name"`
		Expiry   time.Duration `json:"expiry_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Expiry <= 0 {
		req.Expiry = 24 * time.Hour
	} else {
		req.Expiry = req.Expiry * time.Second
	}
	token, info, err := s.admin.Issue(req.UserName, req.Expiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "info": info})
}

func (s *Server) handleAdminSessionRevoke(c *gin.Context) {
	var req struct {
		TokenID string `json:"token_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.admin.Revoke(req.TokenID)
	c.Status(http.StatusNoContent)
}

func parseDateRange(c *gin.Context) (time.Time, time.Time) {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			to = t
		}
	}
	return from, to
}
