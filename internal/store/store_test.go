package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "relay_test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRequestLog(t *testing.T) {
	s := newTestStore(t)

	log := &RequestLog{
		ID:               "req-1",
		ClientKey:        "client-a",
		AccountID:        sql.NullString{String: "acct-1", Valid: true},
		Driver:           "oauth",
		Model:            "claude-3-haiku-20240307",
		Stream:           true,
		RequestAt:        time.Now(),
		StatusCode:       200,
		Success:          true,
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
	}
	if err := s.CreateRequestLog(log); err != nil {
		t.Fatalf("CreateRequestLog: %v", err)
	}

	got, err := s.GetRequestLog("req-1")
	if err != nil {
		t.Fatalf("GetRequestLog: %v", err)
	}
	if got == nil {
		t.Fatal("expected a log, got nil")
	}
	if got.ClientKey != "client-a" || got.Driver != "oauth" {
		t.Fatalf("unexpected log: %+v", got)
	}
}

func TestListRequestLogs_FiltersByDriverAndSuccess(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	must := func(log *RequestLog) {
		if err := s.CreateRequestLog(log); err != nil {
			t.Fatalf("CreateRequestLog: %v", err)
		}
	}
	must(&RequestLog{ID: "1", ClientKey: "c1", Driver: "oauth", Model: "m1", RequestAt: now, StatusCode: 200, Success: true})
	must(&RequestLog{ID: "2", ClientKey: "c1", Driver: "web", Model: "m1", RequestAt: now, StatusCode: 500, Success: false})
	must(&RequestLog{ID: "3", ClientKey: "c2", Driver: "oauth", Model: "m1", RequestAt: now, StatusCode: 200, Success: true})

	successTrue := true
	logs, total, err := s.ListRequestLogs(RequestLogFilter{Driver: "oauth", Success: &successTrue})
	if err != nil {
		t.Fatalf("ListRequestLogs: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total=2, got %d", total)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
}

func TestDeleteOldRequestLogs(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().AddDate(0, 0, -100)
	if err := s.CreateRequestLog(&RequestLog{ID: "old", ClientKey: "c1", Driver: "oauth", Model: "m1", RequestAt: old, StatusCode: 200, Success: true}); err != nil {
		t.Fatalf("CreateRequestLog: %v", err)
	}

	n, err := s.DeleteOldRequestLogs(30)
	if err != nil {
		t.Fatalf("DeleteOldRequestLogs: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected to delete 1 row, deleted %d", n)
	}
}

func TestUsageStats_GlobalOverview(t *testing.T) {
	s := newTestStore(t)

	today := time.Now().Format("2006-01-02")
	_, err := s.db.Exec(`INSERT INTO usage_stats_daily
		(stat_date, client_key, account_id, driver, model, request_count, success_count, error_count,
		 total_prompt_tokens, total_completion_tokens, total_tokens, avg_duration_ms, avg_ttft_ms)
		VALUES (?, 'c1', 'a1', 'oauth', 'claude-3-haiku-20240307', 10, 9, 1, 100, 200, 300, 500, 100)`, today)
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	from := time.Now().AddDate(0, 0, -1)
	to := time.Now().AddDate(0, 0, 1)

	overview, err := s.GetGlobalOverview(from, to)
	if err != nil {
		t.Fatalf("GetGlobalOverview: %v", err)
	}
	if overview.TotalRequests != 10 {
		t.Fatalf("expected TotalRequests=10, got %d", overview.TotalRequests)
	}
	if overview.ActiveClientKeys != 1 {
		t.Fatalf("expected ActiveClientKeys=1, got %d", overview.ActiveClientKeys)
	}
	driverStats, ok := overview.ByDriver["oauth"]
	if !ok {
		t.Fatal("expected oauth driver stats")
	}
	if driverStats.SuccessRate != 90 {
		t.Fatalf("expected SuccessRate=90, got %v", driverStats.SuccessRate)
	}
}

func TestGetClientStats_AndTrend(t *testing.T) {
	s := newTestStore(t)
	today := time.Now().Format("2006-01-02")
	_, err := s.db.Exec(`INSERT INTO usage_stats_daily
		(stat_date, client_key, driver, model, request_count, success_count, total_tokens)
		VALUES (?, 'c1', 'oauth', 'm1', 5, 5, 50)`, today)
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	stats, err := s.GetClientStats("c1", time.Now().AddDate(0, 0, -1), time.Now().AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetClientStats: %v", err)
	}
	if stats.RequestCount != 5 {
		t.Fatalf("expected RequestCount=5, got %d", stats.RequestCount)
	}

	trend, err := s.GetClientTrend("c1", 7)
	if err != nil {
		t.Fatalf("GetClientTrend: %v", err)
	}
	if len(trend) != 1 {
		t.Fatalf("expected 1 trend point, got %d", len(trend))
	}
}
