package store

import (
	"database/sql"
	"time"
)

// UsageStats is one daily rollup row.
type UsageStats struct {
	StatDate              time.Time
	ClientKey             sql.NullString
	AccountID             sql.NullString
	Driver                string
	Model                 string
	RequestCount          int
	SuccessCount          int
	ErrorCount            int
	TotalPromptTokens     int
	TotalCompletionTokens int
	TotalTokens           int
	AvgDurationMs         int
	AvgTTFTMs             int
}

// AggregatedStats is a summed/averaged view over a date range.
type AggregatedStats struct {
	RequestCount          int     `json:"request_count"`
	SuccessCount          int     `json:"success_count"`
	ErrorCount            int     `json:"error_count"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	AvgDurationMs         int     `json:"avg_duration_ms"`
	AvgTTFTMs             int     `json:"avg_ttft_ms"`
	SuccessRate           float64 `json:"success_rate"`
}

// DailyStats is one point on a usage trend line.
type DailyStats struct {
	Date         string `json:"date"`
	RequestCount int    `json:"request_count"`
	SuccessCount int    `json:"success_count"`
	TotalTokens  int    `json:"total_tokens"`
}

// GlobalStats is the admin overview-page summary.
type GlobalStats struct {
	TotalTokens      int                         `json:"total_tokens"`
	TotalRequests    int                         `json:"total_requests"`
	ActiveClientKeys int                         `json:"active_client_keys"`
	ByDriver         map[string]*AggregatedStats `json:"by_driver"`
	ByModel          map[string]*AggregatedStats `json:"by_model"`
}

// GetClientStats retrieves aggregated statistics for one client key.
func (s *Store) GetClientStats(clientKey string, from, to time.Time) (*AggregatedStats, error) {
	query := `SELECT
		COALESCE(SUM(request_count), 0) as request_count,
		COALESCE(SUM(success_count), 0) as success_count,
		COALESCE(SUM(error_count), 0) as error_count,
		COALESCE(SUM(total_prompt_tokens), 0) as total_prompt_tokens,
		COALESCE(SUM(total_completion_tokens), 0) as total_completion_tokens,
		COALESCE(SUM(total_tokens), 0) as total_tokens,
		COALESCE(AVG(avg_duration_ms), 0) as avg_duration_ms,
		COALESCE(AVG(avg_ttft_ms), 0) as avg_ttft_ms
		FROM usage_stats_daily
		WHERE client_key = ? AND stat_date >= ? AND stat_date <= ?`

	row := s.db.QueryRow(query, clientKey, from.Format("2006-01-02"), to.Format("2006-01-02"))
	return scanAggregated(row)
}

// GetClientTrend retrieves the daily trend for one client key.
func (s *Store) GetClientTrend(clientKey string, days int) ([]*DailyStats, error) {
	query := `SELECT
		stat_date,
		SUM(request_count) as request_count,
		SUM(success_count) as success_count,
		SUM(total_tokens) as total_tokens
		FROM usage_stats_daily
		WHERE client_key = ? AND stat_date >= date('now', '-' || ? || ' days')
		GROUP BY stat_date
		ORDER BY stat_date ASC`

	rows, err := s.db.Query(query, clientKey, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

// GetAccountStats retrieves aggregated statistics for an account.
func (s *Store) GetAccountStats(accountID string, from, to time.Time) (*AggregatedStats, error) {
	query := `SELECT
		COALESCE(SUM(request_count), 0) as request_count,
		COALESCE(SUM(success_count), 0) as success_count,
		COALESCE(SUM(error_count), 0) as error_count,
		COALESCE(SUM(total_prompt_tokens), 0) as total_prompt_tokens,
		COALESCE(SUM(total_completion_tokens), 0) as total_completion_tokens,
		COALESCE(SUM(total_tokens), 0) as total_tokens,
		COALESCE(AVG(avg_duration_ms), 0) as avg_duration_ms,
		COALESCE(AVG(avg_ttft_ms), 0) as avg_ttft_ms
		FROM usage_stats_daily
		WHERE account_id = ? AND stat_date >= ? AND stat_date <= ?`

	row := s.db.QueryRow(query, accountID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	return scanAggregated(row)
}

// GetAccountTrend retrieves the daily trend for an account.
func (s *Store) GetAccountTrend(accountID string, days int) ([]*DailyStats, error) {
	query := `SELECT
		stat_date,
		SUM(request_count) as request_count,
		SUM(success_count) as success_count,
		SUM(total_tokens) as total_tokens
		FROM usage_stats_daily
		WHERE account_id = ? AND stat_date >= date('now', '-' || ? || ' days')
		GROUP BY stat_date
		ORDER BY stat_date ASC`

	rows, err := s.db.Query(query, accountID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrend(rows)
}

// GetGlobalOverview retrieves the fleet-wide stats overview.
func (s *Store) GetGlobalOverview(from, to time.Time) (*GlobalStats, error) {
	stats := &GlobalStats{
		ByDriver: make(map[string]*AggregatedStats),
		ByModel:  make(map[string]*AggregatedStats),
	}

	query := `SELECT
		COALESCE(SUM(total_tokens), 0) as total_tokens,
		COALESCE(SUM(request_count), 0) as total_requests,
		COUNT(DISTINCT client_key) as active_client_keys
		FROM usage_stats_daily
		WHERE stat_date >= ? AND stat_date <= ?`

	err := s.db.QueryRow(query, from.Format("2006-01-02"), to.Format("2006-01-02")).Scan(
		&stats.TotalTokens, &stats.TotalRequests, &stats.ActiveClientKeys,
	)
	if err != nil {
		return nil, err
	}

	driverRows, err := s.db.Query(`SELECT
		driver,
		SUM(request_count), SUM(success_count), SUM(error_count),
		SUM(total_prompt_tokens), SUM(total_completion_tokens), SUM(total_tokens),
		AVG(avg_duration_ms), AVG(avg_ttft_ms)
		FROM usage_stats_daily
		WHERE stat_date >= ? AND stat_date <= ?
		GROUP BY driver`, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer driverRows.Close()

	for driverRows.Next() {
		var driver string
		var driverStats AggregatedStats
		if err := driverRows.Scan(&driver, &driverStats.RequestCount, &driverStats.SuccessCount, &driverStats.ErrorCount,
			&driverStats.TotalPromptTokens, &driverStats.TotalCompletionTokens, &driverStats.TotalTokens,
			&driverStats.AvgDurationMs, &driverStats.AvgTTFTMs); err != nil {
			return nil, err
		}
		if driverStats.RequestCount > 0 {
			driverStats.SuccessRate = float64(driverStats.SuccessCount) / float64(driverStats.RequestCount) * 100
		}
		stats.ByDriver[driver] = &driverStats
	}

	modelRows, err := s.db.Query(`SELECT
		model,
		SUM(request_count), SUM(success_count), SUM(error_count),
		SUM(total_prompt_tokens), SUM(total_completion_tokens), SUM(total_tokens),
		AVG(avg_duration_ms), AVG(avg_ttft_ms)
		FROM usage_stats_daily
		WHERE stat_date >= ? AND stat_date <= ?
		GROUP BY model`, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer modelRows.Close()

	for modelRows.Next() {
		var model string
		var modelStats AggregatedStats
		if err := modelRows.Scan(&model, &modelStats.RequestCount, &modelStats.SuccessCount, &modelStats.ErrorCount,
			&modelStats.TotalPromptTokens, &modelStats.TotalCompletionTokens, &modelStats.TotalTokens,
			&modelStats.AvgDurationMs, &modelStats.AvgTTFTMs); err != nil {
			return nil, err
		}
		if modelStats.RequestCount > 0 {
			modelStats.SuccessRate = float64(modelStats.SuccessCount) / float64(modelStats.RequestCount) * 100
		}
		stats.ByModel[model] = &modelStats
	}

	return stats, nil
}

func scanAggregated(row *sql.Row) (*AggregatedStats, error) {
	var stats AggregatedStats
	err := row.Scan(
		&stats.RequestCount, &stats.SuccessCount, &stats.ErrorCount,
		&stats.TotalPromptTokens, &stats.TotalCompletionTokens, &stats.TotalTokens,
		&stats.AvgDurationMs, &stats.AvgTTFTMs,
	)
	if err != nil {
		return nil, err
	}
	if stats.RequestCount > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.RequestCount) * 100
	}
	return &stats, nil
}

func scanTrend(rows *sql.Rows) ([]*DailyStats, error) {
	var trends []*DailyStats
	for rows.Next() {
		var trend DailyStats
		if err := rows.Scan(&trend.Date, &trend.RequestCount, &trend.SuccessCount, &trend.TotalTokens); err != nil {
			return nil, err
		}
		trends = append(trends, &trend)
	}
	return trends, rows.Err()
}
