package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultSlowQuery is the slow query threshold used when none is configured.
const DefaultSlowQuery = time.Second

// QueryLogger times statements and reports slow ones.
type QueryLogger struct {
	logger             Logger
	slowQueryThreshold time.Duration
	stats              *StatsCollector
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger Logger) *QueryLogger {
	if logger == nil {
		logger = Nop{}
	}
	return &QueryLogger{
		logger:             logger,
		slowQueryThreshold: DefaultSlowQuery,
	}
}

// SetSlowQueryThreshold sets the threshold for slow query warnings.
func (q *QueryLogger) SetSlowQueryThreshold(d time.Duration) {
	q.slowQueryThreshold = d
}

// SlowQueryThreshold returns the current threshold.
func (q *QueryLogger) SlowQueryThreshold() time.Duration {
	return q.slowQueryThreshold
}

// SetStats attaches a statistics collector.
func (q *QueryLogger) SetStats(s *StatsCollector) {
	q.stats = s
}

// Start begins timing a statement.
func (q *QueryLogger) Start() time.Time {
	return time.Now()
}

// End logs a completed statement: warn above the threshold, debug otherwise.
func (q *QueryLogger) End(sql string, args []interface{}, start time.Time, err error) {
	q.LogQuery(sql, args, time.Since(start), err)
}

// LogQuery logs a query execution.
func (q *QueryLogger) LogQuery(sql string, args []interface{}, duration time.Duration, err error) {
	if q.stats != nil {
		q.stats.Record(sql, duration, err)
	}

	msg := fmt.Sprintf("Elapsed: %.3f, SQL: %s", duration.Seconds(), flatten(sql))
	fields := Fields{"duration": duration}
	if len(args) > 0 {
		fields["args"] = args
	}

	if err != nil {
		fields["error"] = err.Error()
		q.logger.Log(LevelError, msg, fields)
		return
	}
	if duration > q.slowQueryThreshold {
		q.logger.Log(LevelWarn, msg, fields)
		return
	}
	q.logger.Log(LevelDebug, msg, fields)
}

func flatten(sql string) string {
	return strings.ReplaceAll(strings.ReplaceAll(sql, "\r", " "), "\n", " ")
}

// QueryStats holds query execution statistics.
type QueryStats struct {
	TotalQueries  int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	LastQuery     string
	LastQueryAt   time.Time
}

// StatsCollector collects query statistics.
type StatsCollector struct {
	mu            sync.Mutex
	stats         QueryStats
	slowThreshold time.Duration
}

// NewStatsCollector creates a new statistics collector.
func NewStatsCollector(slowThreshold time.Duration) *StatsCollector {
	return &StatsCollector{slowThreshold: slowThreshold}
}

// Record records a query execution.
func (s *StatsCollector) Record(sql string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalQueries++
	s.stats.TotalDuration += duration
	s.stats.LastQuery = sql
	s.stats.LastQueryAt = time.Now()
	if err != nil {
		s.stats.Errors++
	}
	if duration > s.slowThreshold {
		s.stats.SlowQueries++
	}
}

// Stats returns the current statistics.
func (s *StatsCollector) Stats() QueryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// AverageQueryTime returns the average query execution time.
func (s *StatsCollector) AverageQueryTime() time.Duration {
	st := s.Stats()
	if st.TotalQueries == 0 {
		return 0
	}
	return st.TotalDuration / time.Duration(st.TotalQueries)
}

// Reset resets all statistics.
func (s *StatsCollector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = QueryStats{}
}
