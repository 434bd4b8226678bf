package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Log(LevelDebug, "hidden", nil)
	l.Log(LevelWarn, "shown", Fields{"table": "users"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, `table="users"`) {
		t.Errorf("Expected warn message with fields, got %q", out)
	}
}

func TestMaskedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewMaskedLogger(&buf, LevelDebug)
	l.Log(LevelInfo, "query", Fields{"args": []interface{}{"secret"}})
	if strings.Contains(buf.String(), "secret") {
		t.Error("Expected args to be masked")
	}
}

func TestQueryLoggerSlowThreshold(t *testing.T) {
	mem := &Memory{}
	q := NewQueryLogger(mem)
	q.SetSlowQueryThreshold(50 * time.Millisecond)

	q.LogQuery("SELECT\n1", nil, 10*time.Millisecond, nil)
	q.LogQuery("SELECT 2", nil, 100*time.Millisecond, nil)
	q.LogQuery("SELECT 3", nil, time.Millisecond, errors.New("boom"))

	if got := mem.Find(LevelDebug, "SQL: SELECT 1"); len(got) != 1 {
		t.Errorf("Expected one flattened debug entry, got %d", len(got))
	}
	if got := mem.Find(LevelWarn, "SQL: SELECT 2"); len(got) != 1 {
		t.Errorf("Expected one slow query warning, got %d", len(got))
	}
	if got := mem.Find(LevelError, "SELECT 3"); len(got) != 1 {
		t.Errorf("Expected one error entry, got %d", len(got))
	}
}

func TestStatsCollector(t *testing.T) {
	s := NewStatsCollector(50 * time.Millisecond)
	s.Record("a", 10*time.Millisecond, nil)
	s.Record("b", 90*time.Millisecond, errors.New("x"))

	st := s.Stats()
	if st.TotalQueries != 2 || st.SlowQueries != 1 || st.Errors != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if s.AverageQueryTime() != 50*time.Millisecond {
		t.Errorf("Expected 50ms average, got %v", s.AverageQueryTime())
	}
	s.Reset()
	if s.Stats().TotalQueries != 0 {
		t.Error("Expected reset stats")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug || ParseLevel("WARNING") != LevelWarn || ParseLevel("") != LevelInfo {
		t.Error("ParseLevel mapping is wrong")
	}
}
