package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogAndHistory(t *testing.T) {
	db := newTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, msg := range []string{"first", "second", "third"} {
		err := db.LogConversation(&Conversation{
			SessionID:         "sess-1",
			Timestamp:         base.Add(time.Duration(i) * time.Minute),
			UserMessage:       msg,
			AssistantResponse: "reply to " + msg,
			TokensUsed:        10,
			ModelUsed:         "test-model",
			Success:           true,
		})
		if err != nil {
			t.Fatalf("log conversation: %v", err)
		}
	}

	// A failed turn must not appear in history.
	err := db.LogConversation(&Conversation{
		SessionID:         "sess-1",
		Timestamp:         base.Add(10 * time.Minute),
		UserMessage:       "broken",
		AssistantResponse: "",
		ModelUsed:         "test-model",
		Success:           false,
		ErrorType:         "api_error",
	})
	if err != nil {
		t.Fatalf("log failed conversation: %v", err)
	}

	history, err := db.SessionHistory("sess-1", 10)
	if err != nil {
		t.Fatalf("session history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 successful turns, got %d", len(history))
	}
	if history[0].UserMessage != "first" || history[2].UserMessage != "third" {
		t.Errorf("expected chronological order, got %s .. %s", history[0].UserMessage, history[2].UserMessage)
	}
}

func TestSessionHistoryLimit(t *testing.T) {
	db := newTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		err := db.LogConversation(&Conversation{
			SessionID:         "sess-2",
			Timestamp:         base.Add(time.Duration(i) * time.Minute),
			UserMessage:       "msg",
			AssistantResponse: "reply",
			ModelUsed:         "test-model",
			Success:           true,
		})
		if err != nil {
			t.Fatalf("log conversation: %v", err)
		}
	}

	history, err := db.SessionHistory("sess-2", 10)
	if err != nil {
		t.Fatalf("session history: %v", err)
	}
	if len(history) != 10 {
		t.Errorf("expected limit of 10, got %d", len(history))
	}
}

func TestTouchSessionAccumulates(t *testing.T) {
	db := newTestDB(t)

	if err := db.TouchSession("sess-3", "10.0.0.1", "curl", 100, 1.5); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	if err := db.TouchSession("sess-3", "10.0.0.1", "curl", 50, 0.5); err != nil {
		t.Fatalf("second touch: %v", err)
	}

	s, err := db.GetSession("sess-3")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.TotalMessages != 2 {
		t.Errorf("total messages = %d", s.TotalMessages)
	}
	if s.TotalTokens != 150 {
		t.Errorf("total tokens = %d", s.TotalTokens)
	}
}

func TestCleanupOld(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().Add(-40 * 24 * time.Hour)
	if err := db.InsertMetrics(&Metrics{Timestamp: old, HealthStatus: "healthy"}); err != nil {
		t.Fatalf("insert old metrics: %v", err)
	}
	if err := db.InsertMetrics(&Metrics{Timestamp: time.Now(), HealthStatus: "healthy"}); err != nil {
		t.Fatalf("insert fresh metrics: %v", err)
	}

	if err := db.CleanupOld(30 * 24 * time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM system_metrics`).Scan(&count); err != nil {
		t.Fatalf("count metrics: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 surviving metrics row, got %d", count)
	}
}

func TestStatsAggregates(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 2; i++ {
		err := db.LogConversation(&Conversation{
			SessionID:         "sess-5",
			Timestamp:         time.Now(),
			UserMessage:       "hi",
			AssistantResponse: "hello",
			TokensUsed:        10,
			ProcessingTime:    2,
			ModelUsed:         "test-model",
			Success:           true,
		})
		if err != nil {
			t.Fatalf("log conversation: %v", err)
		}
	}
	// A failed turn counts toward errors, not toward conversation totals.
	err := db.LogConversation(&Conversation{
		SessionID:   "sess-5",
		Timestamp:   time.Now(),
		UserMessage: "broken",
		ModelUsed:   "test-model",
		Success:     false,
	})
	if err != nil {
		t.Fatalf("log failed conversation: %v", err)
	}
	if err := db.TouchSession("sess-5", "10.0.0.1", "curl", 20, 4); err != nil {
		t.Fatalf("touch session: %v", err)
	}

	for _, endpoint := range []string{"/chat", "/chat", "/health"} {
		err := db.RecordAPIUsage(&APIUsage{
			Timestamp:  time.Now(),
			Endpoint:   endpoint,
			Method:     "POST",
			StatusCode: 200,
		})
		if err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}
	err = db.LogError(&ErrorLog{
		Timestamp:    time.Now(),
		ErrorType:    "provider_error",
		ErrorMessage: "upstream down",
		Endpoint:     "/chat",
		SessionID:    "sess-5",
	})
	if err != nil {
		t.Fatalf("log error: %v", err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalConversations != 2 || stats.TotalTokens != 20 {
		t.Errorf("conversation totals = %+v", stats)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("total sessions = %d", stats.TotalSessions)
	}
	if stats.AvgProcessingTime != 2 {
		t.Errorf("avg processing time = %v", stats.AvgProcessingTime)
	}
	if stats.RequestsByEndpoint["/chat"] != 2 || stats.RequestsByEndpoint["/health"] != 1 {
		t.Errorf("requests by endpoint = %v", stats.RequestsByEndpoint)
	}
	if stats.ErrorsLastDay != 1 {
		t.Errorf("errors last day = %d", stats.ErrorsLastDay)
	}
}

func TestCleanupOldCoversUsageAndErrors(t *testing.T) {
	db := newTestDB(t)

	old := time.Now().Add(-40 * 24 * time.Hour)
	if err := db.RecordAPIUsage(&APIUsage{Timestamp: old, Endpoint: "/chat", Method: "POST", StatusCode: 200}); err != nil {
		t.Fatalf("record old usage: %v", err)
	}
	if err := db.LogError(&ErrorLog{Timestamp: old, ErrorType: "provider_error", ErrorMessage: "x"}); err != nil {
		t.Fatalf("log old error: %v", err)
	}
	if err := db.RecordAPIUsage(&APIUsage{Timestamp: time.Now(), Endpoint: "/chat", Method: "POST", StatusCode: 200}); err != nil {
		t.Fatalf("record fresh usage: %v", err)
	}

	if err := db.CleanupOld(30 * 24 * time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	var usage, errs int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM api_usage`).Scan(&usage); err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM error_logs`).Scan(&errs); err != nil {
		t.Fatalf("count errors: %v", err)
	}
	if usage != 1 || errs != 0 {
		t.Errorf("surviving rows: usage=%d errors=%d", usage, errs)
	}
}

func TestVacuumIntoAndIntegrity(t *testing.T) {
	db := newTestDB(t)

	err := db.LogConversation(&Conversation{
		SessionID:         "sess-4",
		Timestamp:         time.Now(),
		UserMessage:       "hello",
		AssistantResponse: "hi",
		ModelUsed:         "test-model",
		Success:           true,
	})
	if err != nil {
		t.Fatalf("log conversation: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "copy.db")
	if err := db.VacuumInto(dst); err != nil {
		t.Fatalf("vacuum into: %v", err)
	}

	if err := IntegrityCheck(dst); err != nil {
		t.Errorf("copy should pass integrity check: %v", err)
	}

	copyDB, err := NewDB(dst)
	if err != nil {
		t.Fatalf("open copy: %v", err)
	}
	defer copyDB.Close()

	history, err := copyDB.SessionHistory("sess-4", 10)
	if err != nil {
		t.Fatalf("history from copy: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected copied conversation, got %d rows", len(history))
	}
}

func TestIntegrityCheckFailsOnGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite file at all"), 0644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	if err := IntegrityCheck(path); err == nil {
		t.Error("expected integrity check to fail on a non-database file")
	}
}

func TestIntegrityCheckMissingFile(t *testing.T) {
	if err := IntegrityCheck(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Error("expected integrity check to fail on a missing file")
	}
}
