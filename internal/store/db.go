package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
	path string
}

func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		user_message TEXT NOT NULL,
		assistant_response TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
		processing_time REAL NOT NULL DEFAULT 0 CHECK (processing_time >= 0),
		model_used TEXT NOT NULL,
		success BOOLEAN NOT NULL DEFAULT 1,
		error_message TEXT,
		error_type TEXT,
		user_ip TEXT,
		user_agent TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_logs(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversation_success ON conversation_logs(success);

	CREATE TABLE IF NOT EXISTS user_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_uuid TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_activity TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		total_messages INTEGER NOT NULL DEFAULT 0 CHECK (total_messages >= 0),
		total_tokens INTEGER NOT NULL DEFAULT 0 CHECK (total_tokens >= 0),
		total_processing_time REAL NOT NULL DEFAULT 0,
		user_ip TEXT,
		user_agent TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_session_uuid ON user_sessions(session_uuid);
	CREATE INDEX IF NOT EXISTS idx_session_activity ON user_sessions(last_activity);

	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		cpu_percent REAL,
		memory_percent REAL,
		disk_percent REAL,
		uptime_seconds INTEGER NOT NULL DEFAULT 0,
		health_status TEXT NOT NULL DEFAULT 'healthy'
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON system_metrics(timestamp);

	CREATE TABLE IF NOT EXISTS api_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		response_time REAL NOT NULL DEFAULT 0 CHECK (response_time >= 0),
		user_ip TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_api_usage_timestamp ON api_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_api_usage_endpoint ON api_usage(endpoint);

	CREATE TABLE IF NOT EXISTS error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		error_type TEXT NOT NULL,
		error_message TEXT NOT NULL,
		endpoint TEXT,
		session_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_error_logs_timestamp ON error_logs(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

type Conversation struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	TokensUsed        int       `json:"tokens_used"`
	ProcessingTime    float64   `json:"processing_time"`
	ModelUsed         string    `json:"model_used"`
	Success           bool      `json:"success"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ErrorType         string    `json:"error_type,omitempty"`
	UserIP            string    `json:"user_ip,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
}

type Session struct {
	ID                  int64     `json:"id"`
	SessionUUID         string    `json:"session_id"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity"`
	TotalMessages       int       `json:"total_messages"`
	TotalTokens         int       `json:"total_tokens"`
	TotalProcessingTime float64   `json:"total_processing_time"`
}

type Metrics struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	HealthStatus  string    `json:"health_status"`
}

// APIUsage is one recorded request against the HTTP surface.
type APIUsage struct {
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	ResponseTime float64   `json:"response_time"`
	UserIP       string    `json:"user_ip,omitempty"`
}

// ErrorLog is one recorded application error, kept separately from the
// conversation rows so failures without a session are still auditable.
type ErrorLog struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	Endpoint     string    `json:"endpoint,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
}

func (db *DB) LogConversation(c *Conversation) error {
	query := `INSERT INTO conversation_logs
	          (session_id, timestamp, user_message, assistant_response, tokens_used,
	           processing_time, model_used, success, error_message, error_type, user_ip, user_agent)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, c.SessionID, c.Timestamp, c.UserMessage, c.AssistantResponse,
		c.TokensUsed, c.ProcessingTime, c.ModelUsed, c.Success, nullable(c.ErrorMessage),
		nullable(c.ErrorType), nullable(c.UserIP), nullable(c.UserAgent))
	return err
}

// SessionHistory returns the most recent successful turns for a session,
// oldest first.
func (db *DB) SessionHistory(sessionID string, limit int) ([]Conversation, error) {
	query := `SELECT id, session_id, timestamp, user_message, assistant_response,
	          tokens_used, processing_time, model_used, success
	          FROM conversation_logs
	          WHERE session_id = ? AND success = 1
	          ORDER BY timestamp DESC LIMIT ?`

	rows, err := db.conn.Query(query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Timestamp, &c.UserMessage,
			&c.AssistantResponse, &c.TokensUsed, &c.ProcessingTime, &c.ModelUsed, &c.Success); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(convs)-1; i < j; i, j = i+1, j-1 {
		convs[i], convs[j] = convs[j], convs[i]
	}
	return convs, nil
}

func (db *DB) TouchSession(sessionID, userIP, userAgent string, tokens int, processingTime float64) error {
	query := `INSERT INTO user_sessions (session_uuid, user_ip, user_agent, total_messages, total_tokens, total_processing_time, last_activity)
	          VALUES (?, ?, ?, 1, ?, ?, CURRENT_TIMESTAMP)
	          ON CONFLICT(session_uuid) DO UPDATE SET
	              last_activity = CURRENT_TIMESTAMP,
	              total_messages = total_messages + 1,
	              total_tokens = total_tokens + excluded.total_tokens,
	              total_processing_time = total_processing_time + excluded.total_processing_time`
	_, err := db.conn.Exec(query, sessionID, nullable(userIP), nullable(userAgent), tokens, processingTime)
	return err
}

func (db *DB) GetSession(sessionID string) (*Session, error) {
	query := `SELECT id, session_uuid, created_at, last_activity, total_messages,
	          total_tokens, total_processing_time
	          FROM user_sessions WHERE session_uuid = ?`

	var s Session
	err := db.conn.QueryRow(query, sessionID).Scan(&s.ID, &s.SessionUUID, &s.CreatedAt,
		&s.LastActivity, &s.TotalMessages, &s.TotalTokens, &s.TotalProcessingTime)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) InsertMetrics(m *Metrics) error {
	query := `INSERT INTO system_metrics (timestamp, cpu_percent, memory_percent, disk_percent, uptime_seconds, health_status)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, m.Timestamp, m.CPUPercent, m.MemoryPercent, m.DiskPercent,
		m.UptimeSeconds, m.HealthStatus)
	return err
}

func (db *DB) RecordAPIUsage(u *APIUsage) error {
	query := `INSERT INTO api_usage (timestamp, endpoint, method, status_code, response_time, user_ip)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, u.Timestamp, u.Endpoint, u.Method, u.StatusCode,
		u.ResponseTime, nullable(u.UserIP))
	return err
}

func (db *DB) LogError(e *ErrorLog) error {
	query := `INSERT INTO error_logs (timestamp, error_type, error_message, endpoint, session_id)
	          VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, e.Timestamp, e.ErrorType, e.ErrorMessage,
		nullable(e.Endpoint), nullable(e.SessionID))
	return err
}

// Stats is the aggregate view served by the admin endpoint.
type Stats struct {
	TotalConversations int            `json:"total_conversations"`
	TotalSessions      int            `json:"total_sessions"`
	TotalTokens        int            `json:"total_tokens"`
	AvgProcessingTime  float64        `json:"avg_processing_time"`
	RequestsByEndpoint map[string]int `json:"requests_by_endpoint"`
	ErrorsLastDay      int            `json:"errors_last_day"`
}

func (db *DB) Stats() (*Stats, error) {
	s := &Stats{RequestsByEndpoint: map[string]int{}}

	err := db.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(AVG(processing_time), 0)
	                         FROM conversation_logs WHERE success = 1`).
		Scan(&s.TotalConversations, &s.TotalTokens, &s.AvgProcessingTime)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM user_sessions`).Scan(&s.TotalSessions); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := db.conn.Query(`SELECT endpoint, COUNT(*) FROM api_usage GROUP BY endpoint`)
	if err != nil {
		return nil, fmt.Errorf("aggregate api usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var endpoint string
		var count int
		if err := rows.Scan(&endpoint, &count); err != nil {
			return nil, err
		}
		s.RequestsByEndpoint[endpoint] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM error_logs WHERE timestamp > ?`, cutoff).Scan(&s.ErrorsLastDay); err != nil {
		return nil, fmt.Errorf("count recent errors: %w", err)
	}
	return s, nil
}

// CleanupOld removes metrics, conversation, usage and error rows older
// than the retention window.
func (db *DB) CleanupOld(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, table := range []string{"system_metrics", "conversation_logs", "api_usage", "error_logs"} {
		if _, err := db.conn.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return nil
}

func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// VacuumInto writes a consistent copy of the live database to dst. This is
// the backup path: the copy is a complete standalone database file.
func (db *DB) VacuumInto(dst string) error {
	if _, err := os.Stat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("remove stale copy: %w", err)
		}
	}
	if _, err := db.conn.Exec(`VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

// IntegrityCheck opens the database file read-only and runs sqlite's
// logical integrity check. It is side-effect-free and safe to run against
// the live datastore.
func IntegrityCheck(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("datastore missing: %w", err)
	}

	conn, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
