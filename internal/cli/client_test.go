package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected path /health, got %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"database": "connected",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	data, err := client.Health()
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}

	if data["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", data["status"])
	}
}

func TestClientSessionHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/abc/history" {
			t.Errorf("Expected path /sessions/abc/history, got %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": "abc",
			"turns": []map[string]interface{}{
				{"user_message": "hi", "assistant_response": "hello"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	data, err := client.SessionHistory("abc")
	if err != nil {
		t.Fatalf("SessionHistory() error: %v", err)
	}

	turns := data["turns"].([]interface{})
	if len(turns) != 1 {
		t.Errorf("Expected 1 turn, got %d", len(turns))
	}
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("Expected POST /chat, got %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["message"] != "hello" || req["session_id"] != "abc" {
			t.Errorf("request = %v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": "abc",
			"response":   "hi there",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	data, err := client.Chat("hello", "abc")
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if data["response"] != "hi there" {
		t.Errorf("Expected response, got %v", data["response"])
	}
}

func TestClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.GetSession("missing"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
