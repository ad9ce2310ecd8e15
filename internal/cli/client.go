package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the managed backend's HTTP API. The ops commands use it
// for read-only queries; all mutations go through the orchestrator, never
// through HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	return c.get("/health")
}

func (c *Client) GetSession(sessionID string) (map[string]interface{}, error) {
	return c.get("/sessions/" + sessionID)
}

func (c *Client) SessionHistory(sessionID string) (map[string]interface{}, error) {
	return c.get("/sessions/" + sessionID + "/history")
}

// Chat sends one message; an empty sessionID starts a new session.
func (c *Client) Chat(message, sessionID string) (map[string]interface{}, error) {
	payload := map[string]string{"message": message}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return decode(resp)
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	url := c.baseURL + path

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return decode(resp)
}

func decode(resp *http.Response) (map[string]interface{}, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}
