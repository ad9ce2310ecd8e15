package orchestrator

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const probeTimeout = 5 * time.Second

// ProbeResult is one observation of a service's health endpoint. A timeout
// or refused connection is a failed probe, never an error of the caller's
// run.
type ProbeResult struct {
	Healthy bool
	Status  string
	Latency time.Duration
}

type Prober interface {
	Check(url string) ProbeResult
}

// HTTPProber probes GET endpoints with a fixed short timeout. Any non-2xx
// response or transport failure counts as unhealthy; the JSON status field
// is parsed only from 2xx responses.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: probeTimeout}}
}

func (p *HTTPProber) Check(url string) ProbeResult {
	start := time.Now()

	resp, err := p.client.Get(url)
	if err != nil {
		return ProbeResult{Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	result := ProbeResult{Latency: time.Since(start)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return result
	}

	result.Healthy = true

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		result.Status = body.Status
	}
	return result
}
