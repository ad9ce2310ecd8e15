package hostinfo

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(notFound.Close)

	d := NewDetector()
	d.AWSEndpoint = notFound.URL
	d.GCPEndpoint = notFound.URL
	d.AzureEndpoint = notFound.URL
	d.ProcVersion = filepath.Join(t.TempDir(), "missing")
	return d
}

func TestDetectAWS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance-id":
			w.Write([]byte("i-0abc123def456"))
		case "/public-ipv4":
			w.Write([]byte("54.10.20.30"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := newTestDetector(t)
	d.AWSEndpoint = srv.URL

	p := d.Detect()
	if p.Provider != ProviderAWS {
		t.Fatalf("expected aws provider, got %s", p.Provider)
	}
	if p.InstanceID != "i-0abc123def456" {
		t.Errorf("expected instance id i-0abc123def456, got %s", p.InstanceID)
	}
	if p.PublicIP != "54.10.20.30" {
		t.Errorf("expected public ip 54.10.20.30, got %s", p.PublicIP)
	}
	if p.ProjectRoot == "" {
		t.Error("expected project root to be derived")
	}
}

func TestDetectGCPRequiresHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata-Flavor") != "Google" {
			http.Error(w, "missing header", http.StatusForbidden)
			return
		}
		if r.URL.Path == "/instance/id" {
			w.Write([]byte("8872334455"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDetector(t)
	d.GCPEndpoint = srv.URL

	p := d.Detect()
	if p.Provider != ProviderGCP {
		t.Fatalf("expected gcp provider, got %s", p.Provider)
	}
	if p.InstanceID != "8872334455" {
		t.Errorf("expected instance id 8872334455, got %s", p.InstanceID)
	}
}

func TestDetectWSL(t *testing.T) {
	procFile := filepath.Join(t.TempDir(), "version")
	content := "Linux version 5.15.90.1-microsoft-standard-WSL2 (gcc ...)"
	if err := os.WriteFile(procFile, []byte(content), 0644); err != nil {
		t.Fatalf("write proc fixture: %v", err)
	}

	d := newTestDetector(t)
	d.ProcVersion = procFile

	p := d.Detect()
	if p.Provider != ProviderWSL {
		t.Fatalf("expected wsl provider, got %s", p.Provider)
	}
}

func TestDetectFallsBackWithoutMetadata(t *testing.T) {
	d := newTestDetector(t)

	p := d.Detect()
	if p.Provider == ProviderAWS || p.Provider == ProviderGCP || p.Provider == ProviderAzure {
		t.Fatalf("expected non-cloud provider, got %s", p.Provider)
	}
	if p.ProjectRoot == "" {
		t.Error("expected best-effort project root")
	}
}

func TestDetectDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/instance-id" {
			w.Write([]byte("i-11111111"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDetector(t)
	d.AWSEndpoint = srv.URL

	first := d.Detect()
	second := d.Detect()

	first.DetectedAt = second.DetectedAt
	if first != second {
		t.Errorf("expected identical profiles across runs:\n%+v\n%+v", first, second)
	}
}

func TestStrategyProjectRoots(t *testing.T) {
	if got := StrategyFor(ProviderAWS).ProjectRoot("ubuntu"); got != "/home/ubuntu/ai-agent" {
		t.Errorf("aws/ubuntu root = %s", got)
	}
	if got := StrategyFor(ProviderAzure).ProjectRoot("azureuser"); got != "/home/azureuser/ai-agent" {
		t.Errorf("azure/azureuser root = %s", got)
	}
	if got := StrategyFor(ProviderVPS).ProjectRoot("root"); got != "/opt/ai-agent" {
		t.Errorf("vps/root root = %s", got)
	}
	if got := StrategyFor(ProviderLocal).ProjectRoot("dev"); got == "" {
		t.Error("local root should never be empty")
	}
}

func TestParseOSRelease(t *testing.T) {
	data := "NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\nVERSION_ID=\"22.04\"\n"
	fields := parseOSRelease(data)
	if fields["ID"] != "ubuntu" {
		t.Errorf("ID = %s", fields["ID"])
	}
	if fields["ID_LIKE"] != "debian" {
		t.Errorf("ID_LIKE = %s", fields["ID_LIKE"])
	}
	if fields["NAME"] != "Ubuntu" {
		t.Errorf("NAME = %s", fields["NAME"])
	}
}
