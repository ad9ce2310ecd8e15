package hostinfo

import (
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

const metadataTimeout = 3 * time.Second

// Detector probes cloud metadata services and local OS files to build a
// Profile. Endpoint URLs and file paths are fields so tests can point them
// at httptest servers and fixture files.
type Detector struct {
	AWSEndpoint   string
	GCPEndpoint   string
	AzureEndpoint string
	ProcVersion   string
	OSRelease     string

	client *http.Client
}

func NewDetector() *Detector {
	return &Detector{
		AWSEndpoint:   "http://169.254.169.254/latest/meta-data",
		GCPEndpoint:   "http://metadata.google.internal/computeMetadata/v1",
		AzureEndpoint: "http://169.254.169.254/metadata",
		ProcVersion:   "/proc/version",
		OSRelease:     "/etc/os-release",
		client:        &http.Client{Timeout: metadataTimeout},
	}
}

// Detect never fails: when nothing positive matches it falls back to the
// local provider with best-effort path derivation. Precedence is fixed:
// cloud metadata (aws, gcp, azure) -> WSL kernel signature -> local interface.
func (d *Detector) Detect() Profile {
	p := Profile{
		Provider:   ProviderLocal,
		DetectedAt: time.Now(),
	}

	if u, err := user.Current(); err == nil {
		p.CurrentUser = u.Username
	}
	if hn, err := os.Hostname(); err == nil {
		p.Hostname = hn
	}

	p.OSFamily = d.detectOSFamily()
	p.PackageManager = detectPackageManager()

	switch {
	case d.probeAWS(&p):
		p.Provider = ProviderAWS
	case d.probeGCP(&p):
		p.Provider = ProviderGCP
	case d.probeAzure(&p):
		p.Provider = ProviderAzure
	case d.isWSL():
		p.Provider = ProviderWSL
	default:
		if ip := firstGlobalUnicast(); ip != "" {
			p.Provider = ProviderVPS
			p.PublicIP = ip
		}
	}

	p.ProjectRoot = StrategyFor(p.Provider).ProjectRoot(p.CurrentUser)
	return p
}

func (d *Detector) probeAWS(p *Profile) bool {
	id, ok := d.get(d.AWSEndpoint+"/instance-id", nil)
	if !ok {
		return false
	}
	p.InstanceID = id
	if ip, ok := d.get(d.AWSEndpoint+"/public-ipv4", nil); ok {
		p.PublicIP = ip
	}
	return true
}

func (d *Detector) probeGCP(p *Profile) bool {
	hdr := map[string]string{"Metadata-Flavor": "Google"}
	id, ok := d.get(d.GCPEndpoint+"/instance/id", hdr)
	if !ok {
		return false
	}
	p.InstanceID = id
	if ip, ok := d.get(d.GCPEndpoint+"/instance/network-interfaces/0/access-configs/0/external-ip", hdr); ok {
		p.PublicIP = ip
	}
	return true
}

func (d *Detector) probeAzure(p *Profile) bool {
	hdr := map[string]string{"Metadata": "true"}
	id, ok := d.get(d.AzureEndpoint+"/instance/compute/vmId?api-version=2021-02-01&format=text", hdr)
	if !ok {
		return false
	}
	p.InstanceID = id
	return true
}

func (d *Detector) get(url string, headers map[string]string) (string, bool) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", false
	}

	value := strings.TrimSpace(string(body))
	return value, value != ""
}

func (d *Detector) isWSL() bool {
	data, err := os.ReadFile(d.ProcVersion)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

func (d *Detector) detectOSFamily() string {
	data, err := os.ReadFile(d.OSRelease)
	if err != nil {
		if info, err := host.Info(); err == nil {
			return info.PlatformFamily
		}
		return "unknown"
	}

	fields := parseOSRelease(string(data))
	for _, candidate := range []string{fields["ID"], fields["ID_LIKE"]} {
		for _, id := range strings.Fields(candidate) {
			switch id {
			case "debian", "ubuntu":
				return "debian"
			case "rhel", "fedora", "centos", "amzn":
				return "rhel"
			case "suse", "opensuse":
				return "suse"
			case "alpine":
				return "alpine"
			case "arch":
				return "arch"
			}
		}
	}
	if fields["ID"] != "" {
		return fields["ID"]
	}
	return "unknown"
}

func parseOSRelease(data string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"`)
	}
	return fields
}

func detectPackageManager() string {
	for _, pm := range []string{"apt-get", "dnf", "yum", "zypper", "apk", "pacman", "brew"} {
		if _, err := exec.LookPath(pm); err == nil {
			return pm
		}
	}
	return "unknown"
}

// firstGlobalUnicast returns the first non-private IPv4 bound to a local
// interface, or "" when the host only has private addressing.
func firstGlobalUnicast() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}
