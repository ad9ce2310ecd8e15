package hostinfo

import "time"

type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
	ProviderLocal Provider = "local"
	ProviderWSL   Provider = "wsl"
	ProviderVPS   Provider = "vps"
)

// Profile holds the facts detected about the machine running warden.
// It is computed once per command invocation and passed by value; components
// never re-derive environment facts on their own.
type Profile struct {
	Provider       Provider  `json:"provider"`
	OSFamily       string    `json:"os_family"`
	PackageManager string    `json:"package_manager"`
	CurrentUser    string    `json:"current_user"`
	Hostname       string    `json:"hostname"`
	PublicIP       string    `json:"public_ip,omitempty"`
	InstanceID     string    `json:"instance_id,omitempty"`
	ProjectRoot    string    `json:"project_root"`
	DetectedAt     time.Time `json:"detected_at"`
}
