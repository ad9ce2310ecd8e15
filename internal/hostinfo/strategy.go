package hostinfo

import (
	"os"
	"path/filepath"
)

// EnvironmentStrategy captures the per-provider conventions the rest of the
// system needs: where the project lives and where the reverse proxy expects
// its site configuration. Selected once by the detector and injected into
// the materializer and orchestrator.
type EnvironmentStrategy interface {
	Provider() Provider
	ProjectRoot(currentUser string) string
	NginxSitePath() string
}

const projectDirName = "ai-agent"

func StrategyFor(p Provider) EnvironmentStrategy {
	switch p {
	case ProviderAWS:
		return awsStrategy{}
	case ProviderGCP:
		return gcpStrategy{}
	case ProviderAzure:
		return azureStrategy{}
	case ProviderWSL:
		return wslStrategy{}
	case ProviderVPS:
		return vpsStrategy{}
	default:
		return localStrategy{}
	}
}

func homeRoot(currentUser string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, projectDirName)
	}
	if currentUser != "" {
		return filepath.Join("/home", currentUser, projectDirName)
	}
	return filepath.Join("/opt", projectDirName)
}

type awsStrategy struct{}

func (awsStrategy) Provider() Provider { return ProviderAWS }
func (awsStrategy) ProjectRoot(currentUser string) string {
	if currentUser == "ubuntu" || currentUser == "ec2-user" {
		return filepath.Join("/home", currentUser, projectDirName)
	}
	return homeRoot(currentUser)
}
func (awsStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }

type gcpStrategy struct{}

func (gcpStrategy) Provider() Provider { return ProviderGCP }
func (gcpStrategy) ProjectRoot(currentUser string) string {
	return homeRoot(currentUser)
}
func (gcpStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }

type azureStrategy struct{}

func (azureStrategy) Provider() Provider { return ProviderAzure }
func (azureStrategy) ProjectRoot(currentUser string) string {
	if currentUser == "azureuser" {
		return filepath.Join("/home", currentUser, projectDirName)
	}
	return homeRoot(currentUser)
}
func (azureStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }

type vpsStrategy struct{}

func (vpsStrategy) Provider() Provider { return ProviderVPS }
func (vpsStrategy) ProjectRoot(currentUser string) string {
	if currentUser == "root" {
		return filepath.Join("/opt", projectDirName)
	}
	return homeRoot(currentUser)
}
func (vpsStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }

type wslStrategy struct{}

func (wslStrategy) Provider() Provider { return ProviderWSL }
func (wslStrategy) ProjectRoot(currentUser string) string {
	return homeRoot(currentUser)
}
func (wslStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }

type localStrategy struct{}

func (localStrategy) Provider() Provider { return ProviderLocal }
func (localStrategy) ProjectRoot(currentUser string) string {
	return homeRoot(currentUser)
}
func (localStrategy) NginxSitePath() string { return "/etc/nginx/sites-available/" + projectDirName }
