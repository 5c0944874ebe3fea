package bridge

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
)

// PlatformInfo identifies the host to the engine at Init.
type PlatformInfo struct {
	Name    string `json:"platform_name"`
	Version string `json:"platform_version"`
	Agent   string `json:"agent_version"`
	Threads bool   `json:"threaded"`
}

// JSON encodes the platform info.
func (p PlatformInfo) JSON() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// InitData is the configuration sent at instance init and on reload.
type InitData struct {
	Token                     string            `json:"token"`
	PlatformName              string            `json:"platform_name"`
	PlatformVersion           string            `json:"platform_version"`
	Endpoint                  string            `json:"endpoint"`
	ConfigEndpoint            string            `json:"config_endpoint"`
	LogLevel                  string            `json:"log_level"`
	Blocking                  bool              `json:"blocking"`
	TrustProxy                bool              `json:"trust_proxy"`
	DiskLogs                  bool              `json:"disk_logs"`
	LocalhostAllowedByDefault bool              `json:"localhost_allowed_by_default"`
	CollectAPISchema          bool              `json:"collect_api_schema"`
	Packages                  map[string]string `json:"packages"`
}

// WithToken returns a copy of d carrying token.
func (d InitData) WithToken(token string) InitData {
	d.Token = token
	return d
}

// JSON encodes d. Packages is always an object.
func (d InitData) JSON() string {
	if d.Packages == nil {
		d.Packages = map[string]string{}
	}
	b, _ := json.Marshal(d)
	return string(b)
}

// BuildPackages returns the Go module inventory of the running binary
// merged with extra. Entries in extra win.
func BuildPackages(extra map[string]string) map[string]string {
	pkgs := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			mod := dep
			if dep.Replace != nil {
				mod = dep.Replace
			}
			pkgs[dep.Path] = mod.Version
		}
		pkgs["go"] = runtime.Version()
	}
	for name, version := range extra {
		pkgs[name] = version
	}
	return pkgs
}
