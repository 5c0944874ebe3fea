// Package supervisor keeps the companion agent process running.
package supervisor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Paths locates the companion's files.
type Paths struct {
	Binary  string
	RunDir  string
	Socket  string
	PIDFile string
}

// DefaultPaths returns the fixed, versioned locations for product.
func DefaultPaths(product, version string) Paths {
	runDir := fmt.Sprintf("/run/%s-%s", product, version)
	return Paths{
		Binary:  fmt.Sprintf("/opt/%s-%s/%s-agent", product, version, product),
		RunDir:  runDir,
		Socket:  filepath.Join(runDir, product+"-agent.sock"),
		PIDFile: filepath.Join(runDir, product+"-agent.pid"),
	}
}

// Under relocates RunDir, Socket and PIDFile beneath dir.
func (p Paths) Under(dir string) Paths {
	p.RunDir = dir
	p.Socket = filepath.Join(dir, filepath.Base(p.Socket))
	p.PIDFile = filepath.Join(dir, filepath.Base(p.PIDFile))
	return p
}

// WithNonce gives the socket a timestamp and random suffix so concurrently
// starting hosts do not collide on the same name.
func (p Paths) WithNonce(now time.Time) Paths {
	base := filepath.Base(p.Socket)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	nonce := uuid.NewString()[:8]
	p.Socket = filepath.Join(p.RunDir, fmt.Sprintf("%s-%s-%s%s", stem, now.Format("20060102150405"), nonce, ext))
	return p
}

// AgentInit is passed to the companion as its single argument.
type AgentInit struct {
	LogLevel string `json:"log_level"`
	DiskLogs bool   `json:"disk_logs"`
	Socket   string `json:"socket"`
	PIDFile  string `json:"pid_file"`
	EnvFile  string `json:"env_file,omitempty"`
	Metrics  string `json:"metrics_addr,omitempty"`
}

// JSON encodes the init payload.
func (a AgentInit) JSON() string {
	data, _ := json.Marshal(a)
	return string(data)
}

// ParseAgentInit decodes the companion's argument.
func ParseAgentInit(raw string) (AgentInit, error) {
	var a AgentInit
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return AgentInit{}, fmt.Errorf("supervisor: parse agent init: %w", err)
	}
	if a.Socket == "" {
		return AgentInit{}, fmt.Errorf("supervisor: agent init has no socket")
	}
	return a, nil
}
