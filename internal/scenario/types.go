package scenario

// Call is the intercepted operation a case runs.
type Call struct {
	// Operation is a registered key, e.g. "exec.Cmd->Run" or "os.ReadFile".
	Operation string   `yaml:"operation"`
	Args      []string `yaml:"args,omitempty"`
	// Dialect is used for SQL operations.
	Dialect string `yaml:"dialect,omitempty"`
}

// Response shapes what an outgoing HTTP call returns.
type Response struct {
	Status     int    `yaml:"status,omitempty"`
	Location   string `yaml:"location,omitempty"`
	RemoteAddr string `yaml:"remote_addr,omitempty"`
}

// Request describes the host request a case runs in.
type Request struct {
	Method        string            `yaml:"method,omitempty"`
	Route         string            `yaml:"route,omitempty"`
	RemoteAddress string            `yaml:"remote_address,omitempty"`
	UserAgent     string            `yaml:"user_agent,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

// Case is one request with one intercepted call.
type Case struct {
	Request  Request           `yaml:"request,omitempty"`
	Call     Call              `yaml:"call"`
	Response *Response         `yaml:"response,omitempty"`
	Replies  map[string]string `yaml:"replies,omitempty"`
	// Expect is allow, block or exit.
	Expect string `yaml:"expect"`
	// Event, if set, is the kind the call must send last.
	Event string `yaml:"event,omitempty"`
}

// Scenario is a named collection of cases replayed against a scripted
// engine. Replies map event kind names to raw engine replies and apply to
// every case unless the case overrides them.
type Scenario struct {
	Name     string            `yaml:"name"`
	Blocking *bool             `yaml:"blocking,omitempty"`
	Mode     string            `yaml:"mode,omitempty"`
	Replies  map[string]string `yaml:"replies,omitempty"`
	Cases    []Case            `yaml:"cases"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Index     int    `json:"index"`
	Passed    bool   `json:"passed"`
	Operation string `json:"operation"`
	Argument  string `json:"argument"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Event     string `json:"event,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
