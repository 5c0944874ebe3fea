package model

// ActionKind tags the outcome of executing one engine reply.
type ActionKind int

const (
	ActContinue ActionKind = iota
	// ActStore records a block status on the request without stopping it.
	ActStore
	ActThrow
	ActExit
	ActWarn
	ActBypassIP
)

func (k ActionKind) String() string {
	switch k {
	case ActStore:
		return "store"
	case ActThrow:
		return "throw"
	case ActExit:
		return "exit"
	case ActWarn:
		return "warning_message"
	case ActBypassIP:
		return "bypassIp"
	default:
		return "continue"
	}
}

// BlockStatus is what should_block_request exposes to the host.
type BlockStatus struct {
	Block       bool   `json:"block"`
	Type        string `json:"type,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
	Description string `json:"description,omitempty"`
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Action is the result of executing a decision engine reply.
// Only the fields relevant to Kind are set.
type Action struct {
	Kind         ActionKind
	Block        BlockStatus
	Code         int
	ResponseCode int
	Message      string
}

// Continue is the zero Action.
var Continue = Action{}

// Blocked reports whether the action stops the intercepted operation.
func (a Action) Blocked() bool {
	return a.Kind == ActThrow || a.Kind == ActExit
}
