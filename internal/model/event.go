package model

// EventKind identifies an event sent to the decision engine.
// The numeric values are part of the engine contract.
type EventKind int

const (
	EventNone EventKind = iota - 1
	EventPreRequest
	EventPostRequest
	EventPreOutgoingRequest
	EventPostOutgoingRequest
	EventPreShellExecuted
	EventPrePathAccessed
	EventPreSQLQueryExecuted
	EventSetUser
	EventGetBlockingStatus
	EventGetAutoBlockingStatus
	EventRegisterParamMatcher
	EventGetIPBypassStatus
)

var eventNames = map[EventKind]string{
	EventNone:                  "none",
	EventPreRequest:            "pre-request",
	EventPostRequest:           "post-request",
	EventPreOutgoingRequest:    "pre-outgoing-request",
	EventPostOutgoingRequest:   "post-outgoing-request",
	EventPreShellExecuted:      "pre-shell-executed",
	EventPrePathAccessed:       "pre-path-accessed",
	EventPreSQLQueryExecuted:   "pre-sql-query-executed",
	EventSetUser:               "set-user",
	EventGetBlockingStatus:     "get-blocking-status",
	EventGetAutoBlockingStatus: "get-auto-blocking-status",
	EventRegisterParamMatcher:  "register-param-matcher",
	EventGetIPBypassStatus:     "get-ip-bypass-status",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether k is a kind the engine understands.
func (k EventKind) Valid() bool {
	return k > EventNone && k <= EventGetIPBypassStatus
}

// ParseEventKind maps a kind name back to its value.
func ParseEventKind(s string) (EventKind, bool) {
	for k, name := range eventNames {
		if name == s && k != EventNone {
			return k, true
		}
	}
	return EventNone, false
}

// SinkKind groups intercepted operations for statistics.
type SinkKind string

const (
	SinkOutgoingHTTP SinkKind = "outgoing_http_op"
	SinkShell        SinkKind = "exec_op"
	SinkFileSystem   SinkKind = "fs_op"
	SinkSQL          SinkKind = "sql_op"
	SinkCodeLoad     SinkKind = "code_load_op"
	SinkRequest      SinkKind = "request_op"
)
