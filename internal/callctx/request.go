package callctx

import "github.com/ppiankov/sinkguard/internal/model"

// IdorConfig is the tenant-isolation setup a host enabled for a request.
type IdorConfig struct {
	ColumnName     string   `json:"column_name"`
	ExcludedTables []string `json:"excluded_tables"`
}

// RequestContext is scoped to one host request. It is reset, never
// reallocated, between requests.
type RequestContext struct {
	Initialized bool
	Info        model.RequestInfo

	UserID         string
	UserName       string
	RateLimitGroup string
	TenantID       string

	Idor         *IdorConfig
	IdorDisabled bool

	OutgoingRequestURL         string
	OutgoingRequestRedirectURL string

	// Lazily fetched once per request.
	BlockChecked     bool
	BlockStatus      model.BlockStatus
	AutoBlockChecked bool
	BypassChecked    bool
	Bypassed         bool
}

// Reset overwrites the context with its zero value.
func (r *RequestContext) Reset() {
	*r = RequestContext{}
}

// Begin resets the context and marks it as serving info.
func (r *RequestContext) Begin(info model.RequestInfo) {
	r.Reset()
	r.Info = info
	r.Initialized = true
}
