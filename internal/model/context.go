package model

// ContextField identifies a value the engine can pull lazily through the
// context callback. The numeric values are part of the engine contract.
type ContextField int

const (
	CtxRemoteAddress ContextField = iota
	CtxMethod
	CtxRoute
	CtxStatusCode
	CtxBody
	CtxHeaderXForwardedFor
	CtxCookies
	CtxQuery
	CtxHTTPS
	CtxURL
	CtxHeaders
	CtxUserAgent
	CtxUserID
	CtxUserName
	CtxRateLimitGroup
	CtxFunctionName
	CtxOutgoingRequestURL
	CtxOutgoingRequestEffectiveURL
	CtxOutgoingRequestPort
	CtxOutgoingRequestEffectiveURLPort
	CtxOutgoingRequestResolvedIP
	CtxCmd
	CtxFilename
	CtxFilename2
	CtxSQLQuery
	CtxSQLDialect
	CtxModule
	CtxStackTrace
	CtxParamMatcherParam
	CtxParamMatcherRegex
	CtxTenantID
	CtxIdorConfig
)

// RequestInfo is the host's view of the request being served. Fields
// are captured once at request start; StatusCode may be updated before
// the post-request event.
type RequestInfo struct {
	RemoteAddress string
	Method        string
	Route         string
	URL           string
	Query         string
	Body          string
	Cookies       string
	UserAgent     string
	XForwardedFor string
	HTTPS         bool
	StatusCode    int
	Headers       map[string]string
}
