// Package engineapi defines the symbols a decision engine plugin exports.
// A plugin built with -buildmode=plugin must export every function below
// with exactly these signatures.
package engineapi

// Exported symbol names.
const (
	SymInit            = "Init"
	SymCreateInstance  = "CreateInstance"
	SymInitInstance    = "InitInstance"
	SymContextInit     = "ContextInit"
	SymConfigUpdate    = "ConfigUpdate"
	SymOnEvent         = "OnEvent"
	SymGetBlockingMode = "GetBlockingMode"
	SymReportStats     = "ReportStats"
	SymUninit          = "Uninit"
	SymDestroyInstance = "DestroyInstance"
)

// Required lists every symbol a plugin must export.
var Required = []string{
	SymInit,
	SymCreateInstance,
	SymInitInstance,
	SymContextInit,
	SymConfigUpdate,
	SymOnEvent,
	SymGetBlockingMode,
	SymReportStats,
	SymUninit,
	SymDestroyInstance,
}

// ContextCallback lets the engine pull request and event fields by ID.
// An empty string means the field is absent.
type ContextCallback = func(field int) string

// Function signatures of the exported symbols.
type (
	InitFunc            = func(platformInfo string) bool
	CreateInstanceFunc  = func(threadID uint64, threaded bool) uint64
	InitInstanceFunc    = func(instance uint64, initJSON string) bool
	ContextInitFunc     = func(instance uint64, callback ContextCallback) bool
	ConfigUpdateFunc    = func(instance uint64, initJSON string) int
	OnEventFunc         = func(instance uint64, eventID int) string
	GetBlockingModeFunc = func(instance uint64) int
	ReportStatsFunc     = func(instance uint64, sink, kind string, detected, blocked, errored, withoutContext, total int, timingsNanos []int64)
	UninitFunc          = func(instance uint64)
	DestroyInstanceFunc = func(threadID uint64)
)

// ConfigUpdate results.
const (
	ConfigReloaded = iota
	ConfigPastSeenToken
	ConfigSameToken
	ConfigError
)

// Blocking modes returned by GetBlockingMode.
const (
	BlockingUnset    = -1
	BlockingDisabled = 0
	BlockingEnabled  = 1
)
