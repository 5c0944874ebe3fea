package bridge

import (
	"fmt"
	"plugin"
	"strings"

	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/integrity"
	"github.com/ppiankov/sinkguard/internal/model"
)

// LibraryPath returns the versioned engine path for product.
func LibraryPath(product, version string) string {
	return fmt.Sprintf("/opt/%s-%s/%s-request-processor.so", product, version, product)
}

// PluginEngine is a DecisionEngine backed by a Go plugin.
type PluginEngine struct {
	path string

	init            engineapi.InitFunc
	createInstance  engineapi.CreateInstanceFunc
	initInstance    engineapi.InitInstanceFunc
	contextInit     engineapi.ContextInitFunc
	configUpdate    engineapi.ConfigUpdateFunc
	onEvent         engineapi.OnEventFunc
	getBlockingMode engineapi.GetBlockingModeFunc
	reportStats     engineapi.ReportStatsFunc
	uninit          engineapi.UninitFunc
	destroyInstance engineapi.DestroyInstanceFunc
}

// symbolTable resolves symbols, remembering which were missing or had
// the wrong type.
type symbolTable struct {
	p       *plugin.Plugin
	missing []string
}

func resolve[T any](t *symbolTable, name string) T {
	var zero T
	sym, err := t.p.Lookup(name)
	if err != nil {
		t.missing = append(t.missing, name)
		return zero
	}
	fn, ok := sym.(T)
	if !ok {
		t.missing = append(t.missing, name+" (wrong signature)")
		return zero
	}
	return fn
}

// OpenPlugin verifies and opens the library at path and resolves every
// required symbol. Any missing symbol fails the whole bind.
func OpenPlugin(path, expectedSHA256 string) (*PluginEngine, error) {
	if _, err := integrity.VerifyFile(path, expectedSHA256); err != nil {
		return nil, err
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", path, err)
	}

	t := &symbolTable{p: p}
	e := &PluginEngine{
		path:            path,
		init:            resolve[engineapi.InitFunc](t, engineapi.SymInit),
		createInstance:  resolve[engineapi.CreateInstanceFunc](t, engineapi.SymCreateInstance),
		initInstance:    resolve[engineapi.InitInstanceFunc](t, engineapi.SymInitInstance),
		contextInit:     resolve[engineapi.ContextInitFunc](t, engineapi.SymContextInit),
		configUpdate:    resolve[engineapi.ConfigUpdateFunc](t, engineapi.SymConfigUpdate),
		onEvent:         resolve[engineapi.OnEventFunc](t, engineapi.SymOnEvent),
		getBlockingMode: resolve[engineapi.GetBlockingModeFunc](t, engineapi.SymGetBlockingMode),
		reportStats:     resolve[engineapi.ReportStatsFunc](t, engineapi.SymReportStats),
		uninit:          resolve[engineapi.UninitFunc](t, engineapi.SymUninit),
		destroyInstance: resolve[engineapi.DestroyInstanceFunc](t, engineapi.SymDestroyInstance),
	}
	if len(t.missing) > 0 {
		return nil, fmt.Errorf("bridge: %s: missing symbols: %s", path, strings.Join(t.missing, ", "))
	}
	return e, nil
}

// Path returns the library path.
func (e *PluginEngine) Path() string { return e.path }

func (e *PluginEngine) Init(platformInfo string) error {
	if !e.init(platformInfo) {
		return fmt.Errorf("bridge: engine Init failed")
	}
	return nil
}

func (e *PluginEngine) CreateInstance(threadID uint64, threaded bool) (Instance, error) {
	inst := e.createInstance(threadID, threaded)
	if inst == 0 {
		return 0, fmt.Errorf("bridge: engine CreateInstance(%d) failed", threadID)
	}
	return Instance(inst), nil
}

func (e *PluginEngine) InitInstance(inst Instance, initJSON string) error {
	if !e.initInstance(uint64(inst), initJSON) {
		return fmt.Errorf("bridge: engine InitInstance failed")
	}
	return nil
}

func (e *PluginEngine) ContextInit(inst Instance, cb ContextCallback) error {
	if !e.contextInit(uint64(inst), func(field int) string { return cb(model.ContextField(field)) }) {
		return fmt.Errorf("bridge: engine ContextInit failed")
	}
	return nil
}

func (e *PluginEngine) ConfigUpdate(inst Instance, initJSON string) ConfigResult {
	return ConfigResult(e.configUpdate(uint64(inst), initJSON))
}

func (e *PluginEngine) OnEvent(inst Instance, kind model.EventKind) (string, bool) {
	reply := e.onEvent(uint64(inst), int(kind))
	return reply, reply != ""
}

func (e *PluginEngine) BlockingMode(inst Instance) int {
	return e.getBlockingMode(uint64(inst))
}

func (e *PluginEngine) ReportStats(inst Instance, r StatsReport) {
	nanos := make([]int64, len(r.Timings))
	for i, d := range r.Timings {
		nanos[i] = d.Nanoseconds()
	}
	e.reportStats(uint64(inst), r.Sink, r.Kind, r.Detected, r.Blocked, r.Errored, r.WithoutContext, r.Total, nanos)
}

func (e *PluginEngine) Uninit(inst Instance) { e.uninit(uint64(inst)) }

func (e *PluginEngine) DestroyInstance(threadID uint64) { e.destroyInstance(threadID) }
