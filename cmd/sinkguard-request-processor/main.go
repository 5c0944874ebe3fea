// sinkguard-request-processor is the reference decision engine, built with
// -buildmode=plugin. It honours the engine symbol contract and relays
// configuration, package inventories and sink statistics to the companion.
// It never returns a verdict, so hosts running it only observe.
package main

import (
	"github.com/ppiankov/sinkguard/internal/engineapi"
)

var engine = newRelay(companionSocket())

func Init(platformInfo string) bool {
	return engine.init(platformInfo)
}

func CreateInstance(threadID uint64, threaded bool) uint64 {
	return engine.createInstance(threadID, threaded)
}

func InitInstance(instance uint64, initJSON string) bool {
	return engine.initInstance(instance, initJSON)
}

func ContextInit(instance uint64, callback engineapi.ContextCallback) bool {
	return engine.contextInit(instance, callback)
}

func ConfigUpdate(instance uint64, initJSON string) int {
	return engine.configUpdate(instance, initJSON)
}

func OnEvent(instance uint64, eventID int) string {
	return engine.onEvent(instance, eventID)
}

func GetBlockingMode(instance uint64) int {
	return engine.blockingMode(instance)
}

func ReportStats(instance uint64, sink, kind string, detected, blocked, errored, withoutContext, total int, timingsNanos []int64) {
	engine.reportStats(instance, sink, kind, detected, blocked, errored, withoutContext, total, timingsNanos)
}

func Uninit(instance uint64) {
	engine.uninit(instance)
}

func DestroyInstance(threadID uint64) {
	engine.destroyInstance(threadID)
}

// main is unused in plugin builds.
func main() {}
