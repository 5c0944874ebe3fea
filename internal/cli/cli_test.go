package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sinkguard/internal/audit"
)

// capture redirects command output for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

// isolate points the commands at a temporary run directory and env file.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origRun, origEnv, origLevel := runDir, envFile, logLevel
	runDir, envFile, logLevel = filepath.Join(dir, "run"), "", ""
	t.Cleanup(func() { runDir, envFile, logLevel = origRun, origEnv, origLevel })
	return dir
}

func TestVersionPrintsJSON(t *testing.T) {
	out := capture(t)
	versionCmd.Run(versionCmd, nil)

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out)
	}
	if info["name"] != "sinkguard" || info["version"] == "" {
		t.Errorf("unexpected version info: %v", info)
	}
	if !strings.HasSuffix(info["engine"], "-request-processor.so") {
		t.Errorf("engine path: %q", info["engine"])
	}
}

func TestRunInitWritesFiles(t *testing.T) {
	dir := isolate(t)
	out := capture(t)
	initDir, initForce = dir, false

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sinkguard.env"))
	if err != nil {
		t.Fatalf("env file not created: %v", err)
	}
	for _, want := range []string{"SINKGUARD_BLOCKING=false", "SINKGUARD_LOG_LEVEL=WARN", "SINKGUARD_REPORT_STATS_INTERVAL=10000"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("env file missing %q:\n%s", want, data)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "scenarios", "example.yaml")); err != nil {
		t.Error("example scenario not created")
	}
	if !strings.Contains(out.String(), "Created:") {
		t.Errorf("summary: %s", out)
	}
}

func TestRunInitNoOverwriteWithoutForce(t *testing.T) {
	dir := isolate(t)
	out := capture(t)
	initDir, initForce = dir, false

	envPath := filepath.Join(dir, "sinkguard.env")
	if err := os.WriteFile(envPath, []byte("SINKGUARD_BLOCKING=true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ := os.ReadFile(envPath)
	if string(data) != "SINKGUARD_BLOCKING=true\n" {
		t.Errorf("env file was overwritten: %s", data)
	}

	out.Reset()
	initForce = true
	t.Cleanup(func() { initForce = false })
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit --force failed: %v", err)
	}
	data, _ = os.ReadFile(envPath)
	if !strings.Contains(string(data), "SINKGUARD_BLOCKING=false") {
		t.Errorf("env file not overwritten with --force: %s", data)
	}
}

func TestExampleScenarioPasses(t *testing.T) {
	dir := isolate(t)
	capture(t)
	initDir, initForce = dir, false
	if err := runInit(nil, nil); err != nil {
		t.Fatal(err)
	}

	out := capture(t)
	simFormat = "text"
	if err := runSimulate(nil, []string{filepath.Join(dir, "scenarios", "*.yaml")}); err != nil {
		t.Fatalf("example scenario failed: %v\n%s", err, out)
	}
	if !strings.Contains(out.String(), "PASS  example") {
		t.Errorf("output: %s", out)
	}
}

func TestSimulateFailureReturnsError(t *testing.T) {
	dir := isolate(t)
	out := capture(t)
	path := filepath.Join(dir, "fail.yaml")
	content := `name: fail
cases:
  - call: {operation: os.Open, args: ["/etc/passwd"]}
    expect: block
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	simFormat = "json"
	t.Cleanup(func() { simFormat = "text" })
	err := runSimulate(nil, []string{path})
	if err != errScenarioFailed {
		t.Fatalf("expected errScenarioFailed, got %v", err)
	}
	if !strings.Contains(out.String(), `"actual": "allow"`) {
		t.Errorf("json output: %s", out)
	}
}

func TestSimulateNoMatches(t *testing.T) {
	dir := isolate(t)
	capture(t)
	if err := runSimulate(nil, []string{filepath.Join(dir, "*.yaml")}); err == nil {
		t.Error("expected error when no files match")
	}
}

func TestConfigHonoursEnvFile(t *testing.T) {
	dir := isolate(t)
	out := capture(t)
	envFile = filepath.Join(dir, "app.env")
	if err := os.WriteFile(envFile, []byte("SINKGUARD_BLOCKING=true\nSINKGUARD_TOKEN=secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	configFormat, configWatch = "json", false
	t.Cleanup(func() { configFormat = "yaml" })

	if err := runConfig(nil, nil); err != nil {
		t.Fatalf("runConfig failed: %v", err)
	}
	var view map[string]string
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("config output is not JSON: %v\n%s", err, out)
	}
	if view["SINKGUARD_BLOCKING"] != "true" {
		t.Errorf("blocking: %q", view["SINKGUARD_BLOCKING"])
	}
	if view["SINKGUARD_TOKEN"] != "****" {
		t.Errorf("token should be masked, got %q", view["SINKGUARD_TOKEN"])
	}
}

func TestConfigWatchNeedsEnvFile(t *testing.T) {
	isolate(t)
	capture(t)
	configWatch = true
	t.Cleanup(func() { configWatch = false })
	if err := runConfig(nil, nil); err == nil || !strings.Contains(err.Error(), "--env-file") {
		t.Errorf("expected --env-file error, got %v", err)
	}
}

func TestJournalVerifyAndTail(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "journal.jsonl")
	l, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, kind := range []string{audit.KindStarted, audit.KindConfig, audit.KindStopped} {
		if _, err := l.Record(audit.Entry{Kind: kind}); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	out := capture(t)
	if err := runJournalVerify(nil, []string{path}); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.Contains(out.String(), "OK: 3 entries verified") {
		t.Errorf("verify output: %s", out)
	}

	out.Reset()
	tailLines = 1
	t.Cleanup(func() { tailLines = 10 })
	if err := runJournalTail(nil, []string{path}); err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if !strings.Contains(out.String(), audit.KindStopped) || strings.Contains(out.String(), audit.KindStarted) {
		t.Errorf("tail output: %s", out)
	}
}

func TestJournalVerifyDetectsTampering(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "journal.jsonl")
	l, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Record(audit.Entry{Kind: audit.KindConfig}); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], audit.KindConfig, audit.KindStats, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	capture(t)
	if err := runJournalVerify(nil, []string{path}); err == nil {
		t.Error("expected tampered journal to fail verification")
	}
}

func TestAgentStopWithNothingRunning(t *testing.T) {
	isolate(t)
	out := capture(t)
	if err := runAgentStop(agentStopCmd, nil); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	var report agentReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("stop output is not JSON: %v\n%s", err, out)
	}
	if report.Running || report.State.PID != 0 {
		t.Errorf("unexpected state: %+v", report)
	}
	if !strings.HasSuffix(report.Paths.Socket, "sinkguard-agent.sock") {
		t.Errorf("socket path: %s", report.Paths.Socket)
	}
}

func TestDoctorReportsMissingEngine(t *testing.T) {
	dir := isolate(t)
	out := capture(t)
	enginePath = filepath.Join(dir, "missing.so")
	t.Cleanup(func() { enginePath = "" })

	if err := runDoctor(nil, nil); err == nil {
		t.Fatal("expected doctor to report issues")
	}
	for _, want := range []string{"\u2713 configuration:", "\u2717 decision engine:", "missing.so", "Some checks failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorVerifiesEngineDigest(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "engine.so")
	if err := os.WriteFile(lib, []byte("engine"), 0o644); err != nil {
		t.Fatal(err)
	}

	if c := checkEngine(lib, ""); !c.ok || !strings.Contains(c.detail, "unverified") {
		t.Errorf("unchecked engine: %+v", c)
	}
	const digest = "ed9f6f25068608efd412958da4dfc19328ca3511251fa6d5f9c42baf230e32f8"
	if c := checkEngine(lib, digest); !c.ok || !strings.Contains(c.detail, "sha256 from config") {
		t.Errorf("matching digest: %+v", c)
	}
	wrong := strings.Repeat("0", 64)
	if c := checkEngine(lib, wrong); c.ok || !strings.Contains(c.detail, "mismatch") {
		t.Errorf("wrong digest accepted: %+v", c)
	}
}
