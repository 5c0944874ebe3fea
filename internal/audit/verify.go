package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of a chain check.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Sessions  int    `json:"sessions"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks a journal and checks every prev_hash link, stopping at the
// first broken one.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	want := GenesisHash
	sessions := make(map[string]struct{})
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Bytes()

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return VerifyResult{Lines: n - 1, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: n}
		}
		if e.PrevHash != want {
			return VerifyResult{
				Lines:     n - 1,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", want, e.PrevHash),
				ErrorLine: n,
			}
		}
		sessions[e.Session] = struct{}{}
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: n, Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n, Sessions: len(sessions)}
}
