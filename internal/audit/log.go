// Package audit is the companion's append-only, hash-chained journal.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the prev_hash for the first entry in a new journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL journal. Each entry's prev_hash is the hash
// of the previous JSON line.
type Log struct {
	path     string
	session  string
	file     *os.File
	prevHash string
	count    int
	mu       sync.Mutex
}

// Open opens (or creates) a journal for appending, recovering the chain
// tail from an existing file. Entries recorded through the returned Log
// share one session ID.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	count := 0
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing journal: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
			count++
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing journal: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:     path,
		session:  uuid.NewString(),
		file:     file,
		prevHash: prevHash,
		count:    count,
	}, nil
}

// Record appends e, filling in its ID, session, timestamp and prev_hash.
func (l *Log) Record(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Session = l.session
	e.PrevHash = l.prevHash

	line, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return e, fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return e, fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	l.count++
	return e, nil
}

// Path returns the journal file.
func (l *Log) Path() string { return l.path }

// Session returns this writer's session ID.
func (l *Log) Session() string { return l.session }

// Len is the number of entries in the file.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Fingerprint shortens a token to a stable, non-reversible tag.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:6])
}
