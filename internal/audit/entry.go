package audit

// Entry kinds written by the companion.
const (
	KindStarted  = "agent_started"
	KindStopped  = "agent_stopped"
	KindConfig   = "config_updated"
	KindPackages = "packages_reported"
	KindStats    = "stats_reported"
)

// StatsDigest is the per-sink summary carried by a stats entry.
type StatsDigest struct {
	Sink           string `json:"sink"`
	Kind           string `json:"kind"`
	Detected       int64  `json:"detected"`
	Blocked        int64  `json:"blocked"`
	Errored        int64  `json:"errored"`
	WithoutContext int64  `json:"without_context"`
	Total          int64  `json:"total"`
}

// Entry is one line in the hash-chained JSONL journal. Every field is a
// concrete type so json.Marshal output, and therefore the hash, is
// reproducible.
type Entry struct {
	Timestamp string       `json:"ts"`
	ID        string       `json:"id"`
	Session   string       `json:"session"`
	Kind      string       `json:"kind"`
	Token     string       `json:"token_fingerprint,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Stats     *StatsDigest `json:"stats,omitempty"`
	PrevHash  string       `json:"prev_hash"`
}
