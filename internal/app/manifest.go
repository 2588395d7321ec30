package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"
)

// runManifest is a machine-readable record of one run, used to reproduce a
// run and to check whether its input changed.
type runManifest struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version"`
	Commit      string    `json:"commit"`
	Mode        string    `json:"mode"`
	Node        string    `json:"node,omitempty"`
	Source      string    `json:"source"`
	Encoding    string    `json:"encoding"`
	SHA256      string    `json:"sha256"`
	Bytes       int       `json:"bytes"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	HTTPCache   bool      `json:"http_cache"`
	GeneratedAt time.Time `json:"generated_at"`
}

// computeSHA256Hex returns a lowercase hex-encoded SHA-256 of b.
func computeSHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func writeManifest(path string, m runManifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
