// Package progress implements port.ProgressStore on Redis and in memory.
package progress

import "strings"

const (
	// VerificationPrefix namespaces verification run entries.
	VerificationPrefix = "verification:"
	// ProcessPrefix namespaces process heartbeat entries.
	ProcessPrefix = "process:"
)

// VerificationKey returns the key of a verification run.
func VerificationKey(runID string) string {
	return VerificationPrefix + runID
}

// ProcessKey returns the heartbeat key of a process.
func ProcessKey(processID string) string {
	return ProcessPrefix + processID
}

// RunIDFromKey returns the run id of a verification key.
func RunIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, VerificationPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, VerificationPrefix), true
}
