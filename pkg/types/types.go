// ============================================================================
// LAPS Core Types - Shared Domain Model
// ============================================================================
//
// Package: pkg/types
// Purpose: Wire-level types shared between the backend, the module runner and
// the HTTP layer. All of these are serialized to JSON and stored in or routed
// through the coordination store, so field names and tag casing are part of
// the external contract and must not change casually.
//
// ============================================================================

// Package types defines the core domain model of the LAPS coordination
// backend.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Vector is a point on a map grid.
type Vector struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// ModuleInfo identifies a pathfinding module. A module is an external,
// versioned worker image which may have any number of live worker processes.
// Equality is structural; the display form "name:version" is used as a
// namespace prefix for derived store keys.
type ModuleInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Display returns the canonical "name:version" form of the module.
func (m ModuleInfo) Display() string {
	return m.Name + ":" + m.Version
}

// Canonical returns the canonical JSON serialization of the module, the exact
// byte form stored in the registered-module set. Workers registering
// themselves must produce the same bytes, so this must stay a plain
// fixed-field marshal.
func (m ModuleInfo) Canonical() []byte {
	// Marshal of a struct with only string fields cannot fail.
	b, _ := json.Marshal(m)
	return b
}

// JobOutcome is the terminal state of a pathfinding job.
type JobOutcome string

const (
	// OutcomeSuccess means the module produced a path.
	OutcomeSuccess JobOutcome = "success"
	// OutcomeFailure means the module ran but could not produce a path.
	OutcomeFailure JobOutcome = "failure"
	// OutcomeCancelled means the job was unwound because the module's last
	// worker shut down before the job was picked up.
	OutcomeCancelled JobOutcome = "cancelled"
)

// JobInfo is the message pushed onto a module's work queue.
type JobInfo struct {
	JobID int32  `json:"job_id"`
	Start Vector `json:"start"`
	Stop  Vector `json:"stop"`
	MapID int32  `json:"map_id"`
}

// JobResult is the outcome record written into a job's result slot, either by
// a worker or by the cancellation cascade on a worker's behalf.
type JobResult struct {
	JobID   int32      `json:"job_id"`
	Outcome JobOutcome `json:"outcome"`
	Points  []Vector   `json:"points"`
}

// JobSubmission is a pathfinding request from a client. The stop point is
// called "end" on the wire for historical reasons.
type JobSubmission struct {
	Start     Vector     `json:"start"`
	Stop      Vector     `json:"end"`
	MapID     int32      `json:"map_id"`
	Algorithm ModuleInfo `json:"algorithm"`
}

// fingerprintForm pins the field order of the canonical serialization. The
// fingerprint must not depend on the order fields arrived in on the wire, so
// the submission is re-serialized through this fixed shape before hashing.
type fingerprintForm struct {
	Algorithm string `json:"algorithm"`
	MapID     int32  `json:"map_id"`
	Start     Vector `json:"start"`
	Stop      Vector `json:"stop"`
}

// Fingerprint returns the dedup cache fingerprint of the submission: the hex
// sha256 of the canonical serialization. Two submissions with the same
// semantic parameters always produce the same fingerprint.
func (s JobSubmission) Fingerprint() string {
	b, _ := json.Marshal(fingerprintForm{
		Algorithm: s.Algorithm.Display(),
		MapID:     s.MapID,
		Start:     s.Start,
		Stop:      s.Stop,
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ModuleError is a runtime error report pushed by a module runner onto the
// backend error log.
type ModuleError struct {
	Message string     `json:"message"`
	Module  ModuleInfo `json:"module"`
	Instant time.Time  `json:"instant"`
}

// MapMeta holds the dimensions of a stored map image, used for bound checking
// job submissions.
type MapMeta struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Contains reports whether the point lies strictly inside the map bounds.
func (m MapMeta) Contains(v Vector) bool {
	return v.X < m.Width && v.Y < m.Height
}
