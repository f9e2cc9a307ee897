package types

// ============================================================================
// Domain Type Tests
// Purpose: Verify fingerprint canonicalization and map bound checks
// ============================================================================

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFingerprintStable tests that identical submissions fingerprint
// identically and the fingerprint does not depend on wire field order.
func TestFingerprintStable(t *testing.T) {
	module := ModuleInfo{Name: "dummy", Version: "0.0.0"}
	a := JobSubmission{
		Start:     Vector{X: 1, Y: 2},
		Stop:      Vector{X: 3, Y: 1},
		MapID:     1,
		Algorithm: module,
	}

	// Same submission decoded from JSON with fields in a different order.
	var b JobSubmission
	err := json.Unmarshal([]byte(
		`{"algorithm":{"version":"0.0.0","name":"dummy"},"map_id":1,"end":{"y":1,"x":3},"start":{"x":1,"y":2}}`,
	), &b)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

// TestFingerprintDistinct tests that semantically different submissions get
// different fingerprints.
func TestFingerprintDistinct(t *testing.T) {
	base := JobSubmission{
		Start:     Vector{X: 1, Y: 2},
		Stop:      Vector{X: 3, Y: 1},
		MapID:     1,
		Algorithm: ModuleInfo{Name: "dummy", Version: "0.0.0"},
	}

	variants := []JobSubmission{base, base, base, base}
	variants[0].Start.X = 2
	variants[1].Stop.Y = 9
	variants[2].MapID = 2
	variants[3].Algorithm.Version = "0.0.1"

	for _, v := range variants {
		assert.NotEqual(t, base.Fingerprint(), v.Fingerprint())
	}
}

// TestModuleCanonical tests the canonical serialization workers must
// reproduce when registering.
func TestModuleCanonical(t *testing.T) {
	m := ModuleInfo{Name: "dummy", Version: "0.0.0"}
	assert.Equal(t, `{"name":"dummy","version":"0.0.0"}`, string(m.Canonical()))
	assert.Equal(t, "dummy:0.0.0", m.Display())
}

// TestMapMetaContains tests the strict bound check.
func TestMapMetaContains(t *testing.T) {
	meta := MapMeta{Width: 50, Height: 50}

	assert.True(t, meta.Contains(Vector{X: 0, Y: 0}))
	assert.True(t, meta.Contains(Vector{X: 49, Y: 49}))
	assert.False(t, meta.Contains(Vector{X: 50, Y: 0}))
	assert.False(t, meta.Contains(Vector{X: 0, Y: 50}))
}

// TestJobOutcomeWireForm tests the stored form of outcomes, shared with the
// module runners.
func TestJobOutcomeWireForm(t *testing.T) {
	raw, err := json.Marshal(JobResult{JobID: 7, Outcome: OutcomeCancelled, Points: []Vector{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":7,"outcome":"cancelled","points":[]}`, string(raw))
}
