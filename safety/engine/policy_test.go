package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuteLadder(t *testing.T) {
	assert := assert.New(t)
	p := DefaultPolicy()

	expect := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour, 24 * time.Hour, 24 * time.Hour}
	for prior, d := range expect {
		assert.Equal(d, p.MuteDuration(int64(prior)), "prior mutes: %d", prior)
	}
	assert.Equal(5*time.Minute, p.MuteDuration(-1))
}

func TestRiskBump(t *testing.T) {
	assert := assert.New(t)
	p := DefaultPolicy()
	assert.Equal(5.0, p.RiskBump(ActionWarn))
	assert.Equal(10.0, p.RiskBump(ActionMute))
	assert.Equal(20.0, p.RiskBump(ActionKick))
	assert.Equal(40.0, p.RiskBump(ActionBan))
	assert.Equal(0.0, p.RiskBump(ActionUnban))
}

func TestLoadPolicyFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(os.WriteFile(path, []byte(`
flood_threshold: 20
high_confidence: 0.9
mute_ladder: [1m, 10m]
threat_patterns:
  - id: doxx-threat
    action: mute
    confidence: 0.9
    severity: 3
    phrases: ["your home address"]
`), 0o600))

	p, err := LoadPolicyFile(path)
	require.NoError(err)
	assert.Equal(20, p.FloodThreshold)
	assert.Equal(0.9, p.HighConfidence)
	assert.Equal([]time.Duration{time.Minute, 10 * time.Minute}, p.MuteLadder)
	// unset fields keep their defaults
	assert.Equal(3, p.DuplicateThreshold)
	assert.Equal(10, p.RaidThreshold)

	cfg := p.ClassifierConfig()
	assert.Equal(20, cfg.FloodThreshold)
	assert.Equal("doxx-threat", cfg.Threats[len(cfg.Threats)-1].ID)
	assert.Greater(len(cfg.Threats), 1)
}

func TestPolicyValidate(t *testing.T) {
	assert := assert.New(t)

	p := DefaultPolicy()
	assert.NoError(p.Validate())

	p.MuteLadder = []time.Duration{time.Hour, time.Minute}
	assert.Error(p.Validate())

	p = DefaultPolicy()
	p.MuteLadder = nil
	assert.Error(p.Validate())

	p = DefaultPolicy()
	p.ToxicityLow = 0.9
	assert.Error(p.Validate())

	p = DefaultPolicy()
	p.ReportHour = 24
	assert.Error(p.Validate())

	path := filepath.Join(t.TempDir(), "bad.yaml")
	assert.NoError(os.WriteFile(path, []byte("threat_patterns:\n  - id: x\n    action: warn\n"), 0o600))
	_, err := LoadPolicyFile(path)
	assert.Error(err)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(err)
}
