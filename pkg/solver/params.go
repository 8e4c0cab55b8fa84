package solver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// paramsVersion is the current config schema version. Files declaring a
// different version are rejected rather than reinterpreted.
const paramsVersion = 1

// ErrZeroRounds reports a solve configured with zero rounds when no early
// exit applies. The source behavior was undefined; here it is an explicit
// configuration error.
var ErrZeroRounds = errors.New("solver: zero rounds configured without an early exit")

// CacheKind selects the per-solve rollout cache variant.
type CacheKind string

const (
	CacheNone      CacheKind = "none"
	CacheExact     CacheKind = "exact"
	CacheAveraging CacheKind = "averaging"
)

// Params is the one explicit, versioned configuration structure for a
// solve. Unknown fields are rejected at load time.
type Params struct {
	Version int `yaml:"version"`

	// Rounds is the fixed total round count R.
	Rounds int `yaml:"rounds"`

	// OptimisticRegret mixes the last round's regret into the positive-
	// regret weighting. Both variants are first-class; this only flips
	// the regret-matching rule.
	OptimisticRegret bool `yaml:"optimisticRegret"`

	// UseFinalIter returns the final-iterate strategy instead of the
	// average strategy at finalization (losers get blueprint either way).
	UseFinalIter bool `yaml:"useFinalIter"`

	// Pruning enables the two fixed action-pruning checkpoints.
	Pruning bool `yaml:"pruning"`

	// BPIters forces blueprint sampling for the first N rounds; BPProb
	// additionally mixes in blueprint play with a per-round Bernoulli
	// draw afterwards.
	BPIters int     `yaml:"bpIters"`
	BPProb  float64 `yaml:"bpProb"`

	// LoserBPIter is the first round at which the loser-bailout check
	// runs; LoserBPValue is its utility floor. A floor of 0 disables the
	// bailout (the default).
	LoserBPIter  int     `yaml:"loserBPIter"`
	LoserBPValue float64 `yaml:"loserBPValue"`

	// Cache selects the per-solve rollout cache. CacheMinCount gates the
	// averaging variant: a key is served from cache only after that many
	// observations.
	Cache         CacheKind `yaml:"cache"`
	CacheMinCount int       `yaml:"cacheMinCount"`

	// NashConv enables exploitability-gap diagnostics on checkpoint
	// rounds; NashConvTrials is the number of best-response trials per
	// estimate.
	NashConv       bool `yaml:"nashConv"`
	NashConvTrials int  `yaml:"nashConvTrials"`

	// MaxCandidates and MaxActionsUnitsRatio bound candidate generation:
	// per-player limit = min(maxCandidates, ceil(units*ratio)).
	MaxCandidates        int     `yaml:"maxCandidates"`
	MaxActionsUnitsRatio float64 `yaml:"maxActionsUnitsRatio"`

	// Seed makes a solve reproducible; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// DefaultParams returns the baseline configuration.
func DefaultParams() Params {
	return Params{
		Version:          paramsVersion,
		Rounds:           256,
		OptimisticRegret: true,
		UseFinalIter:     true,
		Cache:            CacheNone,
		CacheMinCount:    4,
		NashConvTrials:   100,
		MaxCandidates:    8,
		LoserBPIter:      64,
	}
}

// Validate rejects configurations the solve loop cannot honor.
func (p Params) Validate() error {
	if p.Version != paramsVersion {
		return fmt.Errorf("solver: unsupported params version %d (want %d)", p.Version, paramsVersion)
	}
	// Rounds == 0 is only legal when an early exit applies; Solve checks
	// that once the candidate sets are known.
	if p.Rounds < 0 {
		return fmt.Errorf("solver: rounds must be non-negative")
	}
	if p.BPProb < 0 || p.BPProb > 1 {
		return fmt.Errorf("solver: bpProb %v outside [0,1]", p.BPProb)
	}
	if p.BPIters < 0 {
		return fmt.Errorf("solver: bpIters must be non-negative")
	}
	if p.LoserBPValue < 0 {
		return fmt.Errorf("solver: loserBPValue must be non-negative")
	}
	switch p.Cache {
	case CacheNone, CacheExact, CacheAveraging:
	default:
		return fmt.Errorf("solver: unknown cache kind %q", p.Cache)
	}
	if p.Cache == CacheAveraging && p.CacheMinCount < 1 {
		return fmt.Errorf("solver: averaging cache requires cacheMinCount >= 1")
	}
	if p.NashConv && p.NashConvTrials <= 0 {
		return fmt.Errorf("solver: nashConv requires positive nashConvTrials")
	}
	return nil
}

// ParseParams decodes Params from strict YAML: unknown fields are an error,
// not silently ignored.
func ParseParams(data []byte) (Params, error) {
	p := DefaultParams()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Params{}, fmt.Errorf("solver: parse params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// LoadParams reads and parses a params file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("solver: read params: %w", err)
	}
	return ParseParams(data)
}
