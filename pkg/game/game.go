// Package game defines the domain types shared by the equilibrium search
// core and its collaborators: players, actions, joint profiles, and the
// interfaces through which candidate actions and unit counts are supplied
// by an external rules engine.
package game

import (
	"math"
	"sort"
	"strings"
)

// Player identifies one participant in a simultaneous-move game. The set of
// players is fixed and known before a solve starts; it is always passed
// explicitly rather than read from package state.
type Player string

// Action is one player's complete move for a round, drawn from a restricted
// candidate set. Actions are opaque to the solver; equality is structural
// (string comparison of the canonical encoding produced by the rules engine).
type Action string

// NoAction is the action issued by a player with an empty candidate set.
const NoAction Action = ""

// Profile assigns one action to every participating player simultaneously.
// Players with empty candidate sets are simply absent.
type Profile map[Player]Action

// Clone returns a copy of the profile.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for pl, a := range p {
		out[pl] = a
	}
	return out
}

// Canonical returns a deterministic encoding of the profile, independent of
// map iteration order. Used as a cache key component.
func (p Profile) Canonical() string {
	keys := make([]string, 0, len(p))
	for pl := range p {
		keys = append(keys, string(pl))
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(string(p[Player(k)]))
	}
	return b.String()
}

// PhaseKind distinguishes the three order-counting regimes.
type PhaseKind int

const (
	PhaseMovement PhaseKind = iota
	PhaseRetreat
	PhaseBuild
)

// String implements fmt.Stringer.
func (k PhaseKind) String() string {
	switch k {
	case PhaseMovement:
		return "movement"
	case PhaseRetreat:
		return "retreat"
	case PhaseBuild:
		return "build"
	}
	return "unknown"
}

// Position is the minimal view of a game position the search core needs.
// Rule semantics (legality, phase transitions) live entirely behind the
// implementing rules engine.
type Position interface {
	// Players returns the full player set in canonical order.
	Players() []Player
	// Phase returns the kind of the current phase.
	Phase() PhaseKind
	// OrderableUnits returns the number of units the player may currently
	// order (see OrderableCount for the per-phase counting rule).
	OrderableUnits(p Player) int
}

// OrderableCount applies the per-phase counting rule: build phases count the
// absolute value of the signed build total, retreat phases count units
// needing retreat, movement phases count active units.
func OrderableCount(kind PhaseKind, activeUnits, retreatingUnits, signedBuilds int) int {
	switch kind {
	case PhaseBuild:
		if signedBuilds < 0 {
			return -signedBuilds
		}
		return signedBuilds
	case PhaseRetreat:
		return retreatingUnits
	default:
		return activeUnits
	}
}

// CandidateLimit computes the per-player cap on candidate actions:
// min(maxCandidates, ceil(units * ratioCap)). A ratioCap <= 0 disables the
// ratio term.
func CandidateLimit(maxCandidates, units int, ratioCap float64) int {
	if ratioCap <= 0 {
		return maxCandidates
	}
	byRatio := int(math.Ceil(float64(units) * ratioCap))
	if byRatio < maxCandidates {
		return byRatio
	}
	return maxCandidates
}

// CandidateLimits computes per-player candidate caps for a position.
func CandidateLimits(pos Position, maxCandidates int, ratioCap float64) map[Player]int {
	limits := make(map[Player]int, len(pos.Players()))
	for _, p := range pos.Players() {
		limits[p] = CandidateLimit(maxCandidates, pos.OrderableUnits(p), ratioCap)
	}
	return limits
}

// ScoredActions maps each candidate action to an unnormalized log-prior,
// as produced by a candidate generator.
type ScoredActions map[Action]float64

// CandidateGenerator produces, per player, a restricted set of plausible
// actions with log-priors. Its search and sampling heuristics are its own
// concern; the solver only consumes the result.
type CandidateGenerator interface {
	PlausibleActions(pos Position, limits map[Player]int) (map[Player]ScoredActions, error)
}
