// Command solve runs one equilibrium search over a position fixture: a
// JSON file carrying per-player candidate actions with log-priors and,
// for the scripted oracle, a per-player per-action payoff table.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/cfrsearch/internal/config"
	"github.com/freeeve/cfrsearch/internal/logger"
	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
	"github.com/freeeve/cfrsearch/pkg/rollout/engineproc"
	"github.com/freeeve/cfrsearch/pkg/rollout/redisstore"
	"github.com/freeeve/cfrsearch/pkg/solver"
)

// fixture is the position input format.
type fixture struct {
	Players    []string                      `json:"players"`
	Candidates map[string]map[string]float64 `json:"candidates"`
	// Payoffs drive the scripted oracle: a player's utility for a profile
	// is payoffs[player][profile[player]], independent of the opponents.
	Payoffs map[string]map[string]float64 `json:"payoffs"`
}

func main() {
	positionPath := flag.String("position", "", "position fixture JSON file")
	power := flag.String("power", "", "player of interest (empty solves all players)")
	paramsPath := flag.String("params", "", "solver params YAML (defaults otherwise)")
	oracleName := flag.String("oracle", "scripted", "rollout oracle (scripted, uniform, engine)")
	variant := flag.String("variant", "cfr", "search variant (cfr, fp)")
	workers := flag.Int("workers", 8, "scripted oracle worker pool size")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall solve deadline")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger.Init()
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.Load()
	if *paramsPath == "" {
		*paramsPath = cfg.ParamsPath
	}

	if *positionPath == "" {
		log.Fatal().Msg("-position is required")
	}
	fix, err := loadFixture(*positionPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading position fixture failed")
	}

	params := solver.DefaultParams()
	if *paramsPath != "" {
		params, err = solver.LoadParams(*paramsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Loading params failed")
		}
	}

	oracle, cleanup, err := buildOracle(*oracleName, cfg, fix, *workers)
	if err != nil {
		log.Fatal().Err(err).Msg("Building oracle failed")
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	ctx = logger.WithSolveID(ctx, logger.NewSolveID())
	s, err := solver.New(params, oracle, solver.WithLogger(logger.ForSolve(ctx)))
	if err != nil {
		log.Fatal().Err(err).Msg("Building solver failed")
	}

	players := make([]game.Player, len(fix.Players))
	for i, p := range fix.Players {
		players[i] = game.Player(p)
	}
	candidates := make(map[game.Player]game.ScoredActions, len(fix.Candidates))
	for p, scored := range fix.Candidates {
		sa := make(game.ScoredActions, len(scored))
		for a, logp := range scored {
			sa[game.Action(a)] = logp
		}
		candidates[game.Player(p)] = sa
	}

	start := time.Now()
	var result map[game.Player]solver.Distribution
	switch *variant {
	case "cfr":
		result, err = s.SolveAll(ctx, players, candidates, game.Player(*power))
	case "fp":
		result, err = s.SolveFictitious(ctx, players, candidates, game.Player(*power))
	default:
		log.Fatal().Str("variant", *variant).Msg("Unknown search variant")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Solve failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Solve completed")

	printDistributions(result, game.Player(*power))
}

// loadFixture reads and decodes the position input.
func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fix fixture
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if len(fix.Players) == 0 {
		return nil, fmt.Errorf("fixture has no players")
	}
	return &fix, nil
}

// buildOracle constructs the configured oracle, optionally wrapped in the
// Redis-backed cross-solve store.
func buildOracle(name string, cfg *config.Config, fix *fixture, workers int) (rollout.Oracle, func(), error) {
	var oracle rollout.Oracle
	cleanup := func() {}

	switch name {
	case "scripted":
		if len(fix.Payoffs) == 0 {
			return nil, nil, fmt.Errorf("scripted oracle requires a payoffs table in the fixture")
		}
		oracle = rollout.NewPool(scriptedEvaluator(fix), workers)
	case "uniform":
		oracle = rollout.NewPool(uniformEvaluator(fix), workers)
	case "engine":
		if cfg.EnginePath == "" {
			return nil, nil, fmt.Errorf("engine oracle requires ENGINE_PATH")
		}
		client, err := engineproc.New(cfg.EnginePath)
		if err != nil {
			return nil, nil, err
		}
		oracle = client
		cleanup = func() { client.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown oracle %q", name)
	}

	if cfg.RedisURL != "" {
		store, err := redisstore.New(cfg.RedisURL, oracle)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		inner := cleanup
		cleanup = func() {
			store.Close()
			inner()
		}
		oracle = store
	}
	return oracle, cleanup, nil
}

// scriptedEvaluator looks each player's utility up in the fixture payoff
// table; unknown actions score 0.
func scriptedEvaluator(fix *fixture) rollout.EvaluatorFunc {
	return func(_ context.Context, profile game.Profile) (map[game.Player]float64, error) {
		utility := make(map[game.Player]float64, len(fix.Players))
		for _, p := range fix.Players {
			utility[game.Player(p)] = fix.Payoffs[p][string(profile[game.Player(p)])]
		}
		return utility, nil
	}
}

// uniformEvaluator scores every profile 1/players for every player. Useful
// for exercising a params file against a fixture without a payoff table.
func uniformEvaluator(fix *fixture) rollout.EvaluatorFunc {
	u := 1.0 / float64(len(fix.Players))
	return func(_ context.Context, _ game.Profile) (map[game.Player]float64, error) {
		utility := make(map[game.Player]float64, len(fix.Players))
		for _, p := range fix.Players {
			utility[game.Player(p)] = u
		}
		return utility, nil
	}
}

// printDistributions writes the produced distributions to stdout as JSON.
func printDistributions(result map[game.Player]solver.Distribution, focus game.Player) {
	type entry struct {
		Action string  `json:"action"`
		Prob   float64 `json:"prob"`
	}
	out := make(map[string][]entry, len(result))
	for p, dist := range result {
		if focus != "" && p != focus {
			continue
		}
		entries := make([]entry, len(dist))
		for i, ap := range dist {
			entries[i] = entry{Action: string(ap.Action), Prob: ap.Prob}
		}
		out[string(p)] = entries
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error().Err(err).Msg("Encoding result failed")
	}
}
