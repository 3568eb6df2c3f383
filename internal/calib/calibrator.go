package calib

import (
	"context"
	"math/rand/v2"

	"github.com/524D/tdmzcal/internal/hits"
	"github.com/524D/tdmzcal/internal/spectra"
)

// Names of the convergence loops in RoundInfo
const (
	LoopLinear = "linear"
	LoopForest = "forest"
)

// RoundInfo describes one round of a convergence loop
type RoundInfo struct {
	Loop        string
	Round       int    // one-based within the loop
	Points      int    // harvested in this round
	Function    string `json:",omitempty"`
	HeldOutMSE  float64
	IdentityMSE float64
	Stats       HarvestStats
}

// Result is the outcome of a calibration
type Result struct {
	Ran    bool
	Reason error // set when Ran is false
	Rounds []RoundInfo
	Final  Function // last applied function, nil if none
}

// Calibrator runs the linear and (optionally) the forest convergence loop
// on one run. Spectra, Hits and Components are corrected in place.
type Calibrator struct {
	Spectra    *spectra.Run
	Hits       []*hits.Hit
	Components []*hits.Component
	Config     Config

	// OnRound, if set, is called after every round
	OnRound func(RoundInfo)
	// OnPoint, if set, is called for every harvested point
	OnPoint func(scan, charge int, p Point, matched int)
}

// Run calibrates. Only identifications of the run's file are harvested.
// With fewer than MinIdentifications of them it returns a Result with Ran
// false and Reason ErrInsufficientData, and nothing is changed.
func (c *Calibrator) Run(ctx context.Context) (Result, error) {
	cfg := c.Config
	var ids []*hits.Hit
	for _, h := range c.Hits {
		if h.Filename == c.Spectra.File() {
			ids = append(ids, h)
		}
	}
	if len(ids) < cfg.MinIdentifications {
		return Result{Reason: ErrInsufficientData}, nil
	}
	maxRounds := cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = DefaultConfig().MaxRounds
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	harvester := NewHarvester(c.Spectra, ids, c.Components, cfg)
	harvester.Debug = c.OnPoint
	applicator := &Applicator{
		Run:               c.Spectra,
		Hits:              c.Hits,
		Components:        c.Components,
		Workers:           cfg.Workers,
		CorrectPrecursors: cfg.CorrectPrecursors,
	}
	res := Result{Ran: true}
	report := func(info RoundInfo) {
		res.Rounds = append(res.Rounds, info)
		if c.OnRound != nil {
			c.OnRound(info)
		}
	}

	// Harvest, then fit and apply the best linear transform, until the
	// harvest stops growing
	var points []Point
	var counts []int
	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var stats HarvestStats
		var err error
		points, stats, err = harvester.Harvest(ctx)
		if err != nil {
			return res, err
		}
		info := RoundInfo{Loop: LoopLinear, Round: round, Points: len(points), Stats: stats}
		if round >= 2 && len(points) <= counts[round-2] {
			report(info)
			break
		}
		counts = append(counts, len(points))

		sel, err := Select(ctx, points, LinearCandidates(), rng, cfg.Workers)
		if err != nil {
			return res, err
		}
		if err := applicator.Apply(ctx, sel.Best); err != nil {
			return res, err
		}
		res.Final = sel.Best
		info.Function = sel.Best.Name()
		info.HeldOutMSE, info.IdentityMSE = sel.HeldOutMSE, sel.IdentityMSE
		report(info)
	}
	if !cfg.Forest {
		return res, nil
	}

	// Fit the forest on the last harvest, apply it, and harvest again
	// until the harvest stops growing
	counts = nil
	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		forest := NewForest(cfg, rng.Uint64())
		sel, err := Select(ctx, points, []Function{forest}, rng, cfg.Workers)
		if err != nil {
			return res, err
		}
		if err := applicator.Apply(ctx, sel.Best); err != nil {
			return res, err
		}
		res.Final = sel.Best
		var stats HarvestStats
		points, stats, err = harvester.Harvest(ctx)
		if err != nil {
			return res, err
		}
		report(RoundInfo{
			Loop:        LoopForest,
			Round:       round,
			Points:      len(points),
			Function:    sel.Best.Name(),
			HeldOutMSE:  sel.HeldOutMSE,
			IdentityMSE: sel.IdentityMSE,
			Stats:       stats,
		})
		if round >= 2 && len(points) <= counts[round-2] {
			break
		}
		counts = append(counts, len(points))
	}
	return res, nil
}
