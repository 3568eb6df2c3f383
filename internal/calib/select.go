package calib

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// trainFraction of the shuffled points is used for training, the rest
// is held out for scoring
const trainFraction = 0.75

// Selection is the outcome of a model selection
type Selection struct {
	Best        Function
	HeldOutMSE  float64
	IdentityMSE float64
	Train, Test int
	Skipped     int // candidates that could not be fit
}

// Split shuffles a copy of points and splits it into a training and a
// held-out part
func Split(points []Point, rng *rand.Rand) (train, test []Point) {
	shuffled := append([]Point(nil), points...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	n := int(float64(len(shuffled)) * trainFraction)
	return shuffled[:n], shuffled[n:]
}

// Select trains the candidates on 75% of the points and returns the one
// with the lowest mean squared error on the remaining 25%. Identity is
// the incumbent and is only replaced by a strictly lower error.
// Candidates are trained concurrently on at most workers goroutines; the
// reduction is done in candidate order, so the result does not depend on
// scheduling.
func Select(ctx context.Context, points []Point, candidates []Function,
	rng *rand.Rand, workers int) (Selection, error) {
	train, test := Split(points, rng)

	sel := Selection{Best: Identity{}, Train: len(train), Test: len(test)}
	sel.IdentityMSE = MSE(Identity{}, test)
	sel.HeldOutMSE = sel.IdentityMSE

	type outcome struct {
		mse float64
		err error
	}
	outcomes := make([]outcome, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, c := range candidates {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := c.Train(train); err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].mse = MSE(c, test)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sel, err
	}

	for i, o := range outcomes {
		if o.err != nil {
			sel.Skipped++
			continue
		}
		if o.mse < sel.HeldOutMSE {
			sel.HeldOutMSE = o.mse
			sel.Best = candidates[i]
		}
	}
	return sel, nil
}
