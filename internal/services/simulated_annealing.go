package services

import (
	"context"
	"math"
)

// ctxCheckEvery bounds how often the annealing loop polls for cancellation.
const ctxCheckEvery = 256

// Order stops with simulated annealing.
//
// The walk starts from the nearest-neighbor order, proposes swaps of two
// free positions and accepts worse moves with probability exp(-Δ/T).
// The best order seen is returned, so the result is never longer than the
// nearest-neighbor order it started from.
func simulatedAnnealingOrder(ctx context.Context, p *problem, opts Options) ([]int, int, error) {
	current := nearestNeighborOrder(p)
	lo := p.firstFree()
	if len(current)-lo < 2 {
		return current, 0, nil
	}

	currentCost := p.cost(current)
	best := append([]int(nil), current...)
	bestCost := currentCost

	neighbor := make([]int, len(current))
	span := len(current) - lo
	iterations := 0

	for temperature := opts.InitialTemperature; temperature > opts.StopTemperature; temperature *= opts.CoolingRate {
		if iterations%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, iterations, err
			}
		}
		iterations++

		copy(neighbor, current)
		i := lo + opts.Rand.Intn(span)
		j := lo + opts.Rand.Intn(span)
		neighbor[i], neighbor[j] = neighbor[j], neighbor[i]

		neighborCost := p.cost(neighbor)
		delta := neighborCost - currentCost
		if delta < 0 || opts.Rand.Float64() < math.Exp(-delta/temperature) {
			current, neighbor = neighbor, current
			currentCost = neighborCost

			if currentCost < bestCost {
				copy(best, current)
				bestCost = currentCost
			}
		}
	}

	return best, iterations, nil
}
