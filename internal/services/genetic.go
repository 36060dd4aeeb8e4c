package services

import (
	"context"
	"math/rand"
)

// Order stops with a genetic algorithm.
//
// Individuals are permutations of stop indices. Each generation applies
// roulette selection on fitness 1/(1+distance), single-point crossover with
// membership repair and swap mutation. The best individual found so far is
// carried into every generation, and the fittest of the final generation wins.
func geneticOrder(ctx context.Context, p *problem, opts Options) ([]int, int, error) {
	seed := nearestNeighborOrder(p)
	lo := p.firstFree()
	if len(seed)-lo < 2 {
		return seed, 0, nil
	}

	population := initialPopulation(seed, lo, opts.Population, opts.Rand)
	best := append([]int(nil), seed...)
	bestFitness := fitness(p, best)

	for gen := 0; gen < opts.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, gen, err
		}

		scores := make([]float64, len(population))
		for i, ind := range population {
			scores[i] = fitness(p, ind)
			if scores[i] > bestFitness {
				bestFitness = scores[i]
				best = append(best[:0], ind...)
			}
		}

		selected := rouletteSelect(population, scores, opts.Rand)
		offspring := crossoverAll(selected, lo, opts.Rand)
		for _, ind := range offspring {
			if opts.Rand.Float64() < opts.MutationRate {
				swapMutate(ind, lo, opts.Rand)
			}
		}

		// Elitism: the best individual so far survives into the next generation.
		offspring[0] = append([]int(nil), best...)
		population = offspring
	}

	winner := population[0]
	winnerFitness := fitness(p, winner)
	for _, ind := range population[1:] {
		if f := fitness(p, ind); f > winnerFitness {
			winner, winnerFitness = ind, f
		}
	}

	return winner, opts.Generations, nil
}

func fitness(p *problem, order []int) float64 {
	return 1 / (1 + p.cost(order))
}

// initialPopulation seeds with the nearest-neighbor order plus random shuffles
// of the free tail.
func initialPopulation(seed []int, lo, size int, rng *rand.Rand) [][]int {
	population := make([][]int, 0, size)
	population = append(population, append([]int(nil), seed...))

	for len(population) < size {
		ind := append([]int(nil), seed...)
		tail := ind[lo:]
		rng.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
		population = append(population, ind)
	}

	return population
}

// rouletteSelect draws len(population) individuals with probability
// proportional to their score.
func rouletteSelect(population [][]int, scores []float64, rng *rand.Rand) [][]int {
	total := 0.0
	for _, s := range scores {
		total += s
	}

	selected := make([][]int, 0, len(population))
	for range population {
		r := rng.Float64() * total
		sum := 0.0
		pick := len(population) - 1
		for j, s := range scores {
			sum += s
			if sum > r {
				pick = j
				break
			}
		}
		selected = append(selected, population[pick])
	}

	return selected
}

// crossoverAll pairs consecutive parents and produces two children per pair.
// An odd last parent is copied through unchanged.
func crossoverAll(parents [][]int, lo int, rng *rand.Rand) [][]int {
	offspring := make([][]int, 0, len(parents))
	for i := 0; i+1 < len(parents); i += 2 {
		p1, p2 := parents[i], parents[i+1]
		cut := lo + rng.Intn(len(p1)-lo)
		offspring = append(offspring, crossover(p1, p2, cut), crossover(p2, p1, cut))
	}
	if len(parents)%2 == 1 {
		offspring = append(offspring, append([]int(nil), parents[len(parents)-1]...))
	}
	return offspring
}

// crossover keeps head[:cut] and fills the rest with the other parent's genes
// in order, skipping any already present. Membership is tracked by stop index,
// so the child is always a valid permutation.
func crossover(head, fill []int, cut int) []int {
	child := make([]int, 0, len(head))
	seen := make(map[int]struct{}, len(head))

	for _, g := range head[:cut] {
		child = append(child, g)
		seen[g] = struct{}{}
	}
	for _, g := range fill {
		if _, ok := seen[g]; ok {
			continue
		}
		child = append(child, g)
		seen[g] = struct{}{}
	}

	return child
}

func swapMutate(ind []int, lo int, rng *rand.Rand) {
	span := len(ind) - lo
	i := lo + rng.Intn(span)
	j := lo + rng.Intn(span)
	ind[i], ind[j] = ind[j], ind[i]
}
