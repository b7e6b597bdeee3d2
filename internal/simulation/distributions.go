package simulation

import (
	"math"
	"math/rand"

	"github.com/statline-dev/liveline/internal/models"
)

// sample draws one value from a scenario variable's distribution using
// the supplied generator. Generators are per-sub-range so results are
// reproducible under a fixed seed regardless of worker interleaving.
func sampleDistribution(dist models.Distribution, rng *rand.Rand) float64 {
	switch dist.Type {
	case models.DistributionNormal:
		return rng.NormFloat64()*dist.StdDev + dist.Mean
	case models.DistributionUniform:
		return dist.Min + rng.Float64()*(dist.Max-dist.Min)
	case models.DistributionPoisson:
		return float64(samplePoisson(dist.Lambda, rng))
	default:
		return 0
	}
}

// samplePoisson uses Knuth's method, adequate for the small lambdas
// scoring-rate variables use
func samplePoisson(lambda float64, rng *rand.Rand) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}
