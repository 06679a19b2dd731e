package alignment

import (
	"math/rand"

	"affinder/pkg/geometry"
)

// RANSACOptions configures EstimateRANSAC.
type RANSACOptions struct {
	Options

	Iterations int        // random samples to try, default 2000
	Threshold  float64    // inlier distance in pixels, default 3.0
	Rand       *rand.Rand // nil uses a time-seeded source
}

// DefaultRANSACOptions returns default RANSAC options.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		Options:    DefaultOptions(),
		Iterations: 2000,
		Threshold:  3.0,
	}
}

// EstimateRANSAC is Estimate with outlier rejection. It repeatedly fits the
// family to d+1 randomly chosen pairs, keeps the sample that agrees with the
// most pairs within Threshold, and refits on that consensus set. The
// direction convention is the same as Estimate.
func EstimateRANSAC(src, dst geometry.PointSet, family Family, opts RANSACOptions) (*Result, error) {
	opts.Options = opts.Options.withDefaults()
	if opts.Iterations <= 0 {
		opts.Iterations = 2000
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 3.0
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	if err := checkPairs(src, dst); err != nil {
		return nil, err
	}

	n := len(src)
	k := MinPoints(src.Dim())
	var bestInliers []int
	var bestTransform geometry.Matrix

	sample := make(geometry.PointSet, k)
	target := make(geometry.PointSet, k)
	for iter := 0; iter < opts.Iterations; iter++ {
		// Randomly sample k pairs
		for i, idx := range rng.Perm(n)[:k] {
			sample[i] = dst[idx]
			target[i] = src[idx]
		}

		transform, _, err := fit(sample, target, family, opts.Options)
		if err != nil {
			continue
		}

		// Count inliers
		var inliers []int
		for i := range src {
			if transform.Apply(dst[i]).Distance(src[i]) < opts.Threshold {
				inliers = append(inliers, i)
			}
		}

		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestTransform = transform
		}
		if len(bestInliers) == n {
			break
		}
	}

	if len(bestInliers) < k {
		return nil, ErrNoConsensus
	}

	// Recompute transform using all inliers
	inlierSrc := make(geometry.PointSet, len(bestInliers))
	inlierDst := make(geometry.PointSet, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}

	res, err := EstimateWithOptions(inlierSrc, inlierDst, family, opts.Options)
	if err != nil {
		opts.Logger.Printf("alignment: RANSAC refit on %d inliers failed, keeping best sample: %v", len(bestInliers), err)
		res = &Result{
			Family: family,
			Matrix: bestTransform,
			RMS:    RMSError(inlierSrc, inlierDst, bestTransform),
		}
	}
	res.Inliers = bestInliers
	return res, nil
}
