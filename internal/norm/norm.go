// Package norm evaluates quantiles of single-variate normal distributions.
package norm

import "gonum.org/v1/gonum/stat/distuv"

// Quantile returns the value below which a fraction p of the probability mass
// of a normal distribution with the given mean and standard deviation falls.
// A zero sigma collapses the distribution onto its mean.
func Quantile(mu, sigma, p float64) float64 {
	if sigma == 0 {
		return mu
	}

	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	return dist.Quantile(p)
}
