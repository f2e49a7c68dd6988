package norm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Quantile(t *testing.T) {
	assert := assert.New(t)

	// Standard normal values from quantile tables.
	testData := []struct {
		mu, sigma, p, expected float64
	}{
		{0, 1, 0.5, 0},
		{0, 1, 0.975, 1.959964},
		{0, 1, 0.025, -1.959964},
		{0, 1, 0.995, 2.575829},
		{10, 2, 0.5, 10},
		{10, 2, 0.975, 10 + 2*1.959964},
	}

	for _, data := range testData {
		value := Quantile(data.mu, data.sigma, data.p)
		assert.InDelta(data.expected, value, 1e-4)
	}
}

func Test_Quantile_zeroSigma(t *testing.T) {
	assert := assert.New(t)

	// With no spread, every quantile sits on the mean.
	assert.Equal(42.0, Quantile(42, 0, 0.001))
	assert.Equal(42.0, Quantile(42, 0, 0.999))
	assert.False(math.IsInf(Quantile(0, 0, 1), 1))
}
