package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	assert.Equal(t, 0.3, Round(0.1+0.2))
	assert.Equal(t, 10.13, Round(10.125))
	assert.Equal(t, -2.5, Round(-2.499999))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0.0, Sum())
	assert.Equal(t, 0.6, Sum(0.1, 0.2, 0.3))
	assert.Equal(t, 17500.0, Sum(7500, 10000))
}

func TestSubAndAdd(t *testing.T) {
	assert.Equal(t, 9000.0, Sub(10000, 1000))
	assert.Equal(t, 0.1, Sub(0.3, 0.2))
	assert.Equal(t, 0.3, Add(0.1, 0.2))
}

func TestMulAndScale(t *testing.T) {
	assert.Equal(t, 22500.0, Mul(7500, 3))
	assert.Equal(t, 0.0, Mul(7500, 0))
	assert.Equal(t, 6000.0, Scale(7500, 0.8))
	assert.Equal(t, 3750.0, Scale(7500, 0.5))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 1000.0, Percent(10000, 10))
	assert.Equal(t, 3500.0, Percent(10000, 35))
	assert.Equal(t, 0.0, Percent(0, 50))
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 25.0, PercentOf(2500, 10000))
	assert.Equal(t, 0.0, PercentOf(100, 0))
	assert.Equal(t, 33.33, PercentOf(1, 3))
}

func TestRatioPercent(t *testing.T) {
	assert.Equal(t, 10.0, RatioPercent(10000, 100000))
	assert.Equal(t, 10.004, RatioPercent(10004, 100000))
	assert.Greater(t, RatioPercent(30000.01, 100000), 30.0)
	assert.Equal(t, 0.0, RatioPercent(100, 0))
}

func TestEqualAndCmp(t *testing.T) {
	assert.True(t, Equal(0.1+0.2, 0.3))
	assert.False(t, Equal(0.31, 0.3))
	assert.Equal(t, 0, Cmp(7500, 7500.001))
	assert.Equal(t, 1, Cmp(7500.01, 7500))
	assert.Equal(t, -1, Cmp(1, 2))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "₦7,500.00", Format(7500))
	assert.Equal(t, "₦0.00", Format(0))
	assert.Equal(t, "₦1,234,567.89", Format(1234567.891))
	assert.Equal(t, "-₦1,000.00", Format(-1000))
}
