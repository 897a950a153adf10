package commission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFlatPercent(t *testing.T) {
	p := NewFlatPercent(d("10"))

	assert.Equal(t, "100.00", p.Commission(d("1000")).StringFixed(2))
	// 0.125 округляется вверх
	assert.Equal(t, "0.13", NewFlatPercent(d("12.5")).Commission(d("1")).StringFixed(2))
	assert.Equal(t, "0.00", NewFlatPercent(d("0")).Commission(d("1000")).StringFixed(2))
}

func TestParseSchedule(t *testing.T) {
	schedule, err := ParseSchedule([]byte(`
tiers:
  - percent: "5"
  - up_to: "10000"
    percent: "8"
  - up_to: "1000"
    percent: "10"
`))
	require.NoError(t, err)

	assert.Equal(t, "50.00", schedule.Commission(d("500")).StringFixed(2))
	assert.Equal(t, "100.00", schedule.Commission(d("1000")).StringFixed(2))
	assert.Equal(t, "400.00", schedule.Commission(d("5000")).StringFixed(2))
	assert.Equal(t, "1000.00", schedule.Commission(d("20000")).StringFixed(2))
}

func TestParseSchedule_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":          `tiers: []`,
		"no open tier":   "tiers:\n  - up_to: \"100\"\n    percent: \"5\"\n",
		"bad percent":    "tiers:\n  - percent: \"abc\"\n",
		"full amount":    "tiers:\n  - percent: \"100\"\n",
		"two open tiers": "tiers:\n  - percent: \"1\"\n  - percent: \"2\"\n",
		"not yaml":       "tiers: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSchedule([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(d("7"), "")
	require.NoError(t, err)
	assert.Equal(t, "7.00", p.Commission(d("100")).StringFixed(2))

	path := filepath.Join(t.TempDir(), "commission.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - percent: \"3\"\n"), 0o644))
	p, err = FromConfig(d("7"), path)
	require.NoError(t, err)
	assert.Equal(t, "3.00", p.Commission(d("100")).StringFixed(2))

	_, err = FromConfig(d("7"), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFlatPercent_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// суммы в копейках и проценты в сотых долях процента
	amountGen := gen.Int64Range(1, 100_000_000)
	percentGen := gen.Int64Range(0, 9_999)

	properties.Property("commission has at most two decimals and never exceeds amount", prop.ForAll(
		func(cents, bp int64) bool {
			amount := decimal.New(cents, -2)
			c := NewFlatPercent(decimal.New(bp, -2)).Commission(amount)
			return c.Equal(c.Round(2)) && !c.IsNegative() && c.LessThanOrEqual(amount)
		},
		amountGen, percentGen,
	))

	properties.Property("commission is within half a cent of the exact value", prop.ForAll(
		func(cents, bp int64) bool {
			amount := decimal.New(cents, -2)
			percent := decimal.New(bp, -2)
			exact := amount.Mul(percent).Div(hundred)
			diff := NewFlatPercent(percent).Commission(amount).Sub(exact).Abs()
			return diff.LessThanOrEqual(d("0.005"))
		},
		amountGen, percentGen,
	))

	properties.TestingRun(t)
}
