package analyzer

import "github.com/cockroachdb/apd/v3"

// decimalContext carries 28 significant digits, half-even, for every
// concentration and lambda computation.
var decimalContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(28)
	c.Rounding = apd.RoundHalfEven
	return c
}()

// Calibration constants of the lambda formula.
var (
	one            = apd.New(1, 0)
	two            = apd.New(2, 0)
	six            = apd.New(6, 0)
	threePointFive = apd.New(35, -1)
	drift          = apd.New(88, -4) // 0.0088
	hcScale        = apd.New(10000, 0)
	coefficientA   = mustQuo(apd.New(17261, -4), apd.New(4, 0))
)

func mustQuo(x, y *apd.Decimal) *apd.Decimal {
	d := new(apd.Decimal)
	if _, err := decimalContext.Quo(d, x, y); err != nil {
		panic(err)
	}
	return d
}

// arith latches the first error of a chain of decimal operations.
type arith struct {
	ctx *apd.Context
	err error
}

func (a *arith) add(d, x, y *apd.Decimal) *apd.Decimal {
	if a.err == nil {
		_, a.err = a.ctx.Add(d, x, y)
	}
	return d
}

func (a *arith) sub(d, x, y *apd.Decimal) *apd.Decimal {
	if a.err == nil {
		_, a.err = a.ctx.Sub(d, x, y)
	}
	return d
}

func (a *arith) mul(d, x, y *apd.Decimal) *apd.Decimal {
	if a.err == nil {
		_, a.err = a.ctx.Mul(d, x, y)
	}
	return d
}

func (a *arith) quo(d, x, y *apd.Decimal) *apd.Decimal {
	if a.err == nil {
		_, a.err = a.ctx.Quo(d, x, y)
	}
	return d
}

// Lambda derives the air-fuel ratio indicator from the concentrations of one
// sample:
//
//	a          = 1.7261 / 4
//	correction = a * (3.5 / (3.5 + CO/CO2)) - 0.0088
//	numerator  = CO2 + CO/2 + O2 + correction * (CO2 + CO)
//	denominator = (1 + a - 0.0088) * (CO2 + CO + 6 * (HC/10000))
//
// The correction term is skipped when CO2 is zero, and a zero denominator
// yields zero. Lambda never fails.
func Lambda(co, co2, o2 *apd.Decimal, hc int) apd.Decimal {
	a := &arith{ctx: decimalContext}

	var correction apd.Decimal
	if !co2.IsZero() {
		var ratio, base, share, scaled apd.Decimal
		a.quo(&ratio, co, co2)
		a.add(&base, threePointFive, &ratio)
		if !base.IsZero() {
			a.quo(&share, threePointFive, &base)
			a.mul(&scaled, coefficientA, &share)
			a.sub(&correction, &scaled, drift)
		}
	}

	var halfCO, partial, sum, carbon, corrected, numerator apd.Decimal
	a.quo(&halfCO, co, two)
	a.add(&carbon, co2, co)
	a.add(&partial, co2, &halfCO)
	a.add(&sum, &partial, o2)
	a.mul(&corrected, &correction, &carbon)
	a.add(&numerator, &sum, &corrected)

	var hcDec, hcShare, hcTerm, mass, grossFactor, factor, denominator apd.Decimal
	hcDec.SetInt64(int64(hc))
	a.quo(&hcShare, &hcDec, hcScale)
	a.mul(&hcTerm, six, &hcShare)
	a.add(&mass, &carbon, &hcTerm)
	a.add(&grossFactor, one, coefficientA)
	a.sub(&factor, &grossFactor, drift)
	a.mul(&denominator, &factor, &mass)

	var lambda apd.Decimal
	if a.err != nil || denominator.IsZero() {
		return lambda
	}

	a.quo(&lambda, &numerator, &denominator)
	if a.err != nil {
		return apd.Decimal{}
	}

	return lambda
}
