package analyzer

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Reading is one decoded analyzer sample. CO, CO2 and O2 are percent by
// volume, HC and NO are ppm. A Reading is never mutated after construction.
type Reading struct {
	CO  apd.Decimal
	CO2 apd.Decimal
	O2  apd.Decimal
	HC  int
	NO  int
}

// NewReading copies the given concentrations into a Reading.
func NewReading(co, co2, o2 *apd.Decimal, hc, no int) Reading {
	var r Reading
	r.CO.Set(co)
	r.CO2.Set(co2)
	r.O2.Set(o2)
	r.HC = hc
	r.NO = no
	return r
}

// ParseReading builds a Reading from decimal text, for tests and tools.
func ParseReading(co, co2, o2 string, hc, no int) (Reading, error) {
	values := make([]*apd.Decimal, 0, 3)
	for _, s := range []string{co, co2, o2} {
		d, _, err := apd.NewFromString(s)
		if err != nil {
			return Reading{}, err
		}
		values = append(values, d)
	}

	return NewReading(values[0], values[1], values[2], hc, no), nil
}

// Lambda computes the reading's air-fuel ratio indicator.
func (r *Reading) Lambda() apd.Decimal {
	return Lambda(&r.CO, &r.CO2, &r.O2, r.HC)
}

// Deviation is |1 - Lambda|, the distance from stoichiometric combustion.
func (r *Reading) Deviation() apd.Decimal {
	lambda := r.Lambda()

	var diff, dev apd.Decimal
	if _, err := decimalContext.Sub(&diff, one, &lambda); err != nil {
		return apd.Decimal{}
	}
	dev.Abs(&diff)

	return dev
}

// CloserToIdeal reports whether r is strictly closer to lambda 1 than other.
func (r *Reading) CloserToIdeal(other *Reading) bool {
	mine := r.Deviation()
	theirs := other.Deviation()
	return mine.Cmp(&theirs) < 0
}

func (r *Reading) String() string {
	lambda := r.Lambda()
	return fmt.Sprintf("CO=%s CO2=%s O2=%s HC=%d NO=%d lambda=%s",
		r.CO.Text('f'), r.CO2.Text('f'), r.O2.Text('f'), r.HC, r.NO, lambda.Text('f'))
}
