package analyzer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/gec/sensord/internal/errors"
	"github.com/cockroachdb/apd/v3"
)

// field is a fixed-width ASCII column of a frame.
type field struct {
	name     string
	start    int
	end      int
	decimals int32
}

var (
	fieldCO  = field{name: "co", start: 5, end: 12, decimals: 3}
	fieldCO2 = field{name: "co2", start: 12, end: 18, decimals: 2}
	fieldHC  = field{name: "hc", start: 18, end: 24}
	fieldO2  = field{name: "o2", start: 24, end: 30, decimals: 2}
	fieldNO  = field{name: "no", start: 30, end: 36}
)

const (
	headerSeparator byte = 0x17
	frameTerminator byte = 0x03
)

func (f field) text(frame []byte) string {
	return strings.TrimSpace(string(frame[f.start:f.end]))
}

// Decode validates one frame and parses its concentration columns.
// Any malformed column rejects the whole frame.
func Decode(frame []byte) (Reading, error) {
	errFactory := errors.New()

	if len(frame) != FrameLength {
		return Reading{}, errFactory.WithData(ErrInvalidLength, len(frame))
	}

	if !bytes.Equal(frame[:len(Marker)], Marker[:]) {
		return Reading{}, errFactory.WithData(ErrInvalidHeader, fmt.Sprintf("% x", frame[:len(Marker)]))
	}

	co, err := parseDecimal(frame, fieldCO)
	if err != nil {
		return Reading{}, err
	}

	co2, err := parseDecimal(frame, fieldCO2)
	if err != nil {
		return Reading{}, err
	}

	hc, err := parseInt(frame, fieldHC)
	if err != nil {
		return Reading{}, err
	}

	o2, err := parseDecimal(frame, fieldO2)
	if err != nil {
		return Reading{}, err
	}

	no, err := parseInt(frame, fieldNO)
	if err != nil {
		return Reading{}, err
	}

	return NewReading(co, co2, o2, hc, no), nil
}

func parseDecimal(frame []byte, f field) (*apd.Decimal, error) {
	s := f.text(frame)
	if s == "" || strings.ContainsAny(s, "eE") {
		return nil, invalidField(f, s)
	}

	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, invalidField(f, s)
	}

	return d, nil
}

func parseInt(frame []byte, f field) (int, error) {
	s := f.text(frame)

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidField(f, s)
	}

	return n, nil
}

func invalidField(f field, text string) error {
	return errors.New().WithData(ErrInvalidField, FieldError{Field: f.name, Text: text})
}

// Encode renders r in the analyzer's wire layout: each column right-aligned
// behind a space, zero-filled, with the status trailer left as zeros. It fails
// when a value is negative or does not fit its column.
func Encode(r Reading) (RawFrame, error) {
	var frame RawFrame
	copy(frame[:], Marker[:])
	frame[4] = headerSeparator
	for i := fieldNO.end; i < FrameLength-1; i++ {
		frame[i] = '0'
	}
	frame[FrameLength-1] = frameTerminator

	columns := []struct {
		f    field
		text string
	}{
		{fieldCO, formatDecimal(&r.CO, fieldCO.decimals)},
		{fieldCO2, formatDecimal(&r.CO2, fieldCO2.decimals)},
		{fieldHC, strconv.Itoa(r.HC)},
		{fieldO2, formatDecimal(&r.O2, fieldO2.decimals)},
		{fieldNO, strconv.Itoa(r.NO)},
	}

	for _, c := range columns {
		width := c.f.end - c.f.start - 1
		if len(c.text) > width || strings.HasPrefix(c.text, "-") {
			return RawFrame{}, errors.New().WithData(ErrFieldOverflow, FieldError{Field: c.f.name, Text: c.text})
		}

		frame[c.f.start] = ' '
		padded := strings.Repeat("0", width-len(c.text)) + c.text
		copy(frame[c.f.start+1:c.f.end], padded)
	}

	return frame, nil
}

func formatDecimal(d *apd.Decimal, places int32) string {
	var q apd.Decimal
	if _, err := decimalContext.Quantize(&q, d, -places); err != nil {
		return d.Text('f')
	}
	return q.Text('f')
}
