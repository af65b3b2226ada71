package analyzer

import (
	"strconv"
	"strings"

	"codeberg.org/gec/sensord/internal/errors"
)

// FormatDashed renders bytes as dash-separated decimals ("6-49-82-..."),
// the notation used in frame logs and capture files.
func FormatDashed(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	return sb.String()
}

// ParseDashed is the inverse of FormatDashed. Surrounding whitespace is
// ignored.
func ParseDashed(text string) ([]byte, error) {
	errFactory := errors.New()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	parts := strings.Split(text, "-")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, errFactory.Wrap(ErrInvalidDashed, err).WithData(p)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
