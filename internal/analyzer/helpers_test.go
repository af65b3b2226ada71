package analyzer_test

import (
	"testing"

	"codeberg.org/gec/sensord/internal/analyzer"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"
)

// Frames captured from the analyzer's serial output.
const (
	idleFrameText    = "6-49-82-71-23-32-48-48-46-48-48-48-32-48-48-46-48-48-32-48-48-48-50-51-32-50-48-46-57-48-32-48-48-48-48-48-48-48-48-48-50-66-3"
	exhaustFrameText = "6-49-82-71-23-32-49-51-46-48-56-51-32-50-54-46-52-51-32-48-56-56-50-49-32-48-48-46-48-48-32-48-50-55-55-48-48-48-48-48-53-67-3"
)

func parseDashed(t *testing.T, text string) []byte {
	t.Helper()

	out, err := analyzer.ParseDashed(text)
	require.NoError(t, err)
	return out
}

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()

	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func requireNear(t *testing.T, expected string, actual apd.Decimal, tolerance string) {
	t.Helper()

	var diff, abs apd.Decimal
	_, err := apd.BaseContext.WithPrecision(40).Sub(&diff, dec(t, expected), &actual)
	require.NoError(t, err)
	abs.Abs(&diff)
	require.True(t, abs.Cmp(dec(t, tolerance)) <= 0,
		"expected %s, got %s", expected, actual.Text('f'))
}
