package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustShanghai(t *testing.T) *time.Location {
	t.Helper()
	l, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return l
}

func TestLabelBoundaries(t *testing.T) {
	loc := mustShanghai(t)

	cases := []struct {
		name string
		hour int
		min  int
		want Period
	}{
		{"09:59 is MORN", 9, 59, MORN},
		{"10:00 is AM", 10, 0, AM},
		{"13:59 is AM", 13, 59, AM},
		{"14:00 is PM", 14, 0, PM},
		{"19:59 is PM", 19, 59, PM},
		{"20:00 is EVE", 20, 0, EVE},
		{"23:59 is EVE", 23, 59, EVE},
		{"00:00 is MORN", 0, 0, MORN},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := time.Date(2026, 3, 5, tc.hour, tc.min, 0, 0, loc)
			got, key, err := Label(ts)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, "2026-03-05_"+string(tc.want), key)
		})
	}
}

func TestLabelConvertsFromOtherZones(t *testing.T) {
	utc := time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC) // 10:00 Shanghai
	got, _, err := Label(utc)
	require.NoError(t, err)
	require.Equal(t, AM, got)
}

func TestValid(t *testing.T) {
	require.True(t, MORN.Valid())
	require.False(t, Period("NIGHT").Valid())
}
