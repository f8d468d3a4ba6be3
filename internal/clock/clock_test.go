package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedOffset(t *testing.T) {
	c := NewFixedOffset(3)
	c.now = func() time.Time { return time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC) }

	now := c.Now()
	assert.Equal(t, 1, now.Hour())
	assert.Equal(t, 30, now.Minute())
	assert.Equal(t, Date{2025, time.March, 11}, DateOf(now))

	_, offset := now.Zone()
	assert.Equal(t, 3*3600, offset)
}

func TestFixedOffsetNegative(t *testing.T) {
	c := NewFixedOffset(-5)
	c.now = func() time.Time { return time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC) }
	assert.Equal(t, Date{2024, time.December, 31}, DateOf(c.Now()))
	assert.Equal(t, WallTime{21, 0}, WallTimeOf(c.Now()))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2025-02-28 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-28", d.String())

	for _, bad := range []string{"", "2025-2-28", "28/02/2025", "2025-02-30", "tomorrow"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateArithmetic(t *testing.T) {
	d := Date{2024, time.February, 28}
	assert.Equal(t, Date{2024, time.February, 29}, d.AddDays(1))
	assert.Equal(t, Date{2024, time.March, 1}, d.AddDays(2))
	assert.Equal(t, 2, d.DaysUntil(Date{2024, time.March, 1}))
	assert.Equal(t, -1, d.DaysUntil(Date{2024, time.February, 27}))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))
	assert.True(t, Date{}.IsZero())
	assert.Equal(t, "", Date{}.String())
}

func TestParseWallTime(t *testing.T) {
	tests := []struct {
		in   string
		want WallTime
	}{
		{"08:05", WallTime{8, 5}},
		{"8:05", WallTime{8, 5}},
		{"23:59", WallTime{23, 59}},
		{" 0:00 ", WallTime{0, 0}},
	}
	for _, tt := range tests {
		got, err := ParseWallTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "8", "8:5", "24:00", "12:60", "008:00", "ab:cd", "+1:00", "12:-1"} {
		_, err := ParseWallTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestWallTimeString(t *testing.T) {
	assert.Equal(t, "08:05", WallTime{8, 5}.String())
	assert.Equal(t, 485, WallTime{8, 5}.Minutes())
}
