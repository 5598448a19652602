package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maskOf(vs ...int) uint64 {
	var m uint64
	for _, v := range vs {
		m |= 1 << uint(v)
	}
	return m
}

func TestParseCronField(t *testing.T) {
	tests := []struct {
		field string
		lo    int
		hi    int
		want  uint64
	}{
		{"5", 0, 59, maskOf(5)},
		{"1,15,30", 0, 59, maskOf(1, 15, 30)},
		{"1-3", 0, 23, maskOf(1, 2, 3)},
		{"*/20", 0, 59, maskOf(0, 20, 40)},
		{"10-30/10", 0, 59, maskOf(10, 20, 30)},
		{"1-2,5", 0, 6, maskOf(1, 2, 5)},
		{"45/5", 0, 59, maskOf(45, 50, 55)},
		{"?", 1, 12, maskOf(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, err := parseCronField(tt.field, tt.lo, tt.hi)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronFieldRejects(t *testing.T) {
	tests := []struct {
		field  string
		lo, hi int
	}{
		{"60", 0, 59},
		{"-1", 0, 59},
		{"5-2", 0, 59},
		{"*/0", 0, 59},
		{"*/x", 0, 59},
		{"a", 0, 59},
		{"1-", 0, 59},
		{"1,,2", 0, 59},
		{"0", 1, 31},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			_, err := parseCronField(tt.field, tt.lo, tt.hi)
			assert.Error(t, err)
		})
	}
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("*/5 * * * *"))
	assert.NoError(t, ValidateCron("0 3 1 * *"))
	assert.NoError(t, ValidateCron("* * * * 7"))
	assert.NoError(t, ValidateCron("@monthly"))
	assert.Error(t, ValidateCron("* * * *"))
	assert.Error(t, ValidateCron("* 24 * * *"))
	assert.Error(t, ValidateCron("@fortnightly"))
}

func TestNextCronTime(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 3, 30, 0, time.UTC) // Friday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every five minutes", "*/5 * * * *", time.Date(2026, 5, 1, 12, 5, 0, 0, time.UTC)},
		{"every minute", "* * * * *", time.Date(2026, 5, 1, 12, 4, 0, 0, time.UTC)},
		{"daily", "0 3 * * *", time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)},
		{"monthly", "0 3 1 * *", time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)},
		{"weekly", "30 9 * * 1", time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)},
		{"sunday as seven", "0 12 * * 7", time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)},
		{"day fields or", "0 0 15 * 1", time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)},
		{"year rollover", "0 0 1 1 *", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"hourly macro", "@hourly", time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"daily macro", "@daily", time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronScheduleNextIsStrictlyAfter(t *testing.T) {
	s, err := parseCron("0 * * * *")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next, ok := s.Next(at)
	require.True(t, ok)
	assert.Equal(t, at.Add(time.Hour), next)
}

func TestNextCronTimeImpossible(t *testing.T) {
	_, err := nextCronTime("0 0 31 2 *", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
