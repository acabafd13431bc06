package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthBucket(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)

	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid month",
			in:   time.Date(2025, 3, 17, 15, 4, 5, 0, time.UTC),
			want: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first instant",
			in:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "local time crossing month boundary in utc",
			in:   time.Date(2025, 4, 1, 3, 0, 0, 0, jakarta),
			want: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(MonthBucket(tc.in)))
		})
	}
}

func TestPreviousMonthBucket(t *testing.T) {
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).Equal(PreviousMonthBucket(march)))

	january := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC).Equal(PreviousMonthBucket(january)))
}

func TestSameMonth(t *testing.T) {
	a := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)
	c := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameMonth(a, b))
	assert.False(t, SameMonth(b, c))
}
