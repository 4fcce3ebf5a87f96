package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2017-07-08")
	require.NoError(t, err)
	assert.Equal(t, Date("2017-07-08"), d)
	assert.Equal(t, 8, d.Day())

	for _, bad := range []string{"", "2017-7-8", "2017-02-30", "2017/07/08", "tomorrow"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddMonths(t *testing.T) {
	cases := []struct {
		start  Date
		months int
		want   Date
	}{
		{"2017-07-08", 2, "2017-09-08"},
		{"2017-11-28", 3, "2018-02-28"},
		{"2016-01-28", 1, "2016-02-28"},
		{"2017-12-01", 12, "2018-12-01"},
	}
	for _, c := range cases {
		got, ok := c.start.AddMonths(c.months)
		assert.True(t, ok)
		assert.Equal(t, c.want, got, "%s + %d", c.start, c.months)
	}
}

func TestAddMonthsPastMaxYear(t *testing.T) {
	got, ok := Date("9999-11-01").AddMonths(1)
	assert.True(t, ok)
	assert.Equal(t, Date("9999-12-01"), got)

	_, ok = Date("9999-12-01").AddMonths(1)
	assert.False(t, ok)
	assert.Equal(t, 9999, Date("9999-12-01").Year())
}

func TestDateOfUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	instant := time.Date(2017, 7, 8, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, Date("2017-07-08"), DateOf(instant))
	assert.Equal(t, Date("2017-07-09"), DateOf(instant.In(tokyo)))
}

func TestPeriodPredicates(t *testing.T) {
	p := AdPeriod{StartAt: "2017-07-08", EndAt: "2017-09-08"}

	assert.False(t, p.IsActive("2017-07-07"))
	assert.False(t, p.IsExpired("2017-07-07"))

	assert.True(t, p.IsActive("2017-07-08"))
	assert.True(t, p.IsActive("2017-09-07"))

	assert.False(t, p.IsActive("2017-09-08"))
	assert.True(t, p.IsExpired("2017-09-08"))
}

func TestMaterialWindow(t *testing.T) {
	open := AdMaterial{}
	assert.True(t, open.InWindow("2017-01-01"))

	m := AdMaterial{StartAt: "2017-08-01", EndAt: "2017-08-15"}
	assert.False(t, m.InWindow("2017-07-31"))
	assert.True(t, m.InWindow("2017-08-01"))
	assert.True(t, m.InWindow("2017-08-14"))
	assert.False(t, m.InWindow("2017-08-15"))

	fromOnly := AdMaterial{StartAt: "2017-08-01"}
	assert.True(t, fromOnly.InWindow("2030-01-01"))
	untilOnly := AdMaterial{EndAt: "2017-08-01"}
	assert.True(t, untilOnly.InWindow("2000-01-01"))
	assert.False(t, untilOnly.InWindow("2017-08-01"))
}

func TestSlotPatchApply(t *testing.T) {
	s := AdSlot{Name: "A", Description: "slot-A", Width: 336, Height: 280, NumSlots: 2}
	name, empty, slots := "A-changed", "", 9
	SlotPatch{Name: &name, AutoFill: &empty, NumSlots: &slots}.Apply(&s)

	assert.Equal(t, "A-changed", s.Name)
	assert.Equal(t, "slot-A", s.Description)
	assert.Equal(t, "", s.AutoFill)
	assert.Equal(t, 9, s.NumSlots)
	assert.Equal(t, 336, s.Width)
	assert.Equal(t, 168*280, s.MaxImageBytes())
}
