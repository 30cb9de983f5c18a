package schedule

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomover/pkg/properties"
)

func TestNewParameters_Defaults(t *testing.T) {
	p, err := NewParameters(properties.Properties{"class": "Cleanup"}, "cleanup", "/state", ref)
	require.NoError(t, err)

	assert.Equal(t, "Cleanup", p.ClassName)
	assert.Equal(t, DefaultInterval, p.Interval)
	assert.Equal(t, ref, p.StartDate)
	assert.False(t, p.ExecuteOnlyOnce)
	assert.Nil(t, p.Schedule)
	assert.Empty(t, p.NextDateFile)
}

func TestNewParameters_MissingClass(t *testing.T) {
	_, err := NewParameters(properties.Properties{"interval": "10"}, "cleanup", "/state", ref)
	assert.ErrorIs(t, err, properties.ErrPropertyNotFound)
}

func TestNewParameters_Start(t *testing.T) {
	p, err := NewParameters(properties.Properties{"class": "C", "start": "11:15"}, "c", "", ref)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 13, 11, 15), p.StartDate)

	p, err = NewParameters(properties.Properties{"class": "C", "start": "09:00"}, "c", "", ref)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 14, 9, 0), p.StartDate)

	_, err = NewParameters(properties.Properties{"class": "C", "start": "9 o'clock"}, "c", "", ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match the required format <HH:mm>")
}

func TestNewParameters_RetryIntervals(t *testing.T) {
	props := properties.Properties{
		"class":                         "C",
		"interval":                      "1h",
		"retry-intervals-after-failure": "30m, 10, 2h, 5min",
	}
	p, err := NewParameters(props, "c", "", ref)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 5 * time.Minute, 30 * time.Minute}, p.RetryIntervals,
		"sorted, and intervals longer than the period are dropped")

	props["retry-intervals-after-failure"] = "soon"
	_, err = NewParameters(props, "c", "", ref)
	assert.Error(t, err)
}

func TestNewParameters_RunSchedule(t *testing.T) {
	props := properties.Properties{
		"class":                         "Archiver",
		"run-schedule":                  "wed 12:00",
		"retry-intervals-after-failure": "1d, 8d",
	}
	p, err := NewParameters(props, "archiver", "/state", ref)
	require.NoError(t, err)

	require.NotNil(t, p.Schedule)
	assert.Equal(t, filepath.Join("/state", "archiver_Archiver"), p.NextDateFile)
	assert.Equal(t, 7*24*time.Hour, p.Period(ref))
	assert.Equal(t, []time.Duration{24 * time.Hour}, p.RetryIntervals)

	props["run-schedule-file"] = "/elsewhere/next"
	p, err = NewParameters(props, "archiver", "/state", ref)
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/next", p.NextDateFile)

	props["run-schedule"] = "someday"
	_, err = NewParameters(props, "archiver", "/state", ref)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
