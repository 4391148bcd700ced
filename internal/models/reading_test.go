package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoredVitals_Full(t *testing.T) {
	r := &Reading{ID: "r-1", HeartRate: 72, SpO2: 98, Temperature: 36.8, ReceivedAt: time.Unix(1700000000, 0)}
	r.SetBloodPressure(118.5, SourceInferred)

	sv := NewStoredVitals(r, 11, false)

	require.NotNil(t, sv.BloodPressure)
	assert.Equal(t, 118.5, *sv.BloodPressure)
	assert.Equal(t, "inferred", sv.BPSource)
	assert.Equal(t, int64(1700000000), sv.ReceivedAt)
	assert.False(t, sv.Degraded)
}

func TestNewStoredVitals_DegradedDropsBloodPressure(t *testing.T) {
	r := &Reading{ID: "r-2", HeartRate: 72, SpO2: 98, Temperature: 36.8}
	r.SetBloodPressure(999, SourceInferred)

	sv := NewStoredVitals(r, 12, true)

	assert.Nil(t, sv.BloodPressure)
	assert.Equal(t, "unavailable", sv.BPSource)
	assert.True(t, sv.Degraded)
	// 读数本身保持不变
	require.NotNil(t, r.BloodPressure)
	assert.Equal(t, SourceInferred, r.Source)
}
