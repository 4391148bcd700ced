package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readingWithBP(bp float64) *models.Reading {
	r := &models.Reading{ID: "reading-1", HeartRate: 72, SpO2: 98, Temperature: 36.8}
	r.SetBloodPressure(bp, models.SourceInferred)
	return r
}

func TestCascade_FullWrite(t *testing.T) {
	store := &fakeStore{}
	m := metrics.New(nil)
	c := NewCascade(store, m, zap.NewNop())

	result, err := c.Persist(context.Background(), readingWithBP(118.5))

	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, int64(1), result.RecordID)
	assert.Equal(t, 1, store.fullCalls)
	assert.Equal(t, 0, store.degradedCall)
	assert.Equal(t, int64(1), m.GetSnapshot().PersistedFull)
}

func TestCascade_DegradesWhenFullWriteFails(t *testing.T) {
	store := &fakeStore{failFull: true}
	m := metrics.New(nil)
	c := NewCascade(store, m, zap.NewNop())

	result, err := c.Persist(context.Background(), readingWithBP(118.5))

	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.Len(t, store.records, 1)
	assert.Nil(t, store.records[0].BloodPressure)
	assert.Equal(t, 72.0, store.records[0].HeartRate)
	assert.Equal(t, 98.0, store.records[0].SpO2)
	assert.Equal(t, 36.8, store.records[0].Temperature)
	assert.Equal(t, 1, store.fullCalls)
	assert.Equal(t, 1, store.degradedCall)
	assert.Equal(t, int64(1), m.GetSnapshot().PersistedDegraded)
}

func TestCascade_BothWritesFail(t *testing.T) {
	store := &fakeStore{failFull: true, failDegraded: true}
	core, logs := observer.New(zapcore.ErrorLevel)
	m := metrics.New(nil)
	c := NewCascade(store, m, zap.New(core))

	_, err := c.Persist(context.Background(), readingWithBP(118.5))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegradedPersistence))
	assert.Empty(t, store.records)
	// 每一步只尝试一次
	assert.Equal(t, 1, store.fullCalls)
	assert.Equal(t, 1, store.degradedCall)

	// 运维可见：错误日志 + 指标
	entries := logs.FilterMessage("Failed to persist reading, data lost").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "reading-1", entries[0].ContextMap()["reading_id"])
	assert.Equal(t, int64(1), m.GetSnapshot().PersistLost)
}

func TestCascade_NoBloodPressureSkipsFullWrite(t *testing.T) {
	store := &fakeStore{}
	c := NewCascade(store, metrics.New(nil), zap.NewNop())

	result, err := c.Persist(context.Background(), &models.Reading{HeartRate: 72, SpO2: 98, Temperature: 36.8})

	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, 0, store.fullCalls)
	assert.Equal(t, 1, store.degradedCall)
}
