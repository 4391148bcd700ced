package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *VitalsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewVitalsRepository(db, logger)

	return db, mock, repo
}

func newReading(bp *float64) *models.Reading {
	return &models.Reading{
		HeartRate:     72,
		SpO2:          98,
		Temperature:   36.8,
		BloodPressure: bp,
	}
}

func TestInsertFull_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	bp := 118.5
	mock.ExpectQuery(`INSERT INTO sensor_data \(heart_rate, spo2, temperature, blood_pressure\)`).
		WithArgs(72.0, 98.0, 36.8, 118.5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.InsertFull(context.Background(), newReading(&bp))

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFull_WithoutBloodPressure(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	_, err := repo.InsertFull(context.Background(), newReading(nil))

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFull_DatabaseError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	bp := 500.0
	mock.ExpectQuery(`INSERT INTO sensor_data`).
		WithArgs(72.0, 98.0, 36.8, 500.0).
		WillReturnError(errors.New("check constraint violation"))

	_, err := repo.InsertFull(context.Background(), newReading(&bp))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "check constraint violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWithoutBP_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO sensor_data \(heart_rate, spo2, temperature\)\s+VALUES \(\$1, \$2, \$3\)`).
		WithArgs(72.0, 98.0, 36.8).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	bp := 120.0
	id, err := repo.InsertWithoutBP(context.Background(), newReading(&bp))

	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sensor_data`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sensor_data`).WillReturnError(errors.New("permission denied"))

	err := repo.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestGetLatest(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "heart_rate", "spo2", "temperature", "blood_pressure", "timestamp"}).
		AddRow(int64(2), 80.0, 97.0, 36.9, 121.0, now).
		AddRow(int64(1), 72.0, 98.0, 36.8, nil, now.Add(-time.Second))

	mock.ExpectQuery(`SELECT id, heart_rate, spo2, temperature, blood_pressure, timestamp`).
		WithArgs(2).
		WillReturnRows(rows)

	records, err := repo.GetLatest(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].ID)
	require.NotNil(t, records[0].BloodPressure)
	assert.Equal(t, 121.0, *records[0].BloodPressure)
	assert.Nil(t, records[1].BloodPressure)
	assert.NoError(t, mock.ExpectationsWereMet())
}
