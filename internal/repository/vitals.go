package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"

	"go.uber.org/zap"
)

// VitalsRepository 生命体征数据仓库（sensor_data 表）
type VitalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVitalsRepository 创建生命体征数据仓库
func NewVitalsRepository(db *sql.DB, logger *zap.Logger) *VitalsRepository {
	return &VitalsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建 sensor_data 表（已存在时忽略）
func (r *VitalsRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sensor_data (
			id             BIGSERIAL PRIMARY KEY,
			heart_rate     REAL NOT NULL,
			spo2           REAL NOT NULL,
			temperature    REAL NOT NULL,
			blood_pressure REAL,
			timestamp      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp ON sensor_data (timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure sensor_data schema: %w", err)
		}
	}

	r.logger.Info("Verified sensor_data table exists")
	return nil
}

// InsertFull 插入完整记录（含血压）
func (r *VitalsRepository) InsertFull(ctx context.Context, reading *models.Reading) (int64, error) {
	if reading.BloodPressure == nil {
		return 0, fmt.Errorf("insert full record: blood pressure is absent")
	}

	query := `
		INSERT INTO sensor_data (heart_rate, spo2, temperature, blood_pressure)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		reading.HeartRate,
		reading.SpO2,
		reading.Temperature,
		*reading.BloodPressure,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sensor_data: %w", err)
	}

	return id, nil
}

// InsertWithoutBP 插入不含血压的记录
func (r *VitalsRepository) InsertWithoutBP(ctx context.Context, reading *models.Reading) (int64, error) {
	query := `
		INSERT INTO sensor_data (heart_rate, spo2, temperature)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		reading.HeartRate,
		reading.SpO2,
		reading.Temperature,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sensor_data without blood pressure: %w", err)
	}

	return id, nil
}

// VitalsRecord 已入库记录
type VitalsRecord struct {
	ID            int64
	HeartRate     float64
	SpO2          float64
	Temperature   float64
	BloodPressure *float64
	Timestamp     time.Time
}

// GetLatest 获取最新的 limit 条记录（启动自检和指标报告使用）
func (r *VitalsRepository) GetLatest(ctx context.Context, limit int) ([]*VitalsRecord, error) {
	query := `
		SELECT id, heart_rate, spo2, temperature, blood_pressure, timestamp
		FROM sensor_data
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor_data: %w", err)
	}
	defer rows.Close()

	var results []*VitalsRecord
	for rows.Next() {
		item := &VitalsRecord{}
		var bp sql.NullFloat64
		if err := rows.Scan(&item.ID, &item.HeartRate, &item.SpO2, &item.Temperature, &bp, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if bp.Valid {
			v := bp.Float64
			item.BloodPressure = &v
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor_data rows: %w", err)
	}

	return results, nil
}
