package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/estimator"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/parser"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 1 << 20
)

// HistoryStore 最近入库记录
type HistoryStore interface {
	GetLatest(ctx context.Context, limit int) ([]*repository.VitalsRecord, error)
}

// ReadingProcessor 处理一条已校验的读数（与串口行共用流程）
type ReadingProcessor interface {
	ProcessReading(ctx context.Context, reading *models.Reading) (*models.StoredVitals, error)
}

// LatestSource 最新读数缓存（Redis）
type LatestSource interface {
	Latest(ctx context.Context) (*models.StoredVitals, error)
}

// Pinger 数据库连通性检查（*sql.DB 实现）
type Pinger interface {
	PingContext(ctx context.Context) error
}

// VitalsHandler 生命体征 HTTP 接口
type VitalsHandler struct {
	history   HistoryStore
	processor ReadingProcessor
	latest    LatestSource
	db        Pinger
	logger    *zap.Logger
}

// NewVitalsHandler 创建处理器；latest 可以为 nil（未启用 Redis 发布时）
func NewVitalsHandler(history HistoryStore, processor ReadingProcessor, latest LatestSource, db Pinger, logger *zap.Logger) *VitalsHandler {
	return &VitalsHandler{
		history:   history,
		processor: processor,
		latest:    latest,
		db:        db,
		logger:    logger,
	}
}

type vitalsRecordView struct {
	ID            int64    `json:"id"`
	HeartRate     float64  `json:"heart_rate"`
	SpO2          float64  `json:"spo2"`
	Temperature   float64  `json:"temperature"`
	BloodPressure *float64 `json:"blood_pressure"`
	Timestamp     string   `json:"timestamp"`
}

// toStoredView 缓存中的读数转换为与数据库记录相同的结构
func toStoredView(v *models.StoredVitals) vitalsRecordView {
	return vitalsRecordView{
		ID:            v.RecordID,
		HeartRate:     v.HeartRate,
		SpO2:          v.SpO2,
		Temperature:   v.Temperature,
		BloodPressure: v.BloodPressure,
		Timestamp:     time.Unix(v.ReceivedAt, 0).UTC().Format(time.RFC3339),
	}
}

func toRecordView(rec *repository.VitalsRecord) vitalsRecordView {
	return vitalsRecordView{
		ID:            rec.ID,
		HeartRate:     rec.HeartRate,
		SpO2:          rec.SpO2,
		Temperature:   rec.Temperature,
		BloodPressure: rec.BloodPressure,
		Timestamp:     rec.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Health GET /healthz
func (h *VitalsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// EstimateBP GET /api/v1/bp/estimate?heart_rate=&spo2=
//
// 只使用启发式公式，不调用预测程序；返回值保留一位小数。
func (h *VitalsHandler) EstimateBP(w http.ResponseWriter, r *http.Request) {
	hr, err := parseFloatParam(r, "heart_rate")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	spo2, err := parseFloatParam(r, "spo2")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if err := parser.Validate(parser.Fields{HeartRate: hr, SpO2: spo2}); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"heart_rate":     hr,
		"spo2":           spo2,
		"blood_pressure": math.Round(estimator.EstimateBP(hr, spo2)*10) / 10,
		"bp_source":      models.SourceHeuristic.String(),
	}))
}

// ListVitals GET /api/v1/vitals?limit=20
func (h *VitalsHandler) ListVitals(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.history.GetLatest(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to query vitals history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("database query failed"))
		return
	}

	views := make([]vitalsRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, toRecordView(rec))
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// LatestVitals GET /api/v1/vitals/latest
//
// 优先读 Redis 缓存，未命中时查询数据库；两种来源返回同一结构。
func (h *VitalsHandler) LatestVitals(w http.ResponseWriter, r *http.Request) {
	if h.latest != nil {
		v, err := h.latest.Latest(r.Context())
		if err != nil {
			h.logger.Warn("Failed to read latest vitals from cache", zap.Error(err))
		} else if v != nil {
			writeJSON(w, http.StatusOK, Ok(toStoredView(v)))
			return
		}
	}

	records, err := h.history.GetLatest(r.Context(), 1)
	if err != nil {
		h.logger.Error("Failed to query latest vitals", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("database query failed"))
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, Fail("no readings yet"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toRecordView(records[0])))
}

type submitVitalsRequest struct {
	HeartRate   *float64 `json:"heart_rate"`
	SpO2        *float64 `json:"spo2"`
	Temperature *float64 `json:"temperature"`
}

// SubmitVitals POST /api/v1/vitals
//
// 供联网网关直接提交读数，血压由服务端推理。
func (h *VitalsHandler) SubmitVitals(w http.ResponseWriter, r *http.Request) {
	var req submitVitalsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid json body"))
		return
	}
	if req.HeartRate == nil || req.SpO2 == nil || req.Temperature == nil {
		writeJSON(w, http.StatusBadRequest, Fail("missing or invalid vital sign values"))
		return
	}

	fields := parser.Fields{HeartRate: *req.HeartRate, SpO2: *req.SpO2, Temperature: *req.Temperature}
	if err := parser.Validate(fields); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	reading := &models.Reading{
		HeartRate:   fields.HeartRate,
		SpO2:        fields.SpO2,
		Temperature: fields.Temperature,
		Source:      models.SourceUnavailable,
		ReceivedAt:  time.Now(),
	}
	stored, err := h.processor.ProcessReading(r.Context(), reading)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail("failed to save sensor data"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stored))
}
