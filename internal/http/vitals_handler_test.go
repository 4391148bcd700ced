package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHistory struct {
	records   []*repository.VitalsRecord
	err       error
	lastLimit int
}

func (f *fakeHistory) GetLatest(_ context.Context, limit int) ([]*repository.VitalsRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeProcessor struct {
	got *models.Reading
	err error
}

func (f *fakeProcessor) ProcessReading(_ context.Context, r *models.Reading) (*models.StoredVitals, error) {
	f.got = r
	if f.err != nil {
		return nil, f.err
	}
	r.ID = "reading-1"
	r.SetBloodPressure(118.5, models.SourceInferred)
	return models.NewStoredVitals(r, 7, false), nil
}

type fakeLatest struct {
	v   *models.StoredVitals
	err error
}

func (f *fakeLatest) Latest(context.Context) (*models.StoredVitals, error) {
	return f.v, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func newTestRouter(history HistoryStore, processor ReadingProcessor, latest LatestSource, db Pinger) *Router {
	r := NewRouter(zap.NewNop())
	r.RegisterVitalsRoutes(NewVitalsHandler(history, processor, latest, db, zap.NewNop()))
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func bp(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	r := newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{})
	rr := doRequest(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	r = newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{err: errors.New("connection refused")})
	rr = doRequest(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEstimateBP(t *testing.T) {
	r := newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{})

	rr := doRequest(t, r, http.MethodGet, "/api/v1/bp/estimate?heart_rate=110&spo2=98", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeResult(t, rr)
	assert.Equal(t, ResultSuccess, res.Code)
	var body struct {
		BloodPressure float64 `json:"blood_pressure"`
		BPSource      string  `json:"bp_source"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &body))
	assert.Equal(t, 128.0, body.BloodPressure)
	assert.Equal(t, "heuristic", body.BPSource)
}

func TestEstimateBP_RoundsForDisplay(t *testing.T) {
	r := newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{})

	// 公式值 120.984，接口只展示一位小数
	rr := doRequest(t, r, http.MethodGet, "/api/v1/bp/estimate?heart_rate=101.23&spo2=98", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		BloodPressure float64 `json:"blood_pressure"`
	}
	require.NoError(t, json.Unmarshal(decodeResult(t, rr).Result, &body))
	assert.Equal(t, 121.0, body.BloodPressure)
}

func TestEstimateBP_BadInput(t *testing.T) {
	r := newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{})

	for _, target := range []string{
		"/api/v1/bp/estimate?spo2=98",
		"/api/v1/bp/estimate?heart_rate=abc&spo2=98",
		"/api/v1/bp/estimate?heart_rate=72&spo2=120",
		"/api/v1/bp/estimate?heart_rate=0&spo2=98",
	} {
		rr := doRequest(t, r, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		assert.Equal(t, ResultError, decodeResult(t, rr).Code, target)
	}

	rr := doRequest(t, r, http.MethodPost, "/api/v1/bp/estimate?heart_rate=72&spo2=98", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListVitals(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	history := &fakeHistory{records: []*repository.VitalsRecord{
		{ID: 2, HeartRate: 80, SpO2: 97, Temperature: 37, BloodPressure: bp(121), Timestamp: ts},
		{ID: 1, HeartRate: 72, SpO2: 98, Temperature: 36.8, Timestamp: ts.Add(-time.Second)},
	}}
	r := newTestRouter(history, &fakeProcessor{}, nil, fakePinger{})

	rr := doRequest(t, r, http.MethodGet, "/api/v1/vitals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultHistoryLimit, history.lastLimit)

	var views []vitalsRecordView
	require.NoError(t, json.Unmarshal(decodeResult(t, rr).Result, &views))
	require.Len(t, views, 2)
	assert.Equal(t, int64(2), views[0].ID)
	assert.Equal(t, "2026-03-01T08:30:00Z", views[0].Timestamp)
	assert.Nil(t, views[1].BloodPressure)

	doRequest(t, r, http.MethodGet, "/api/v1/vitals?limit=10000", nil)
	assert.Equal(t, maxHistoryLimit, history.lastLimit)
}

func TestListVitals_DBError(t *testing.T) {
	r := newTestRouter(&fakeHistory{err: errors.New("boom")}, &fakeProcessor{}, nil, fakePinger{})
	rr := doRequest(t, r, http.MethodGet, "/api/v1/vitals", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestLatestVitals_FromCache(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	cached := &models.StoredVitals{
		RecordID: 9, ReadingID: "r-9", HeartRate: 75, SpO2: 97, Temperature: 36.9,
		BloodPressure: bp(119), BPSource: "inferred", ReceivedAt: ts.Unix(),
	}
	history := &fakeHistory{}
	r := newTestRouter(history, &fakeProcessor{}, &fakeLatest{v: cached}, fakePinger{})

	rr := doRequest(t, r, http.MethodGet, "/api/v1/vitals/latest", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, history.lastLimit)

	var view vitalsRecordView
	require.NoError(t, json.Unmarshal(decodeResult(t, rr).Result, &view))
	assert.Equal(t, vitalsRecordView{
		ID: 9, HeartRate: 75, SpO2: 97, Temperature: 36.9, BloodPressure: bp(119),
		Timestamp: "2026-03-01T08:30:00Z",
	}, view)
}

func TestLatestVitals_SameShapeFromCacheAndDatabase(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	cached := &models.StoredVitals{
		RecordID: 4, ReadingID: "r-4", HeartRate: 70, SpO2: 99, Temperature: 36.6,
		BloodPressure: bp(120), BPSource: "heuristic", ReceivedAt: ts.Unix(),
	}
	history := &fakeHistory{records: []*repository.VitalsRecord{
		{ID: 4, HeartRate: 70, SpO2: 99, Temperature: 36.6, BloodPressure: bp(120), Timestamp: ts},
	}}

	fromCache := doRequest(t, newTestRouter(history, &fakeProcessor{}, &fakeLatest{v: cached}, fakePinger{}),
		http.MethodGet, "/api/v1/vitals/latest", nil)
	fromDB := doRequest(t, newTestRouter(history, &fakeProcessor{}, nil, fakePinger{}),
		http.MethodGet, "/api/v1/vitals/latest", nil)

	require.Equal(t, http.StatusOK, fromCache.Code)
	require.Equal(t, http.StatusOK, fromDB.Code)
	assert.JSONEq(t, fromDB.Body.String(), fromCache.Body.String())
}

func TestLatestVitals_FallsBackToDatabase(t *testing.T) {
	history := &fakeHistory{records: []*repository.VitalsRecord{
		{ID: 3, HeartRate: 70, SpO2: 99, Temperature: 36.6, Timestamp: time.Now()},
	}}
	r := newTestRouter(history, &fakeProcessor{}, &fakeLatest{err: errors.New("redis down")}, fakePinger{})

	rr := doRequest(t, r, http.MethodGet, "/api/v1/vitals/latest", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, history.lastLimit)
	assert.Contains(t, rr.Body.String(), `"id":3`)

	r = newTestRouter(&fakeHistory{}, &fakeProcessor{}, nil, fakePinger{})
	rr = doRequest(t, r, http.MethodGet, "/api/v1/vitals/latest", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitVitals(t *testing.T) {
	processor := &fakeProcessor{}
	r := newTestRouter(&fakeHistory{}, processor, nil, fakePinger{})

	rr := doRequest(t, r, http.MethodPost, "/api/v1/vitals",
		strings.NewReader(`{"heart_rate": 72, "spo2": 98, "temperature": 36.8}`))
	require.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, processor.got)
	assert.Equal(t, 72.0, processor.got.HeartRate)
	assert.Equal(t, 98.0, processor.got.SpO2)
	assert.Equal(t, 36.8, processor.got.Temperature)

	var stored models.StoredVitals
	require.NoError(t, json.Unmarshal(decodeResult(t, rr).Result, &stored))
	assert.Equal(t, int64(7), stored.RecordID)
	require.NotNil(t, stored.BloodPressure)
	assert.Equal(t, 118.5, *stored.BloodPressure)
}

func TestSubmitVitals_Rejects(t *testing.T) {
	processor := &fakeProcessor{}
	r := newTestRouter(&fakeHistory{}, processor, nil, fakePinger{})

	for _, body := range []string{
		`not json`,
		`{"heart_rate": 72, "spo2": 98}`,
		`{"heart_rate": 72, "spo2": 0, "temperature": 36.8}`,
	} {
		rr := doRequest(t, r, http.MethodPost, "/api/v1/vitals", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.Nil(t, processor.got)
}

func TestSubmitVitals_PersistenceFailure(t *testing.T) {
	r := newTestRouter(&fakeHistory{}, &fakeProcessor{err: errors.New("data lost")}, nil, fakePinger{})
	rr := doRequest(t, r, http.MethodPost, "/api/v1/vitals",
		strings.NewReader(`{"heart_rate": 72, "spo2": 98, "temperature": 36.8}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordLine(metrics.LineAccepted)

	r := NewRouter(zap.NewNop())
	r.RegisterMetricsRoute(reg)

	rr := doRequest(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `emmacare_vitals_lines_total{result="accepted"} 1`)
}
