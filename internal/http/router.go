package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 promhttp 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterVitalsRoutes 注册生命体征相关路由
func (r *Router) RegisterVitalsRoutes(v *VitalsHandler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		v.Health(w, req)
	})

	r.Handle("/api/v1/bp/estimate", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		v.EstimateBP(w, req)
	})

	// list / submit
	r.Handle("/api/v1/vitals", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			v.ListVitals(w, req)
		case http.MethodPost:
			v.SubmitVitals(w, req)
		default:
			w.Header().Set("Allow", "GET, POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/api/v1/vitals/latest", func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		v.LatestVitals(w, req)
	})
}

// RegisterMetricsRoute 暴露 Prometheus 指标
func (r *Router) RegisterMetricsRoute(gatherer prometheus.Gatherer) {
	r.HandleHandler("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
