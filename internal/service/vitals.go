package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/Yohanamtesfaye/emma-care-backend/common/database"
	mqttcommon "github.com/Yohanamtesfaye/emma-care-backend/common/mqtt"
	rediscommon "github.com/Yohanamtesfaye/emma-care-backend/common/redis"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/config"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/consumer"
	httpapi "github.com/Yohanamtesfaye/emma-care-backend/internal/http"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/inference"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/pipeline"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/predictor"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/publisher"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// LineSource 行数据源（串口 / MQTT / 标准输入）
type LineSource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// VitalsService 生命体征摄取服务
type VitalsService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	metrics    *metrics.Metrics
	invoker    *inference.Invoker
	pipeline   *pipeline.Pipeline
	dispatcher *pipeline.Dispatcher
	source     LineSource
	done       <-chan struct{}
	server     *httpapi.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewVitalsService 创建服务并连接外部依赖
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	ctx := context.Background()
	s := &VitalsService{config: cfg, logger: logger}

	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	vitalsRepo := repository.NewVitalsRepository(db, logger)
	if cfg.Pipeline.EnsureSchema {
		if err := vitalsRepo.EnsureSchema(ctx); err != nil {
			s.closeClients()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(registry)

	// 血压预测程序；未启用时只用启发式
	var bpPredictor predictor.Predictor
	if cfg.Predictor.Enabled {
		bpPredictor = predictor.NewProcessPredictor(cfg.Predictor.Command, cfg.Predictor.Args, cfg.Predictor.Timeout, logger)
	}
	s.invoker = inference.NewInvoker(bpPredictor, cfg.Predictor.MaxConcurrent, cfg.Predictor.Timeout, s.metrics, logger)

	// Redis 发布（可选），连接失败不影响入库
	var pub pipeline.Publisher
	var latest httpapi.LatestSource
	if cfg.Publisher.Enabled {
		redisClient, err := rediscommon.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, publishing disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			s.redis = redisClient
			redisPub := publisher.NewRedisPublisher(redisClient, cfg.Publisher.Stream, cfg.Publisher.MaxLen,
				cfg.Publisher.LatestKey, cfg.Publisher.LatestTTL, logger)
			pub = redisPub
			latest = redisPub
		}
	}

	s.pipeline = pipeline.New(s.invoker, vitalsRepo, pub, s.metrics, logger)
	s.dispatcher = pipeline.NewDispatcher(s.pipeline, logger)

	// 数据源
	switch cfg.Source.Kind {
	case config.SourceSerial:
		s.source = consumer.NewSerialConsumer(&cfg.Serial, nil, s.dispatcher, s.metrics, logger)
	case config.SourceMQTT:
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeClients()
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		s.mqttClient = mqttClient
		s.source = consumer.NewMQTTConsumer(mqttClient, cfg.Source.MQTTTopic, cfg.MQTT.QoS, s.dispatcher, logger)
	case config.SourceStdin:
		reader := consumer.NewReaderConsumer("stdin", os.Stdin, s.dispatcher, s.metrics, logger)
		s.source = reader
		s.done = reader.Done()
	default:
		s.closeClients()
		return nil, fmt.Errorf("unknown line source %q", cfg.Source.Kind)
	}

	// HTTP
	if cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(logger)
		router.RegisterVitalsRoutes(httpapi.NewVitalsHandler(vitalsRepo, s.pipeline, latest, db, logger))
		router.RegisterMetricsRoute(registry)
		s.server = httpapi.NewServer(cfg.HTTP.Addr, router, logger)
	}

	return s, nil
}

// Start 启动服务
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service components", zap.String("source", s.config.Source.Kind))

	ctx, s.cancel = context.WithCancel(ctx)

	// 预测程序自检：只记录结果，不阻止启动
	if s.config.Predictor.Enabled {
		if bp, err := s.invoker.Probe(ctx); err != nil {
			s.logger.Warn("Predictor self-test failed, heuristic fallback will be used",
				zap.String("kind", predictor.KindOf(err).String()),
				zap.Error(err),
			)
		} else {
			s.logger.Info("Predictor self-test passed", zap.Float64("blood_pressure", bp))
		}
	} else {
		s.logger.Info("Predictor disabled, using heuristic estimator only")
	}

	// 定期输出指标
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.metrics.Report(ctx, s.config.Pipeline.MetricsInterval, s.logger)
	}()

	if s.server != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.server.Start(); err != nil {
				s.logger.Error("HTTP server stopped with error", zap.Error(err))
			}
		}()
	}

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start line source: %w", err)
	}

	s.logger.Info("Vitals service started successfully")
	return nil
}

// Done 有限输入（标准输入）读完后关闭；其他数据源返回 nil
func (s *VitalsService) Done() <-chan struct{} {
	return s.done
}

// Stop 停止服务：先停数据源，再等待在途行入库，最后关闭连接
func (s *VitalsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vitals service")

	// 停止数据源
	if s.source != nil {
		if err := s.source.Stop(ctx); err != nil {
			s.logger.Error("Error stopping line source", zap.Error(err))
		}
	}

	// 等待在途行
	if err := s.dispatcher.Drain(s.config.Pipeline.DrainTimeout); err != nil {
		s.logger.Error("In-flight lines did not finish", zap.Error(err))
	}

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.closeClients()

	s.logger.Info("Vitals service stopped", zap.Any("metrics", s.metrics.GetSnapshot()))
	return nil
}

// closeClients 断开 MQTT、Redis 和数据库
func (s *VitalsService) closeClients() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}
	if s.db != nil {
		database.Close(s.db)
	}
}
