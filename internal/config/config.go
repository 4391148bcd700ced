package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/common/config"

	"github.com/joho/godotenv"
)

// 数据源类型
const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceStdin  = "stdin"
)

// Config 生命体征摄取服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Serial   config.SerialConfig

	// 数据源
	Source struct {
		Kind      string // serial / mqtt / stdin
		MQTTTopic string // 如 "emmacare/+/vitals"
	}

	// 血压预测程序
	Predictor struct {
		Enabled       bool
		Command       string
		Args          []string
		Timeout       time.Duration // 单次调用预算，默认 10s
		MaxConcurrent int64         // 同时运行的预测进程上限
	}

	Pipeline struct {
		DrainTimeout    time.Duration // 关闭时等待在途行的时间
		MetricsInterval time.Duration // 指标日志报告间隔
		EnsureSchema    bool          // 启动时创建 sensor_data 表
	}

	// 入库后发布到 Redis，供实时推送服务使用
	Publisher struct {
		Enabled   bool
		Stream    string
		MaxLen    int64
		LatestKey string
		LatestTTL time.Duration
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
//
// 先读取当前目录下的 .env（不存在时忽略），已存在的环境变量优先。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// 默认值，再由 DB_* 环境变量覆盖
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "emmacare"
	cfg.Database.Database = "emmacare"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "emma-care-vitals"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Serial.Path = "/dev/ttyUSB0"
	cfg.Serial.BaudRate = 115200
	cfg.Serial.ReconnectMax = 30 * time.Second
	cfg.Serial.LoadFromEnv("SERIAL")

	cfg.Source.Kind = strings.ToLower(getEnv("VITALS_SOURCE", SourceSerial))
	cfg.Source.MQTTTopic = getEnv("VITALS_MQTT_TOPIC", "emmacare/+/vitals")

	cfg.Predictor.Enabled = getEnvBool("PREDICTOR_ENABLED", true)
	cfg.Predictor.Command = getEnv("PREDICTOR_COMMAND", "python3")
	cfg.Predictor.Args = strings.Fields(getEnv("PREDICTOR_ARGS", "-u ml/predict_bp.py"))
	cfg.Predictor.Timeout = getEnvDuration("PREDICTOR_TIMEOUT", 10*time.Second)
	cfg.Predictor.MaxConcurrent = int64(getEnvInt("PREDICTOR_MAX_CONCURRENT", 4))

	cfg.Pipeline.DrainTimeout = getEnvDuration("PIPELINE_DRAIN_TIMEOUT", 15*time.Second)
	cfg.Pipeline.MetricsInterval = getEnvDuration("PIPELINE_METRICS_INTERVAL", 60*time.Second)
	cfg.Pipeline.EnsureSchema = getEnvBool("PIPELINE_ENSURE_SCHEMA", true)

	cfg.Publisher.Enabled = getEnvBool("PUBLISHER_ENABLED", false)
	cfg.Publisher.Stream = getEnv("PUBLISHER_STREAM", "vitals:data:stream")
	cfg.Publisher.MaxLen = int64(getEnvInt("PUBLISHER_STREAM_MAXLEN", 10000))
	cfg.Publisher.LatestKey = getEnv("PUBLISHER_LATEST_KEY", "vitals:latest")
	cfg.Publisher.LatestTTL = getEnvDuration("PUBLISHER_LATEST_TTL", 5*time.Minute)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":3000")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceSerial, SourceMQTT, SourceStdin:
	default:
		return fmt.Errorf("unknown VITALS_SOURCE %q (want serial, mqtt or stdin)", c.Source.Kind)
	}
	if c.Predictor.Enabled && c.Predictor.Command == "" {
		return fmt.Errorf("PREDICTOR_COMMAND is required when the predictor is enabled")
	}
	if c.Predictor.Timeout <= 0 {
		return fmt.Errorf("PREDICTOR_TIMEOUT must be positive, got %s", c.Predictor.Timeout)
	}
	if c.Predictor.MaxConcurrent <= 0 {
		return fmt.Errorf("PREDICTOR_MAX_CONCURRENT must be positive, got %d", c.Predictor.MaxConcurrent)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
