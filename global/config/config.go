package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/errs"
)

const envPrefix = "MCHAT"

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AppConfig 进程配置，环境变量前缀 MCHAT_
type AppConfig struct {
	Port      int    `envconfig:"port" default:"8080"`
	NodeID    int64  `envconfig:"node_id" default:"1"`
	LogLevel  string `envconfig:"log_level" default:"info"`
	JWTSecret string `envconfig:"jwt_secret"`

	StoreDriver string `envconfig:"store_driver" default:"mongo"`

	MongoURI         string `envconfig:"mongo_uri" default:"mongodb://localhost:27017"`
	MongoDatabase    string `envconfig:"mongo_database" default:"missionchat"`
	MongoUsername    string `envconfig:"mongo_username"`
	MongoPassword    string `envconfig:"mongo_password"`
	MongoMaxPoolSize int    `envconfig:"mongo_max_pool_size" default:"20"`

	PostgresURL string `envconfig:"postgres_url"`

	// Redis 为空时 presence / profile 使用内存实现
	RedisAddr     string `envconfig:"redis_addr"`
	RedisPassword string `envconfig:"redis_password"`
	RedisDB       int    `envconfig:"redis_db" default:"0"`

	// NATS 为空时单节点运行，不做 hub 中继；MissionStream 非空时 mission.update 走 JetStream
	NatsServers       []string `envconfig:"nats_servers"`
	NatsUser          string   `envconfig:"nats_user"`
	NatsPassword      string   `envconfig:"nats_password"`
	NatsSubjectPrefix string   `envconfig:"nats_subject_prefix" default:"mchat"`
	NatsMissionStream string   `envconfig:"nats_mission_stream"`

	KafkaBrokers []string `envconfig:"kafka_brokers"`
	KafkaTopic   string   `envconfig:"kafka_topic" default:"missionchat.message-events"`

	DefaultPageSize   int           `envconfig:"default_page_size" default:"20"`
	MaxPageSize       int           `envconfig:"max_page_size" default:"100"`
	SendRatePerSecond int           `envconfig:"send_rate_per_second" default:"20"`
	SendQueueSize     int           `envconfig:"send_queue_size" default:"256"`
	FanoutWorkers     int           `envconfig:"fanout_workers" default:"8"`
	AllowOrigins      []string      `envconfig:"allow_origins" default:"*"`
	PresenceTTL       time.Duration `envconfig:"presence_ttl" default:"90s"`
	MaxConnsPerUser   int           `envconfig:"max_conns_per_user" default:"8"`
}

// Load 读取 .env（非 release 模式）后解析环境变量
func Load() (*AppConfig, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load("./.env"); err != nil && !os.IsNotExist(err) {
			logger.Warn("couldn't load .env", zap.Error(err))
		}
	}

	c := &AppConfig{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, errs.WrapMsg(err, "process env config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errs.New("MCHAT_JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errs.New("invalid port", "port", c.Port)
	}
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errs.New("mongo store needs MCHAT_MONGO_URI and MCHAT_MONGO_DATABASE")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return errs.New("postgres store needs MCHAT_POSTGRES_URL")
		}
	case StoreMemory:
	default:
		return errs.New("unknown store driver", "driver", c.StoreDriver)
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		return errs.New("invalid page sizes", "default", c.DefaultPageSize, "max", c.MaxPageSize)
	}
	if c.SendQueueSize <= 0 || c.FanoutWorkers <= 0 {
		return errs.New("send queue size and fanout workers must be positive")
	}
	if c.MaxConnsPerUser < 0 {
		return errs.New("max conns per user must not be negative", "max", c.MaxConnsPerUser)
	}
	if c.PresenceTTL < time.Second {
		return errs.New("presence ttl too small", "ttl", c.PresenceTTL)
	}
	return nil
}

// NodeName 节点名，用于 presence 和中继去重
func (c *AppConfig) NodeName() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "node"
	}
	return host + "-" + strconv.FormatInt(c.NodeID, 10)
}
