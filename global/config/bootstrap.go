package config

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MissionChat/data/database/mgo/mongoutil"
	"MissionChat/data/database/pgutil"
	"MissionChat/logger"
	mid "MissionChat/middleware"
	midsec "MissionChat/middleware/security"
	"MissionChat/module/chat/store"
	"MissionChat/service/kafka"
	mgoSrv "MissionChat/service/mgo"
	"MissionChat/service/natsx"
	"MissionChat/service/storage"
	redis "MissionChat/service/storage/redis"
	"MissionChat/tools/errs"
	"MissionChat/tools/ids"
)

const mongoReadyTimeout = 30 * time.Second

func ConfigIds(c *AppConfig) {
	logger.Infof("配置id生成, node=%d", c.NodeID)
	ids.SetNodeID(c.NodeID)
}

// ConfigMgo 异步启动 mongo 管理器并等待首次连接
func ConfigMgo(ctx context.Context, c *AppConfig) error {
	cfg := &mongoutil.Config{
		Uri:         c.MongoURI,
		Database:    c.MongoDatabase,
		Username:    c.MongoUsername,
		Password:    c.MongoPassword,
		MaxPoolSize: c.MongoMaxPoolSize,
	}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return err
	}
	mgoSrv.StartAsync(ctx, cfg)

	wctx, cancel := context.WithTimeout(ctx, mongoReadyTimeout)
	defer cancel()
	return mgoSrv.WaitReady(wctx, mgoSrv.Manager())
}

// ConfigStore 按驱动创建存储；memory 仅用于本地调试
func ConfigStore(ctx context.Context, c *AppConfig) (*store.Stores, error) {
	switch c.StoreDriver {
	case StoreMongo:
		if err := ConfigMgo(ctx, c); err != nil {
			return nil, err
		}
		return store.NewMongoStores(ctx, mgoSrv.GetDB())
	case StorePostgres:
		pool, err := pgutil.NewPool(ctx, &pgutil.Config{URL: c.PostgresURL})
		if err != nil {
			return nil, err
		}
		return store.NewPgStores(ctx, pool)
	case StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemStores(), nil
	}
	return nil, errs.New("unknown store driver", "driver", c.StoreDriver)
}

// ConfigRedis 未配置地址时返回 false
func ConfigRedis(c *AppConfig) (bool, error) {
	if c.RedisAddr == "" {
		return false, nil
	}
	err := redis.InitRedis(redis.Config{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConfigPresence picks the Redis presence registry when Redis is up.
func ConfigPresence(c *AppConfig) (storage.Presence, storage.Profiles, error) {
	ok, err := ConfigRedis(c)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		logger.Info("redis not configured, presence and profiles kept in memory")
		return storage.NewMemPresence(), storage.NewMemProfiles(), nil
	}
	rdb := redis.GetRedis()
	return storage.NewRedisPresence(rdb), storage.NewRedisProfiles(rdb), nil
}

// ConfigNats 未配置 servers 时返回 nil，单节点运行
func ConfigNats(c *AppConfig) (*natsx.Manager, error) {
	if len(c.NatsServers) == 0 {
		return nil, nil
	}
	return natsx.NewManager(natsx.Config{
		Servers:       c.NatsServers,
		Name:          "missionchat-" + c.NodeName(),
		User:          c.NatsUser,
		Password:      c.NatsPassword,
		SubjectPrefix: c.NatsSubjectPrefix,
	}, natsx.Recover(), natsx.Logging(200*time.Millisecond))
}

// ConfigKafka 未配置 brokers 时返回 nil，不发布消息事件
func ConfigKafka(c *AppConfig) (*kafka.EventPublisher, error) {
	if len(c.KafkaBrokers) == 0 {
		return nil, nil
	}
	kc := kafka.DefaultConfig()
	kc.Brokers = c.KafkaBrokers
	kc.Topic = c.KafkaTopic
	p, err := kafka.NewAsyncProducer(kc)
	if err != nil {
		return nil, err
	}
	logger.Info("kafka event publisher ready", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
	return kafka.NewEventPublisher(p, kc.Topic, c.NodeName(), kc.Buffer), nil
}

// ConfigMiddleware 注册全局中间件与路由鉴权，返回 ws 握手复用的鉴权参数
func ConfigMiddleware(c *AppConfig) *midsec.Options {
	opts := midsec.DefaultOptions([]byte(c.JWTSecret))
	mid.SetAuth(midsec.Middleware(opts))
	mid.Manager().Add(mid.RequestLogger(), mid.Recovery(), mid.CORS(c.AllowOrigins))
	return opts
}
