package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"MissionChat/tools/errs"
)

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	// key = conversation id, so one conversation's events stay in one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewAsyncProducer connects a client, ensures the topic when configured,
// and returns an async producer owning that client.
func NewAsyncProducer(c Config) (sarama.AsyncProducer, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.New("kafka brokers are required")
	}
	scfg := BuildBaseConfig(c)
	if c.AutoCreateTopic {
		admin, err := sarama.NewClusterAdmin(c.Brokers, scfg)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka cluster admin")
		}
		err = EnsureTopics(admin, []string{c.Topic}, c)
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewAsyncProducer(c.Brokers, scfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka async producer", "brokers", strings.Join(c.Brokers, ","))
	}
	return p, nil
}
