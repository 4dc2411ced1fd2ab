package kafka

import "github.com/Shopify/sarama"

type Config struct {
	Brokers             []string
	Topic               string // message lifecycle events
	ClientID            string
	PartitionsPerTopic  int32
	ReplicationFactor   int16
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
	AutoCreateTopic     bool
	Buffer              int // events queued before publishing starts dropping
}

func DefaultConfig() Config {
	return Config{
		Brokers:             []string{"127.0.0.1:9092"},
		Topic:               "missionchat.message-events",
		ClientID:            "missionchat",
		PartitionsPerTopic:  8,
		ReplicationFactor:   1, // 单机=1；生产=3
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		KafkaVersion:        sarama.V2_1_0_0,
		AutoCreateTopic:     true,
		Buffer:              4096,
	}
}
