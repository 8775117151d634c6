package main

// Config 服务配置，从 YAML 扫描
type Config struct {
	Server  ServerConf
	Data    DataConf
	Billing BillingConf
}

type ServerConf struct {
	HTTP HTTPConf
}

type HTTPConf struct {
	Addr string
}

type DataConf struct {
	Database DatabaseConf
	Redis    RedisConf
	Kafka    KafkaConf
}

type DatabaseConf struct {
	Driver string
	Source string
}

type RedisConf struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConf struct {
	Brokers []string
	Topic   string
}

// BillingConf 计费语义相关配置，时长字段为 time.ParseDuration 格式
type BillingConf struct {
	// ReserveBufferPercent 预留安全余量百分比，默认 20
	ReserveBufferPercent int
	// DefaultLotTTL 新批次默认有效期，默认 720h（30 天）
	DefaultLotTTL string
	// StaleSessionTTL Active 预留最长存活时间，空或 0 关闭清扫
	StaleSessionTTL string
	// SweepInterval 清扫周期，默认 1m
	SweepInterval string
}
