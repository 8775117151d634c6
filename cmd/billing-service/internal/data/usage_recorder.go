package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const usageCacheTTL = 24 * time.Hour

// KafkaConfig 使用量事件的 Kafka 配置
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// usageEvent 发往 Kafka 的使用量事件
type usageEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion string    `json:"event_version"`
	OwnerID      string    `json:"owner_id"`
	SessionID    string    `json:"session_id"`
	Service      string    `json:"service"`
	Operation    string    `json:"operation"`
	ModelID      string    `json:"model_id"`
	Tokens       int       `json:"tokens"`
	Credits      int       `json:"credits"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// UsageRecorder 使用量记录器：落库、写 Redis 会话快照、发 Kafka 事件。
// 三条路径都是尽力而为的记账，任何一条失败都不影响结算。
type UsageRecorder struct {
	data   *Data
	writer *kafka.Writer
	log    *log.Helper
}

// NewUsageRecorder 创建使用量记录器；Brokers 为空时不发事件
func NewUsageRecorder(data *Data, conf *KafkaConfig, logger log.Logger) (domain.UsageRecorder, func(), error) {
	var writer *kafka.Writer
	if conf != nil && len(conf.Brokers) > 0 {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(conf.Brokers...),
			Topic:        conf.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Compression:  kafka.Snappy,
		}
	}
	r := &UsageRecorder{
		data:   data,
		writer: writer,
		log:    log.NewHelper(logger),
	}
	cleanup := func() {
		if writer != nil {
			writer.Close()
		}
	}
	return r, cleanup, nil
}

// RecordUsage 记录一次结算后的使用量
func (r *UsageRecorder) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := r.data.db.WithContext(ctx).Create(rec).Error; err != nil {
		return storageErr("create usage record", err)
	}

	// 看板用的会话级快照，失败只记日志
	if r.data.redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			key := fmt.Sprintf("billing:usage:session:%s", rec.SessionID)
			if err := r.data.redis.Set(ctx, key, data, usageCacheTTL).Err(); err != nil {
				r.log.WithContext(ctx).Warnf("failed to cache usage for session %s: %v", rec.SessionID, err)
			}
		}
	}

	r.publish(ctx, rec)
	return nil
}

func (r *UsageRecorder) publish(ctx context.Context, rec *domain.UsageRecord) {
	if r.writer == nil {
		return
	}
	event := usageEvent{
		EventID:      uuid.New().String(),
		EventType:    "usage.recorded",
		EventVersion: "v1",
		OwnerID:      rec.OwnerID,
		SessionID:    rec.SessionID,
		Service:      rec.Service,
		Operation:    rec.Operation,
		ModelID:      rec.ModelID,
		Tokens:       rec.Tokens,
		Credits:      rec.Credits,
		DurationMS:   rec.DurationMS,
		Timestamp:    rec.CreatedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		r.log.WithContext(ctx).Errorf("failed to marshal usage event: %v", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(rec.OwnerID),
		Value: value,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.log.WithContext(ctx).Errorf("failed to publish usage event for session %s: %v", rec.SessionID, err)
	}
}
