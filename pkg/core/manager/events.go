package manager

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EventTopic 所有作业事件发布到同一个主题，事件类型放在消息元数据中
const EventTopic = "async-task.jobs"

// ErrEventBusClosed 事件总线已关闭
var ErrEventBusClosed = errors.New("event bus closed")

// EventType 事件类型
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted" // 作业已提交
	EventJobStarted   EventType = "job.started"   // 耗时操作开始执行
	EventJobCompleted EventType = "job.completed" // 结果已投递
	EventJobCancelled EventType = "job.cancelled" // 作业被取消
	EventJobFailed    EventType = "job.failed"    // 作业失败
)

// JobEvent 作业事件
type JobEvent struct {
	ID        string    `json:"id"` // 事件ID（UUID）
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	JobName   string    `json:"job_name"`
	Status    JobStatus `json:"status"`
	Worker    string    `json:"worker,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewJobEvent 根据作业快照创建事件
func NewJobEvent(eventType EventType, snap JobSnapshot) *JobEvent {
	return &JobEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		JobID:     snap.ID,
		JobName:   snap.Name,
		Status:    snap.Status,
		Worker:    snap.Worker,
		Error:     snap.Error,
		Timestamp: time.Now(),
	}
}

// EventBus 基于watermill GoChannel的进程内事件总线
type EventBus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
	closed atomic.Bool
}

// NewEventBus 创建事件总线
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: false,
			},
			newWatermillLogger(logger),
		),
		logger: logger,
	}
}

// Publish 发布事件
func (b *EventBus) Publish(event *JobEvent) error {
	if b.closed.Load() {
		return ErrEventBusClosed
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "序列化事件失败")
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("job_id", event.JobID)
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))

	if err := b.pubsub.Publish(EventTopic, msg); err != nil {
		return errors.Wrap(err, "发布事件失败")
	}
	return nil
}

// Subscribe 订阅所有作业事件，ctx结束或总线关闭时返回的通道被关闭
// 同一订阅者收到的事件不保证与发布顺序一致
func (b *EventBus) Subscribe(ctx context.Context) (<-chan *JobEvent, error) {
	if b.closed.Load() {
		return nil, ErrEventBusClosed
	}
	messages, err := b.pubsub.Subscribe(ctx, EventTopic)
	if err != nil {
		return nil, errors.Wrap(err, "订阅事件失败")
	}

	out := make(chan *JobEvent, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var event JobEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Warn("[EventBus] 事件反序列化失败", zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- &event:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Close 关闭事件总线，可重复调用
func (b *EventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}

// watermillLogger 把watermill日志转发到zap
type watermillLogger struct {
	logger *zap.Logger
}

func newWatermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger.Named("watermill")}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Trace watermill的trace级别日志量很大，降级为Debug
func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
