package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Shopify/sarama"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/module/chat/model"
)

const (
	EventMessageCreated = "message_created"
	EventMessageDeleted = "message_deleted"

	previewRunes = 140
)

// MessageEvent is what downstream consumers (push notifier, search indexer) read.
type MessageEvent struct {
	Type             string    `json:"type"`
	ConversationID   string    `json:"conversationId"`
	ConversationType string    `json:"conversationType,omitempty"`
	MessageID        string    `json:"messageId"`
	Sender           string    `json:"sender"`
	Recipients       []string  `json:"recipients,omitempty"`
	Preview          string    `json:"preview,omitempty"`
	At               time.Time `json:"at"`
	Node             string    `json:"node"`
}

// EventPublisher queues message lifecycle events onto Kafka without ever
// blocking the caller. When the queue is full the event is dropped and counted.
type EventPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	node     string
	queue    chan *sarama.ProducerMessage
	done     chan struct{}
	pumped   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	dropped  atomic.Int64

	// closed 在写锁下置位，持读锁入队的事件一定先于 done 关闭进入 queue
	mu     sync.RWMutex
	closed bool
}

func NewEventPublisher(p sarama.AsyncProducer, topic, node string, buffer int) *EventPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	e := &EventPublisher{
		producer: p,
		topic:    topic,
		node:     node,
		queue:    make(chan *sarama.ProducerMessage, buffer),
		done:     make(chan struct{}),
		pumped:   make(chan struct{}),
	}
	e.wg.Add(2)
	go e.pump()
	go e.drainSuccesses()
	go e.drainErrors()
	return e
}

func (e *EventPublisher) MessageCreated(_ context.Context, conv *model.Conversation, m *model.Message) {
	recipients := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != m.Sender {
			recipients = append(recipients, p)
		}
	}
	e.enqueue(MessageEvent{
		Type:             EventMessageCreated,
		ConversationID:   conv.ID,
		ConversationType: string(conv.Type),
		MessageID:        m.ID,
		Sender:           m.Sender,
		Recipients:       recipients,
		Preview:          preview(m.Content),
		At:               m.CreatedAt,
		Node:             e.node,
	})
}

func (e *EventPublisher) MessageDeleted(_ context.Context, m *model.Message) {
	e.enqueue(MessageEvent{
		Type:           EventMessageDeleted,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Sender:         m.Sender,
		At:             time.Now().UTC(),
		Node:           e.node,
	})
}

func (e *EventPublisher) Dropped() int64 {
	return e.dropped.Load()
}

func (e *EventPublisher) enqueue(ev MessageEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("encode message event", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(ev.ConversationID),
		Value: sarama.ByteEncoder(b),
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- msg:
	default:
		if n := e.dropped.Add(1); n%1000 == 1 {
			logger.Warn("kafka event queue full, dropping", zap.String("type", ev.Type), zap.Int64("dropped", n))
		}
	}
}

func (e *EventPublisher) pump() {
	defer close(e.pumped)
	for {
		select {
		case msg := <-e.queue:
			e.producer.Input() <- msg
		case <-e.done:
			// flush what is already queued
			for {
				select {
				case msg := <-e.queue:
					e.producer.Input() <- msg
				default:
					return
				}
			}
		}
	}
}

func (e *EventPublisher) drainSuccesses() {
	defer e.wg.Done()
	for msg := range e.producer.Successes() {
		logger.Debug("message event sent", zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	}
}

func (e *EventPublisher) drainErrors() {
	defer e.wg.Done()
	for err := range e.producer.Errors() {
		logger.Warn("message event failed", zap.Error(err))
	}
}

// Close flushes queued events and shuts the producer down.
func (e *EventPublisher) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.done)
		<-e.pumped
		e.producer.AsyncClose()
		e.wg.Wait()
	})
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:previewRunes]) + "…"
}
