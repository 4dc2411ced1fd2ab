package kafka

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/module/chat/model"
)

func TestEventPublisherSendsLifecycleEvents(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, cfg)

	var created MessageEvent
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &created)
	})
	mp.ExpectInputAndSucceed()

	pub := NewEventPublisher(mp, "events", "node-1", 8)
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	conv := &model.Conversation{ID: "c1", Type: model.ConversationGroup, Participants: []string{"a", "b", "c"}}
	msg := &model.Message{ID: "m1", ConversationID: "c1", Sender: "a", Content: "hi", CreatedAt: at}

	pub.MessageCreated(context.Background(), conv, msg)
	pub.MessageDeleted(context.Background(), msg)
	pub.Close()

	assert.Equal(t, EventMessageCreated, created.Type)
	assert.Equal(t, []string{"b", "c"}, created.Recipients)
	assert.Equal(t, "hi", created.Preview)
	assert.Equal(t, "node-1", created.Node)
	assert.True(t, created.At.Equal(at))
	assert.Zero(t, pub.Dropped())
}

func TestEventPublisherDropsAfterClose(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	pub := NewEventPublisher(mp, "events", "n", 1)
	pub.Close()

	pub.MessageDeleted(context.Background(), &model.Message{ID: "m", ConversationID: "c"})
	assert.Equal(t, int64(1), pub.Dropped())
}

// countingProducer 只数收到的消息
type countingProducer struct {
	input chan *sarama.ProducerMessage
	succ  chan *sarama.ProducerMessage
	errs  chan *sarama.ProducerError
	done  chan struct{}
	got   atomic.Int64
}

func newCountingProducer() *countingProducer {
	p := &countingProducer{
		input: make(chan *sarama.ProducerMessage),
		succ:  make(chan *sarama.ProducerMessage),
		errs:  make(chan *sarama.ProducerError),
		done:  make(chan struct{}),
	}
	go func() {
		for range p.input {
			p.got.Add(1)
		}
		close(p.succ)
		close(p.errs)
		close(p.done)
	}()
	return p
}

func (p *countingProducer) AsyncClose()                               { close(p.input) }
func (p *countingProducer) Input() chan<- *sarama.ProducerMessage     { return p.input }
func (p *countingProducer) Successes() <-chan *sarama.ProducerMessage { return p.succ }
func (p *countingProducer) Errors() <-chan *sarama.ProducerError      { return p.errs }

func (p *countingProducer) Close() error {
	p.AsyncClose()
	<-p.done
	return nil
}

func TestEventPublisherCloseRaceLosesNothingSilently(t *testing.T) {
	const writers, perWriter = 8, 250
	mp := newCountingProducer()
	pub := NewEventPublisher(mp, "events", "n", 64)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				pub.MessageDeleted(context.Background(), &model.Message{ID: "m", ConversationID: "c"})
			}
		}()
	}
	close(start)
	pub.Close()
	wg.Wait()

	// 每条事件要么送达 producer，要么计入 Dropped
	assert.Equal(t, int64(writers*perWriter), mp.got.Load()+pub.Dropped())
}

func TestPreviewTruncatesByRune(t *testing.T) {
	long := strings.Repeat("é", previewRunes+5)
	p := preview(long)
	require.True(t, strings.HasSuffix(p, "…"))
	assert.Equal(t, previewRunes+1, len([]rune(p)))
	assert.Equal(t, "short", preview("short"))
}

func TestBuildBaseConfig(t *testing.T) {
	c := DefaultConfig()
	c.ProducerCompression = "lz4"
	sc := BuildBaseConfig(c)
	assert.Equal(t, sarama.CompressionLZ4, sc.Producer.Compression)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.True(t, sc.Producer.Return.Successes)
	assert.Equal(t, "missionchat", sc.ClientID)
}
