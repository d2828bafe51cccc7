package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

const (
	defaultKafkaBuffer  = 1024
	defaultBatchTimeout = 50 * time.Millisecond
	maxBatch            = 100
	flushTimeout        = 5 * time.Second
)

// ErrNoBrokers is returned when the publisher has no broker address
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// KafkaConfig configures the publisher
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	BatchTimeout time.Duration
	Buffer       int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards events to a kafka topic. Handle never blocks;
// events are dropped when the buffer is full.
type KafkaPublisher struct {
	writer  messageWriter
	log     *logger.Logger
	queue   chan kafka.Message
	dropped atomic.Int64
	sent    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	started   atomic.Bool
	stopped   chan struct{}
}

// NewKafkaPublisher creates a publisher backed by kafka.Writer
func NewKafkaPublisher(cfg KafkaConfig, log *logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            cfg.MaxRetries,
		BatchTimeout:           cfg.BatchTimeout,
	}

	p := newKafkaPublisher(w, cfg.Buffer, log)
	p.log.Info("Kafka publisher created: brokers=%v topic=%s", cfg.Brokers, cfg.Topic)
	return p, nil
}

func newKafkaPublisher(w messageWriter, buffer int, log *logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.Default()
	}
	if buffer <= 0 {
		buffer = defaultKafkaBuffer
	}
	return &KafkaPublisher{
		writer:  w,
		log:     log.WithField("component", "kafka"),
		queue:   make(chan kafka.Message, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Handle enqueues an event. Use it as an event.Handler.
func (p *KafkaPublisher) Handle(ev event.Event) {
	data, err := Encode(ev)
	if err != nil {
		p.log.Warn("Dropping event: %v", err)
		return
	}
	msg := kafka.Message{Key: []byte(ev.Name), Value: data, Time: ev.At}

	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- msg:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.log.Warn("Kafka buffer full, %d events dropped", n)
		}
	}
}

// Run writes queued events in batches until ctx is done or Close is called
func (p *KafkaPublisher) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("kafka: publisher already running")
	}
	defer close(p.stopped)

	batch := make([]kafka.Message, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			p.finalFlush(batch)
			return nil
		case <-p.done:
			p.finalFlush(batch)
			return nil
		case msg := <-p.queue:
			batch = append(batch[:0], msg)
		fill:
			for len(batch) < maxBatch {
				select {
				case msg := <-p.queue:
					batch = append(batch, msg)
				default:
					break fill
				}
			}
			p.flush(ctx, batch)
		}
	}
}

func (p *KafkaPublisher) finalFlush(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	p.flush(ctx, p.drain(batch))
}

func (p *KafkaPublisher) drain(batch []kafka.Message) []kafka.Message {
	batch = batch[:0]
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

func (p *KafkaPublisher) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.log.Error("Failed to send %d kafka messages: %v", len(batch), err)
		return
	}
	p.sent.Add(int64(len(batch)))
	p.log.Debug("Kafka messages sent: %d", len(batch))
}

// Stats returns sent and dropped counters
func (p *KafkaPublisher) Stats() (sent, dropped int64) {
	return p.sent.Load(), p.dropped.Load()
}

// Close stops Run, waits for its final flush and closes the writer
func (p *KafkaPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.started.Load() {
			<-p.stopped
		}
		err = p.writer.Close()
	})
	return err
}
