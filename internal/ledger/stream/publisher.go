// Package stream fans appended ledger entries out to Kafka for downstream
// consumers (SIEM, long-term archival). The ledger database remains the
// source of truth: publish failures are logged and dropped, never bubbled
// back into the append path.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"nightwatch/internal/ledger"
)

const defaultBuffer = 256

// Publisher buffers entries and produces them asynchronously. Publish never
// blocks: the ledger tail lock is held while it is called.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	inbox chan *ledger.Entry
	done  chan struct{}
	once  sync.Once
}

// Option configures the publisher.
type Option func(*Publisher)

// WithBuffer sets the async buffer size.
func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan *ledger.Entry, n)
		}
	}
}

// New connects to the Kafka seed brokers, ensures the topic exists, and
// starts the produce loop.
func New(ctx context.Context, seeds []string, topic string, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	p := &Publisher{
		client: client,
		topic:  topic,
		logger: logger,
		inbox:  make(chan *ledger.Entry, defaultBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, -1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %q: %w", topic, resp.Err)
	}
	return nil
}

// Publish queues an entry for production. Drops with a warning when the
// buffer is full; the store holds the authoritative copy.
func (p *Publisher) Publish(entry *ledger.Entry) {
	select {
	case p.inbox <- entry:
	default:
		p.logger.Warn("audit stream buffer full; dropping entry",
			"tenant_id", entry.TenantID,
			"sequence_number", entry.SequenceNumber,
		)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for entry := range p.inbox {
		p.produce(entry)
	}
}

func (p *Publisher) produce(entry *ledger.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		p.logger.Error("failed to marshal ledger entry for stream",
			"tenant_id", entry.TenantID,
			"sequence_number", entry.SequenceNumber,
			"error", err,
		)
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		// Keyed by tenant so each tenant's entries stay ordered within a
		// partition, matching the chain order.
		Key:   []byte(entry.TenantID.String()),
		Value: payload,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("failed to produce audit entry",
			"tenant_id", entry.TenantID,
			"sequence_number", entry.SequenceNumber,
			"error", err,
		)
	}
}

// Close drains buffered entries and shuts the client down.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.inbox)
		<-p.done
		p.client.Close()
	})
}
