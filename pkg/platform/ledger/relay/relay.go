// Package relay publishes committed ledger entries to Kafka.
//
// The ledger table is the source of truth; Kafka is a downstream feed for
// tenant-side mirrors and audit consumers. The relay polls unpublished rows,
// produces them keyed by tenant so per-tenant ordering holds, and marks them
// published. At-least-once delivery: consumers must dedupe on entry id.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	id "geosync/pkg/domain"
	"geosync/pkg/platform/ledger"
)

// OutboxStore is the slice of the Postgres ledger store the relay needs.
type OutboxStore interface {
	ListUnpublished(ctx context.Context, limit int) ([]ledger.Entry, error)
	MarkPublished(ctx context.Context, ids []id.EntryID, at time.Time) error
}

// Config controls relay behavior.
type Config struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// Relay drains the outbox into Kafka.
type Relay struct {
	store  OutboxStore
	client *kgo.Client
	cfg    Config
	logger *slog.Logger
}

// New connects to Kafka and ensures the topic exists before the first poll.
func New(store OutboxStore, cfg Config, logger *slog.Logger) (*Relay, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect kafka: %w", err)
	}
	if err := ensureTopic(context.Background(), client, cfg.Topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Relay{store: store, client: client, cfg: cfg, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("relay: create topic %s: %w", topic, err)
	}
	// Already-exists is the normal steady state.
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("relay: create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Run polls until the context is cancelled. Errors are logged and retried on
// the next tick; the outbox keeps entries until they are marked published.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	defer r.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil && ctx.Err() == nil {
				if r.logger != nil {
					r.logger.ErrorContext(ctx, "ledger relay drain failed", "error", err)
				}
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	entries, err := r.store.ListUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list unpublished: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	published := make([]id.EntryID, 0, len(entries))
	for _, entry := range entries {
		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
		record := &kgo.Record{
			Topic: r.cfg.Topic,
			Key:   []byte(entry.TenantID.String()),
			Value: value,
		}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			// Stop at the first failure so MarkPublished never skips ahead
			// of what actually reached Kafka.
			break
		}
		published = append(published, entry.ID)
	}
	if len(published) == 0 {
		return fmt.Errorf("produce: no entries published out of %d", len(entries))
	}
	if err := r.store.MarkPublished(ctx, published, time.Now()); err != nil {
		// Entries will be produced again next tick; consumers dedupe on id.
		return fmt.Errorf("mark published: %w", err)
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "ledger entries relayed",
			"count", len(published),
			"topic", r.cfg.Topic,
		)
	}
	return nil
}
