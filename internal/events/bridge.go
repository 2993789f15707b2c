package events

import (
	"context"
	"log/slog"
	"time"

	"SageChain/internal/observability/metrics"
	"SageChain/internal/price"
	"SageChain/internal/swap"
	"SageChain/internal/wallet"
	"SageChain/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Bridge forwards session, transaction and price changes to a Publisher.
//
// Observers only enqueue; a single worker started by Run does the publishing,
// so a slow or failing backend never blocks wallet operations.
type Bridge struct {
	publisher Publisher
	driver    string
	queue     chan Event
	log       *slog.Logger
}

// NewBridge creates a bridge with a queue of the given size.
func NewBridge(publisher Publisher, driver string, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{
		publisher: publisher,
		driver:    driver,
		queue:     make(chan Event, buffer),
		log:       logger.Named("events"),
	}
}

// Attach registers the bridge with the session and the submitter. The
// returned function removes the session subscription.
func (b *Bridge) Attach(session *wallet.Session, submitter *swap.Submitter) func() {
	if submitter != nil {
		submitter.AddObserver(b.OnTransaction)
	}
	if session == nil {
		return func() {}
	}
	return session.Subscribe(b.OnSession)
}

// OnSession enqueues a session snapshot.
func (b *Bridge) OnSession(ws wallet.WalletSession) {
	b.enqueue(Event{Type: TypeSessionChanged, Session: &ws})
}

// OnTransaction enqueues a transaction transition.
func (b *Bridge) OnTransaction(tx swap.PendingTransaction) {
	b.enqueue(Event{Type: TypeTransactionUpdated, Transaction: &tx})
}

// OnPrices enqueues a price snapshot.
func (b *Bridge) OnPrices(quotes map[string]price.Quote) {
	b.enqueue(Event{Type: TypePricesUpdated, Quotes: quotes})
}

func (b *Bridge) enqueue(event Event) {
	event.OccurredAt = time.Now().UTC()
	select {
	case b.queue <- event:
	default:
		metrics.EventsPublishedTotal.WithLabelValues(b.driver, "dropped").Inc()
		b.log.Warn("事件队列已满，丢弃事件", slog.String("type", string(event.Type)))
	}
}

// Run publishes queued events until ctx ends, then flushes what is left.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return ctx.Err()
		case event := <-b.queue:
			b.publish(context.Background(), event)
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case event := <-b.queue:
			b.publish(context.Background(), event)
		default:
			return
		}
	}
}

func (b *Bridge) publish(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	if err := b.publisher.Publish(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(b.driver, "error").Inc()
		b.log.Warn("发布事件失败", slog.String("type", string(event.Type)), slog.Any("error", err))
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(b.driver, "ok").Inc()
}
