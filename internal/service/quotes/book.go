package quotes

import (
	"context"
	"errors"
	"sync"

	"Genesis/internal/domain/models"
	drepo "Genesis/internal/domain/repository"
	applogger "Genesis/pkg/logger"
)

// Book keeps the latest quote per symbol.
type Book struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewBook() *Book { return &Book{quotes: make(map[string]models.Quote)} }

// Update stores q unless a newer quote for the symbol is already held.
func (b *Book) Update(q models.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[q.Symbol]; ok && cur.Time.After(q.Time) {
		return
	}
	b.quotes[q.Symbol] = q
}

// Latest returns the last quote for symbol.
func (b *Book) Latest(symbol string) (models.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of every held quote.
func (b *Book) Snapshot() map[string]models.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}

// Feeder pumps a QuoteStream into a Book and reconnects on stream errors.
type Feeder struct {
	stream  drepo.QuoteStream
	book    *Book
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewFeeder(stream drepo.QuoteStream, book *Book, metrics drepo.Metrics, log *applogger.Logger) *Feeder {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Feeder{stream: stream, book: book, metrics: metrics, log: log}
}

// IsConnected reports the stream state.
func (f *Feeder) IsConnected() bool { return f.stream.IsConnected() }

// Start connects and consumes in the background until ctx is cancelled.
func (f *Feeder) Start(ctx context.Context) error {
	if err := f.stream.Connect(ctx); err != nil {
		return err
	}
	if err := f.stream.Subscribe(ctx); err != nil {
		return err
	}
	go f.consume(ctx)
	return nil
}

func (f *Feeder) consume(ctx context.Context) {
	for {
		qCh, errCh := f.stream.Read(ctx)
		if err := f.drain(ctx, qCh, errCh); err == nil {
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			err := f.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			f.log.Warn("quote stream reconnect failed", applogger.Error(err))
		}
	}
}

// drain returns nil when ctx ends and the stream error otherwise.
func (f *Feeder) drain(ctx context.Context, qCh <-chan models.Quote, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			f.metrics.RecordError("quote_stream")
			f.log.Warn("quote stream error", applogger.Error(err))
			return err
		case q, ok := <-qCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			f.book.Update(q)
			f.metrics.RecordLastPrice(q.Symbol, q.Price)
		}
	}
}

// Stop closes the stream.
func (f *Feeder) Stop() error { return f.stream.Close() }

var errStreamClosed = errors.New("quote stream closed")
