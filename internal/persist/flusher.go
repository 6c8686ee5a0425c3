package persist

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// FlusherConfig bounds the retry behavior of the flusher.
type FlusherConfig struct {
	MaxRetries int           // attempts beyond the first
	RetryDelay time.Duration // base delay, multiplied by the attempt number
	QueueSize  int
}

func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		MaxRetries: 5,
		RetryDelay: time.Second,
		QueueSize:  64,
	}
}

type pendingFlush struct {
	roomID  string
	results []FinalResult
}

// Flusher accepts fire-and-forget result flushes from rooms and writes
// them to the store with bounded retry. A room never blocks on the store:
// Flush enqueues and returns. When the retry budget is exhausted the
// failure is surfaced on the operator log channel and the payload is kept
// in the dead queue for inspection.
type Flusher struct {
	store  ResultStore
	sink   ResultSink // optional
	clock  clockwork.Clock
	config FlusherConfig

	queue chan pendingFlush

	mu   sync.Mutex
	dead []pendingFlush

	wg      sync.WaitGroup
	started bool
}

func NewFlusher(store ResultStore, sink ResultSink, clock clockwork.Clock, cfg FlusherConfig) *Flusher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultFlusherConfig().QueueSize
	}
	return &Flusher{
		store:  store,
		sink:   sink,
		clock:  clock,
		config: cfg,
		queue:  make(chan pendingFlush, cfg.QueueSize),
	}
}

// Start launches the flush worker. It returns immediately; the worker
// stops when ctx is cancelled and the queue is drained.
func (f *Flusher) Start(ctx context.Context) {
	if f.started {
		return
	}
	f.started = true
	f.wg.Add(1)
	go f.run(ctx)
	log.Info().Int("queue_size", f.config.QueueSize).Msg("result flusher started")
}

// Wait blocks until the worker has exited.
func (f *Flusher) Wait() {
	f.wg.Wait()
}

// Flush enqueues a room's final results. It never blocks: if the queue is
// full the payload goes straight to the dead queue with an operator alert.
func (f *Flusher) Flush(roomID string, results []FinalResult) {
	p := pendingFlush{roomID: roomID, results: results}
	select {
	case f.queue <- p:
	default:
		log.Error().Str("room_id", roomID).Msg("flush queue full, parking results in dead queue")
		f.park(p)
	}
}

// DeadRoomIDs lists rooms whose results could not be flushed within the
// retry budget.
func (f *Flusher) DeadRoomIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.dead))
	for i, p := range f.dead {
		ids[i] = p.roomID
	}
	return ids
}

func (f *Flusher) run(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case p := <-f.queue:
					f.process(context.Background(), p)
				default:
					log.Info().Msg("result flusher stopped")
					return
				}
			}
		case p := <-f.queue:
			f.process(ctx, p)
		}
	}
}

func (f *Flusher) process(ctx context.Context, p pendingFlush) {
	if err := f.putWithRetry(ctx, p); err != nil {
		log.Error().
			Err(err).
			Str("room_id", p.roomID).
			Int("max_retries", f.config.MaxRetries).
			Msg("result flush failed after retries, parking in dead queue")
		f.park(p)
		return
	}

	if f.sink != nil {
		if err := f.sink.PublishFinished(p.roomID, p.results); err != nil {
			log.Warn().Err(err).Str("room_id", p.roomID).Msg("failed to announce finished room")
		}
	}

	log.Info().Str("room_id", p.roomID).Int("players", len(p.results)).Msg("flushed room results")
}

func (f *Flusher) putWithRetry(ctx context.Context, p pendingFlush) error {
	var lastErr error

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.clock.After(f.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := f.store.PutResults(p.roomID, p.results); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("room_id", p.roomID).
				Int("attempt", attempt+1).
				Msg("result store write failed, retrying")
			continue
		}
		return nil
	}

	return lastErr
}

func (f *Flusher) park(p pendingFlush) {
	f.mu.Lock()
	f.dead = append(f.dead, p)
	f.mu.Unlock()
}
