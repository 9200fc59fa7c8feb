// Package pgnotify provides a PostgreSQL NOTIFY/LISTEN wake-up bus. Task
// insertion triggers (§4.8, §1 embedding enqueue) call pg_notify on a fixed
// channel; claim loops in internal/worker and internal/embedding Subscribe
// to be woken the instant work lands instead of waiting out their poll
// interval. Polling remains the fallback path — a dropped notification
// (connection blip, process start before the first NOTIFY) only costs one
// extra poll tick, never a missed task.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// TaskQueueChannel and EmbeddingQueueChannel are the fixed channels the
// queue-management and embedding-trigger migrations notify on.
const (
	TaskQueueChannel      = "p8k8_task_queue"
	EmbeddingQueueChannel = "p8k8_embedding_queue"
)

// Event is a received NOTIFY payload.
type Event struct {
	Channel string
	Payload string
}

// Bus is a NOTIFY/LISTEN backed wake-up bus shared by claim loops.
type Bus struct {
	listener *pq.Listener

	mu       sync.RWMutex
	handlers map[string][]chan<- struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// New opens a dedicated listener connection against dsn. It is distinct
// from the pool internal/platform/database manages: LISTEN pins a single
// backend connection for the process lifetime, so it bypasses the pool.
func New(dsn string, log zerolog.Logger) *Bus {
	reportProblem := func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("pgnotify: listener reconnecting")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		listener: listener,
		handlers: make(map[string][]chan<- struct{}),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	b.wg.Add(1)
	go b.listen()
	return b
}

// Subscribe registers wake to be sent an (non-blocking) signal every time
// channel receives a NOTIFY. wake should be a buffered channel of size >=1;
// a full channel simply drops the extra wake-up since the receiver is
// already going to re-check the queue.
func (b *Bus) Subscribe(channel string, wake chan<- struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.handlers[channel]) == 0 {
		if err := b.listener.Listen(channel); err != nil {
			return fmt.Errorf("pgnotify: listen %s: %w", channel, err)
		}
	}
	b.handlers[channel] = append(b.handlers[channel], wake)
	return nil
}

// Publish sends a NOTIFY on channel with an arbitrary JSON-encodable
// payload, used by code paths that enqueue outside of a trigger-covered
// table (e.g. a direct Enqueue call).
func Publish(ctx context.Context, db *sqlx.DB, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pgnotify: marshal payload: %w", err)
	}
	_, err = db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(data))
	return err
}

// Close shuts down the bus's listener goroutine and connection.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func (b *Bus) listen() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case n := <-b.listener.Notify:
			if n == nil {
				continue // connection lost; pq.Listener reconnects and re-LISTENs on its own
			}
			b.notify(n.Channel)
		case <-time.After(90 * time.Second):
			go func() {
				if err := b.listener.Ping(); err != nil {
					b.log.Warn().Err(err).Msg("pgnotify: ping failed")
				}
			}()
		}
	}
}

func (b *Bus) notify(channel string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, wake := range b.handlers[channel] {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
