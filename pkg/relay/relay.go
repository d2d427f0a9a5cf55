package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const DefaultKeepAlive = 15 * time.Second

var (
	// ErrDisconnected is returned when the subscriber is gone or the relay
	// was closed.
	ErrDisconnected = errors.New("relay: subscriber disconnected")
	// ErrUnsupported is returned when the response can't be streamed.
	ErrUnsupported = errors.New("relay: streaming unsupported")
)

// Terminal is implemented by events that end the stream.
type Terminal interface {
	Terminal() bool
}

// Relay writes events as server-sent events to a single subscriber.
type Relay struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	closeOnce      sync.Once
	disconnectOnce sync.Once
	onDisconnect   func()
}

type Config struct {
	// KeepAlive is the interval between comment frames. Zero uses the
	// default and a negative value disables them.
	KeepAlive time.Duration
	// OnDisconnect is called once when the subscriber goes away.
	OnDisconnect func()
}

// New starts an event stream on the response. The stream is closed when the
// request context is done.
func New(w http.ResponseWriter, r *http.Request, cfg *Config) (*Relay, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rl := &Relay{
		w:            w,
		flusher:      flusher,
		done:         make(chan struct{}),
		onDisconnect: cfg.OnDisconnect,
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = DefaultKeepAlive
	}
	go rl.watch(r, keepAlive)
	return rl, nil
}

func (rl *Relay) watch(r *http.Request, keepAlive time.Duration) {
	var tick <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-rl.done:
			return
		case <-r.Context().Done():
			select {
			case <-rl.done:
			default:
				rl.disconnect()
			}
			return
		case <-tick:
			if err := rl.write([]byte(": keep-alive\n\n")); err != nil {
				if !errors.Is(err, ErrDisconnected) {
					rl.disconnect()
				}
				return
			}
		}
	}
}

// Emit writes one event. Events implementing Terminal close the stream
// after being written.
func (rl *Relay) Emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: couldn't marshal event: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if err := rl.write(frame); err != nil {
		if !errors.Is(err, ErrDisconnected) {
			rl.disconnect()
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return err
	}
	if t, ok := v.(Terminal); ok && t.Terminal() {
		rl.Close()
	}
	return nil
}

func (rl *Relay) write(b []byte) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return ErrDisconnected
	}
	if _, err := rl.w.Write(b); err != nil {
		return err
	}
	rl.flusher.Flush()
	return nil
}

// Close ends the stream. It is safe to call more than once.
func (rl *Relay) Close() {
	rl.closeOnce.Do(func() {
		rl.mu.Lock()
		rl.closed = true
		rl.mu.Unlock()
		close(rl.done)
	})
}

// Done is closed when the stream ends.
func (rl *Relay) Done() <-chan struct{} {
	return rl.done
}

func (rl *Relay) disconnect() {
	rl.Close()
	rl.disconnectOnce.Do(func() {
		if rl.onDisconnect != nil {
			rl.onDisconnect()
		}
	})
}
