// Package pump tails a relay channel on a fixed interval and delivers decoded
// output to a consumer in file order, finishing with exactly one final chunk.
package pump

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musher-dev/termbuild/internal/observability"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// ErrStopped is returned by Start on a pump that was already stopped.
var ErrStopped = errors.New("pump stopped")

// ErrStarted is returned by Start on a pump that is already running.
var ErrStarted = errors.New("pump already started")

// Source is the channel being tailed.
type Source interface {
	PollNewBytes() ([]byte, error)
	IsComplete() bool
}

// Chunk is one delivery to the consumer.
type Chunk struct {
	// Seq numbers deliveries from zero.
	Seq int
	// Text is decoded output. The final chunk may be empty.
	Text string
	// Final marks the last chunk of the stream.
	Final bool
	// Warning is set when undecodable bytes were replaced in Text.
	Warning *EncodingWarning
}

// Options configures a Pump.
type Options struct {
	// Interval between polls. Zero uses DefaultInterval.
	Interval time.Duration
	// Encoding is a WHATWG label or EncodingAuto. Empty means utf-8.
	Encoding string
	// LineBuffered holds text after the last newline until more arrives or
	// the stream ends.
	LineBuffered bool
	// WatchPaths enables file-change wake-ups between ticks for these files.
	WatchPaths []string
}

// Pump polls a Source on its own goroutine.
type Pump struct {
	opts Options
	dec  *decoder

	mu      sync.Mutex
	started bool

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	seq     int
	partial strings.Builder
}

// New validates opts and returns an idle pump.
func New(opts Options) (*Pump, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	dec, err := newDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	return &Pump{
		opts:   opts,
		dec:    dec,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins polling src and delivering chunks to onChunk. Deliveries are
// sequential and never overlap. The loop ends after the final chunk, on
// Stop, or when ctx is cancelled; only the first of these delivers a final
// chunk.
func (p *Pump) Start(ctx context.Context, src Source, onChunk func(Chunk)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped.Load() {
		return ErrStopped
	}

	if p.started {
		return ErrStarted
	}

	p.started = true

	logger := observability.FromContext(ctx).With(slog.String("component", "pump"))

	wake, closeWatch := p.watch(logger)

	go func() {
		defer close(p.done)
		defer closeWatch()

		p.run(ctx, logger, src, onChunk, wake)
	}()

	return nil
}

// Stop ends polling. After Stop returns, onChunk is never called again. It
// waits for an in-flight delivery to finish, so it must not be called from
// inside onChunk.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
	})

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

// Done is closed when the polling goroutine has exited.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

func (p *Pump) run(ctx context.Context, logger *slog.Logger, src Source, onChunk func(Chunk), wake <-chan struct{}) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		// Completion is sampled before the poll, so that poll drains every
		// byte written before the marker.
		complete := src.IsComplete()

		data, err := src.PollNewBytes()
		if err != nil {
			logger.Debug("relay poll failed; retrying on next tick",
				slog.String("event.type", "pump.poll_retry"),
				slog.String("error", err.Error()),
			)
		}

		if len(data) > 0 {
			text, warn := p.dec.decode(data, false)
			p.logWarning(logger, warn)

			if text = p.buffer(text, false); text != "" || warn != nil {
				if !p.deliver(onChunk, Chunk{Text: text, Warning: warn}) {
					return
				}
			}
		}

		if complete {
			text, warn := p.dec.decode(nil, true)
			p.logWarning(logger, warn)

			text = p.buffer(text, true)

			if p.deliver(onChunk, Chunk{Text: text, Final: true, Warning: warn}) {
				logger.Debug("output stream complete",
					slog.String("event.type", "pump.final"),
					slog.Int("chunks", p.seq),
				)
			}

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// buffer applies line buffering. With flush, everything held is released.
func (p *Pump) buffer(text string, flush bool) string {
	if !p.opts.LineBuffered {
		return text
	}

	p.partial.WriteString(text)
	held := p.partial.String()

	if flush {
		p.partial.Reset()
		return held
	}

	cut := strings.LastIndexByte(held, '\n')
	if cut < 0 {
		return ""
	}

	p.partial.Reset()
	p.partial.WriteString(held[cut+1:])

	return held[:cut+1]
}

func (p *Pump) deliver(onChunk func(Chunk), c Chunk) bool {
	if p.stopped.Load() {
		return false
	}

	c.Seq = p.seq
	p.seq++

	onChunk(c)

	return true
}

func (p *Pump) logWarning(logger *slog.Logger, warn *EncodingWarning) {
	if warn == nil {
		return
	}

	logger.Warn("undecodable output replaced",
		slog.String("event.type", "pump.encoding"),
		slog.String("encoding", warn.Encoding),
		slog.Int64("offset", warn.Offset),
		slog.Int("replaced", warn.Replaced),
	)
}
