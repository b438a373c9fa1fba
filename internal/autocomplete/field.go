// Package autocomplete keeps address suggestions for one input field, with at
// most one lookup in flight and last-issued-wins application of results.
package autocomplete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/observability"
)

const (
	DefaultMinChars = 3
	DefaultLimit    = 5
)

type Suggester interface {
	Suggest(ctx context.Context, query, countryFilter string, limit int) ([]geo.Suggestion, error)
}

type Options struct {
	CountryFilter string
	Limit         int
	MinChars      int
	// Debounce delays each lookup; a newer keystroke inside the window cancels it
	// before any request is made.
	Debounce time.Duration
	Logger   *slog.Logger
}

type Field struct {
	suggester Suggester
	opts      Options
	logger    *slog.Logger

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	updates    chan []geo.Suggestion

	mu          sync.Mutex
	text        string
	seq         uint64
	cancel      context.CancelFunc
	suggestions []geo.Suggestion
	loading     bool
	closed      bool
}

func NewField(s Suggester, opts Options) *Field {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	base, cancel := context.WithCancel(context.Background())
	return &Field{
		suggester:  s,
		opts:       opts,
		logger:     logging.OrDefault(opts.Logger),
		base:       base,
		cancelBase: cancel,
		updates:    make(chan []geo.Suggestion, 1),
	}
}

// OnInput records a keystroke. Short input clears the list synchronously;
// otherwise the previous lookup is canceled and a new one starts.
func (f *Field) OnInput(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.text = text
	f.seq++
	f.stopLocked()

	q := strings.TrimSpace(text)
	if utf8.RuneCountInString(q) < f.opts.MinChars {
		f.loading = false
		f.publishLocked(nil)
		return
	}

	ctx, cancel := context.WithCancel(f.base)
	f.cancel = cancel
	f.loading = true
	f.wg.Add(1)
	go f.lookup(ctx, cancel, f.seq, q)
}

func (f *Field) lookup(ctx context.Context, cancel context.CancelFunc, seq uint64, q string) {
	defer f.wg.Done()
	defer cancel()

	if f.opts.Debounce > 0 {
		t := time.NewTimer(f.opts.Debounce)
		select {
		case <-ctx.Done():
			t.Stop()
			observability.SuggestLookups.WithLabelValues("canceled").Inc()
			return
		case <-t.C:
		}
	}

	res, err := f.suggester.Suggest(ctx, q, f.opts.CountryFilter, f.opts.Limit)

	f.mu.Lock()
	defer f.mu.Unlock()
	if seq != f.seq || ctx.Err() != nil {
		// superseded or torn down: never applied
		observability.SuggestLookups.WithLabelValues("superseded").Inc()
		return
	}
	f.cancel = nil
	f.loading = false
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.SuggestLookups.WithLabelValues("canceled").Inc()
			return
		}
		observability.SuggestLookups.WithLabelValues("error").Inc()
		f.logger.Warn("autocomplete lookup failed", "query", q, "error", err)
		f.publishLocked(nil)
		return
	}
	observability.SuggestLookups.WithLabelValues("ok").Inc()
	if len(res) > f.opts.Limit {
		res = res[:f.opts.Limit]
	}
	f.publishLocked(res)
}

// Select replaces the text with the chosen suggestion and clears the list.
func (f *Field) Select(i int) (geo.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.suggestions) {
		return geo.Suggestion{}, fmt.Errorf("suggestion %d out of range (%d available)", i, len(f.suggestions))
	}
	s := f.suggestions[i]
	f.seq++
	f.stopLocked()
	f.text = s.DisplayName
	f.loading = false
	f.publishLocked(nil)
	return s, nil
}

func (f *Field) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *Field) Suggestions() []geo.Suggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]geo.Suggestion(nil), f.suggestions...)
}

func (f *Field) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Updates delivers each list applied to the field. Only the newest pending
// list is kept for slow readers. Closed by Close.
func (f *Field) Updates() <-chan []geo.Suggestion { return f.updates }

// Wait blocks until every issued lookup has finished.
func (f *Field) Wait() { f.wg.Wait() }

// Close cancels any lookup in flight and releases the field.
func (f *Field) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.stopLocked()
		f.cancelBase()
		f.mu.Unlock()
		f.wg.Wait()
		close(f.updates)
	})
}

func (f *Field) stopLocked() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Field) publishLocked(list []geo.Suggestion) {
	f.suggestions = append([]geo.Suggestion(nil), list...)
	out := append([]geo.Suggestion(nil), list...)
	select {
	case f.updates <- out:
	default:
		select {
		case <-f.updates:
		default:
		}
		f.updates <- out
	}
}
