// Package clock abstracts time operations so backoff and polling logic can be
// tested deterministically. Production code injects Real(); tests inject a
// Fake with manual time control.
package clock

import (
	"sync"
	"time"
)

// Clock provides the time operations the resume scheduler needs.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. Read ticks from C, call Stop when done.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []chan time.Time
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward and delivers one tick to every live
// ticker. Ticks are dropped if the consumer has not drained the channel,
// matching time.Ticker's capacity-1 behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	tickers := make([]chan time.Time, len(f.tickers))
	copy(tickers, f.tickers)
	f.mu.Unlock()

	for _, ch := range tickers {
		select {
		case ch <- now:
		default:
		}
	}
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.tickers = append(f.tickers, ch)
	f.mu.Unlock()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, c := range f.tickers {
				if c == ch {
					f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
					break
				}
			}
		},
	}
}
