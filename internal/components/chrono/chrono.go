package chrono

import (
	"context"
	"sync"
	"time"
)

// API is the clock every time dependent component reads from, so that cooldowns and
// backoffs can be tested without waiting on the wall clock.
//
// note: fault injection point
type API interface {
	Now() time.Time
	Location() *time.Location
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl creates a clock in the club's local timezone.
func NewStandardImpl(timezone string) (StandardImpl, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	if s.location == nil {
		return time.Now()
	}
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	if s.location == nil {
		return time.Local
	}
	return s.location
}

func (s StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FakeImpl is a manually driven clock, Sleep advances the clock instantly.
type FakeImpl struct {
	mutex sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewFakeImpl(start time.Time) *FakeImpl {
	return &FakeImpl{now: start}
}

func (f *FakeImpl) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *FakeImpl) Location() *time.Location {
	return f.Now().Location()
}

func (f *FakeImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	f.mutex.Lock()
	f.slept = append(f.slept, d)
	f.mutex.Unlock()
	return nil
}

// Advance moves the clock forward by d, negative values are ignored.
func (f *FakeImpl) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

// Slept returns every positive duration passed to Sleep, in order.
func (f *FakeImpl) Slept() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []time.Duration
	for _, d := range f.slept {
		if d > 0 {
			out = append(out, d)
		}
	}
	return out
}
