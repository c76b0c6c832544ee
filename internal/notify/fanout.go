package notify

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
)

// Fanout delivers values to subscriber channels without ever blocking the
// sender. A subscriber whose channel is full misses that value.
type Fanout[T any] struct {
	mu      sync.Mutex
	subs    map[chan<- T]struct{}
	scope   event.SubscriptionScope
	dropped atomic.Uint64
}

// Subscribe registers ch until the returned subscription is unsubscribed.
func (f *Fanout[T]) Subscribe(ch chan<- T) event.Subscription {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[chan<- T]struct{})
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	sub := event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
		return nil
	})
	if tracked := f.scope.Track(sub); tracked != nil {
		return tracked
	}
	// closed scope
	sub.Unsubscribe()
	return sub
}

// Send offers v to every subscriber and returns how many accepted it.
func (f *Fanout[T]) Send(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := 0
	for ch := range f.subs {
		select {
		case ch <- v:
			sent++
		default:
			f.dropped.Add(1)
		}
	}
	return sent
}

// Subscribers is the number of live subscriptions.
func (f *Fanout[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (f *Fanout[T]) Dropped() uint64 {
	return f.dropped.Load()
}

// Close ends every subscription.
func (f *Fanout[T]) Close() {
	f.scope.Close()
}
