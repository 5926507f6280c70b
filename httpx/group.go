package httpx

import (
	"errors"
	"sync"
)

// ChannelGroup tracks open channels so they can be closed together on
// shutdown. Channels leave the group on their own when they close.
type ChannelGroup struct {
	name string

	mu    sync.Mutex
	chans map[string]*Channel
}

func NewChannelGroup(name string) *ChannelGroup {
	return &ChannelGroup{name: name, chans: make(map[string]*Channel)}
}

func (g *ChannelGroup) Name() string { return g.name }

// Add tracks ch. It returns false when ch is already closed or tracked.
func (g *ChannelGroup) Add(ch *Channel) bool {
	if ch == nil || !ch.IsOpen() {
		return false
	}
	g.mu.Lock()
	if _, ok := g.chans[ch.ID()]; ok {
		g.mu.Unlock()
		return false
	}
	g.chans[ch.ID()] = ch
	g.mu.Unlock()

	go func() {
		<-ch.Done()
		g.remove(ch)
	}()
	return true
}

func (g *ChannelGroup) remove(ch *Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.chans[ch.ID()]; ok && cur == ch {
		delete(g.chans, ch.ID())
	}
}

// Len returns the number of tracked channels.
func (g *ChannelGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chans)
}

// Close closes every tracked channel concurrently and returns once all of
// them are closed.
func (g *ChannelGroup) Close() error {
	g.mu.Lock()
	snapshot := make([]*Channel, 0, len(g.chans))
	for _, ch := range g.chans {
		snapshot = append(snapshot, ch)
	}
	g.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range snapshot {
		wg.Add(1)
		go func(ch *Channel) {
			defer wg.Done()
			if err := ch.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()

	g.mu.Lock()
	for _, ch := range snapshot {
		delete(g.chans, ch.ID())
	}
	g.mu.Unlock()
	return errors.Join(errs...)
}
