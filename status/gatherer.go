package status

import (
	"sync"
)

type (
	Update struct {
		Key   string
		Value any
	}
	// Gatherer collects status updates of one actor, e.g. a scenario, and provides copies of the
	// resulting status map to readers such as the status endpoint.
	Gatherer struct {
		l       locker
		status  map[string]any
		Updates chan Update
		done    chan struct{}
	}
	locker interface {
		lock()
		unlock()
	}
	mutexLocker struct {
		m sync.Mutex
	}
)

const (
	updateKeyFinished = "finished"
)

var (
	quitStatusGathering = Update{}
)

func (l *mutexLocker) lock() {

	l.m.Lock()

}

func (l *mutexLocker) unlock() {

	l.m.Unlock()

}

func NewGatherer() *Gatherer {

	return &Gatherer{
		l: &mutexLocker{
			m: sync.Mutex{},
		},
		status:  map[string]any{},
		Updates: make(chan Update),
		done:    make(chan struct{}),
	}

}

func (g *Gatherer) InsertSynchronously(u Update) {

	g.l.lock()
	{
		g.status[u.Key] = u.Value
	}
	g.l.unlock()

}

func (g *Gatherer) AssembleStatusCopy() map[string]any {

	g.l.lock()
	defer g.l.unlock()

	mapCopy := make(map[string]any, len(g.status))
	for k, v := range g.status {
		mapCopy[k] = v
	}

	return mapCopy

}

// Listen applies updates until StopListen is called. The given channel is closed once the gatherer
// accepts updates.
func (g *Gatherer) Listen(ready chan struct{}) {

	g.InsertSynchronously(Update{Key: updateKeyFinished, Value: false})
	close(ready)

	for {
		update := <-g.Updates
		if update.Key == quitStatusGathering.Key {
			g.InsertSynchronously(Update{Key: updateKeyFinished, Value: true})
			close(g.done)
			return
		}
		g.InsertSynchronously(update)
	}

}

// StopListen returns once all updates sent before have been applied.
func (g *Gatherer) StopListen() {

	g.Updates <- quitStatusGathering
	<-g.done

}

func (g *Gatherer) ListeningStopped() bool {

	g.l.lock()
	defer g.l.unlock()

	finished, ok := g.status[updateKeyFinished].(bool)

	return ok && finished

}
