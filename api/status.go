package api

import (
	"sync"
)

type (
	ActorGroup           string
	statefulActorTracker struct {
		m      sync.Mutex
		actors map[ActorGroup]map[string]func() map[string]any
	}
)

const (
	Scenarios     ActorGroup = "scenarios"
	StateCleaners ActorGroup = "stateCleaners"
)

var (
	availableActorGroups = []ActorGroup{Scenarios, StateCleaners}
	tracker              = newStatefulActorTracker()
)

func newStatefulActorTracker() *statefulActorTracker {

	t := &statefulActorTracker{actors: map[ActorGroup]map[string]func() map[string]any{}}
	for _, g := range availableActorGroups {
		t.actors[g] = map[string]func() map[string]any{}
	}

	return t

}

// RegisterStatefulActor makes the status of the given actor available on the status endpoint.
// queryStatusFunc is invoked on each request and must be safe for concurrent use.
func RegisterStatefulActor(g ActorGroup, actorName string, queryStatusFunc func() map[string]any) {

	tracker.m.Lock()
	defer tracker.m.Unlock()

	if _, ok := tracker.actors[g]; !ok {
		tracker.actors[g] = map[string]func() map[string]any{}
	}
	tracker.actors[g][actorName] = queryStatusFunc

}

func assembleStatus() map[string]any {

	tracker.m.Lock()
	defer tracker.m.Unlock()

	result := make(map[string]any, len(tracker.actors))
	for g, actors := range tracker.actors {
		groupStatus := make(map[string]any, len(actors))
		for name, queryStatus := range actors {
			groupStatus[name] = queryStatus()
		}
		result[string(g)] = groupStatus
	}

	return result

}
