package hazelcastwrapper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/hazelcast/hazelcast-go-client/predicate"
	"github.com/hazelcast/hazelcast-go-client/types"
)

type (
	MapStore interface {
		GetMap(ctx context.Context, name string) (Map, error)
	}
	// Map is the part of the Hazelcast map api sources and state cleaners work with.
	Map interface {
		Set(ctx context.Context, key any, value any) error
		Get(ctx context.Context, key any) (any, error)
		GetEntrySetWithPredicate(ctx context.Context, predicate predicate.Predicate) ([]types.Entry, error)
		Size(ctx context.Context) (int, error)
		EvictAll(ctx context.Context) error
		Destroy(ctx context.Context) error
	}
	DefaultMapStore struct {
		Client *hazelcast.Client
	}
)

type (
	QueueStore interface {
		GetQueue(ctx context.Context, name string) (Queue, error)
	}
	Queue interface {
		Clear(ctx context.Context) error
		Size(ctx context.Context) (int, error)
		Put(ctx context.Context, element any) error
		Poll(ctx context.Context) (any, error)
		Destroy(ctx context.Context) error
	}
	DefaultQueueStore struct {
		Client *hazelcast.Client
	}
)

type (
	ObjectInfo interface {
		GetName() string
		GetServiceName() string
	}
	ObjectInfoStore interface {
		GetDistributedObjectsInfo(ctx context.Context) ([]ObjectInfo, error)
	}
	DefaultObjectInfoStore struct {
		Client *hazelcast.Client
	}
	SimpleObjectInfo struct {
		Name, ServiceName string
	}
)

const (
	MapService   = "hz:impl:mapService"
	QueueService = "hz:impl:queueService"
	// Objects whose names start with this prefix belong to the cluster itself, e.g. the sql catalog.
	internalObjectPrefix = "__"
)

var ErrNoClient = errors.New("hazelcast client not initialized")

func (d *DefaultMapStore) GetMap(ctx context.Context, name string) (Map, error) {

	if d.Client == nil {
		return nil, ErrNoClient
	}

	m, err := d.Client.GetMap(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve map '%s': %w", name, err)
	}

	return m, nil

}

func (d *DefaultQueueStore) GetQueue(ctx context.Context, name string) (Queue, error) {

	if d.Client == nil {
		return nil, ErrNoClient
	}

	q, err := d.Client.GetQueue(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve queue '%s': %w", name, err)
	}

	return q, nil

}

func (ois *DefaultObjectInfoStore) GetDistributedObjectsInfo(ctx context.Context) ([]ObjectInfo, error) {

	if ois.Client == nil {
		return nil, ErrNoClient
	}

	infos, err := ois.Client.GetDistributedObjectsInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query distributed objects: %w", err)
	}

	result := make([]ObjectInfo, 0, len(infos))
	for _, v := range infos {
		result = append(result, SimpleObjectInfo{Name: v.Name, ServiceName: v.ServiceName})
	}

	return result, nil

}

// UserObjectNames returns the names of all objects of the given service that were not created by the
// cluster itself.
func UserObjectNames(infos []ObjectInfo, serviceName string) []string {

	var names []string
	for _, info := range infos {
		if info.GetServiceName() != serviceName || strings.HasPrefix(info.GetName(), internalObjectPrefix) {
			continue
		}
		names = append(names, info.GetName())
	}

	return names

}

func (i SimpleObjectInfo) GetName() string {
	return i.Name
}

func (i SimpleObjectInfo) GetServiceName() string {
	return i.ServiceName
}
