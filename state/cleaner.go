package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"correlatest/api"
	"correlatest/client"
	"correlatest/hazelcastwrapper"
	"correlatest/logging"
)

type (
	cleanerBuilder interface {
		build(ch hazelcastwrapper.HzClientHandler) (cleaner, error)
	}
	cleaner interface {
		clean(ctx context.Context) (int, error)
	}
	cleanerConfig struct {
		enabled   bool
		usePrefix bool
		prefix    string
	}
	cleanerConfigBuilder struct {
		keyPath string
		a       client.ConfigPropertyAssigner
	}
	mapCleanerBuilder struct {
		cfb cleanerConfigBuilder
	}
	queueCleanerBuilder struct {
		cfb cleanerConfigBuilder
	}
	// structureCleaner evicts all user-created distributed objects of one service whose name
	// matches the configured prefix.
	structureCleaner struct {
		name        string
		serviceName string
		c           *cleanerConfig
		ois         hazelcastwrapper.ObjectInfoStore
		evict       func(ctx context.Context, name string) error
		m           sync.Mutex
		numCleaned  int
	}
	ErrorDuringCleanBehavior string
)

const (
	baseKeyPath         = "stateCleaner"
	statusKeyNumCleaned = "numCleaned"
)

const (
	Ignore ErrorDuringCleanBehavior = "ignore"
	Fail   ErrorDuringCleanBehavior = "fail"
)

var (
	builders        []cleanerBuilder
	lp              *logging.LogProvider
	newMapStore     = func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.MapStore {
		return &hazelcastwrapper.DefaultMapStore{Client: ch.GetClient()}
	}
	newQueueStore = func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.QueueStore {
		return &hazelcastwrapper.DefaultQueueStore{Client: ch.GetClient()}
	}
	newObjectInfoStore = func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.ObjectInfoStore {
		return &hazelcastwrapper.DefaultObjectInfoStore{Client: ch.GetClient()}
	}
	newHzClientHandler = func() hazelcastwrapper.HzClientHandler {
		return &hazelcastwrapper.DefaultHzClientHandler{}
	}
	errInvalidErrorBehavior = errors.New("invalid error behavior")
)

func init() {
	register(newMapCleanerBuilder())
	register(newQueueCleanerBuilder())
	lp = logging.GetLogProviderInstance(client.ID())
}

func register(cb cleanerBuilder) {
	builders = append(builders, cb)
}

func newMapCleanerBuilder() *mapCleanerBuilder {

	return &mapCleanerBuilder{
		cfb: cleanerConfigBuilder{
			keyPath: baseKeyPath + ".maps",
			a:       client.DefaultConfigPropertyAssigner{},
		},
	}

}

func newQueueCleanerBuilder() *queueCleanerBuilder {

	return &queueCleanerBuilder{
		cfb: cleanerConfigBuilder{
			keyPath: baseKeyPath + ".queues",
			a:       client.DefaultConfigPropertyAssigner{},
		},
	}

}

func ValidateErrorDuringCleanBehavior(keyPath string, a any) error {

	if err := client.ValidateString(keyPath, a); err != nil {
		return err
	}

	switch ErrorDuringCleanBehavior(a.(string)) {
	case Ignore, Fail:
		return nil
	default:
		return fmt.Errorf("%w at '%s': expected one of '%s' or '%s', got '%v'", errInvalidErrorBehavior, keyPath, Ignore, Fail, a)
	}

}

func (b *mapCleanerBuilder) build(ch hazelcastwrapper.HzClientHandler) (cleaner, error) {

	config, err := b.cfb.populateConfig()

	if err != nil {
		lp.LogStateCleanerEvent(fmt.Sprintf("unable to populate state cleaner config for key path '%s' due to error: %v", b.cfb.keyPath, err), log.ErrorLevel)
		return nil, err
	}

	ms := newMapStore(ch)

	return &structureCleaner{
		name:        "mapStateCleaner",
		serviceName: hazelcastwrapper.MapService,
		c:           config,
		ois:         newObjectInfoStore(ch),
		evict: func(ctx context.Context, name string) error {
			m, err := ms.GetMap(ctx, name)
			if err != nil {
				return err
			}
			return m.EvictAll(ctx)
		},
	}, nil

}

func (b *queueCleanerBuilder) build(ch hazelcastwrapper.HzClientHandler) (cleaner, error) {

	config, err := b.cfb.populateConfig()

	if err != nil {
		lp.LogStateCleanerEvent(fmt.Sprintf("unable to populate state cleaner config for key path '%s' due to error: %v", b.cfb.keyPath, err), log.ErrorLevel)
		return nil, err
	}

	qs := newQueueStore(ch)

	return &structureCleaner{
		name:        "queueStateCleaner",
		serviceName: hazelcastwrapper.QueueService,
		c:           config,
		ois:         newObjectInfoStore(ch),
		evict: func(ctx context.Context, name string) error {
			q, err := qs.GetQueue(ctx, name)
			if err != nil {
				return err
			}
			return q.Clear(ctx)
		},
	}, nil

}

func (c *structureCleaner) clean(ctx context.Context) (int, error) {

	if !c.c.enabled {
		lp.LogStateCleanerEvent(fmt.Sprintf("%s not enabled -- won't run", c.name), log.InfoLevel)
		return 0, nil
	}

	api.RegisterStatefulActor(api.StateCleaners, c.name, c.status)

	infoList, err := c.ois.GetDistributedObjectsInfo(ctx)

	if err != nil {
		return 0, err
	}

	var names []string
	for _, objectName := range hazelcastwrapper.UserObjectNames(infoList, c.serviceName) {
		if c.c.usePrefix && !strings.HasPrefix(objectName, c.c.prefix) {
			continue
		}
		lp.LogStateCleanerEvent(fmt.Sprintf("identified the following object to clean: %s", objectName), log.TraceLevel)
		names = append(names, objectName)
	}

	for _, name := range names {
		if err := c.evict(ctx, name); err != nil {
			lp.LogStateCleanerEvent(fmt.Sprintf("encountered error upon attempt to clean '%s': %v", name, err), log.ErrorLevel)
			return c.cleaned(), err
		}
		lp.LogStateCleanerEvent(fmt.Sprintf("'%s' successfully cleaned", name), log.TraceLevel)
		c.m.Lock()
		c.numCleaned++
		c.m.Unlock()
	}

	if n := c.cleaned(); n > 0 {
		lp.LogStateCleanerEvent(fmt.Sprintf("%s successfully cleaned %d object/-s", c.name, n), log.InfoLevel)
	}

	return c.cleaned(), nil

}

func (c *structureCleaner) cleaned() int {

	c.m.Lock()
	defer c.m.Unlock()

	return c.numCleaned

}

func (c *structureCleaner) status() map[string]any {

	return map[string]any{
		statusKeyNumCleaned: c.cleaned(),
	}

}

// RunCleaners cleans the state of all configured distributed object kinds using one shared
// Hazelcast client.
func RunCleaners(ctx context.Context, hzCluster string, hzMembers []string) error {

	ch := newHzClientHandler()
	if err := ch.InitHazelcastClient(ctx, "stateCleaner", hzCluster, hzMembers); err != nil {
		return err
	}
	defer func() {
		_ = ch.Shutdown(ctx)
	}()

	return runCleaners(ctx, ch, builders)

}

func runCleaners(ctx context.Context, ch hazelcastwrapper.HzClientHandler, bs []cleanerBuilder) error {

	for _, b := range bs {

		c, err := b.build(ch)
		if err != nil {
			lp.LogStateCleanerEvent(fmt.Sprintf("unable to construct state cleaner due to error: %v", err), log.ErrorLevel)
			return err
		}

		if _, err := c.clean(ctx); err != nil {
			lp.LogStateCleanerEvent(fmt.Sprintf("encountered error upon attempt to clean state: %v", err), log.ErrorLevel)
			return err
		}
	}

	return nil

}

func (b cleanerConfigBuilder) populateConfig() (*cleanerConfig, error) {

	var assignmentOps []func() error

	var enabled bool
	assignmentOps = append(assignmentOps, func() error {
		return b.a.Assign(b.keyPath+".enabled", client.ValidateBool, func(a any) {
			enabled = a.(bool)
		})
	})

	var usePrefix bool
	assignmentOps = append(assignmentOps, func() error {
		return b.a.Assign(b.keyPath+".prefix.enabled", client.ValidateBool, func(a any) {
			usePrefix = a.(bool)
		})
	})

	var prefix string
	assignmentOps = append(assignmentOps, func() error {
		return b.a.Assign(b.keyPath+".prefix.prefix", client.ValidateString, func(a any) {
			prefix = a.(string)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &cleanerConfig{
		enabled:   enabled,
		usePrefix: usePrefix,
		prefix:    prefix,
	}, nil

}
