package scenarios

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"correlatest/api"
	"correlatest/client"
	"correlatest/hazelcastwrapper"
	"correlatest/loadsupport"
	"correlatest/sources"
	"correlatest/status"
)

type hzQueueRunner struct {
	assigner        client.ConfigPropertyAssigner
	stateList       []runnerState
	name            string
	source          string
	hzClientHandler hazelcastwrapper.HzClientHandler
	gatherer        *status.Gatherer
	providerFuncs   struct {
		queueStore newQueueStoreFunc
	}
}

const (
	hzQueueRunnerKeyPath = baseKeyPath + ".hzQueueBatteryState"
	hzQueueRunnerName    = "hzQueueBatteryState"
)

func init() {
	register(&hzQueueRunner{
		assigner:        &client.DefaultConfigPropertyAssigner{},
		stateList:       []runnerState{},
		name:            hzQueueRunnerName,
		source:          hzQueueRunnerName,
		hzClientHandler: &hazelcastwrapper.DefaultHzClientHandler{},
		providerFuncs: struct {
			queueStore newQueueStoreFunc
		}{queueStore: newDefaultQueueStore},
	})
}

func (r *hzQueueRunner) getSourceName() string {
	return r.source
}

// runScenario produces battery states into a Hazelcast queue and consumes them from it.
func (r *hzQueueRunner) runScenario(ctx context.Context, hzCluster string, hzMembers []string, gatherer *status.Gatherer) error {

	r.gatherer = gatherer
	r.appendState(start)

	b := runnerConfigBuilder{assigner: r.assigner, runnerKeyPath: hzQueueRunnerKeyPath}
	config, err := b.populateConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of queue scenario: unable to populate config: %v", err), r.name, log.ErrorLevel)
		return err
	}
	if !config.enabled {
		lp.LogScenarioEvent("queue scenario not enabled -- won't run", r.name, log.InfoLevel)
		return nil
	}
	sc, err := b.populateStructureConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of queue scenario: unable to populate structure config: %v", err), r.name, log.ErrorLevel)
		return err
	}

	var pollBatchSize int
	if err := r.assigner.Assign(hzQueueRunnerKeyPath+".pollBatchSize", client.ValidateInt, func(a any) {
		pollBatchSize = a.(int)
	}); err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of queue scenario: unable to populate poll batch size: %v", err), r.name, log.ErrorLevel)
		return err
	}
	r.appendState(populateConfigComplete)
	r.appendState(checkEnabledComplete)

	api.RaiseNotReady()
	ready := false
	defer func() {
		if !ready {
			api.RaiseReady()
		}
	}()

	if err := r.hzClientHandler.InitHazelcastClient(ctx, r.name, hzCluster, hzMembers); err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of queue scenario: unable to initialize hazelcast client: %v", err), r.name, log.ErrorLevel)
		return err
	}
	defer func() {
		_ = r.hzClientHandler.Shutdown(ctx)
	}()
	lp.LogScenarioEvent("initialized hazelcast client", r.name, log.InfoLevel)

	queueName := assembleStructureName(sc, client.ID())
	q, err := r.providerFuncs.queueStore(r.hzClientHandler).GetQueue(ctx, queueName)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of queue scenario: unable to retrieve queue '%s': %v", queueName, err), r.name, log.ErrorLevel)
		return err
	}

	if err := runPreRunClean(r.name, config.preRunClean, func() error {
		return q.Clear(ctx)
	}); err != nil {
		return err
	}
	r.appendState(preRunCleanComplete)

	api.RaiseReady()
	ready = true
	r.appendState(raiseReadyComplete)

	lp.LogScenarioEvent(fmt.Sprintf("starting produce-and-consume join on queue '%s'", queueName), r.name, log.InfoLevel)

	r.appendState(joinStart)
	result := runSaveAndPoll(ctx, r.name, config, sources.NewQueueSource[loadsupport.BatteryState](queueName, q, pollBatchSize), r.gatherer)
	r.appendState(joinComplete)

	lp.LogScenarioEvent(fmt.Sprintf("finished produce-and-consume join on queue '%s'", queueName), r.name, log.InfoLevel)

	return scenarioError(r.name, result)

}

func (r *hzQueueRunner) appendState(s runnerState) {

	appendState(r.gatherer, &r.stateList, s)

}
