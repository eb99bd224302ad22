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

type hzMapRunner struct {
	assigner        client.ConfigPropertyAssigner
	stateList       []runnerState
	name            string
	source          string
	hzClientHandler hazelcastwrapper.HzClientHandler
	gatherer        *status.Gatherer
	providerFuncs   struct {
		mapStore newMapStoreFunc
	}
}

const (
	hzMapRunnerKeyPath = baseKeyPath + ".hzMapBatteryState"
	hzMapRunnerName    = "hzMapBatteryState"
)

func init() {
	register(&hzMapRunner{
		assigner:        &client.DefaultConfigPropertyAssigner{},
		stateList:       []runnerState{},
		name:            hzMapRunnerName,
		source:          hzMapRunnerName,
		hzClientHandler: &hazelcastwrapper.DefaultHzClientHandler{},
		providerFuncs: struct {
			mapStore newMapStoreFunc
		}{mapStore: newDefaultMapStore},
	})
}

func (r *hzMapRunner) getSourceName() string {
	return r.source
}

// runScenario saves battery states into a Hazelcast map and polls the same map for them, querying
// for entries saved within one join timeout of the newest one seen.
func (r *hzMapRunner) runScenario(ctx context.Context, hzCluster string, hzMembers []string, gatherer *status.Gatherer) error {

	r.gatherer = gatherer
	r.appendState(start)

	b := runnerConfigBuilder{assigner: r.assigner, runnerKeyPath: hzMapRunnerKeyPath}
	config, err := b.populateConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of map scenario: unable to populate config: %v", err), r.name, log.ErrorLevel)
		return err
	}
	if !config.enabled {
		lp.LogScenarioEvent("map scenario not enabled -- won't run", r.name, log.InfoLevel)
		return nil
	}
	sc, err := b.populateStructureConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of map scenario: unable to populate structure config: %v", err), r.name, log.ErrorLevel)
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
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of map scenario: unable to initialize hazelcast client: %v", err), r.name, log.ErrorLevel)
		return err
	}
	defer func() {
		_ = r.hzClientHandler.Shutdown(ctx)
	}()
	lp.LogScenarioEvent("initialized hazelcast client", r.name, log.InfoLevel)

	mapName := assembleStructureName(sc, client.ID())
	m, err := r.providerFuncs.mapStore(r.hzClientHandler).GetMap(ctx, mapName)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of map scenario: unable to retrieve map '%s': %v", mapName, err), r.name, log.ErrorLevel)
		return err
	}

	if err := runPreRunClean(r.name, config.preRunClean, func() error {
		return m.EvictAll(ctx)
	}); err != nil {
		return err
	}
	r.appendState(preRunCleanComplete)

	api.RaiseReady()
	ready = true
	r.appendState(raiseReadyComplete)

	lp.LogScenarioEvent(fmt.Sprintf("starting save-and-poll join on map '%s'", mapName), r.name, log.InfoLevel)

	r.appendState(joinStart)
	result := runSaveAndPoll(ctx, r.name, config, sources.NewMapSource[loadsupport.BatteryState](mapName, m, config.join.Timeout), r.gatherer)
	r.appendState(joinComplete)

	lp.LogScenarioEvent(fmt.Sprintf("finished save-and-poll join on map '%s'", mapName), r.name, log.InfoLevel)

	return scenarioError(r.name, result)

}

func (r *hzMapRunner) appendState(s runnerState) {

	appendState(r.gatherer, &r.stateList, s)

}
