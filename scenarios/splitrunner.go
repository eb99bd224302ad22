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

type splitRunner struct {
	assigner        client.ConfigPropertyAssigner
	stateList       []runnerState
	name            string
	source          string
	hzClientHandler hazelcastwrapper.HzClientHandler
	gatherer        *status.Gatherer
	providerFuncs   struct {
		mapStore newMapStoreFunc
		openDB   openDBFunc
	}
}

const (
	splitRunnerKeyPath = baseKeyPath + ".splitBatteryState"
	splitRunnerName    = "splitBatteryState"
	splitTargetMap     = "hzMap"
	splitTargetSQL     = "sql"
)

func init() {
	register(&splitRunner{
		assigner:        &client.DefaultConfigPropertyAssigner{},
		stateList:       []runnerState{},
		name:            splitRunnerName,
		source:          splitRunnerName,
		hzClientHandler: &hazelcastwrapper.DefaultHzClientHandler{},
		providerFuncs: struct {
			mapStore newMapStoreFunc
			openDB   openDBFunc
		}{mapStore: newDefaultMapStore, openDB: openSQLite},
	})
}

func (r *splitRunner) getSourceName() string {
	return r.source
}

// runScenario saves each battery state into both a Hazelcast map and a table and correlates each
// of them with its own join.
func (r *splitRunner) runScenario(ctx context.Context, hzCluster string, hzMembers []string, gatherer *status.Gatherer) error {

	r.gatherer = gatherer
	r.appendState(start)

	b := runnerConfigBuilder{assigner: r.assigner, runnerKeyPath: splitRunnerKeyPath}
	config, err := b.populateConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to populate config: %v", err), r.name, log.ErrorLevel)
		return err
	}
	if !config.enabled {
		lp.LogScenarioEvent("split scenario not enabled -- won't run", r.name, log.InfoLevel)
		return nil
	}
	sc, err := b.populateStructureConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to populate structure config: %v", err), r.name, log.ErrorLevel)
		return err
	}
	dc, err := populateDatabaseConfig(r.assigner, splitRunnerKeyPath)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to populate database config: %v", err), r.name, log.ErrorLevel)
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
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to initialize hazelcast client: %v", err), r.name, log.ErrorLevel)
		return err
	}
	defer func() {
		_ = r.hzClientHandler.Shutdown(ctx)
	}()

	mapName := assembleStructureName(sc, client.ID())
	m, err := r.providerFuncs.mapStore(r.hzClientHandler).GetMap(ctx, mapName)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to retrieve map '%s': %v", mapName, err), r.name, log.ErrorLevel)
		return err
	}

	db, err := r.providerFuncs.openDB(dc.dataSourceName)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of split scenario: unable to open database: %v", err), r.name, log.ErrorLevel)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := runPreRunClean(r.name, config.preRunClean, func() error {
		return m.EvictAll(ctx)
	}); err != nil {
		return err
	}
	if err := prepareBatteryStateTable(ctx, r.name, db, dc.tableName, config.preRunClean); err != nil {
		return err
	}
	r.appendState(preRunCleanComplete)

	api.RaiseReady()
	ready = true
	r.appendState(raiseReadyComplete)

	lp.LogScenarioEvent(fmt.Sprintf("starting split join on map '%s' and table '%s'", mapName, dc.tableName), r.name, log.InfoLevel)

	r.appendState(joinStart)
	results := runSplitSaveAndPoll(ctx, r.name, config, []saveAndPollTarget{
		{name: splitTargetMap, store: sources.NewMapSource[loadsupport.BatteryState](mapName, m, config.join.Timeout)},
		{name: splitTargetSQL, store: sources.NewSQLSource[loadsupport.BatteryState](db, batteryStateRowMapping(dc.tableName), 0)},
	}, r.gatherer)
	r.appendState(joinComplete)

	lp.LogScenarioEvent(fmt.Sprintf("finished split join on map '%s' and table '%s'", mapName, dc.tableName), r.name, log.InfoLevel)

	return scenarioError(r.name, results...)

}

func (r *splitRunner) appendState(s runnerState) {

	appendState(r.gatherer, &r.stateList, s)

}
