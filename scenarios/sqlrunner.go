package scenarios

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"correlatest/api"
	"correlatest/client"
	"correlatest/loadsupport"
	"correlatest/sources"
	"correlatest/status"
)

type (
	sqlRunner struct {
		assigner      client.ConfigPropertyAssigner
		stateList     []runnerState
		name          string
		source        string
		gatherer      *status.Gatherer
		providerFuncs struct {
			openDB openDBFunc
		}
	}
	openDBFunc     func(dataSourceName string) (*sql.DB, error)
	databaseConfig struct {
		dataSourceName string
		tableName      string
	}
)

const (
	sqlRunnerKeyPath = baseKeyPath + ".sqlBatteryState"
	sqlRunnerName    = "sqlBatteryState"
	sqliteDriverName = "sqlite3"
)

var openSQLite openDBFunc = func(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	return db, nil
}

func init() {
	register(&sqlRunner{
		assigner:  &client.DefaultConfigPropertyAssigner{},
		stateList: []runnerState{},
		name:      sqlRunnerName,
		source:    sqlRunnerName,
		providerFuncs: struct {
			openDB openDBFunc
		}{openDB: openSQLite},
	})
}

func batteryStateRowMapping(table string) sources.RowMapping[loadsupport.BatteryState] {

	return sources.RowMapping[loadsupport.BatteryState]{
		Table:   table,
		Columns: []string{"device_id", "ts", "battery_level"},
		Values: func(b loadsupport.BatteryState) []any {
			return []any{b.DeviceID, b.Timestamp, b.BatteryLevel}
		},
		Fields: func(b *loadsupport.BatteryState) []any {
			return []any{&b.DeviceID, &b.Timestamp, &b.BatteryLevel}
		},
	}

}

func createBatteryStateTableStatement(table string) string {

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, device_id TEXT NOT NULL, ts INTEGER NOT NULL, battery_level INTEGER NOT NULL)", table)

}

func populateDatabaseConfig(a client.ConfigPropertyAssigner, keyPath string) (*databaseConfig, error) {

	var assignmentOps []func() error

	var dataSourceName string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(keyPath+".dataSourceName", client.ValidateString, func(v any) {
			dataSourceName = v.(string)
		})
	})

	var tableName string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign(keyPath+".tableName", client.ValidateString, func(v any) {
			tableName = v.(string)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &databaseConfig{
		dataSourceName: dataSourceName,
		tableName:      tableName,
	}, nil

}

// prepareBatteryStateTable creates the table if it does not exist yet and empties it if pre-run
// cleaning is enabled.
func prepareBatteryStateTable(ctx context.Context, scenarioName string, db *sql.DB, table string, c *preRunCleanConfig) error {

	if _, err := db.ExecContext(ctx, createBatteryStateTableStatement(table)); err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of scenario: unable to create table '%s': %v", table, err), scenarioName, log.ErrorLevel)
		return err
	}
	lp.LogScenarioEvent(fmt.Sprintf("table '%s' ready", table), scenarioName, log.InfoLevel)

	return runPreRunClean(scenarioName, c, func() error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
		return err
	})

}

func (r *sqlRunner) getSourceName() string {
	return r.source
}

// runScenario inserts battery states into a table and selects rows whose id is greater than the
// newest one seen.
func (r *sqlRunner) runScenario(ctx context.Context, _ string, _ []string, gatherer *status.Gatherer) error {

	r.gatherer = gatherer
	r.appendState(start)

	config, err := runnerConfigBuilder{assigner: r.assigner, runnerKeyPath: sqlRunnerKeyPath}.populateConfig()
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of sql scenario: unable to populate config: %v", err), r.name, log.ErrorLevel)
		return err
	}
	if !config.enabled {
		lp.LogScenarioEvent("sql scenario not enabled -- won't run", r.name, log.InfoLevel)
		return nil
	}

	dc, err := populateDatabaseConfig(r.assigner, sqlRunnerKeyPath)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of sql scenario: unable to populate database config: %v", err), r.name, log.ErrorLevel)
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

	db, err := r.providerFuncs.openDB(dc.dataSourceName)
	if err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("aborting launch of sql scenario: unable to open database: %v", err), r.name, log.ErrorLevel)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := prepareBatteryStateTable(ctx, r.name, db, dc.tableName, config.preRunClean); err != nil {
		return err
	}
	r.appendState(preRunCleanComplete)

	api.RaiseReady()
	ready = true
	r.appendState(raiseReadyComplete)

	r.appendState(joinStart)
	result := runSaveAndPoll(ctx, r.name, config, sources.NewSQLSource[loadsupport.BatteryState](db, batteryStateRowMapping(dc.tableName), 0), r.gatherer)
	r.appendState(joinComplete)

	lp.LogScenarioEvent(fmt.Sprintf("finished save-and-poll join on table '%s'", dc.tableName), r.name, log.InfoLevel)

	return scenarioError(r.name, result)

}

func (r *sqlRunner) appendState(s runnerState) {

	appendState(r.gatherer, &r.stateList, s)

}
