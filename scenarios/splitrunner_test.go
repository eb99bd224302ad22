package scenarios

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"correlatest/hazelcastwrapper"
)

func newTestSplitRunner(c map[string]any, ch *testHzClientHandler, m *testHzMap, openDB openDBFunc) *splitRunner {

	return &splitRunner{
		assigner:        testConfigPropertyAssigner{c},
		stateList:       []runnerState{},
		name:            splitRunnerName,
		source:          splitRunnerName,
		hzClientHandler: ch,
		providerFuncs: struct {
			mapStore newMapStoreFunc
			openDB   openDBFunc
		}{
			mapStore: func(_ hazelcastwrapper.HzClientHandler) hazelcastwrapper.MapStore {
				return &testHzMapStore{m: m}
			},
			openDB: openDB,
		},
	}

}

func TestSplitRunnerRunScenario(t *testing.T) {

	t.Log("given a split scenario runner")
	{
		t.Log("\twhen runner is disabled")
		{
			ch := &testHzClientHandler{}
			opened := false
			r := newTestSplitRunner(runnerTestConfig(splitRunnerKeyPath, false), ch, newTestHzMap(), func(_ string) (*sql.DB, error) {
				opened = true
				return nil, errOpen
			})
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\tneither hazelcast client nor database must have been touched"
			if err == nil && ch.initInvocations == 0 && !opened && stateListEquals(r.stateList, []runnerState{start}) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, r.stateList)
			}
		}

		t.Log("\twhen database config is missing")
		{
			c := runnerTestConfig(splitRunnerKeyPath, true)
			delete(c, splitRunnerKeyPath+".tableName")
			ch := &testHzClientHandler{}
			r := newTestSplitRunner(c, ch, newTestHzMap(), openSQLite)
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\terror must be returned before hazelcast client is initialized"
			if err != nil && ch.initInvocations == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, ch.initInvocations)
			}
		}

		t.Log("\twhen hazelcast client cannot be initialized")
		{
			ch := &testHzClientHandler{returnErrorUponInit: true}
			r := newTestSplitRunner(runnerTestConfig(splitRunnerKeyPath, true), ch, newTestHzMap(), func(_ string) (*sql.DB, error) {
				return nil, errOpen
			})
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\tinit error must be returned"
			if errors.Is(err, errInit) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen database cannot be opened")
		{
			ch := &testHzClientHandler{}
			r := newTestSplitRunner(runnerTestConfig(splitRunnerKeyPath, true), ch, newTestHzMap(), func(_ string) (*sql.DB, error) {
				return nil, errOpen
			})
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\topen error must be returned and hazelcast client shut down"
			if errors.Is(err, errOpen) && ch.shutdownInvocations == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, ch.shutdownInvocations)
			}
		}

		t.Log("\twhen pre-run clean of map fails and error behavior is to fail")
		{
			db, mock, _ := sqlmock.New()
			m := newTestHzMap()
			m.returnErrorUponEvictAll = true
			r := newTestSplitRunner(runnerTestConfig(splitRunnerKeyPath, true), &testHzClientHandler{}, m, func(_ string) (*sql.DB, error) {
				return db, nil
			})
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\tclean error must be returned without touching the table"
			if errors.Is(err, errEvictAll) && mock.ExpectationsWereMet() == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen table cannot be created")
		{
			db, mock, _ := sqlmock.New()
			mock.ExpectExec(regexp.QuoteMeta(createBatteryStateTableStatement("battery_state"))).WillReturnError(errCreateTable)
			m := newTestHzMap()
			r := newTestSplitRunner(runnerTestConfig(splitRunnerKeyPath, true), &testHzClientHandler{}, m, func(_ string) (*sql.DB, error) {
				return db, nil
			})
			g := newListeningGatherer()

			err := r.runScenario(context.Background(), "hazelcastplatform", []string{"localhost:5701"}, g)
			g.StopListen()

			msg := "\t\ttable creation error must be returned after map was cleaned"
			if errors.Is(err, errCreateTable) && m.evictAllInvocations == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, m.evictAllInvocations)
			}

			msg = "\t\trunner must not have reached pre-run clean completion"
			if stateListEquals(r.stateList, []runnerState{start, populateConfigComplete, checkEnabledComplete}) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, r.stateList)
			}

			msg = "\t\tall expected statements must have been executed"
			if err := mock.ExpectationsWereMet(); err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}
