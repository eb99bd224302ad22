package scenarios

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"correlatest/api"
	"correlatest/client"
	"correlatest/correlation"
	"correlatest/hazelcastwrapper"
	"correlatest/loadsupport"
	"correlatest/logging"
	"correlatest/poll"
	"correlatest/state"
	"correlatest/status"
)

type (
	runner interface {
		getSourceName() string
		runScenario(ctx context.Context, hzCluster string, hzMembers []string, gatherer *status.Gatherer) error
	}
	// recordStore is the system under test: records are saved into it upstream and queried from it
	// downstream.
	recordStore[T any] interface {
		Save(ctx context.Context, record T) error
		Query(ctx context.Context, after poll.Cursor) ([]poll.Record[T], error)
	}
	runnerConfig struct {
		enabled          bool
		minions          loadsupport.MinionConfig
		recordsPerMinion int
		join             JoinConfig
		preRunClean      *preRunCleanConfig
	}
	preRunCleanConfig struct {
		enabled       bool
		errorBehavior state.ErrorDuringCleanBehavior
	}
	structureConfig struct {
		baseName                      string
		usePrefix                     bool
		prefix                        string
		appendClientIdToStructureName bool
	}
	runnerConfigBuilder struct {
		assigner      client.ConfigPropertyAssigner
		runnerKeyPath string
	}
	// saveAndPollTarget is one downstream system battery states are saved into and polled from.
	// Only scenarios splitting into several targets name them.
	saveAndPollTarget struct {
		name  string
		store recordStore[loadsupport.BatteryState]
	}
	Tester struct {
		HzCluster string
		HzMembers []string
	}
	runnerState       string
	statusKey         string
	newMapStoreFunc   func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.MapStore
	newQueueStoreFunc func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.QueueStore
)

const (
	start                  runnerState = "start"
	populateConfigComplete runnerState = "populateConfigComplete"
	checkEnabledComplete   runnerState = "checkEnabledComplete"
	preRunCleanComplete    runnerState = "preRunCleanComplete"
	raiseReadyComplete     runnerState = "raiseReadyComplete"
	joinStart              runnerState = "joinStart"
	joinComplete           runnerState = "joinComplete"
)

const (
	statusKeyCurrentState statusKey = "currentState"
	statusKeyNumLaunched  statusKey = "numMinionsLaunched"
	statusKeyNumFailed    statusKey = "numMinionsFailed"
	statusKeyReport       statusKey = "report"
	statusKeyFailed       statusKey = "failed"
)

const (
	baseKeyPath           = "scenarios"
	scenarioTesterName    = "scenarioTester"
	statusRefreshInterval = time.Second
)

var (
	runners []runner
	lp      *logging.LogProvider
)

var ErrScenarioFailed = errors.New("scenario failed")

var (
	newDefaultMapStore newMapStoreFunc = func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.MapStore {
		return &hazelcastwrapper.DefaultMapStore{Client: ch.GetClient()}
	}
	newDefaultQueueStore newQueueStoreFunc = func(ch hazelcastwrapper.HzClientHandler) hazelcastwrapper.QueueStore {
		return &hazelcastwrapper.DefaultQueueStore{Client: ch.GetClient()}
	}
)

func register(r runner) {
	runners = append(runners, r)
}

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func millis(ms int) time.Duration {

	return time.Duration(ms) * time.Millisecond

}

func (b runnerConfigBuilder) populateConfig() (*runnerConfig, error) {

	var assignmentOps []func() error

	var enabled bool
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".enabled", client.ValidateBool, func(a any) {
			enabled = a.(bool)
		})
	})

	var numMinions int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".minions.numMinions", client.ValidateInt, func(a any) {
			numMinions = a.(int)
		})
	})

	var minionsPerLaunch int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".minions.minionsPerLaunch", client.ValidateInt, func(a any) {
			minionsPerLaunch = a.(int)
		})
	})

	var launchPeriodMs int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".minions.launchPeriodMs", client.ValidateNonNegativeInt, func(a any) {
			launchPeriodMs = a.(int)
		})
	})

	var recordsPerMinion int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".minions.recordsPerMinion", client.ValidateInt, func(a any) {
			recordsPerMinion = a.(int)
		})
	})

	var performPreRunClean bool
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".preRunClean.enabled", client.ValidateBool, func(a any) {
			performPreRunClean = a.(bool)
		})
	})

	var errorDuringPreRunCleanBehavior state.ErrorDuringCleanBehavior
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".preRunClean.errorBehavior", state.ValidateErrorDuringCleanBehavior, func(a any) {
			errorDuringPreRunCleanBehavior = state.ErrorDuringCleanBehavior(a.(string))
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	join, err := b.populateJoinConfig()
	if err != nil {
		return nil, err
	}

	return &runnerConfig{
		enabled: enabled,
		minions: loadsupport.MinionConfig{
			NumMinions:       numMinions,
			MinionsPerLaunch: minionsPerLaunch,
			LaunchPeriod:     millis(launchPeriodMs),
		},
		recordsPerMinion: recordsPerMinion,
		join:             *join,
		preRunClean: &preRunCleanConfig{
			enabled:       performPreRunClean,
			errorBehavior: errorDuringPreRunCleanBehavior,
		},
	}, nil

}

func (b runnerConfigBuilder) populateJoinConfig() (*JoinConfig, error) {

	var assignmentOps []func() error

	var timeout time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.timeoutMs", client.ValidateInt, func(a any) {
			timeout = millis(a.(int))
		})
	})

	var grace time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.graceMs", client.ValidateNonNegativeInt, func(a any) {
			grace = millis(a.(int))
		})
	})

	var sweepInterval time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.sweepIntervalMs", client.ValidateNonNegativeInt, func(a any) {
			sweepInterval = millis(a.(int))
		})
	})

	var pollDelay time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.pollDelayMs", client.ValidateNonNegativeInt, func(a any) {
			pollDelay = millis(a.(int))
		})
	})

	var initialDelay time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.initialDelayMs", client.ValidateNonNegativeInt, func(a any) {
			initialDelay = millis(a.(int))
		})
	})

	var pollTimeout time.Duration
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.pollTimeoutMs", client.ValidateNonNegativeInt, func(a any) {
			pollTimeout = millis(a.(int))
		})
	})

	var maxOrphans int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.maxOrphans", client.ValidateNonNegativeInt, func(a any) {
			maxOrphans = a.(int)
		})
	})

	var failureThreshold int
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.failureThreshold", client.ValidateNonNegativeInt, func(a any) {
			failureThreshold = a.(int)
		})
	})

	var reportErrors bool
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".join.reportErrors", client.ValidateBool, func(a any) {
			reportErrors = a.(bool)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &JoinConfig{
		Timeout:          timeout,
		Grace:            grace,
		SweepInterval:    sweepInterval,
		PollDelay:        pollDelay,
		InitialDelay:     initialDelay,
		PollTimeout:      pollTimeout,
		MaxOrphans:       maxOrphans,
		FailureThreshold: failureThreshold,
		ReportErrors:     reportErrors,
	}, nil

}

func (b runnerConfigBuilder) populateStructureConfig() (*structureConfig, error) {

	var assignmentOps []func() error

	var baseName string
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".structureName", client.ValidateString, func(a any) {
			baseName = a.(string)
		})
	})

	var usePrefix bool
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".structurePrefix.enabled", client.ValidateBool, func(a any) {
			usePrefix = a.(bool)
		})
	})

	var prefix string
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".structurePrefix.prefix", client.ValidateString, func(a any) {
			prefix = a.(string)
		})
	})

	var appendClientId bool
	assignmentOps = append(assignmentOps, func() error {
		return b.assigner.Assign(b.runnerKeyPath+".appendClientIdToStructureName", client.ValidateBool, func(a any) {
			appendClientId = a.(bool)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &structureConfig{
		baseName:                      baseName,
		usePrefix:                     usePrefix,
		prefix:                        prefix,
		appendClientIdToStructureName: appendClientId,
	}, nil

}

func assembleStructureName(c *structureConfig, clientID uuid.UUID) string {

	name := c.baseName
	if c.usePrefix {
		name = c.prefix + name
	}
	if c.appendClientIdToStructureName {
		name = fmt.Sprintf("%s-%s", name, clientID)
	}

	return name

}

// runPreRunClean applies the configured error behavior to the outcome of clean.
func runPreRunClean(scenarioName string, c *preRunCleanConfig, clean func() error) error {

	if !c.enabled {
		lp.LogScenarioEvent("pre-run clean not enabled -- won't clean", scenarioName, log.InfoLevel)
		return nil
	}

	if err := clean(); err != nil {
		if c.errorBehavior == state.Fail {
			lp.LogScenarioEvent(fmt.Sprintf("pre-run clean failed, aborting scenario: %v", err), scenarioName, log.ErrorLevel)
			return err
		}
		lp.LogScenarioEvent(fmt.Sprintf("pre-run clean failed, continuing anyway: %v", err), scenarioName, log.WarnLevel)
		return nil
	}

	lp.LogScenarioEvent("pre-run clean complete", scenarioName, log.InfoLevel)
	return nil

}

func batteryStateKey(b loadsupport.BatteryState) correlation.Key {

	return correlation.Key(b.PrimaryKey())

}

func batteryLevel(b loadsupport.BatteryState) int {

	return b.BatteryLevel

}

// runSaveAndPoll launches minions that each generate battery states of one device, register them
// with the join and save them into the store, which the join polls for their downstream copies.
func runSaveAndPoll(ctx context.Context, scenarioName string, rc *runnerConfig, s recordStore[loadsupport.BatteryState], gatherer *status.Gatherer) StepResult {

	return runSplitSaveAndPoll(ctx, scenarioName, rc, []saveAndPollTarget{{store: s}}, gatherer)[0]

}

// runSplitSaveAndPoll runs one join per target. Minions hand each battery state to all joins
// through a fanout and then save it into every target, so each downstream system is verified
// independently of the others.
func runSplitSaveAndPoll(ctx context.Context, scenarioName string, rc *runnerConfig, targets []saveAndPollTarget, gatherer *status.Gatherer) []StepResult {

	joins := make([]*RunningJoin[loadsupport.BatteryState, loadsupport.BatteryState], 0, len(targets))
	fanout := make(Fanout[loadsupport.BatteryState], 0, len(targets))
	for _, t := range targets {
		step := &JoinStep[loadsupport.BatteryState, loadsupport.BatteryState]{
			Name:   t.stepName(scenarioName),
			Using:  batteryStateKey,
			On:     t.store.Query,
			Verify: correlation.Equal(batteryLevel, batteryLevel),
			Config: rc.join,
		}
		rj, err := step.Start(ctx)
		if err != nil {
			lp.LogScenarioEvent(fmt.Sprintf("unable to start join step '%s': %v", step.Name, err), scenarioName, log.ErrorLevel)
			for _, started := range joins {
				started.Finish()
			}
			results := make([]StepResult, len(targets))
			for i, t := range targets {
				results[i] = StepResult{Name: t.stepName(scenarioName), ReportErrors: true, PollErr: err}
			}
			return results
		}
		joins = append(joins, rj)
		fanout = append(fanout, rj)
	}

	refreshDone := make(chan struct{})
	refreshStopped := make(chan struct{})
	go func() {
		defer close(refreshStopped)
		ticker := time.NewTicker(statusRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshDone:
				return
			case <-ticker.C:
				for i, t := range targets {
					gatherer.Updates <- status.Update{Key: t.reportKey(), Value: joins[i].Report()}
				}
			}
		}
	}()

	result := loadsupport.LaunchMinions(ctx, scenarioName, rc.minions, func(ctx context.Context, minionID uuid.UUID) error {
		g := loadsupport.NewBatteryStateGenerator(scenarioName)
		for i := 0; i < rc.recordsPerMinion; i++ {
			b := g.Next()
			if err := fanout.Emit(b); err != nil {
				return err
			}
			var errs []error
			for _, t := range targets {
				if err := t.store.Save(ctx, b); err != nil {
					errs = append(errs, fmt.Errorf("minion '%s' unable to save battery state '%s' into %s: %w", minionID, b.PrimaryKey(), t.stepName(scenarioName), err))
				}
			}
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
		}
		return nil
	})

	gatherer.Updates <- status.Update{Key: string(statusKeyNumLaunched), Value: result.NumLaunched}
	gatherer.Updates <- status.Update{Key: string(statusKeyNumFailed), Value: result.NumFailed}
	lp.LogScenarioEvent(fmt.Sprintf("%d minion/-s finished, %d of them failed -- waiting for %d join/-s to complete", result.NumLaunched, result.NumFailed, len(joins)), scenarioName, log.InfoLevel)

	results := make([]StepResult, len(joins))
	failed := false
	for i, rj := range joins {
		results[i] = rj.Finish()
		failed = failed || results[i].Failed()
	}

	close(refreshDone)
	<-refreshStopped

	for i, t := range targets {
		gatherer.Updates <- status.Update{Key: t.reportKey(), Value: results[i].Report}
	}
	gatherer.Updates <- status.Update{Key: string(statusKeyFailed), Value: failed}

	return results

}

func (t saveAndPollTarget) stepName(scenarioName string) string {

	if t.name == "" {
		return scenarioName
	}

	return fmt.Sprintf("%s-%s", scenarioName, t.name)

}

func (t saveAndPollTarget) reportKey() string {

	if t.name == "" {
		return string(statusKeyReport)
	}

	return fmt.Sprintf("%s.%s", statusKeyReport, t.name)

}

func appendState(gatherer *status.Gatherer, stateList *[]runnerState, s runnerState) {

	*stateList = append(*stateList, s)
	gatherer.Updates <- status.Update{Key: string(statusKeyCurrentState), Value: string(s)}

}

// TestScenarios runs all registered scenarios concurrently and returns the joined errors of all
// scenarios that failed.
func (t *Tester) TestScenarios(ctx context.Context) error {

	clientID := client.ID()
	lp.LogScenarioEvent(fmt.Sprintf("%s: scenario tester starting %d runner/-s", clientID, len(runners)), scenarioTesterName, log.InfoLevel)

	var wg sync.WaitGroup
	var m sync.Mutex
	var errs []error
	for i := 0; i < len(runners); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			gatherer := status.NewGatherer()
			listenReady := make(chan struct{})
			go gatherer.Listen(listenReady)
			<-listenReady

			defer gatherer.StopListen()

			rn := runners[i]

			api.RegisterStatefulActor(api.Scenarios, rn.getSourceName(), gatherer.AssembleStatusCopy)

			if err := rn.runScenario(ctx, t.HzCluster, t.HzMembers, gatherer); err != nil {
				m.Lock()
				errs = append(errs, err)
				m.Unlock()
			}
		}(i)
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		lp.LogScenarioEvent(fmt.Sprintf("%d of %d scenario/-s failed", len(errs), len(runners)), scenarioTesterName, log.ErrorLevel)
		return err
	}

	lp.LogScenarioEvent("all scenarios passed", scenarioTesterName, log.InfoLevel)
	return nil

}

func scenarioError(scenarioName string, results ...StepResult) error {

	var errs []error
	for _, r := range results {
		if err := r.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: '%s': %w", ErrScenarioFailed, scenarioName, errors.Join(errs...))
	}

	return nil

}
