package loadsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"correlatest/client"
	"correlatest/logging"
)

type (
	// MinionConfig launches MinionsPerLaunch minions every LaunchPeriod until NumMinions are running.
	MinionConfig struct {
		NumMinions       int
		MinionsPerLaunch int
		LaunchPeriod     time.Duration
	}
	Minion       func(ctx context.Context, minionID uuid.UUID) error
	LaunchResult struct {
		NumLaunched int
		NumFailed   int
	}
)

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func (c MinionConfig) limiter() *rate.Limiter {

	perLaunch := c.MinionsPerLaunch
	if perLaunch <= 0 || perLaunch > c.NumMinions {
		perLaunch = c.NumMinions
	}
	if c.LaunchPeriod <= 0 || perLaunch == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Limit(float64(perLaunch)/c.LaunchPeriod.Seconds()), perLaunch)

}

// LaunchMinions starts the configured number of minions at the configured pace and waits for all of
// them to finish. A failed minion does not affect its siblings. Launching stops early once the
// context is done; minions already running are still waited for.
func LaunchMinions(ctx context.Context, scenarioName string, c MinionConfig, m Minion) LaunchResult {

	l := c.limiter()
	perLaunch := l.Burst()

	lp.LogScenarioEvent(fmt.Sprintf("launching %d minion/-s in batches of %d", c.NumMinions, perLaunch), scenarioName, log.InfoLevel)

	var wg sync.WaitGroup
	var numFailed atomic.Int64
	launched := 0

	for launched < c.NumMinions {
		n := perLaunch
		if remaining := c.NumMinions - launched; remaining < n {
			n = remaining
		}
		if err := l.WaitN(ctx, n); err != nil {
			lp.LogScenarioEvent(fmt.Sprintf("stopped launching minions after %d of %d: %v", launched, c.NumMinions, err), scenarioName, log.WarnLevel)
			break
		}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(minionID uuid.UUID) {
				defer wg.Done()
				if err := m(ctx, minionID); err != nil {
					numFailed.Add(1)
					lp.LogScenarioEvent(fmt.Sprintf("minion '%s' failed: %v", minionID, err), scenarioName, log.WarnLevel)
				}
			}(uuid.New())
		}
		launched += n
		lp.LogScenarioEvent(fmt.Sprintf("%d of %d minion/-s launched", launched, c.NumMinions), scenarioName, log.TraceLevel)
	}

	wg.Wait()

	return LaunchResult{NumLaunched: launched, NumFailed: int(numFailed.Load())}

}
