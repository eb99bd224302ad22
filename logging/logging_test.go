package logging

import (
	"os"
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	checkMark = "✓"
	ballotX   = "✗"
)

func TestEvaluateLogLevel(t *testing.T) {

	t.Log("given a log level defined in the environment")
	{
		t.Log("\twhen level is known, regardless of case")
		{
			level, out := evaluateLogLevel("WARN")

			msg := "\t\tmatching level must be returned along with stderr"
			if level == log.WarnLevel && out == os.Stderr {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, level)
			}
		}

		t.Log("\twhen level is unknown")
		{
			level, out := evaluateLogLevel("verbose")

			msg := "\t\tinfo level must be returned along with stdout"
			if level == log.InfoLevel && out == os.Stdout {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, level)
			}
		}
	}

}

func TestLogProvider(t *testing.T) {

	t.Log("given a log provider")
	{
		hook := test.NewGlobal()
		originalLevel := log.GetLevel()
		log.SetLevel(log.TraceLevel)
		defer log.SetLevel(originalLevel)

		clientID := uuid.New()
		lp := &LogProvider{ClientID: clientID}

		t.Log("\twhen scenario event is logged")
		{
			hook.Reset()
			lp.LogScenarioEvent("minions launched", "hzMapBatteryState", log.InfoLevel)

			entry := hook.LastEntry()

			msg := "\t\tentry must carry kind, scenario and client"
			if entry != nil && entry.Data["kind"] == ScenarioEvent && entry.Data["scenario"] == "hzMapBatteryState" && entry.Data["client"] == clientID {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, entry)
			}

			msg = "\t\tentry must have been logged on requested level with caller"
			if entry.Level == log.InfoLevel && entry.Data["caller"] != nil && entry.Message == "minions launched" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, entry.Level)
			}
		}

		t.Log("\twhen timing event is logged")
		{
			hook.Reset()
			lp.LogTimingEvent("time-to-hzMapBatteryState", "hzMapBatteryState", 42, log.TraceLevel)

			entry := hook.LastEntry()

			msg := "\t\tentry must carry operation and duration"
			if entry != nil && entry.Data["kind"] == TimingEvent && entry.Data["operation"] == "time-to-hzMapBatteryState" && entry.Data["tookMs"] == int64(42) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, entry)
			}
		}

		t.Log("\twhen poller event is logged on warn level")
		{
			hook.Reset()
			lp.LogPollerEvent("query failed", "hzMapBatteryState", log.WarnLevel)

			entry := hook.LastEntry()

			msg := "\t\tentry must have been logged on warn level with step name"
			if entry != nil && entry.Level == log.WarnLevel && entry.Data["step"] == "hzMapBatteryState" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, entry)
			}
		}

		t.Log("\twhen instance is requested twice with different client ids")
		{
			first := GetLogProviderInstance(uuid.New())
			second := GetLogProviderInstance(uuid.New())

			msg := "\t\tsame instance must be returned"
			if first == second && first.ClientID == second.ClientID {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}
