package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ApiEvent           = "api event"
	ScenarioEvent      = "scenario event"
	CorrelationEvent   = "correlation event"
	PollerEvent        = "poller event"
	VerifierEvent      = "verifier event"
	StateCleanerEvent  = "state cleaner event"
	TimingEvent        = "timing event"
	IoEvent            = "io event"
	HzEvent            = "hazelcast event"
	ConfigurationEvent = "configuration event"
	InternalStateEvent = "internal state event"
)

type LogProvider struct {
	ClientID uuid.UUID
}

var (
	instance *LogProvider
	once     sync.Once
)

func init() {

	log.SetFormatter(&log.JSONFormatter{})

	logLevel, out := evaluateLogLevel(os.Getenv("LOG_LEVEL"))

	log.SetLevel(logLevel)
	log.SetOutput(out)
	log.SetReportCaller(false)

}

func evaluateLogLevel(definedLogLevel string) (log.Level, io.Writer) {

	switch strings.ToLower(definedLogLevel) {
	case "trace":
		return log.TraceLevel, os.Stdout
	case "debug":
		return log.DebugLevel, os.Stdout
	case "info":
		return log.InfoLevel, os.Stdout
	case "warn":
		return log.WarnLevel, os.Stderr
	case "error":
		return log.ErrorLevel, os.Stderr
	default:
		return log.InfoLevel, os.Stdout
	}

}

// GetLogProviderInstance returns the process-wide log provider. The client ID given on the
// first invocation sticks.
func GetLogProviderInstance(clientID uuid.UUID) *LogProvider {

	once.Do(func() {
		instance = &LogProvider{ClientID: clientID}
	})

	return instance

}

func (lp *LogProvider) LogIoEvent(msg string, level log.Level) {

	lp.doLog(msg, log.Fields{"kind": IoEvent}, level)

}

func (lp *LogProvider) LogApiEvent(msg string, level log.Level) {

	lp.doLog(msg, log.Fields{"kind": ApiEvent}, level)

}

func (lp *LogProvider) LogScenarioEvent(msg string, scenarioName string, level log.Level) {

	fields := log.Fields{
		"kind":     ScenarioEvent,
		"scenario": scenarioName,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogCorrelationEvent(msg string, stepName string, level log.Level) {

	fields := log.Fields{
		"kind": CorrelationEvent,
		"step": stepName,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogPollerEvent(msg string, stepName string, level log.Level) {

	fields := log.Fields{
		"kind": PollerEvent,
		"step": stepName,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogVerifierEvent(msg string, stepName string, level log.Level) {

	fields := log.Fields{
		"kind": VerifierEvent,
		"step": stepName,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogTimingEvent(operation string, stepName string, tookMs int64, level log.Level) {

	fields := log.Fields{
		"kind":      TimingEvent,
		"operation": operation,
		"step":      stepName,
		"tookMs":    tookMs,
	}

	lp.doLog(fmt.Sprintf("'%s' took %d ms", operation, tookMs), fields, level)

}

func (lp *LogProvider) LogStateCleanerEvent(msg string, level log.Level) {

	lp.doLog(msg, log.Fields{"kind": StateCleanerEvent}, level)

}

func (lp *LogProvider) LogHzEvent(msg string, level log.Level) {

	lp.doLog(msg, log.Fields{"kind": HzEvent}, level)

}

func (lp *LogProvider) LogInternalStateEvent(msg string, level log.Level) {

	lp.doLog(msg, log.Fields{"kind": InternalStateEvent}, level)

}

func (lp *LogProvider) LogErrUponConfigRetrieval(keyPath string, err error, level log.Level) {

	lp.LogConfigEvent(keyPath, "config file", fmt.Sprintf("encountered error upon attempt to extract config value: %v", err), level)

}

func (lp *LogProvider) LogConfigEvent(configValue string, source string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":   ConfigurationEvent,
		"value":  configValue,
		"source": source,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) doLog(msg string, fields log.Fields, level log.Level) {

	fields["caller"] = getCaller()
	fields["client"] = lp.ClientID

	switch level {
	case log.FatalLevel:
		log.WithFields(fields).Fatal(msg)
	case log.ErrorLevel:
		log.WithFields(fields).Error(msg)
	case log.WarnLevel:
		log.WithFields(fields).Warn(msg)
	case log.InfoLevel:
		log.WithFields(fields).Info(msg)
	case log.DebugLevel:
		log.WithFields(fields).Debug(msg)
	default:
		log.WithFields(fields).Trace(msg)
	}

}

func getCaller() string {

	// Skipping three stacks will bring us to the method or function that originally invoked the logging method
	pc, _, _, ok := runtime.Caller(3)

	if !ok {
		return "unknown"
	}

	file, line := runtime.FuncForPC(pc).FileLine(pc)
	return fmt.Sprintf("%s:%d", file, line)

}
