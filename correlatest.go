package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"correlatest/api"
	"correlatest/client"
	"correlatest/logging"
	"correlatest/scenarios"
	"correlatest/state"
)

type globalConfig struct {
	hzCluster                string
	hzMembers                []string
	apiAddress               string
	errorDuringCleanBehavior state.ErrorDuringCleanBehavior
}

var lp *logging.LogProvider

var (
	runCleaners  = state.RunCleaners
	runScenarios = func(ctx context.Context, hzCluster string, hzMembers []string) error {
		return (&scenarios.Tester{HzCluster: hzCluster, HzMembers: hzMembers}).TestScenarios(ctx)
	}
)

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func newRootCommand() *cobra.Command {

	var configFilePath string
	var useUniSocketClient bool

	cmd := &cobra.Command{
		Use:           "correlatest",
		Short:         "correlatest - correlation join tests for distributed data systems",
		Long:          "Pushes records into distributed data systems, polls them back and correlates both sides by key.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), map[string]any{
				client.ArgConfigFilePath:     configFilePath,
				client.ArgUseUniSocketClient: useUniSocketClient,
			}, client.DefaultConfigPropertyAssigner{})
		},
	}

	cmd.Flags().StringVar(&configFilePath, client.ArgConfigFilePath, client.DefaultConfigFilePath, "path to custom configuration file")
	cmd.Flags().BoolVar(&useUniSocketClient, client.ArgUseUniSocketClient, false, "use unisocket instead of smart hazelcast clients")

	return cmd

}

func populateGlobalConfig(a client.ConfigPropertyAssigner) (*globalConfig, error) {

	var assignmentOps []func() error

	var hzCluster string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("hazelcast.cluster", client.ValidateString, func(v any) {
			hzCluster = v.(string)
		})
	})

	var hzMembers []string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("hazelcast.members", client.ValidateStringSlice, func(v any) {
			for _, m := range v.([]any) {
				hzMembers = append(hzMembers, m.(string))
			}
		})
	})

	var apiAddress string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("api.address", client.ValidateString, func(v any) {
			apiAddress = v.(string)
		})
	})

	var errorDuringCleanBehavior state.ErrorDuringCleanBehavior
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("stateCleaner.errorBehavior", state.ValidateErrorDuringCleanBehavior, func(v any) {
			errorDuringCleanBehavior = state.ErrorDuringCleanBehavior(v.(string))
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &globalConfig{
		hzCluster:                hzCluster,
		hzMembers:                hzMembers,
		apiAddress:               apiAddress,
		errorDuringCleanBehavior: errorDuringCleanBehavior,
	}, nil

}

func run(ctx context.Context, args map[string]any, a client.ConfigPropertyAssigner) error {

	if err := client.ParseConfigs(args); err != nil {
		return err
	}

	c, err := populateGlobalConfig(a)
	if err != nil {
		lp.LogInternalStateEvent(fmt.Sprintf("unable to populate global config: %v", err), log.ErrorLevel)
		return err
	}

	apiCtx, stopApi := context.WithCancel(ctx)
	defer stopApi()
	api.Expose(apiCtx, c.apiAddress)

	if err := runCleaners(ctx, c.hzCluster, c.hzMembers); err != nil {
		if c.errorDuringCleanBehavior == state.Fail {
			lp.LogStateCleanerEvent(fmt.Sprintf("state cleaning failed, aborting: %v", err), log.ErrorLevel)
			return err
		}
		lp.LogStateCleanerEvent(fmt.Sprintf("state cleaning failed, continuing anyway: %v", err), log.WarnLevel)
	}

	return runScenarios(ctx, c.hzCluster, c.hzMembers)

}

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		lp.LogInternalStateEvent(fmt.Sprintf("correlatest finished with error: %v", err), log.ErrorLevel)
		stop()
		os.Exit(1)
	}

	lp.LogInternalStateEvent("correlatest finished successfully", log.InfoLevel)

}
