package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/h2oai/h2o-3-sub001/internal/api"
	"github.com/h2oai/h2o-3-sub001/internal/cloud"
	"github.com/h2oai/h2o-3-sub001/internal/config"
	"github.com/h2oai/h2o-3-sub001/internal/job"
	"github.com/h2oai/h2o-3-sub001/internal/model"
	"github.com/h2oai/h2o-3-sub001/internal/node"
	"github.com/h2oai/h2o-3-sub001/internal/orchestrator"
	"github.com/h2oai/h2o-3-sub001/internal/report"
	"github.com/h2oai/h2o-3-sub001/internal/store"
	"github.com/h2oai/h2o-3-sub001/internal/suite"
)

// errRunFailed is returned when every job ran but the run is not successful.
var errRunFailed = errors.New("test run failed")

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the clouds and run the selected tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := initParams(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logrus.NewEntry(logger), cmd.OutOrStdout())
		},
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Entry, out io.Writer) error {
	resultsDir, err := filepath.Abs(cfg.ResultsDir)
	if err != nil {
		return fmt.Errorf("results dir: %w", err)
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	tests, err := discover(cfg)
	if err != nil {
		return fmt.Errorf("discover tests: %w", err)
	}
	jobs := buildJobs(cfg, tests, resultsDir)
	clouds := buildClouds(cfg, resultsDir, logger)

	reporter, err := report.Open(resultsDir, cfg.JUnit)
	if err != nil {
		return err
	}
	defer reporter.Close()

	state := orchestrator.NewState()
	broker := orchestrator.NewBroker()
	opts := []orchestrator.Option{
		orchestrator.WithState(state),
		orchestrator.WithBroker(broker),
	}

	var history store.Store
	if cfg.HistoryDB != "" {
		db, err := store.NewSQLiteStore(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()
		history = db
		opts = append(opts, orchestrator.WithHistory(store.Recorder{Store: db}))
	}

	orch := orchestrator.New(orchestrator.Config{
		RunID:             model.NewID(),
		AcquireTimeout:    cfg.AcquireTimeout,
		PollInterval:      cfg.PollInterval,
		TolerateUnhealthy: cfg.TolerateUnhealthy,
	}, clouds, jobs, cloud.NewHealthChecker(cfg.HealthTimeout), reporter, logger, opts...)

	stopSignals := orchestrator.WatchSignals(state, logger)
	defer stopSignals()

	if cfg.StatusAddr != "" {
		srv := api.NewServer(cfg.StatusAddr, orch, broker, history, logger)
		stopServer := serve(ctx, srv, logger)
		defer stopServer()
	}

	logger.WithFields(logrus.Fields{
		"run_id":  orch.RunID(),
		"tests":   len(jobs),
		"clouds":  len(clouds),
		"results": resultsDir,
	}).Info("starting test run")

	summary, runErr := orch.Run(ctx)
	printSummary(out, orch.RunID(), summary, resultsDir)

	if runErr != nil {
		return fmt.Errorf("run %s: %w", orch.RunID(), runErr)
	}
	if !summary.Successful() {
		return errRunFailed
	}
	return nil
}

func buildJobs(cfg config.Config, tests []suite.Test, resultsDir string) []*job.Job {
	jcfg := job.Config{
		RBin:         cfg.RBin,
		PythonBin:    cfg.PythonBin,
		PhantomJSBin: cfg.PhantomJSBin,
		OutputDir:    resultsDir,
	}
	jobs := make([]*job.Job, 0, len(tests))
	for _, t := range tests {
		jobs = append(jobs, job.New(t.Path, t.Class, jcfg))
	}
	return jobs
}

// buildClouds returns the external cloud when --usecloud is set, otherwise
// cfg.Clouds local groups of cfg.Nodes nodes each.
func buildClouds(cfg config.Config, resultsDir string, logger *logrus.Entry) []cloud.Cloud {
	if cfg.UseCloud != "" {
		return []cloud.Cloud{cloud.NewExternal(0, cfg.UseCloud)}
	}

	gcfg := cloud.GroupConfig{
		Node: node.Config{
			Bin:       cfg.NodeBin,
			Jar:       cfg.Jar,
			Xmx:       cfg.Xmx,
			JVMArgs:   cfg.JVMArgs,
			IP:        cfg.IP,
			BasePort:  cfg.BasePort,
			OutputDir: resultsDir,
		},
		Nodes:        cfg.Nodes,
		ReadyTimeout: cfg.ReadyTimeout,
	}
	clouds := make([]cloud.Cloud, 0, cfg.Clouds)
	for i := range cfg.Clouds {
		clouds = append(clouds, cloud.NewGroup(i, gcfg, logger))
	}
	return clouds
}

// serve runs srv in the background. The returned function stops it and waits.
func serve(ctx context.Context, srv *api.Server, logger *logrus.Entry) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			logger.WithError(err).Warn("status server failed")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printSummary(out io.Writer, runID string, s model.Summary, resultsDir string) {
	fmt.Fprintf(out, "\n======= SUMMARY =======\n")
	fmt.Fprintf(out, "Run:              %s\n", runID)
	fmt.Fprintf(out, "Total:            %d\n", s.Total)
	fmt.Fprintf(out, "Passed:           %d\n", s.Passed)
	fmt.Fprintf(out, "Failed:           %d\n", s.Failed)
	fmt.Fprintf(out, "Skipped:          %d\n", s.Skipped)
	fmt.Fprintf(out, "Did not complete: %d\n", s.DidNotComplete)
	fmt.Fprintf(out, "Cancelled:        %d\n", s.Cancelled)
	fmt.Fprintf(out, "Terminated:       %d\n", s.Terminated)
	fmt.Fprintf(out, "Tolerated:        %d\n", s.Tolerated)
	fmt.Fprintf(out, "Results in %s\n", resultsDir)
	if s.Successful() {
		fmt.Fprintf(out, "RESULT: PASS\n")
	} else {
		fmt.Fprintf(out, "RESULT: FAIL\n")
	}
}
