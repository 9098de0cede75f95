package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/berguner/looper/internal/config"
	internal_http "github.com/berguner/looper/internal/http"
	internal_storage "github.com/berguner/looper/internal/storage"
	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/service"
	"github.com/berguner/looper/pkg/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// SetupCLI registers looper's commands and global flags on rootCmd.
func SetupCLI(rootCmd *cobra.Command, env config.Env, logger *logrus.Logger) {
	rootCmd.PersistentFlags().StringP("config", "c", "project_config.yaml", "Project config file")
	rootCmd.PersistentFlags().String("db", env.DBConnStr, "Ledger database connection string (in-memory ledger when empty)")
	rootCmd.SilenceUsage = true

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit every sample that has no flag for the selected pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ignore, _ := cmd.Flags().GetBool("ignore-flags")
			return submit(cmd, env, logger, service.Policy{IgnoreFlags: ignore})
		},
	}
	runCmd.Flags().Bool("ignore-flags", false, "Submit regardless of existing flags")

	rerunCmd := &cobra.Command{
		Use:   "rerun",
		Short: "Resubmit samples whose flag has one of the given statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringSlice("status")
			statuses, err := parseStatuses(raw)
			if err != nil {
				return err
			}
			return submit(cmd, env, logger, service.Policy{Rerun: statuses})
		},
	}
	rerunCmd.Flags().StringSlice("status", []string{string(models.FailedFlagStatus)}, "Flag statuses to resubmit")

	for _, cmd := range []*cobra.Command{runCmd, rerunCmd} {
		cmd.Flags().StringSliceP("pipeline", "p", nil, "Pipeline keys to submit to (all when empty)")
		cmd.Flags().Int("workers", 0, "Concurrent submissions (number of CPUs when 0)")
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Count flag files per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd, logger)
		},
	}
	checkCmd.Flags().StringSliceP("kind", "k", nil, "Flag statuses to report (all when empty)")
	checkCmd.Flags().String("results-root", "", "Scan this results folder instead of the project's samples")
	checkCmd.Flags().BoolP("verbose", "v", false, "List the flag files")

	flagsCmd := &cobra.Command{
		Use:   "flags [sample]",
		Short: "Show the flag files and run status of one sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sampleFlags(cmd, logger, args[0])
		},
	}
	flagsCmd.Flags().StringSliceP("pipeline", "p", nil, "Pipeline names to filter by")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Report flag changes under the results folder as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, logger)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project's run status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, logger)
		},
	}
	serveCmd.Flags().String("port", env.Port, "Port to listen on")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded submission decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return history(cmd, logger)
		},
	}
	historyCmd.Flags().String("sample", "", "Only this sample")
	historyCmd.Flags().String("pipeline", "", "Only this pipeline key")

	rootCmd.AddCommand(runCmd, rerunCmd, checkCmd, flagsCmd, watchCmd, serveCmd, historyCmd)
}

func submit(cmd *cobra.Command, env config.Env, logger *logrus.Logger, policy service.Policy) error {
	prj, err := loadProject(cmd)
	if err != nil {
		return err
	}
	keys, _ := cmd.Flags().GetStringSlice("pipeline")
	pipelines, err := selectPipelines(prj, keys)
	if err != nil {
		return err
	}
	workers, _ := cmd.Flags().GetInt("workers")

	store, err := openStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := service.NewSubmissionService(store, service.NewDryRunDispatcher(cmd.OutOrStdout()), logger,
		service.WithWorkers(workers))
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := svc.Run(ctx, prj, pipelines, policy)
	if err != nil {
		logger.Errorf("Submission failed: %v", err)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Submitted: %d, skipped: %d, failed: %d\n",
		report.Submitted, report.Skipped, report.Failed)
	if report.Failed > 0 {
		ids := make([]string, 0, len(report.Errors))
		for id := range report.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(cmd.ErrOrStderr(), "- %s: %v\n", id, report.Errors[id])
		}
		return errors.Errorf("%d submissions failed", report.Failed)
	}
	return nil
}

func check(cmd *cobra.Command, logger *logrus.Logger) error {
	rawKinds, _ := cmd.Flags().GetStringSlice("kind")
	kinds, err := parseStatuses(rawKinds)
	if err != nil {
		return err
	}
	root, _ := cmd.Flags().GetString("results-root")
	verbose, _ := cmd.Flags().GetBool("verbose")

	var prj *models.Project
	if root == "" {
		if prj, err = loadProject(cmd); err != nil {
			return err
		}
	}
	index, err := service.NewAggregator(logger).FlagsByKind(prj, root, kinds...)
	if err != nil {
		logger.Errorf("Failed to collect flags: %v", err)
		return err
	}

	counts := service.Summarize(index)
	out := cmd.OutOrStdout()
	for _, kind := range models.AllFlagStatuses() {
		paths, ok := index[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%s: %d\n", kind, counts[kind])
		if verbose {
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(out, "  %s\n", path)
			}
		}
	}
	return nil
}

func sampleFlags(cmd *cobra.Command, logger *logrus.Logger, name string) error {
	prj, err := loadProject(cmd)
	if err != nil {
		return err
	}
	var sample models.Sample
	for _, s := range prj.Samples {
		if n, _ := s.Name(); n == name {
			sample = s
			break
		}
	}
	if sample == nil {
		return errors.Errorf("sample %q is not in project %s", name, prj.Name)
	}
	pipelines, _ := cmd.Flags().GetStringSlice("pipeline")

	store := service.NewFlagStore(logger)
	flags, err := store.SampleFlags(prj, sample, pipelines...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(flags) == 0 {
		fmt.Fprintf(out, "No flags found for %s.\n", name)
		return nil
	}
	sort.Strings(flags)
	for _, path := range flags {
		fmt.Fprintln(out, path)
	}

	matcher := service.NewPipelineMatcher(pipelines...)
	for _, p := range prj.Pipelines {
		if !matcher.Match(p.FlagPrefix()) {
			continue
		}
		state, err := store.SampleStatus(prj, sample, p.FlagPrefix())
		if err != nil {
			return err
		}
		status := "never ran"
		if state.HasFlag() {
			status = string(state.Status())
		}
		fmt.Fprintf(out, "%s: %s\n", p.Key, status)
	}
	return nil
}

func watch(cmd *cobra.Command, logger *logrus.Logger) error {
	prj, err := loadProject(cmd)
	if err != nil {
		return err
	}
	root, ok := prj.ResultsSubdir()
	if !ok {
		return &models.MissingMetadataError{Key: models.ResultsSubdirKey}
	}
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := service.NewAggregator(logger)
	out := cmd.OutOrStdout()
	return service.NewFlagWatcher(root, logger).Watch(ctx, func(ev service.FlagEvent) {
		fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.RFC3339), ev.Op, ev.Path)
		index, err := agg.FlagsByKind(prj, "")
		if err != nil {
			logger.Errorf("Failed to rescan flags: %v", err)
			return
		}
		counts := service.Summarize(index)
		parts := make([]string, 0, len(counts))
		for _, kind := range models.AllFlagStatuses() {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, counts[kind]))
		}
		fmt.Fprintln(out, "  "+strings.Join(parts, " "))
	})
}

func serve(cmd *cobra.Command, logger *logrus.Logger) error {
	prj, err := loadProject(cmd)
	if err != nil {
		return err
	}
	port, _ := cmd.Flags().GetString("port")
	store, err := openStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc := service.NewSubmissionService(store, nil, logger)
	return internal_http.StartServer(ctx, port, internal_http.NewServer(prj, svc, logger))
}

func history(cmd *cobra.Command, logger *logrus.Logger) error {
	sample, _ := cmd.Flags().GetString("sample")
	pipeline, _ := cmd.Flags().GetString("pipeline")
	store, err := openStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := service.NewSubmissionService(store, nil, logger).History(sample, pipeline)
	if err != nil {
		logger.Errorf("Failed to list submissions: %v", err)
		return err
	}
	out := cmd.OutOrStdout()
	if len(subs) == 0 {
		fmt.Fprintf(out, "No submissions found.\n")
		return nil
	}
	for _, sub := range subs {
		detail := sub.Command
		if sub.ErrorMsg != "" {
			detail = "error: " + sub.ErrorMsg
		}
		fmt.Fprintf(out, "- %s %s/%s %s (prior: %s) %s\n",
			sub.CreatedAt.Format(time.RFC3339), sub.Sample, sub.Pipeline, sub.Decision,
			priorStatus(sub.PriorStatus), detail)
	}
	return nil
}

func priorStatus(status models.FlagStatus) string {
	if status == "" {
		return "none"
	}
	return string(status)
}

func loadProject(cmd *cobra.Command) (*models.Project, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadProject(path)
}

func openStore(cmd *cobra.Command, logger *logrus.Logger) (storage.Store, error) {
	dbConnStr, _ := cmd.Flags().GetString("db")
	logger.Debugf("Opening submission ledger (database: %t)", dbConnStr != "")
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		logger.Errorf("Failed to initialize store: %v", err)
		return nil, errors.Wrap(err, "initialize store")
	}
	return store, nil
}

// selectPipelines returns the project pipelines named by keys, in the order
// given, or every pipeline when keys is empty.
func selectPipelines(prj *models.Project, keys []string) ([]models.PipelineSpec, error) {
	if len(keys) == 0 {
		if len(prj.Pipelines) == 0 {
			return nil, errors.New("project declares no pipelines")
		}
		return prj.Pipelines, nil
	}
	out := make([]models.PipelineSpec, 0, len(keys))
	for _, key := range keys {
		p, ok := config.Pipeline(prj, key)
		if !ok {
			return nil, errors.Errorf("pipeline %q is not declared in the project", key)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseStatuses(raw []string) ([]models.FlagStatus, error) {
	out := make([]models.FlagStatus, 0, len(raw))
	for _, r := range raw {
		status := models.FlagStatus(strings.ToLower(strings.TrimSpace(r)))
		if !status.Valid() {
			return nil, errors.Wrapf(models.ErrUnknownFlagStatus, "%q", r)
		}
		out = append(out, status)
	}
	return out, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
