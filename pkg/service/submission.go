package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SubmissionJob is everything a dispatcher needs to launch one pipeline run.
type SubmissionJob struct {
	Project     string
	SampleName  string
	Sample      models.Sample
	Pipeline    models.PipelineSpec
	Folder      string
	Args        string
	Command     string
	ProjectData map[string]interface{}
}

// Dispatcher hands a prepared job to whatever actually runs it (a cluster
// scheduler, a local shell, ...).
type Dispatcher interface {
	Dispatch(ctx context.Context, job SubmissionJob) error
}

// DryRunDispatcher writes each command line instead of running it.
type DryRunDispatcher struct {
	out io.Writer
	mu  sync.Mutex
}

func NewDryRunDispatcher(out io.Writer) *DryRunDispatcher {
	return &DryRunDispatcher{out: out}
}

func (d *DryRunDispatcher) Dispatch(ctx context.Context, job SubmissionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.out, "%s\t%s\n", job.SampleName, job.Command)
	return err
}

// Policy decides which flagged samples still qualify for submission.
// Samples without any flag for the pipeline always qualify.
type Policy struct {
	IgnoreFlags bool                // Submit regardless of flags
	Rerun       []models.FlagStatus // Flag statuses that still qualify, e.g. failed
}

func (p Policy) needsSubmission(state RunState) bool {
	if p.IgnoreFlags || !state.HasFlag() {
		return true
	}
	for _, status := range p.Rerun {
		if state.Status() == status {
			return true
		}
	}
	return false
}

// SampleState pairs a sample with its run state for one pipeline.
type SampleState struct {
	Sample models.Sample
	State  RunState
}

type SampleError struct {
	Sample models.Sample
	Err    error
}

// Plan is the submission decision for one pipeline across a project.
type Plan struct {
	Pipeline models.PipelineSpec
	ToSubmit []SampleState
	Skipped  []SampleState
	Invalid  []SampleError
}

// Report summarizes a Run.
type Report struct {
	Submitted   int
	Skipped     int
	Failed      int
	Errors      map[string]error // By "<sample>/<pipeline key>"
	Submissions []models.Submission
}

// SettingsFunc supplies the resource request for a sample and pipeline.
type SettingsFunc func(sample models.Sample, pipeline models.PipelineSpec) models.SubmissionSettings

type SubmissionOption func(*SubmissionService)

func WithWorkers(n int) SubmissionOption {
	return func(s *SubmissionService) { s.workers = n }
}

func WithClock(now func() time.Time) SubmissionOption {
	return func(s *SubmissionService) { s.now = now }
}

func WithSettings(fn SettingsFunc) SubmissionOption {
	return func(s *SubmissionService) { s.settings = fn }
}

// SubmissionService drives the decide-compose-dispatch cycle per sample and
// keeps a ledger of every decision.
type SubmissionService struct {
	store      storage.Store
	dispatcher Dispatcher
	logger     Logger
	flags      *FlagStore
	composer   *ArgumentComposer
	settings   SettingsFunc
	workers    int
	now        func() time.Time
}

func NewSubmissionService(store storage.Store, dispatcher Dispatcher, logger Logger, opts ...SubmissionOption) *SubmissionService {
	logger = orNop(logger)
	s := &SubmissionService{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		flags:      NewFlagStore(logger),
		composer:   NewArgumentComposer(logger),
		settings: func(_ models.Sample, pipeline models.PipelineSpec) models.SubmissionSettings {
			return pipeline.Resources
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan reads the run state of every sample for pipeline and splits the
// samples into those to submit and those to leave alone.
func (s *SubmissionService) Plan(prj *models.Project, pipeline models.PipelineSpec, policy Policy) (Plan, error) {
	if prj == nil {
		return Plan{}, errors.New("project is required")
	}
	if _, ok := prj.ResultsSubdir(); !ok {
		return Plan{}, &models.MissingMetadataError{Key: models.ResultsSubdirKey}
	}
	plan := Plan{Pipeline: pipeline}
	states := make([]SampleState, 0, len(prj.Samples))
	for _, sample := range prj.Samples {
		state, err := s.flags.SampleStatus(prj, sample, pipeline.FlagPrefix())
		if err != nil {
			plan.Invalid = append(plan.Invalid, SampleError{Sample: sample, Err: err})
			continue
		}
		states = append(states, SampleState{Sample: sample, State: state})
	}
	plan.ToSubmit, plan.Skipped = Partition(states, func(ss SampleState) bool {
		return policy.needsSubmission(ss.State)
	})
	s.logger.Infof("Pipeline %s: %d to submit, %d skipped, %d invalid",
		pipeline.Key, len(plan.ToSubmit), len(plan.Skipped), len(plan.Invalid))
	return plan, nil
}

// Run plans and submits every pipeline for every sample of prj. Failures
// are isolated per sample: they are recorded and reported, and the rest of
// the project carries on.
func (s *SubmissionService) Run(ctx context.Context, prj *models.Project, pipelines []models.PipelineSpec, policy Policy) (Report, error) {
	report := Report{Errors: map[string]error{}}
	var mu sync.Mutex
	collect := func(sub models.Submission, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch sub.Decision {
		case models.SubmittedDecision:
			report.Submitted++
		case models.SkippedDecision:
			report.Skipped++
		case models.FailedDecision:
			report.Failed++
		}
		report.Submissions = append(report.Submissions, sub)
		if err != nil {
			report.Errors[jobID(sub.Sample, sub.Pipeline)] = err
		}
	}

	pool := NewWorkerPool(ctx, s.logger)
	pool.Start(s.workers)
	defer pool.Stop()

	data := SampleIndependentData(prj, s.logger)
	for _, pipeline := range pipelines {
		plan, err := s.Plan(prj, pipeline, policy)
		if err != nil {
			return report, errors.Wrapf(err, "plan pipeline %s", pipeline.Key)
		}

		for _, invalid := range plan.Invalid {
			name, _ := invalid.Sample.Name()
			s.logger.Errorf("Sample %q cannot be submitted to %s: %v", name, pipeline.Key, invalid.Err)
			sub := s.newSubmission(prj, name, pipeline, "")
			sub.Decision = models.FailedDecision
			sub.ErrorMsg = invalid.Err.Error()
			err := errors.Wrap(invalid.Err, "read run state")
			if recErr := s.record(sub); recErr != nil {
				err = errors.WithMessagef(err, "also failed to record decision: %v", recErr)
			}
			collect(sub, err)
		}
		for _, skipped := range plan.Skipped {
			s.logger.Infof("Skipping %s for %s: flag %s", skipped.State.Sample, pipeline.Key, skipped.State.Current.Path)
			sub := s.newSubmission(prj, skipped.State.Sample, pipeline, skipped.State.Status())
			sub.Decision = models.SkippedDecision
			collect(sub, s.record(sub))
		}

		jobs := make([]Job, 0, len(plan.ToSubmit))
		for _, ss := range plan.ToSubmit {
			ss, pipeline := ss, pipeline
			jobs = append(jobs, Job{
				ID: jobID(ss.State.Sample, pipeline.Key),
				Run: func(ctx context.Context) error {
					sub, err := s.submit(ctx, prj, pipeline, ss, data)
					if recErr := s.record(sub); err == nil {
						err = recErr
					}
					collect(sub, err)
					return err
				},
			})
		}
		for id, err := range pool.ExecuteJobs(ctx, "submit-"+pipeline.Key, jobs) {
			mu.Lock()
			if _, seen := report.Errors[id]; !seen {
				// Abandoned before it ran.
				report.Errors[id] = err
				report.Failed++
			}
			mu.Unlock()
		}
	}

	sort.SliceStable(report.Submissions, func(i, j int) bool {
		a, b := report.Submissions[i], report.Submissions[j]
		if a.Pipeline != b.Pipeline {
			return a.Pipeline < b.Pipeline
		}
		return a.Sample < b.Sample
	})
	s.logger.Infof("Submission summary: %d submitted, %d skipped, %d failed",
		report.Submitted, report.Skipped, report.Failed)
	return report, nil
}

func (s *SubmissionService) submit(ctx context.Context, prj *models.Project, pipeline models.PipelineSpec, ss SampleState, data map[string]interface{}) (models.Submission, error) {
	sub := s.newSubmission(prj, ss.State.Sample, pipeline, ss.State.Status())
	fail := func(err error) (models.Submission, error) {
		s.logger.Errorf("Failed to submit %s to %s: %v", ss.State.Sample, pipeline.Key, err)
		sub.Decision = models.FailedDecision
		sub.ErrorMsg = err.Error()
		return sub, err
	}

	folder, err := SampleFolder(prj, ss.Sample)
	if err != nil {
		return fail(err)
	}
	args, err := s.composer.ComposeArgs(pipeline.Key, s.settings(ss.Sample, pipeline), prj)
	if err != nil {
		return fail(err)
	}
	command := strings.TrimSpace(pipeline.Path + " " + args)
	sub.Command = command

	job := SubmissionJob{
		Project:     prj.Name,
		SampleName:  ss.State.Sample,
		Sample:      ss.Sample,
		Pipeline:    pipeline,
		Folder:      folder,
		Args:        args,
		Command:     command,
		ProjectData: data,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return fail(errors.Wrap(err, "dispatch"))
	}
	sub.Decision = models.SubmittedDecision
	s.logger.Infof("Submitted %s to %s", ss.State.Sample, pipeline.Key)
	return sub, nil
}

func (s *SubmissionService) newSubmission(prj *models.Project, sample string, pipeline models.PipelineSpec, prior models.FlagStatus) models.Submission {
	return models.Submission{
		ID:          uuid.NewString(),
		Project:     prj.Name,
		Sample:      sample,
		Pipeline:    pipeline.Key,
		PriorStatus: prior,
		CreatedAt:   s.now(),
	}
}

// record writes sub to the ledger in its own transaction.
func (s *SubmissionService) record(sub models.Submission) (err error) {
	if s.store == nil {
		return nil
	}
	txStore, err := s.store.Begin()
	if err != nil {
		s.logger.Errorf("Failed to begin transaction for submission %s: %v", sub.ID, err)
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.SaveSubmission(sub); err != nil {
		s.logger.Errorf("Failed to save submission %s: %v", sub.ID, err)
		return errors.Wrapf(err, "save submission %s", sub.ID)
	}
	return nil
}

// History returns recorded decisions for a sample and pipeline, newest first.
// Empty arguments match everything.
func (s *SubmissionService) History(sample, pipeline string) ([]models.Submission, error) {
	if s.store == nil {
		return nil, errors.New("no submission store configured")
	}
	return s.store.ListSubmissions(sample, pipeline)
}

func jobID(sample, pipeline string) string {
	return sample + "/" + pipeline
}
