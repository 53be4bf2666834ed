package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/llmstxt/internal/config"
)

type fakeJobs struct {
	mu        sync.Mutex
	sources   []string
	sweeps    int
	retention []time.Duration
	err       error
}

func (f *fakeJobs) Trigger(_ context.Context, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return "run-1", f.err
}

func (f *fakeJobs) CleanupStale(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, f.err
}

func (f *fakeJobs) PruneLogs(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retention = append(f.retention, olderThan)
	return 3, f.err
}

func (f *fakeJobs) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(t.Context(), WithLocation(time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestImmediateModeHasNoRegenerationJob(t *testing.T) {
	s := newScheduler(t)
	cfg := config.Default()
	cfg.Export.UpdateMode = config.UpdateImmediate
	jobs := &fakeJobs{}

	require.NoError(t, s.Register(cfg, jobs, jobs, jobs))
	assert.ElementsMatch(t, []string{JobSweep, JobPruneLogs}, s.JobNames())
}

func TestDailyRegenerationRunsAtConfiguredTime(t *testing.T) {
	s := newScheduler(t)
	cfg := config.Default()
	cfg.Export.UpdateMode = config.UpdateDaily
	cfg.Schedule.At = "04:30"
	jobs := &fakeJobs{}

	require.NoError(t, s.Register(cfg, jobs, jobs, jobs))
	assert.ElementsMatch(t, []string{JobRegenerate, JobSweep, JobPruneLogs}, s.JobNames())
	s.Start()

	next, ok := s.NextRun(JobRegenerate)
	require.True(t, ok)
	next = next.UTC()
	assert.Equal(t, 4, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, next.After(time.Now()))
	assert.WithinDuration(t, time.Now(), next, 24*time.Hour)
}

func TestWeeklyRegenerationRunsOnConfiguredDay(t *testing.T) {
	s := newScheduler(t)
	cfg := config.Default()
	cfg.Export.UpdateMode = config.UpdateWeekly
	cfg.Schedule.Weekday = "thursday"
	jobs := &fakeJobs{}

	require.NoError(t, s.Register(cfg, jobs, jobs, jobs))
	s.Start()

	next, ok := s.NextRun(JobRegenerate)
	require.True(t, ok)
	assert.Equal(t, time.Thursday, next.UTC().Weekday())
	assert.Equal(t, 3, next.UTC().Hour())
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Export.UpdateMode = config.UpdateDaily
	cfg.Schedule.At = "25:00"
	jobs := &fakeJobs{}
	require.Error(t, newScheduler(t).Register(cfg, jobs, jobs, jobs))

	cfg.Export.UpdateMode = config.UpdateWeekly
	cfg.Schedule.At = "03:00"
	cfg.Schedule.Weekday = "someday"
	require.Error(t, newScheduler(t).Register(cfg, jobs, jobs, jobs))

	_, ok := newScheduler(t).NextRun("missing")
	assert.False(t, ok)
}

func TestSweepJobRunsOnInterval(t *testing.T) {
	s := newScheduler(t)
	cfg := config.Default()
	cfg.Export.UpdateMode = config.UpdateImmediate
	cfg.Schedule.SweepInterval = 20 * time.Millisecond
	jobs := &fakeJobs{}

	require.NoError(t, s.Register(cfg, jobs, jobs, jobs))
	s.Start()
	require.Eventually(t, func() bool { return jobs.sweepCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestJobFuncsCallDependencies(t *testing.T) {
	s := newScheduler(t)
	jobs := &fakeJobs{}

	s.regenerate(jobs)
	s.sweep(jobs)
	s.prune(jobs, 6*time.Hour)
	assert.Equal(t, []string{"schedule"}, jobs.sources)
	assert.Equal(t, 1, jobs.sweeps)
	assert.Equal(t, []time.Duration{6 * time.Hour}, jobs.retention)

	jobs.err = stderrors.New("boom")
	assert.NotPanics(t, func() {
		s.regenerate(jobs)
		s.sweep(jobs)
		s.prune(jobs, time.Hour)
	})
}
