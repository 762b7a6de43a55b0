package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

type fakeSender struct {
	channel   models.ChannelType
	recipient string
	text      string
	err       error
	calls     int
}

func (f *fakeSender) SendProactive(_ context.Context, channel models.ChannelType, recipient, text string) error {
	f.calls++
	f.channel = channel
	f.recipient = recipient
	f.text = text
	return f.err
}

func newTestScheduler(t *testing.T, runner RunFunc, sender ProactiveSender) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewScheduler(dir, runner, sender)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return base }
	return s, dir
}

func okRunner(result string) RunFunc {
	return func(context.Context, string) (string, error) { return result, nil }
}

func TestAddJobPersists(t *testing.T) {
	s, dir := newTestScheduler(t, okRunner("done"), nil)

	id, nextRun, err := s.AddJob("every 6h", "check the feeds", "", "")
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if !strings.HasPrefix(id, "j-") {
		t.Errorf("id = %q, want j- prefix", id)
	}
	if !nextRun.Equal(base.Add(6 * time.Hour)) {
		t.Errorf("nextRun = %v", nextRun)
	}

	// A fresh scheduler over the same root sees the job.
	reloaded, err := NewScheduler(dir, okRunner(""), nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if reloaded.JobCount() != 1 {
		t.Fatalf("reloaded JobCount = %d, want 1", reloaded.JobCount())
	}
	job := reloaded.Jobs()[0]
	if job.ID != id || job.Query != "check the feeds" || !job.Enabled || job.MaxFailures != 3 {
		t.Errorf("reloaded job = %+v", job)
	}
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s, _ := newTestScheduler(t, okRunner(""), nil)
	if _, _, err := s.AddJob("whenever", "q", "", ""); err == nil {
		t.Fatal("expected error for unparseable schedule")
	}
	if s.JobCount() != 0 {
		t.Errorf("bad schedule still added a job")
	}
}

func TestRemoveJob(t *testing.T) {
	s, _ := newTestScheduler(t, okRunner(""), nil)
	id, _, _ := s.AddJob("every 1h", "q", "", "")

	if !s.RemoveJob(id) {
		t.Error("RemoveJob returned false for existing job")
	}
	if s.RemoveJob(id) {
		t.Error("RemoveJob returned true for missing job")
	}
	if s.JobCount() != 0 {
		t.Errorf("JobCount = %d after removal", s.JobCount())
	}
}

func TestCheckDueRunsAndReschedules(t *testing.T) {
	s, dir := newTestScheduler(t, okRunner("feed summary"), nil)
	id, _, _ := s.AddJob("every 6h", "summarize feeds", "", "")

	// Not due yet.
	s.checkDue()
	if job := s.Jobs()[0]; job.LastRun != "" {
		t.Fatalf("job ran early: %+v", job)
	}

	// Jump past next_run.
	s.now = func() time.Time { return base.Add(7 * time.Hour) }
	s.checkDue()

	job := s.Jobs()[0]
	if job.LastRun == "" || job.Failures != 0 || !job.Enabled {
		t.Fatalf("job after run = %+v", job)
	}
	want := base.Add(7 * time.Hour).Add(6 * time.Hour).Format(time.RFC3339)
	if job.NextRun != want {
		t.Errorf("NextRun = %s, want %s", job.NextRun, want)
	}

	// No channel: result lands in a file.
	matches, _ := filepath.Glob(filepath.Join(dir, "cron", "results", id+"_*.txt"))
	if len(matches) != 1 {
		t.Fatalf("result files = %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Job: "+id) || !strings.Contains(content, "feed summary") {
		t.Errorf("result content:\n%s", content)
	}
}

func TestOneShotDisablesAfterRun(t *testing.T) {
	s, _ := newTestScheduler(t, okRunner("done"), nil)
	s.AddJob("at 15:00", "remind me", "", "")

	s.now = func() time.Time { return base.Add(4 * time.Hour) }
	s.checkDue()

	job := s.Jobs()[0]
	if job.Enabled {
		t.Error("one-shot job still enabled after run")
	}
	if job.Failures != 0 || job.LastRun == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestFailureBackoffAndDisable(t *testing.T) {
	failing := func(context.Context, string) (string, error) {
		return "", errors.New("provider down")
	}
	s, _ := newTestScheduler(t, failing, nil)
	s.AddJob("every 1h", "q", "", "")

	now := base.Add(2 * time.Hour)
	s.now = func() time.Time { return now }
	s.checkDue()

	job := s.Jobs()[0]
	if job.Failures != 1 || !job.Enabled {
		t.Fatalf("after first failure: %+v", job)
	}
	if want := now.Add(2 * time.Minute).Format(time.RFC3339); job.NextRun != want {
		t.Errorf("backoff NextRun = %s, want %s", job.NextRun, want)
	}

	// Two more failures hit max_failures and disable the job.
	for i := 0; i < 2; i++ {
		now = now.Add(2 * time.Hour)
		s.checkDue()
	}
	job = s.Jobs()[0]
	if job.Failures != 3 || job.Enabled {
		t.Errorf("after third failure: %+v", job)
	}
}

func TestProactiveDelivery(t *testing.T) {
	sender := &fakeSender{}
	s, dir := newTestScheduler(t, okRunner("hello there"), sender)
	s.AddJob("every 1h", "greet", "telegram", "12345")

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.checkDue()

	if sender.calls != 1 {
		t.Fatalf("sender calls = %d", sender.calls)
	}
	if sender.channel != models.ChannelTelegram || sender.recipient != "12345" || sender.text != "hello there" {
		t.Errorf("delivery = %+v", sender)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "cron", "results", "*.txt"))
	if len(matches) != 0 {
		t.Errorf("unexpected result files: %v", matches)
	}
}

func TestProactiveDeliveryFallsBackToFile(t *testing.T) {
	sender := &fakeSender{err: errors.New("channel offline")}
	s, dir := newTestScheduler(t, okRunner("hello"), sender)
	s.AddJob("every 1h", "greet", "telegram", "12345")

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.checkDue()

	matches, _ := filepath.Glob(filepath.Join(dir, "cron", "results", "*.txt"))
	if len(matches) != 1 {
		t.Errorf("fallback result files = %v", matches)
	}
	// Delivery failure is not a job failure.
	if job := s.Jobs()[0]; job.Failures != 0 || !job.Enabled {
		t.Errorf("job = %+v", job)
	}
}

func TestDescribeJobs(t *testing.T) {
	s, _ := newTestScheduler(t, okRunner(""), nil)
	if got := s.DescribeJobs(); got != "No scheduled jobs." {
		t.Errorf("empty DescribeJobs = %q", got)
	}

	id, _, _ := s.AddJob("every day at 9am", strings.Repeat("long query ", 10), "", "")
	got := s.DescribeJobs()
	if !strings.Contains(got, "Scheduled jobs (1):") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.Contains(got, id+" [ENABLED] every day at 9am") {
		t.Errorf("missing job line: %q", got)
	}
	// Query is truncated to 60 chars.
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "Query:") && len(strings.TrimSpace(line)) > len("Query: ")+60 {
			t.Errorf("query not truncated: %q", line)
		}
	}
}
