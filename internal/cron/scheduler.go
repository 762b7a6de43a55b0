package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

const checkInterval = 60 * time.Second

// RunFunc executes a job's query and returns the agent's answer. The
// composition root builds a fresh agent per invocation so jobs never
// share conversational state.
type RunFunc func(ctx context.Context, query string) (string, error)

// ProactiveSender delivers a job result to a channel recipient. The
// gateway manager satisfies this; a nil sender routes everything to
// result files.
type ProactiveSender interface {
	SendProactive(ctx context.Context, channel models.ChannelType, recipient, text string) error
}

// Job is one scheduled task, persisted as-is in jobs.json. Timestamps
// are RFC 3339 UTC strings; empty means never/none.
type Job struct {
	ID          string `json:"id"`
	Schedule    string `json:"schedule"`
	Query       string `json:"query"`
	Channel     string `json:"channel"`
	Recipient   string `json:"recipient"`
	CreatedAt   string `json:"created_at"`
	LastRun     string `json:"last_run"`
	NextRun     string `json:"next_run"`
	Failures    int    `json:"failures"`
	MaxFailures int    `json:"max_failures"`
	Enabled     bool   `json:"enabled"`
}

// Scheduler checks jobs every minute and persists every state change.
// Jobs survive restarts via <dataRoot>/cron/jobs.json.
type Scheduler struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	jobsPath   string
	resultsDir string
	runner     RunFunc
	sender     ProactiveSender
	log        *slog.Logger
	now        func() time.Time

	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewScheduler opens (creating if needed) the cron store under
// <dataRoot>/cron and loads any persisted jobs.
func NewScheduler(dataRoot string, runner RunFunc, sender ProactiveSender) (*Scheduler, error) {
	dir := filepath.Join(dataRoot, "cron")
	resultsDir := filepath.Join(dir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cron dirs: %w", err)
	}
	s := &Scheduler{
		jobs:       map[string]*Job{},
		jobsPath:   filepath.Join(dir, "jobs.json"),
		resultsDir: resultsDir,
		runner:     runner,
		sender:     sender,
		log:        slog.Default().With("component", "scheduler"),
		now:        time.Now,
	}
	s.loadJobs()
	return s, nil
}

// Start launches the background check loop. Safe to call once.
// SetSender swaps the proactive delivery target. Wiring calls this once
// before Start, after the gateway manager exists.
func (s *Scheduler) SetSender(sender ProactiveSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	count := len(s.jobs)
	s.mu.Unlock()

	go s.loop()
	s.log.Info("scheduler started", "jobs", count)
}

// Stop halts the check loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkDue()
		}
	}
}

// AddJob schedules a new job and persists it.
func (s *Scheduler) AddJob(schedule, query, channel, recipient string) (string, time.Time, error) {
	nextRun, ok := NextRun(schedule, s.now())
	if !ok {
		return "", time.Time{}, fmt.Errorf("could not parse schedule: %q", schedule)
	}

	job := &Job{
		ID:          models.NewJobID(),
		Schedule:    schedule,
		Query:       query,
		Channel:     channel,
		Recipient:   recipient,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
		NextRun:     nextRun.Format(time.RFC3339),
		MaxFailures: 3,
		Enabled:     true,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.saveJobsLocked()
	s.mu.Unlock()

	s.log.Info("added job", "id", job.ID, "schedule", schedule, "next", nextRun)
	return job.ID, nextRun, nil
}

// RemoveJob deletes a job by id.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	s.saveJobsLocked()
	return true
}

// JobCount returns the number of jobs, enabled or not.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Jobs returns a snapshot of all jobs, sorted by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DescribeJobs renders the job list for the cron_list tool.
func (s *Scheduler) DescribeJobs() string {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	lines := []string{fmt.Sprintf("Scheduled jobs (%d):", len(jobs))}
	for _, j := range jobs {
		status := "DISABLED"
		if j.Enabled {
			status = "ENABLED"
		}
		next := j.NextRun
		if len(next) > 19 {
			next = next[:19]
		}
		query := j.Query
		if len(query) > 60 {
			query = query[:60]
		}
		lines = append(lines, fmt.Sprintf("  %s [%s] %s\n    Query: %s\n    Next: %s | Failures: %d",
			j.ID, status, j.Schedule, query, next, j.Failures))
	}
	return strings.Join(lines, "\n")
}

// checkDue executes every enabled job whose next_run has passed.
func (s *Scheduler) checkDue() {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled || job.NextRun == "" {
			continue
		}
		nextRun, err := time.Parse(time.RFC3339, job.NextRun)
		if err != nil {
			continue
		}
		if !now.Before(nextRun) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(job)
	}
}

func (s *Scheduler) executeJob(job *Job) {
	s.log.Info("executing job", "id", job.ID, "query", job.Query)
	result, err := s.runner(context.Background(), job.Query)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	job.LastRun = now.Format(time.RFC3339)

	if err != nil {
		job.Failures++
		backoff := time.Duration(min(1<<job.Failures, 60)) * time.Minute
		job.NextRun = now.Add(backoff).Format(time.RFC3339)
		if job.Failures >= job.MaxFailures {
			job.Enabled = false
			s.log.Warn("job disabled after repeated failures", "id", job.ID, "failures", job.Failures)
		} else {
			s.log.Error("job failed", "id", job.ID, "error", err, "backoff", backoff)
		}
		s.saveJobsLocked()
		return
	}

	s.deliver(job, result)
	job.Failures = 0

	if IsOneShot(job.Schedule) {
		job.Enabled = false
		s.log.Info("one-shot job completed", "id", job.ID)
	} else if next, ok := NextRun(job.Schedule, now); ok {
		job.NextRun = next.Format(time.RFC3339)
	} else {
		job.NextRun = ""
	}
	s.saveJobsLocked()
}

// deliver sends the result over the job's channel, falling back to a
// result file when no channel is set or the send fails.
func (s *Scheduler) deliver(job *Job, result string) {
	if job.Channel != "" && job.Recipient != "" && s.sender != nil {
		err := s.sender.SendProactive(context.Background(), models.ChannelType(job.Channel), job.Recipient, result)
		if err == nil {
			s.log.Info("delivered job result", "id", job.ID, "channel", job.Channel, "recipient", job.Recipient)
			return
		}
		s.log.Error("proactive delivery failed", "id", job.ID, "channel", job.Channel, "error", err)
	}
	s.saveResultFile(job, result)
}

func (s *Scheduler) saveResultFile(job *Job, result string) {
	now := s.now().UTC()
	path := filepath.Join(s.resultsDir, fmt.Sprintf("%s_%s.txt", job.ID, now.Format("20060102_150405")))
	content := fmt.Sprintf("Job: %s\nQuery: %s\nSchedule: %s\nExecuted: %s\n%s\n\n%s",
		job.ID, job.Query, job.Schedule, now.Format(time.RFC3339), strings.Repeat("=", 40), result)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.log.Error("failed to save job result", "id", job.ID, "error", err)
		return
	}
	s.log.Info("job result saved", "id", job.ID, "path", path)
}

func (s *Scheduler) loadJobs() {
	data, err := os.ReadFile(s.jobsPath)
	if err != nil {
		return
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.log.Warn("failed to load jobs, starting fresh", "error", err)
		return
	}
	for _, job := range jobs {
		if job.ID != "" {
			s.jobs[job.ID] = job
		}
	}
}

// saveJobsLocked persists the job list; callers hold s.mu.
func (s *Scheduler) saveJobsLocked() {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		s.log.Error("failed to marshal jobs", "error", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.jobsPath), ".tmp-*")
	if err != nil {
		s.log.Error("failed to save jobs", "error", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		err = tmp.Close()
		if err == nil {
			err = os.Rename(tmpName, s.jobsPath)
		}
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmpName)
		s.log.Error("failed to save jobs", "error", err)
	}
}
