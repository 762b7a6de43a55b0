package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

type fakeScheduler struct {
	jobs    int
	addErr  error
	removed string
}

func (f *fakeScheduler) AddJob(schedule, query, channel, recipient string) (string, time.Time, error) {
	if f.addErr != nil {
		return "", time.Time{}, f.addErr
	}
	f.jobs++
	return "j-abc12345", time.Date(2026, 2, 17, 18, 0, 0, 0, time.UTC), nil
}

func (f *fakeScheduler) JobCount() int { return f.jobs }

func (f *fakeScheduler) DescribeJobs() string { return "No scheduled jobs." }

func (f *fakeScheduler) RemoveJob(id string) bool {
	f.removed = id
	return id == "j-abc12345"
}

func TestCronAddTool(t *testing.T) {
	r := NewRegistry()
	sched := &fakeScheduler{}
	RegisterCron(r, sched)

	out := r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_add",
		Args: map[string]any{"schedule": "cron 0 */6 * * *", "query": "check feeds"},
	})
	if !strings.Contains(out, "Scheduled job j-abc12345") ||
		!strings.Contains(out, "Next run: 2026-02-17T18:00:00") ||
		!strings.Contains(out, "Delivery: saved to file") {
		t.Errorf("cron_add = %q", out)
	}
}

func TestCronAddDelivery(t *testing.T) {
	r := NewRegistry()
	RegisterCron(r, &fakeScheduler{})

	out := r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_add",
		Args: map[string]any{
			"schedule": "every 6h", "query": "q",
			"channel": "telegram", "recipient": "12345",
		},
	})
	if !strings.Contains(out, "Delivery: telegram:12345") {
		t.Errorf("cron_add = %q", out)
	}
}

func TestCronAddParseError(t *testing.T) {
	r := NewRegistry()
	RegisterCron(r, &fakeScheduler{addErr: errors.New("could not parse schedule: 'whenever'")})

	out := r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_add",
		Args: map[string]any{"schedule": "whenever", "query": "q"},
	})
	if !strings.HasPrefix(out, "Error: could not parse schedule") {
		t.Errorf("cron_add = %q", out)
	}
}

func TestCronAddCap(t *testing.T) {
	r := NewRegistry()
	RegisterCron(r, &fakeScheduler{jobs: maxCronJobs})

	out := r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_add",
		Args: map[string]any{"schedule": "every 6h", "query": "q"},
	})
	if !strings.Contains(out, "Maximum of 20 scheduled jobs") {
		t.Errorf("cron_add = %q", out)
	}
}

func TestCronRemoveTool(t *testing.T) {
	r := NewRegistry()
	sched := &fakeScheduler{}
	RegisterCron(r, sched)

	out := r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_remove", Args: map[string]any{"job_id": "j-abc12345"},
	})
	if out != "Removed job j-abc12345." {
		t.Errorf("cron_remove = %q", out)
	}

	out = r.Dispatch(context.Background(), models.ToolCall{
		Name: "cron_remove", Args: map[string]any{"job_id": "j-missing"},
	})
	if out != "Job 'j-missing' not found." {
		t.Errorf("cron_remove = %q", out)
	}
}
