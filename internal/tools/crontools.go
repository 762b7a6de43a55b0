package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

const maxCronJobs = 20

// JobScheduler is the slice of the scheduler surface the cron tools need.
type JobScheduler interface {
	AddJob(schedule, query, channel, recipient string) (id string, nextRun time.Time, err error)
	JobCount() int
	DescribeJobs() string
	RemoveJob(id string) bool
}

// RegisterCron wires cron_add, cron_list, and cron_remove over a
// scheduler.
func RegisterCron(r *Registry, sched JobScheduler) {
	r.Register("cron_add", func(_ context.Context, args map[string]any) (string, error) {
		schedule := stringArg(args, "schedule", "")
		query := stringArg(args, "query", "")
		channel := stringArg(args, "channel", "")
		recipient := stringArg(args, "recipient", "")

		if sched.JobCount() >= maxCronJobs {
			return fmt.Sprintf("Error: Maximum of %d scheduled jobs reached. Remove existing jobs first.", maxCronJobs), nil
		}

		id, nextRun, err := sched.AddJob(schedule, query, channel, recipient)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		delivery := "saved to file"
		if channel != "" {
			delivery = channel + ":" + recipient
		}
		return fmt.Sprintf("Scheduled job %s:\n  Query: %s\n  Schedule: %s\n  Next run: %s\n  Delivery: %s",
			id, query, schedule, nextRun.UTC().Format("2006-01-02T15:04:05"), delivery), nil
	}, models.ToolSchema{
		Name: "cron_add",
		Description: "Schedule a recurring task. The agent runs the query on the given schedule " +
			"and delivers results to a channel or saves them. " +
			"Formats: 'every 6h', 'every day at 9am', 'every monday', 'cron 0 */6 * * *'.",
		Parameters: objSchema(map[string]any{
			"schedule":  map[string]any{"type": "string", "description": "Schedule expression (e.g. 'every 6h', 'every day at 9am', 'cron 0 */6 * * *')"},
			"query":     map[string]any{"type": "string", "description": "The question/task to run on each execution"},
			"channel":   map[string]any{"type": "string", "description": "Optional delivery channel (telegram, discord, slack, etc.)"},
			"recipient": map[string]any{"type": "string", "description": "Optional recipient ID on the channel"},
		}, "schedule", "query"),
	})

	r.Register("cron_list", func(context.Context, map[string]any) (string, error) {
		return sched.DescribeJobs(), nil
	}, models.ToolSchema{
		Name:        "cron_list",
		Description: "List all scheduled jobs with their status, next run time, and failure count.",
		Parameters:  objSchema(map[string]any{}),
	})

	r.Register("cron_remove", func(_ context.Context, args map[string]any) (string, error) {
		id := stringArg(args, "job_id", "")
		if sched.RemoveJob(id) {
			return fmt.Sprintf("Removed job %s.", id), nil
		}
		return fmt.Sprintf("Job '%s' not found.", id), nil
	}, models.ToolSchema{
		Name:        "cron_remove",
		Description: "Remove a scheduled job by its ID (e.g. 'j-abc123').",
		Parameters: objSchema(map[string]any{
			"job_id": map[string]any{"type": "string", "description": "The job ID to remove"},
		}, "job_id"),
	})
}
