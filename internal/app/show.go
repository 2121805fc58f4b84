package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent trigger records, or escalation tasks with
// --escalations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Escalations {
		tasks, err := store.ListRecentTasks(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(os.Stdout, "no escalation tasks found")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Created (UTC)\tTask\tChannel\tStatus\tAttempts\tNext Retry\tReason")
		for _, task := range tasks {
			nextRetry := ""
			if task.NextRetryAt != nil {
				nextRetry = task.NextRetryAt.UTC().Format(time.RFC3339)
			}
			reason := ""
			if task.CancellationReason != nil {
				reason = sanitizeInline(*task.CancellationReason)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				task.CreatedAt.UTC().Format(time.RFC3339),
				task.ID.String()[:8],
				task.Channel,
				task.Status,
				task.Attempts,
				task.MaxAttempts,
				nextRetry,
				reason,
			)
		}
		return writer.Flush()
	}

	triggers, err := store.ListRecentTriggers(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Fprintln(os.Stdout, "no triggers found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule\tSubject\tPlatform\tPrice\tUrgency\tActed On")
	for _, rec := range triggers {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			rec.TriggeredAt.UTC().Format(time.RFC3339),
			rec.RuleID.String()[:8],
			rec.SubjectID,
			rec.Platform,
			rec.Price.StringFixed(2),
			rec.Urgency,
			rec.ActedOn,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
