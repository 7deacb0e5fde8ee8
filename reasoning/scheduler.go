package reasoning

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowaudit/flowaudit/store"
)

// ProjectOutcome summarizes a reasoning pass over one project.
type ProjectOutcome struct {
	ProjectID string
	Tasks     int
	Reasoned  int
	Skipped   int
	Findings  int
	Errors    int
}

// RunProject reasons over every task of a project. Tasks sharing a group
// (one business flow) run serially in insertion order; distinct groups run
// in parallel up to MaxParallel. A failed task is counted and logged but
// does not stop its group; cancellation stops everything.
func (l *Loop) RunProject(ctx context.Context, projectID, workspaceRoot string) (*ProjectOutcome, error) {
	tasks, err := l.tasks.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}

	outcome := &ProjectOutcome{ProjectID: projectID, Tasks: len(tasks)}
	if len(tasks) == 0 {
		return outcome, nil
	}

	var order []string
	groups := make(map[string][]store.Task)
	for _, task := range tasks {
		if _, ok := groups[task.Group]; !ok {
			order = append(order, task.Group)
		}
		groups[task.Group] = append(groups[task.Group], task)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.MaxParallel)

	for _, groupID := range order {
		groupTasks := groups[groupID]
		g.Go(func() error {
			for i := range groupTasks {
				task := &groupTasks[i]
				out, err := l.RunTask(gctx, task, workspaceRoot)

				mu.Lock()
				switch {
				case err != nil:
					outcome.Errors++
				case out.Skipped:
					outcome.Skipped++
				default:
					outcome.Reasoned++
					outcome.Findings += out.Findings
				}
				mu.Unlock()

				if err != nil {
					if gctx.Err() != nil {
						return err
					}
					l.logger.Error("task reasoning failed",
						"project_id", projectID, "task_id", task.ID, "error", err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcome, err
	}
	l.logger.Info("reasoning finished",
		"project_id", projectID,
		"tasks", outcome.Tasks,
		"reasoned", outcome.Reasoned,
		"skipped", outcome.Skipped,
		"findings", outcome.Findings,
		"errors", outcome.Errors)
	return outcome, nil
}
