package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	// DefaultTaskQueue is used when temporal.task_queue is unset.
	DefaultTaskQueue = "campaign-views"

	// ScheduleID identifies the recurring reconciliation schedule.
	ScheduleID = "campaign-views-reconcile"
)

// ReconcileParams are the arguments of ReconcileWorkflow.
type ReconcileParams struct {
	IncludeEnded bool `json:"include_ended"`
}

// Activities exposes the Reconciler to Temporal workers.
type Activities struct {
	Reconciler *Reconciler
}

// ReconcileAll is the single activity of ReconcileWorkflow.
func (a *Activities) ReconcileAll(ctx context.Context, p ReconcileParams) (*Summary, error) {
	return a.Reconciler.Run(ctx, p.IncludeEnded)
}

// ReconcileWorkflow runs one reconciliation pass. Records are upserted by
// (promoter, campaign) so retried attempts converge on the same state.
func ReconcileWorkflow(ctx workflow.Context, p ReconcileParams) (*Summary, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	var a *Activities
	var s Summary
	if err := workflow.ExecuteActivity(ctx, a.ReconcileAll, p).Get(ctx, &s); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("reconcile workflow finished",
		"pairs", s.Pairs,
		"written", s.Written,
		"failed", s.Failed,
	)
	return &s, nil
}

// Registry is satisfied by worker.Worker and the SDK test environment.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

var _ Registry = worker.Worker(nil)

// Register adds the reconciliation workflow and activities to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflow(ReconcileWorkflow)
	r.RegisterActivity(acts)
}

// ScheduleCreator is implemented by client.ScheduleClient.
type ScheduleCreator interface {
	Create(ctx context.Context, options client.ScheduleOptions) (client.ScheduleHandle, error)
}

// ScheduleReconcile registers a cron schedule that starts ReconcileWorkflow.
// It reports false when the schedule already exists.
func ScheduleReconcile(ctx context.Context, sc ScheduleCreator, cron, taskQueue string, p ReconcileParams) (bool, error) {
	if cron == "" {
		return false, eris.New("earnings: cron expression is required")
	}
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	_, err := sc.Create(ctx, client.ScheduleOptions{
		ID: ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        ScheduleID + "-run",
			Workflow:  ReconcileWorkflow,
			Args:      []interface{}{p},
			TaskQueue: taskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "earnings: create reconcile schedule")
	}
	return true, nil
}
