package useragg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

// workflowStarter is the part of the temporal client the sender uses.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// Sender starts one workflow per message. A running or completed workflow
// for the same user and date counts as sent; a failed one is started again.
type Sender struct {
	tc        workflowStarter
	taskQueue string
}

func NewSender(tc temporalsdkclient.Client, taskQueue string) *Sender {
	return newSender(tc, taskQueue)
}

func newSender(tc workflowStarter, taskQueue string) *Sender {
	if strings.TrimSpace(taskQueue) == "" {
		taskQueue = queue.DefaultQueueName
	}
	return &Sender{tc: tc, taskQueue: taskQueue}
}

func (s *Sender) Name() string { return s.taskQueue }

func (s *Sender) Send(ctx context.Context, m queue.Message) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("temporal not configured")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    WorkflowID(m),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
	_, err := s.tc.ExecuteWorkflow(ctx, opts, WorkflowName, m)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return err
}

type workflowCounter interface {
	CountWorkflow(ctx context.Context, request *workflowservice.CountWorkflowExecutionsRequest) (*workflowservice.CountWorkflowExecutionsResponse, error)
}

// Backlog counts running user aggregation workflows on the task queue.
// Workflows waiting out a pause are running too.
type Backlog struct {
	tc        workflowCounter
	namespace string
	taskQueue string
}

func NewBacklog(tc temporalsdkclient.Client, namespace, taskQueue string) *Backlog {
	return newBacklog(tc, namespace, taskQueue)
}

func newBacklog(tc workflowCounter, namespace, taskQueue string) *Backlog {
	if strings.TrimSpace(taskQueue) == "" {
		taskQueue = queue.DefaultQueueName
	}
	return &Backlog{tc: tc, namespace: namespace, taskQueue: taskQueue}
}

func (b *Backlog) query() string {
	return fmt.Sprintf("WorkflowType = '%s' AND TaskQueue = '%s' AND ExecutionStatus = 'Running'", WorkflowName, b.taskQueue)
}

func (b *Backlog) Pending(ctx context.Context) (int64, error) {
	resp, err := b.tc.CountWorkflow(ctx, &workflowservice.CountWorkflowExecutionsRequest{
		Namespace: b.namespace,
		Query:     b.query(),
	})
	if err != nil {
		return 0, fmt.Errorf("count user aggregation workflows: %w", err)
	}
	return resp.GetCount(), nil
}
