package useragg

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

type spyHandler struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (h *spyHandler) ApplySingleUser(context.Context, string, string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= len(h.errs) {
		return h.errs[h.calls-1]
	}
	return nil
}

func runWorkflow(t *testing.T, h *spyHandler, m queue.Message) error {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	acts := &Activities{Log: logger.Nop(), Handler: h}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.Apply, activity.RegisterOptions{Name: ActivityApply})
	env.ExecuteWorkflow(WorkflowName, m)
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	return env.GetWorkflowError()
}

var msg = queue.Message{EncryptedUPN: "abc", ReportRefreshDate: "2024-01-01"}

func TestWorkflowAppliesUser(t *testing.T) {
	h := &spyHandler{}
	if err := runWorkflow(t, h, msg); err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("calls: want=1 got=%d", h.calls)
	}
}

func TestWorkflowWaitsOutPause(t *testing.T) {
	h := &spyHandler{errs: []error{aggregation.ErrIngestionPaused, aggregation.ErrIngestionPaused}}
	if err := runWorkflow(t, h, msg); err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if h.calls != 3 {
		t.Fatalf("calls: want=3 got=%d", h.calls)
	}
}

func TestWorkflowDoesNotRetryMissingSnapshot(t *testing.T) {
	h := &spyHandler{errs: []error{aggregation.ErrSnapshotNotStaged}}
	if err := runWorkflow(t, h, msg); err == nil {
		t.Fatalf("want workflow error")
	}
	if h.calls != 1 {
		t.Fatalf("calls: want=1 got=%d", h.calls)
	}
}

func TestWorkflowRejectsInvalidMessage(t *testing.T) {
	h := &spyHandler{}
	if err := runWorkflow(t, h, queue.Message{EncryptedUPN: "abc"}); err == nil {
		t.Fatalf("want workflow error")
	}
	if h.calls != 0 {
		t.Fatalf("calls: want=0 got=%d", h.calls)
	}
}

func TestWorkflowID(t *testing.T) {
	if got := WorkflowID(msg); got != "user-aggregation-2024-01-01-abc" {
		t.Fatalf("workflow id: got=%s", got)
	}
}

func TestActivityMapsErrors(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	h := &spyHandler{errs: []error{errors.New("store down")}}
	acts := &Activities{Log: logger.Nop(), Handler: h}
	env.RegisterActivityWithOptions(acts.Apply, activity.RegisterOptions{Name: ActivityApply})
	if _, err := env.ExecuteActivity(ActivityApply, msg); err == nil {
		t.Fatalf("want transient error surfaced")
	}
	val, err := env.ExecuteActivity(ActivityApply, msg)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	var out ApplyResult
	if err := val.Get(&out); err != nil {
		t.Fatalf("result: %v", err)
	}
	if out.Paused {
		t.Fatalf("want not paused")
	}
}

type spyStarter struct {
	opts []temporalsdkclient.StartWorkflowOptions
	err  error
}

func (s *spyStarter) ExecuteWorkflow(_ context.Context, opts temporalsdkclient.StartWorkflowOptions, _ interface{}, _ ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	s.opts = append(s.opts, opts)
	return nil, s.err
}

func TestSenderRestartsOnlyFailedWorkflows(t *testing.T) {
	st := &spyStarter{}
	s := newSender(st, "agg")
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(st.opts) != 1 {
		t.Fatalf("starts: want=1 got=%d", len(st.opts))
	}
	got := st.opts[0]
	if got.WorkflowIDReusePolicy != enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY {
		t.Fatalf("reuse policy: got=%v", got.WorkflowIDReusePolicy)
	}
	if got.ID != WorkflowID(msg) || got.TaskQueue != "agg" {
		t.Fatalf("options: got id=%q queue=%q", got.ID, got.TaskQueue)
	}

	st.err = serviceerror.NewWorkflowExecutionAlreadyStarted("running", "req", "run")
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("already started should count as sent: %v", err)
	}
	st.err = errors.New("frontend unavailable")
	if err := s.Send(context.Background(), msg); err == nil {
		t.Fatalf("want start error")
	}
}

type spyCounter struct {
	req   *workflowservice.CountWorkflowExecutionsRequest
	count int64
}

func (s *spyCounter) CountWorkflow(_ context.Context, req *workflowservice.CountWorkflowExecutionsRequest) (*workflowservice.CountWorkflowExecutionsResponse, error) {
	s.req = req
	return &workflowservice.CountWorkflowExecutionsResponse{Count: s.count}, nil
}

func TestBacklogCountsRunningWorkflows(t *testing.T) {
	c := &spyCounter{count: 4}
	n, err := newBacklog(c, "copilot-adoption", "agg").Pending(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("pending: want=4 got=%d err=%v", n, err)
	}
	if c.req.Namespace != "copilot-adoption" {
		t.Fatalf("namespace: got=%q", c.req.Namespace)
	}
	want := "WorkflowType = 'user_aggregation' AND TaskQueue = 'agg' AND ExecutionStatus = 'Running'"
	if c.req.Query != want {
		t.Fatalf("query: want=%q got=%q", want, c.req.Query)
	}
}
