package exceptions

import (
	"strings"
	"testing"
	"time"

	"github.com/hallqvist/devteam/internal/scheduler"
	"github.com/hallqvist/devteam/internal/statuslog"
)

// TestClassify covers the code -> risk mapping, including the fail-closed
// default for unrecognized codes.
func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want Risk
	}{
		{statuslog.CodeSpecUnclear, RiskAmbiguousSpec},
		{statuslog.CodeSpecAmbiguousDev, RiskAmbiguousSpec},
		{statuslog.CodeSpecUntestable, RiskAmbiguousSpec},
		{statuslog.CodeQARejectedIteration1, RiskReviewLoop},
		{statuslog.CodeQARejectedIteration2, RiskReviewLoop},
		{statuslog.CodeQASpecDeviation, RiskSpecDrift},
		{statuslog.CodeArchitectureViolation, RiskSpecDrift},
		{statuslog.CodeContextLost, RiskContextLoss},
		{statuslog.CodeContextLostDev, RiskContextLoss},
		{statuslog.CodeImplToolFailure, RiskToolFailure},
		{statuslog.CodeQAEnvironment, RiskToolFailure},
		{"SOMETHING_NOBODY_DEFINED", RiskUnknown},
		{"", RiskUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.code); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

// TestHandle_AmbiguousSpec verifies a clarification task for the designer is
// generated with the failure context attached.
func TestHandle_AmbiguousSpec(t *testing.T) {
	router := NewRouter()

	res := router.Handle(Signal{
		Code:       statuslog.CodeSpecAmbiguousDev,
		Payload:    map[string]any{"error_message": "criteria 3 and 7 conflict"},
		WorkflowID: "story-9",
		Role:       scheduler.RoleDeveloper,
	})

	if !res.Handled {
		t.Fatal("expected resolution to be handled")
	}
	if res.EscalateToHuman {
		t.Fatal("expected no escalation")
	}
	if len(res.NewTasks) != 1 {
		t.Fatalf("expected 1 corrective task, got %d", len(res.NewTasks))
	}

	task := res.NewTasks[0]
	if task.Role != scheduler.RoleDesigner {
		t.Errorf("expected designer task, got %s", task.Role)
	}
	if task.WorkflowID != "story-9" {
		t.Errorf("expected task for story-9, got %q", task.WorkflowID)
	}
	if !strings.Contains(task.Description, "criteria 3 and 7 conflict") {
		t.Errorf("expected the reported problem in the description, got %q", task.Description)
	}
}

// TestHandle_ReviewLoopEscalatesOnThirdIteration verifies the first two
// rejections produce retries and the third produces a deadlock escalation.
func TestHandle_ReviewLoopEscalatesOnThirdIteration(t *testing.T) {
	router := NewRouter()
	sig := Signal{
		Code:       statuslog.CodeQARejectedIteration1,
		Payload:    map[string]any{"error_message": "button is still red"},
		WorkflowID: "story-4",
		Role:       scheduler.RoleQA,
	}

	for i := 1; i <= 2; i++ {
		res := router.Handle(sig)
		if res.EscalateToHuman {
			t.Fatalf("iteration %d: unexpected escalation", i)
		}
		if len(res.NewTasks) != 1 || res.NewTasks[0].Role != scheduler.RoleDeveloper {
			t.Fatalf("iteration %d: expected one developer retry task, got %+v", i, res.NewTasks)
		}
		if !res.RetryRecommended {
			t.Errorf("iteration %d: expected retry recommendation", i)
		}
	}

	res := router.Handle(sig)
	if !res.EscalateToHuman {
		t.Fatal("third iteration: expected escalation")
	}
	if res.Risk != RiskDeadlock {
		t.Errorf("third iteration: expected deadlock risk, got %s", res.Risk)
	}
	if len(res.NewTasks) != 0 {
		t.Errorf("third iteration: expected no retry tasks, got %d", len(res.NewTasks))
	}
	if res.EscalationReason == "" {
		t.Error("third iteration: expected an escalation reason")
	}
}

// TestHandle_ReviewLoopCountersPerWorkflow verifies one workflow's rejection
// streak does not bleed into another's.
func TestHandle_ReviewLoopCountersPerWorkflow(t *testing.T) {
	router := NewRouter()

	for i := 0; i < 2; i++ {
		router.Handle(Signal{Code: statuslog.CodeQARejectedIteration1, WorkflowID: "story-a"})
	}

	res := router.Handle(Signal{Code: statuslog.CodeQARejectedIteration1, WorkflowID: "story-b"})
	if res.EscalateToHuman {
		t.Fatal("fresh workflow escalated on first rejection")
	}

	res = router.Handle(Signal{Code: statuslog.CodeQARejectedIteration1, WorkflowID: "story-a"})
	if !res.EscalateToHuman {
		t.Fatal("expected story-a to escalate on its third rejection")
	}
}

// TestHandle_ReviewLoopHonorsReportedIteration verifies an explicit iteration
// from the reporter advances the counter past local bookkeeping.
func TestHandle_ReviewLoopHonorsReportedIteration(t *testing.T) {
	router := NewRouter()

	res := router.Handle(Signal{
		Code:       statuslog.CodeQARejectedIteration3,
		WorkflowID: "story-1",
		Iteration:  3,
	})
	if !res.EscalateToHuman {
		t.Fatal("expected escalation when the reporter already counted 3 iterations")
	}
	if res.Risk != RiskDeadlock {
		t.Errorf("expected deadlock risk, got %s", res.Risk)
	}
}

// TestHandle_SpecDrift verifies a strict-adherence task for the developer.
func TestHandle_SpecDrift(t *testing.T) {
	router := NewRouter()

	res := router.Handle(Signal{
		Code:       statuslog.CodeQASpecDeviation,
		Payload:    map[string]any{"error_message": "extra endpoint added", "violations": []string{"undocumented endpoint"}},
		WorkflowID: "story-2",
		Role:       scheduler.RoleQA,
	})

	if !res.Handled || res.EscalateToHuman {
		t.Fatalf("expected automatic handling, got %+v", res)
	}
	if len(res.NewTasks) != 1 || res.NewTasks[0].Role != scheduler.RoleDeveloper {
		t.Fatalf("expected one developer task, got %+v", res.NewTasks)
	}
	if !strings.Contains(res.NewTasks[0].Description, "EXACTLY") {
		t.Errorf("expected strict-adherence instruction, got %q", res.NewTasks[0].Description)
	}
}

// TestHandle_ContextLoss verifies the retry goes back to the reporting role
// with a rebuilt context bundle.
func TestHandle_ContextLoss(t *testing.T) {
	router := NewRouter()

	res := router.Handle(Signal{
		Code:       statuslog.CodeContextLostTest,
		Payload:    map[string]any{"error_message": "spec file not found"},
		WorkflowID: "story-7",
		Role:       scheduler.RoleTestEngineer,
	})

	if len(res.NewTasks) != 1 {
		t.Fatalf("expected 1 retry task, got %d", len(res.NewTasks))
	}
	task := res.NewTasks[0]
	if task.Role != scheduler.RoleTestEngineer {
		t.Errorf("expected retry for the reporting role, got %s", task.Role)
	}

	bundle, ok := task.Context["context_bundle"].(map[string]string)
	if !ok {
		t.Fatalf("expected context bundle in task context, got %T", task.Context["context_bundle"])
	}
	if bundle["story_specification"] != "docs/specs/spec-story-7.md" {
		t.Errorf("unexpected specification reference: %q", bundle["story_specification"])
	}
}

// TestHandle_ToolFailureRetryThenEscalate verifies the 1-hour window: the
// first failure of a tool is retried, the second escalates.
func TestHandle_ToolFailureRetryThenEscalate(t *testing.T) {
	router := NewRouter()
	sig := Signal{
		Code:       statuslog.CodeImplToolFailure,
		Payload:    map[string]any{"tool": "compiler", "error_message": "segfault"},
		WorkflowID: "story-3",
		Role:       scheduler.RoleDeveloper,
	}

	res := router.Handle(sig)
	if res.EscalateToHuman {
		t.Fatal("first tool failure should be retried")
	}
	if len(res.NewTasks) != 1 {
		t.Fatalf("expected retry task, got %d tasks", len(res.NewTasks))
	}

	res = router.Handle(sig)
	if !res.EscalateToHuman {
		t.Fatal("second failure of the same tool within the window should escalate")
	}
	if !strings.Contains(res.EscalationReason, "compiler") {
		t.Errorf("expected tool name in escalation reason, got %q", res.EscalationReason)
	}
}

// TestHandle_ToolFailureWindowExpires verifies old failures age out of the
// 1-hour window.
func TestHandle_ToolFailureWindowExpires(t *testing.T) {
	router := NewRouter()
	now := time.Now()
	router.now = func() time.Time { return now }

	sig := Signal{
		Code:       statuslog.CodeTestToolFailure,
		Payload:    map[string]any{"tool": "test-runner", "error_message": "timeout"},
		WorkflowID: "story-3",
		Role:       scheduler.RoleTestEngineer,
	}

	if res := router.Handle(sig); res.EscalateToHuman {
		t.Fatal("first failure should be retried")
	}

	// Two hours later the earlier failure no longer counts
	now = now.Add(2 * time.Hour)
	if res := router.Handle(sig); res.EscalateToHuman {
		t.Fatal("failure outside the window should be retried, not escalated")
	}
}

// TestHandle_UnknownCodeEscalates verifies the router never guesses.
func TestHandle_UnknownCodeEscalates(t *testing.T) {
	router := NewRouter()

	res := router.Handle(Signal{
		Code:       "TOTALLY_NEW_FAILURE_MODE",
		WorkflowID: "story-1",
	})

	if !res.EscalateToHuman {
		t.Fatal("expected unknown code to escalate")
	}
	if res.Handled {
		t.Error("expected unknown code to be marked unhandled")
	}
	if res.Risk != RiskUnknown {
		t.Errorf("expected unknown risk, got %s", res.Risk)
	}
}

// TestHandleTimeout_RestartThenEscalate verifies the 24-hour window per
// (workflow, role): first timeout restarts with guidance, the second
// escalates.
func TestHandleTimeout_RestartThenEscalate(t *testing.T) {
	router := NewRouter()

	res := router.HandleTimeout("story-5", scheduler.RoleDeveloper, 90*time.Minute)
	if res.EscalateToHuman {
		t.Fatal("first timeout should restart, not escalate")
	}
	if len(res.NewTasks) != 1 || res.NewTasks[0].Role != scheduler.RoleDeveloper {
		t.Fatalf("expected one developer restart task, got %+v", res.NewTasks)
	}
	if !strings.Contains(res.NewTasks[0].Description, "baseline") {
		t.Errorf("expected reinforced guidance in restart description, got %q", res.NewTasks[0].Description)
	}

	res = router.HandleTimeout("story-5", scheduler.RoleDeveloper, 2*time.Hour)
	if !res.EscalateToHuman {
		t.Fatal("second timeout within 24h should escalate")
	}
	if res.Risk != RiskTimeout {
		t.Errorf("expected timeout risk, got %s", res.Risk)
	}
}

// TestHandleTimeout_SeparateRoles verifies timeouts are counted per
// (workflow, role) pair.
func TestHandleTimeout_SeparateRoles(t *testing.T) {
	router := NewRouter()

	router.HandleTimeout("story-5", scheduler.RoleDeveloper, time.Hour)
	res := router.HandleTimeout("story-5", scheduler.RoleQA, time.Hour)
	if res.EscalateToHuman {
		t.Fatal("a different role's first timeout should not escalate")
	}
}

// TestStats aggregates recent signals by risk and code.
func TestStats(t *testing.T) {
	router := NewRouter()

	router.Handle(Signal{Code: statuslog.CodeSpecUnclear, Payload: map[string]any{"error_message": "x"}, WorkflowID: "a"})
	router.Handle(Signal{Code: statuslog.CodeQARejectedIteration1, WorkflowID: "a"})
	router.Handle(Signal{Code: statuslog.CodeQARejectedIteration1, WorkflowID: "b"})

	stats := router.Stats(time.Hour)
	if stats.Total != 3 {
		t.Errorf("expected 3 signals, got %d", stats.Total)
	}
	if stats.ByRisk["ambiguous_spec"] != 1 {
		t.Errorf("expected 1 ambiguous_spec, got %d", stats.ByRisk["ambiguous_spec"])
	}
	if stats.ByCode[statuslog.CodeQARejectedIteration1] != 2 {
		t.Errorf("expected 2 QA rejections, got %d", stats.ByCode[statuslog.CodeQARejectedIteration1])
	}

	if empty := router.Stats(0); empty.Total != 0 {
		t.Errorf("expected empty window to count nothing, got %d", empty.Total)
	}
}
