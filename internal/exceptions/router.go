// Package exceptions classifies failure signals from workers into a fixed
// taxonomy of risks and decides between automatic correction and human
// escalation. The router never talks to workers: it only produces task
// specifications for the coordinator to admit.
package exceptions

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hallqvist/devteam/internal/scheduler"
	"github.com/hallqvist/devteam/internal/statuslog"
)

// Risk is the closed taxonomy of failure categories.
type Risk int

const (
	RiskUnknown       Risk = iota
	RiskAmbiguousSpec      // Specification is ambiguous, incomplete, or untestable
	RiskReviewLoop         // Repeated QA/implementer rejection cycle
	RiskSpecDrift          // Implementation deviates from the specification
	RiskContextLoss        // Worker lost or was given incorrect context
	RiskToolFailure        // Tool or infrastructure failure
	RiskDeadlock           // Review loop reached the iteration threshold
	RiskTimeout            // Task exceeded its expected duration
)

func (r Risk) String() string {
	switch r {
	case RiskAmbiguousSpec:
		return "ambiguous_spec"
	case RiskReviewLoop:
		return "review_loop"
	case RiskSpecDrift:
		return "spec_drift"
	case RiskContextLoss:
		return "context_loss"
	case RiskToolFailure:
		return "tool_failure"
	case RiskDeadlock:
		return "deadlock"
	case RiskTimeout:
		return "timeout"
	}
	return "unknown"
}

// DeadlockThreshold is the review-loop iteration at which automatic retry is
// abandoned in favor of escalation.
const DeadlockThreshold = 3

// Failure windows for repeated tool failures and timeouts.
const (
	toolFailureWindow = time.Hour
	toolFailureLimit  = 2
	timeoutWindow     = 24 * time.Hour
)

// TaskSpec describes a corrective task for the coordinator to admit. It is a
// specification only; the router never creates or dispatches tasks itself.
type TaskSpec struct {
	WorkflowID  string
	Role        scheduler.Role
	Kind        string // e.g. "specification_clarification", "bug_fix_retry"
	Description string
	Context     map[string]any
}

// Resolution is the router's decision for one failure signal.
type Resolution struct {
	Risk             Risk
	Handled          bool
	ActionsTaken     []string
	EscalateToHuman  bool
	EscalationReason string
	NewTasks         []TaskSpec
	RetryRecommended bool
}

// Signal is an incoming failure report: the outcome code plus the structured
// payload the worker attached.
type Signal struct {
	Code       string
	Payload    map[string]any
	WorkflowID string
	Role       scheduler.Role // Role that reported the failure
	Iteration  int            // Explicit QA iteration, when the reporter tracks one
}

type record struct {
	at   time.Time
	code string
	risk Risk
	tool string
}

// Router classifies failure signals and tracks the repetition state that
// drives its escalation decisions: review-loop iteration counters per
// workflow, tool failures per tool, and timeouts per (workflow, role).
type Router struct {
	mu         sync.Mutex
	iterations map[string]int         // workflowID -> review loop counter
	timeouts   map[string][]time.Time // workflowID|role -> timeout instants
	toolFails  map[string][]time.Time // tool name -> failure instants
	history    []record

	now func() time.Time // test hook
}

// NewRouter creates a router with empty repetition state.
func NewRouter() *Router {
	return &Router{
		iterations: make(map[string]int),
		timeouts:   make(map[string][]time.Time),
		toolFails:  make(map[string][]time.Time),
		now:        time.Now,
	}
}

var codeRisks = map[string]Risk{
	statuslog.CodeSpecUnclear:       RiskAmbiguousSpec,
	statuslog.CodeSpecAmbiguousDev:  RiskAmbiguousSpec,
	statuslog.CodeSpecAmbiguousTest: RiskAmbiguousSpec,
	statuslog.CodeSpecUntestable:    RiskAmbiguousSpec,

	statuslog.CodeQARejectedIteration1: RiskReviewLoop,
	statuslog.CodeQARejectedIteration2: RiskReviewLoop,
	statuslog.CodeQARejectedIteration3: RiskReviewLoop,

	statuslog.CodeQASpecDeviation:       RiskSpecDrift,
	statuslog.CodeArchitectureViolation: RiskSpecDrift,

	statuslog.CodeContextLost:     RiskContextLoss,
	statuslog.CodeContextLostDev:  RiskContextLoss,
	statuslog.CodeContextLostTest: RiskContextLoss,

	statuslog.CodeImplToolFailure:     RiskToolFailure,
	statuslog.CodeTestToolFailure:     RiskToolFailure,
	statuslog.CodeReviewToolFailure:   RiskToolFailure,
	statuslog.CodeQAEnvironment:       RiskToolFailure,
	statuslog.CodeCodebaseUnavailable: RiskToolFailure,
}

// Classify maps an outcome code to its risk category.
func Classify(code string) Risk {
	if risk, ok := codeRisks[code]; ok {
		return risk
	}
	return RiskUnknown
}

// Handle routes a failure signal to its risk handler and returns the
// resolution. Unrecognized codes always escalate; the router never guesses.
func (r *Router) Handle(sig Signal) Resolution {
	risk := Classify(sig.Code)

	r.mu.Lock()
	r.history = append(r.history, record{
		at:   r.now(),
		code: sig.Code,
		risk: risk,
		tool: toolName(sig.Payload),
	})
	// Bound memory; the status log is the durable record.
	if len(r.history) > 1000 {
		r.history = append([]record(nil), r.history[len(r.history)-500:]...)
	}
	r.mu.Unlock()

	switch risk {
	case RiskAmbiguousSpec:
		return r.handleAmbiguousSpec(sig)
	case RiskReviewLoop:
		return r.handleReviewLoop(sig)
	case RiskSpecDrift:
		return r.handleSpecDrift(sig)
	case RiskContextLoss:
		return r.handleContextLoss(sig)
	case RiskToolFailure:
		return r.handleToolFailure(sig)
	}

	log.Printf("exceptions: unrecognized code %q for workflow %q, escalating", sig.Code, sig.WorkflowID)
	return Resolution{
		Risk:             RiskUnknown,
		Handled:          false,
		ActionsTaken:     []string{fmt.Sprintf("logged unrecognized code %q", sig.Code)},
		EscalateToHuman:  true,
		EscalationReason: fmt.Sprintf("unrecognized failure code %q", sig.Code),
	}
}

// handleAmbiguousSpec generates one corrective task for the designer,
// carrying the original failure payload as context.
func (r *Router) handleAmbiguousSpec(sig Signal) Resolution {
	problem, _ := sig.Payload["error_message"].(string)
	if problem == "" {
		problem = "unspecified specification ambiguity"
	}

	task := TaskSpec{
		WorkflowID:  sig.WorkflowID,
		Role:        scheduler.RoleDesigner,
		Kind:        "specification_clarification",
		Description: fmt.Sprintf("Clarify the specification for story %s.\nReported problem: %s\nUpdate the specification to address it and report SPEC_UPDATED when done.", sig.WorkflowID, problem),
		Context: map[string]any{
			"original_code":  sig.Code,
			"reporting_role": sig.Role.String(),
			"error_details":  sig.Payload,
		},
	}

	return Resolution{
		Risk:    RiskAmbiguousSpec,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("ambiguous specification reported for story %s", sig.WorkflowID),
			"created clarification task for designer",
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// handleReviewLoop tracks the per-workflow iteration counter. Below the
// threshold it generates a retry for the implementer with an explicit
// instruction to change approach; at the threshold it escalates instead of
// issuing another blind retry.
func (r *Router) handleReviewLoop(sig Signal) Resolution {
	r.mu.Lock()
	n := r.iterations[sig.WorkflowID] + 1
	if sig.Iteration > n {
		n = sig.Iteration
	} else if legacy := statuslog.IterationFromCode(sig.Code); legacy > n {
		n = legacy
	}
	r.iterations[sig.WorkflowID] = n
	r.mu.Unlock()

	if n >= DeadlockThreshold {
		log.Printf("exceptions: deadlock for workflow %q at iteration %d, escalating", sig.WorkflowID, n)
		return Resolution{
			Risk:    RiskDeadlock,
			Handled: false,
			ActionsTaken: []string{
				fmt.Sprintf("review loop reached iteration %d for story %s", n, sig.WorkflowID),
				"abandoned automatic retry",
			},
			EscalateToHuman:  true,
			EscalationReason: fmt.Sprintf("story %s rejected %d times by QA; supervisory analysis required instead of another retry", sig.WorkflowID, n),
		}
	}

	task := TaskSpec{
		WorkflowID: sig.WorkflowID,
		Role:       scheduler.RoleDeveloper,
		Kind:       "bug_fix_retry",
		Description: fmt.Sprintf("Fix story %s after QA rejection (iteration %d).\nPrevious attempts failed %d time(s): take a SIGNIFICANTLY different approach.\nAnalyze the QA feedback before coding and address the root cause, not the symptom.", sig.WorkflowID, n, n-1),
		Context: map[string]any{
			"iteration":   n,
			"qa_feedback": sig.Payload,
		},
	}

	return Resolution{
		Risk:    RiskReviewLoop,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("review loop iteration %d for story %s", n, sig.WorkflowID),
			"created retry task for developer with changed-approach instruction",
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// handleSpecDrift generates a corrective task for the implementer,
// emphasizing strict adherence and carrying the specific violations.
func (r *Router) handleSpecDrift(sig Signal) Resolution {
	task := TaskSpec{
		WorkflowID: sig.WorkflowID,
		Role:       scheduler.RoleDeveloper,
		Kind:       "spec_compliance_fix",
		Description: fmt.Sprintf("Correct specification deviations in story %s.\nFollow the specification EXACTLY: re-read it before coding, implement only what it specifies, and document how each acceptance criterion is met.", sig.WorkflowID),
		Context: map[string]any{
			"violations": sig.Payload["violations"],
			"qa_report":  sig.Payload,
		},
	}

	return Resolution{
		Risk:    RiskSpecDrift,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("implementation drift reported for story %s", sig.WorkflowID),
			"created strict-adherence task for developer",
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// handleContextLoss rebuilds a context bundle from the known reference
// locations and generates a retry for the role that lost context.
func (r *Router) handleContextLoss(sig Signal) Resolution {
	bundle := contextBundle(sig.WorkflowID)

	task := TaskSpec{
		WorkflowID: sig.WorkflowID,
		Role:       sig.Role,
		Kind:       "context_corrected_retry",
		Description: fmt.Sprintf("Resume work on story %s with the corrected context bundle attached.\nVerify every referenced document is available before continuing; report if context problems persist.", sig.WorkflowID),
		Context: map[string]any{
			"context_bundle":   bundle,
			"reported_problem": sig.Payload,
		},
	}

	return Resolution{
		Risk:    RiskContextLoss,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("context loss reported for story %s", sig.WorkflowID),
			"rebuilt context bundle from reference locations",
			"created corrected retry task",
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// handleToolFailure retries while the same tool has failed fewer than
// toolFailureLimit times inside the window; beyond that it escalates for a
// manual infrastructure fix.
func (r *Router) handleToolFailure(sig Signal) Resolution {
	tool := toolName(sig.Payload)

	r.mu.Lock()
	cutoff := r.now().Add(-toolFailureWindow)
	recent := pruneBefore(r.toolFails[tool], cutoff)
	recent = append(recent, r.now())
	r.toolFails[tool] = recent
	count := len(recent)
	r.mu.Unlock()

	if count >= toolFailureLimit {
		return Resolution{
			Risk:    RiskToolFailure,
			Handled: false,
			ActionsTaken: []string{
				fmt.Sprintf("tool %q failed %d times within %s", tool, count, toolFailureWindow),
				"escalating for manual infrastructure fix",
			},
			EscalateToHuman:  true,
			EscalationReason: fmt.Sprintf("persistent tool failure: %q failed %d times in %s", tool, count, toolFailureWindow),
		}
	}

	task := TaskSpec{
		WorkflowID: sig.WorkflowID,
		Role:       sig.Role,
		Kind:       "tool_retry",
		Description: fmt.Sprintf("Re-run %s for story %s (attempt %d).\nCheck the tool's configuration first and document any difference from the previous run.", tool, sig.WorkflowID, count+1),
		Context: map[string]any{
			"tool":           tool,
			"previous_error": sig.Payload["error_message"],
			"retry_attempt":  count + 1,
		},
	}

	return Resolution{
		Risk:    RiskToolFailure,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("tool failure: %q", tool),
			fmt.Sprintf("created retry task, attempt %d", count+1),
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// HandleTimeout handles the synthetic timeout signal raised when a dispatched
// task exceeds its expected duration. The first timeout per (workflow, role)
// within the window restarts the task with extra guidance; repeats escalate.
func (r *Router) HandleTimeout(workflowID string, role scheduler.Role, elapsed time.Duration) Resolution {
	key := workflowID + "|" + role.String()

	r.mu.Lock()
	cutoff := r.now().Add(-timeoutWindow)
	recent := pruneBefore(r.timeouts[key], cutoff)
	recent = append(recent, r.now())
	r.timeouts[key] = recent
	count := len(recent)
	r.history = append(r.history, record{at: r.now(), code: statuslog.CodeStoryTimeout, risk: RiskTimeout})
	r.mu.Unlock()

	if count > 1 {
		return Resolution{
			Risk:    RiskTimeout,
			Handled: false,
			ActionsTaken: []string{
				fmt.Sprintf("%s timed out %d times on story %s within %s", role, count, workflowID, timeoutWindow),
			},
			EscalateToHuman:  true,
			EscalationReason: fmt.Sprintf("role %s has timed out %d times on story %s in %s", role, count, workflowID, timeoutWindow),
		}
	}

	task := TaskSpec{
		WorkflowID: workflowID,
		Role:       role,
		Kind:       "timeout_restart",
		Description: fmt.Sprintf("Restart work on story %s after a timeout (%s elapsed).\nStart over, prioritize a working baseline over a perfect solution, and report progress incrementally.", workflowID, elapsed.Round(time.Second)),
		Context: map[string]any{
			"timeout_duration": elapsed.String(),
			"restart_attempt":  count,
		},
	}

	return Resolution{
		Risk:    RiskTimeout,
		Handled: true,
		ActionsTaken: []string{
			fmt.Sprintf("timeout detected for %s on story %s after %s", role, workflowID, elapsed.Round(time.Second)),
			"created restart task with reinforced guidance",
		},
		NewTasks:         []TaskSpec{task},
		RetryRecommended: true,
	}
}

// RouterStats summarizes recent router activity.
type RouterStats struct {
	Total  int
	ByRisk map[string]int
	ByCode map[string]int
}

// Stats counts handled signals within the window, grouped by risk and code.
func (r *Router) Stats(window time.Duration) RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-window)
	stats := RouterStats{
		ByRisk: make(map[string]int),
		ByCode: make(map[string]int),
	}
	for _, rec := range r.history {
		if rec.at.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByRisk[rec.risk.String()]++
		if rec.code != "" {
			stats.ByCode[rec.code]++
		}
	}
	return stats
}

// contextBundle names the reference locations a retry task needs to rebuild
// its working context.
func contextBundle(workflowID string) map[string]string {
	return map[string]string{
		"story_specification": fmt.Sprintf("docs/specs/spec-%s.md", workflowID),
		"design_principles":   "docs/dna/design_principles.md",
		"architecture":        "docs/dna/architecture.md",
		"workflow_guide":      "docs/workflows/story_lifecycle_guide.md",
		"latest_code_version": "main",
	}
}

func toolName(payload map[string]any) string {
	if name, _ := payload["tool"].(string); name != "" {
		return name
	}
	return "unknown"
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
