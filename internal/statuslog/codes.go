// Package statuslog is the append-only audit record of every outcome an
// actor reports. All communication about task outcomes goes through a closed
// vocabulary of codes; unknown codes and malformed payloads are rejected at
// append time so the log is always machine-interpretable.
package statuslog

import (
	"strconv"
	"strings"
)

// Success codes.
const (
	CodeSpecDelivered = "SPEC_DELIVERED"
	CodeSpecUpdated   = "SPEC_UPDATED"

	CodeCodeImplemented = "CODE_IMPLEMENTED"
	CodeCodeDelivered   = "CODE_DELIVERED"

	CodeTestsWritten       = "TESTS_WRITTEN"
	CodeAutomatedGateGreen = "AUTOMATED_GATE_GREEN"

	CodeQAApproved   = "QA_APPROVED"
	CodeTechReviewOK = "TECH_REVIEW_OK"

	CodeFeatureAnalyzed = "FEATURE_ANALYZED"
	CodeStoriesCreated  = "STORIES_CREATED"
	CodeStoryDelegated  = "STORY_DELEGATED"
	CodeStoryCompleted  = "STORY_COMPLETED"
)

// Error codes.
const (
	CodeSpecUnclear       = "SPEC_UNCLEAR"
	CodeSpecAmbiguousDev  = "SPEC_AMBIGUOUS_DEV"
	CodeSpecAmbiguousTest = "SPEC_AMBIGUOUS_TEST"
	CodeSpecUntestable    = "SPEC_UNTESTABLE"

	CodeArchitectureViolation = "IMPL_ARCHITECTURE_VIOLATION"
	CodeImplToolFailure       = "IMPL_TOOL_FAILURE"
	CodeCodeUntestable        = "CODE_UNTESTABLE"

	CodeContextLost     = "CONTEXT_LOST"
	CodeContextLostDev  = "CONTEXT_LOST_DEV"
	CodeContextLostTest = "CONTEXT_LOST_TEST"

	CodeRegressionFailure   = "REGRESSION_FAILURE"
	CodeGatePerformance     = "GATE_PERFORMANCE_FAILED"
	CodeGateCodeStandard    = "GATE_CODE_STANDARD_FAILED"
	CodeGateAccessibility   = "GATE_ACCESSIBILITY_FAILED"
	CodeTestToolFailure     = "TEST_TOOL_FAILURE"
	CodeReviewToolFailure   = "REVIEW_TOOL_FAILURE"
	CodeQAEnvironment       = "QA_ENVIRONMENT_FAILURE"
	CodeCodebaseUnavailable = "CODEBASE_UNAVAILABLE"

	CodeAnalysisError    = "ANALYSIS_ERROR"
	CodeDelegationFailed = "DELEGATION_FAILED"
	CodeStoryTimeout     = "STORY_TIMEOUT"
	CodeTaskFailed       = "TASK_EXECUTION_FAILED"
)

// QA iteration codes, counted for deadlock detection. The _ITERATION_N
// suffix is a compatibility convention; the explicit Iteration field on
// Report is authoritative.
const (
	CodeQARejectedIteration1 = "QA_REJECTED_ITERATION_1"
	CodeQARejectedIteration2 = "QA_REJECTED_ITERATION_2"
	CodeQARejectedIteration3 = "QA_REJECTED_ITERATION_3"
	CodeQASpecDeviation      = "QA_SPEC_DEVIATION"
)

var successCodes = map[string]bool{
	CodeSpecDelivered:      true,
	CodeSpecUpdated:        true,
	CodeCodeImplemented:    true,
	CodeCodeDelivered:      true,
	CodeTestsWritten:       true,
	CodeAutomatedGateGreen: true,
	CodeQAApproved:         true,
	CodeTechReviewOK:       true,
	CodeFeatureAnalyzed:    true,
	CodeStoriesCreated:     true,
	CodeStoryDelegated:     true,
	CodeStoryCompleted:     true,
}

var errorCodes = map[string]bool{
	CodeSpecUnclear:           true,
	CodeSpecAmbiguousDev:      true,
	CodeSpecAmbiguousTest:     true,
	CodeSpecUntestable:        true,
	CodeArchitectureViolation: true,
	CodeImplToolFailure:       true,
	CodeCodeUntestable:        true,
	CodeContextLost:           true,
	CodeContextLostDev:        true,
	CodeContextLostTest:       true,
	CodeRegressionFailure:     true,
	CodeGatePerformance:       true,
	CodeGateCodeStandard:      true,
	CodeGateAccessibility:     true,
	CodeTestToolFailure:       true,
	CodeReviewToolFailure:     true,
	CodeQAEnvironment:         true,
	CodeCodebaseUnavailable:   true,
	CodeAnalysisError:         true,
	CodeDelegationFailed:      true,
	CodeStoryTimeout:          true,
	CodeTaskFailed:            true,
}

var qaIterationCodes = map[string]bool{
	CodeQARejectedIteration1: true,
	CodeQARejectedIteration2: true,
	CodeQARejectedIteration3: true,
	CodeQASpecDeviation:      true,
}

var knownActors = map[string]bool{
	"designer":      true,
	"developer":     true,
	"test_engineer": true,
	"qa":            true,
	"reviewer":      true,
	"coordinator":   true,
}

// IsSuccess reports whether code indicates successful completion.
func IsSuccess(code string) bool { return successCodes[code] }

// IsError reports whether code indicates an error condition.
func IsError(code string) bool { return errorCodes[code] }

// IsQAIteration reports whether code is a QA rejection counted for
// deadlock detection.
func IsQAIteration(code string) bool { return qaIterationCodes[code] }

// IsKnownCode reports whether code belongs to the closed vocabulary.
func IsKnownCode(code string) bool {
	return successCodes[code] || errorCodes[code] || qaIterationCodes[code]
}

// IsKnownActor reports whether the actor name is recognized.
func IsKnownActor(actor string) bool { return knownActors[actor] }

// IterationFromCode extracts the iteration number from a legacy
// _ITERATION_N code suffix. Returns 0 when the code carries none.
func IterationFromCode(code string) int {
	idx := strings.LastIndex(code, "_ITERATION_")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(code[idx+len("_ITERATION_"):])
	if err != nil {
		return 0
	}
	return n
}
