package config

// DefaultConfig returns the built-in roles, workflow templates, and routing
// table. Caps and expected durations reflect the kind of work each role does:
// development is focused (one task at a time, long-running), review work is
// quick and parallel.
func DefaultConfig() *TeamConfig {
	return &TeamConfig{
		Roles: map[string]RoleConfig{
			"designer": {
				SystemPrompt:    "You write feature specifications with testable acceptance criteria.",
				MaxConcurrent:   2,
				ExpectedMinutes: 240,
			},
			"developer": {
				SystemPrompt:    "You implement features exactly as specified.",
				MaxConcurrent:   1,
				ExpectedMinutes: 480,
			},
			"test_engineer": {
				SystemPrompt:    "You write unit and integration tests for implemented features.",
				MaxConcurrent:   3,
				ExpectedMinutes: 180,
			},
			"qa": {
				SystemPrompt:    "You validate features from the end-user perspective.",
				MaxConcurrent:   2,
				ExpectedMinutes: 240,
			},
			"reviewer": {
				SystemPrompt:    "You review code quality, performance, and standards compliance.",
				MaxConcurrent:   3,
				ExpectedMinutes: 120,
			},
			"coordinator": {
				SystemPrompt:    "You analyze stuck stories and decide how to unblock them.",
				MaxConcurrent:   1,
				ExpectedMinutes: 60,
			},
		},
		Workflows: map[string][]string{
			"full_feature": {
				"specification",
				"backend",
				"frontend",
				"unit_testing",
				"integration_testing",
				"manual_testing",
				"quality_review",
			},
			"backend_only": {
				"specification",
				"backend",
				"unit_testing",
				"integration_testing",
				"quality_review",
			},
			"frontend_only": {
				"specification",
				"frontend",
				"unit_testing",
				"manual_testing",
				"quality_review",
			},
			"specification_only": {
				"specification",
			},
		},
		Routing: map[string]string{
			"specification":       "designer",
			"backend":             "developer",
			"frontend":            "developer",
			"unit_testing":        "test_engineer",
			"integration_testing": "test_engineer",
			"manual_testing":      "qa",
			"quality_review":      "reviewer",
		},
		Concurrency: 4,
		StatusDB:    ".devteam/status.db",
	}
}
