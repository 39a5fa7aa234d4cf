package config

// RoleConfig defines one worker role: the command its worker runs, its
// concurrency cap, and how long a task bound to it is expected to take.
type RoleConfig struct {
	Command         string   `json:"command,omitempty"`          // Worker CLI binary (empty disables the role's subprocess worker)
	Args            []string `json:"args,omitempty"`             // Default args appended to every invocation
	SystemPrompt    string   `json:"system_prompt,omitempty"`    // Role-specific system prompt
	MaxConcurrent   int      `json:"max_concurrent,omitempty"`   // Max tasks in progress at once (0 = 1)
	ExpectedMinutes int      `json:"expected_minutes,omitempty"` // Expected task duration, drives the timeout path
}

// TeamConfig is the top-level configuration: role definitions, the
// workflow-type -> task-type sequence templates, and the task-type -> role
// routing table. Templates and routing are the two extension points for
// adapting the pipeline to a new domain.
type TeamConfig struct {
	Roles     map[string]RoleConfig `json:"roles"`
	Workflows map[string][]string   `json:"workflows"` // workflow type -> ordered task-type names
	Routing   map[string]string     `json:"routing"`   // task-type name -> role name

	Concurrency int    `json:"concurrency,omitempty"` // Global dispatch limit (default 4)
	StatusDB    string `json:"status_db,omitempty"`   // Path to the status log database
}
