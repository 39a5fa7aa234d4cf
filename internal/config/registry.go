package config

import (
	"fmt"
	"time"

	"github.com/hallqvist/devteam/internal/scheduler"
)

// Registry converts the string-keyed workflow templates and routing table
// into the scheduler's closed enums. Any unknown task type or role name in
// the config fails here, before a single workflow is built.
func (c *TeamConfig) Registry() (*scheduler.Registry, error) {
	templates := make(map[string][]scheduler.TaskType, len(c.Workflows))
	for name, sequence := range c.Workflows {
		types := make([]scheduler.TaskType, 0, len(sequence))
		for _, typeName := range sequence {
			taskType, err := scheduler.ParseTaskType(typeName)
			if err != nil {
				return nil, fmt.Errorf("workflow %q: %w", name, err)
			}
			types = append(types, taskType)
		}
		templates[name] = types
	}

	routing := make(map[scheduler.TaskType]scheduler.Role, len(c.Routing))
	for typeName, roleName := range c.Routing {
		taskType, err := scheduler.ParseTaskType(typeName)
		if err != nil {
			return nil, fmt.Errorf("routing table: %w", err)
		}
		role, err := scheduler.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("routing table for %q: %w", typeName, err)
		}
		routing[taskType] = role
	}

	durations := make(map[scheduler.Role]time.Duration, len(c.Roles))
	for roleName, rc := range c.Roles {
		role, err := scheduler.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("roles: %w", err)
		}
		if rc.ExpectedMinutes > 0 {
			durations[role] = time.Duration(rc.ExpectedMinutes) * time.Minute
		}
	}

	return scheduler.NewRegistry(templates, routing, durations)
}

// RoleCaps returns the per-role concurrency caps keyed by role enum.
// Roles without an explicit cap default to 1.
func (c *TeamConfig) RoleCaps() (map[scheduler.Role]int, error) {
	caps := make(map[scheduler.Role]int, len(c.Roles))
	for roleName, rc := range c.Roles {
		role, err := scheduler.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("roles: %w", err)
		}
		cap := rc.MaxConcurrent
		if cap <= 0 {
			cap = 1
		}
		caps[role] = cap
	}
	return caps, nil
}
