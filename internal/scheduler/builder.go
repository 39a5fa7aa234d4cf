package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Story is the builder's view of a backlog item: just enough to expand it
// into a workflow without depending on where the item came from.
type Story struct {
	ID          string
	Title       string
	Description string
}

// Registry holds the two extension points of the task graph builder: the
// workflow-type -> task-type sequence templates, and the task-type -> role
// routing table. Both come from configuration; the builder itself carries
// no hardcoded sequences.
type Registry struct {
	templates map[string][]TaskType
	routing   map[TaskType]Role
	durations map[Role]time.Duration // expected task duration per role
}

// NewRegistry builds a registry from named templates and a routing table.
// Every task type referenced by a template must have a route; a template
// referencing an unrouted type is rejected here rather than at build time.
func NewRegistry(templates map[string][]TaskType, routing map[TaskType]Role, durations map[Role]time.Duration) (*Registry, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("registry requires at least one workflow template")
	}
	for name, sequence := range templates {
		if len(sequence) == 0 {
			return nil, fmt.Errorf("workflow template %q has no steps", name)
		}
		for _, taskType := range sequence {
			if _, ok := routing[taskType]; !ok {
				return nil, fmt.Errorf("workflow template %q: no role routed for task type %q", name, taskType)
			}
		}
	}
	return &Registry{
		templates: templates,
		routing:   routing,
		durations: durations,
	}, nil
}

// Templates returns the names of the registered workflow types, sorted.
func (r *Registry) Templates() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoleFor returns the worker role bound to a task type.
func (r *Registry) RoleFor(taskType TaskType) (Role, error) {
	role, ok := r.routing[taskType]
	if !ok {
		return 0, fmt.Errorf("no role routed for task type %q", taskType)
	}
	return role, nil
}

// Build expands a story into a workflow using the named template. Each task
// depends on exactly the previous task in the sequence; the first has no
// dependencies. Unknown workflow types fail closed.
func (r *Registry) Build(story Story, workflowType string) (*Workflow, error) {
	if story.ID == "" {
		return nil, fmt.Errorf("story has no ID")
	}

	sequence, ok := r.templates[workflowType]
	if !ok {
		return nil, fmt.Errorf("unknown workflow type %q (known: %s)", workflowType, strings.Join(r.Templates(), ", "))
	}

	wf := &Workflow{
		ID:          story.ID,
		Title:       story.Title,
		Description: story.Description,
		Type:        workflowType,
		CreatedAt:   time.Now(),
		dag:         NewDAG(),
	}

	now := time.Now()
	var prevID string
	for i, taskType := range sequence {
		role := r.routing[taskType]

		var deps []string
		if i > 0 {
			deps = []string{prevID}
		}

		task := &Task{
			ID:          fmt.Sprintf("%s_%s", story.ID, taskType),
			WorkflowID:  story.ID,
			Type:        taskType,
			Role:        role,
			Description: taskDescription(taskType, story),
			DependsOn:   deps,
			Artifacts:   taskArtifacts(taskType, story.ID),
			AssignedAt:  now,
			Status:      TaskAssigned,
		}
		if d, ok := r.durations[role]; ok && d > 0 {
			task.Deadline = now.Add(d)
		}

		if err := wf.dag.AddTask(task); err != nil {
			return nil, fmt.Errorf("building workflow %q: %w", story.ID, err)
		}
		wf.order = append(wf.order, task.ID)
		prevID = task.ID
	}

	// Linear templates cannot cycle, but validate anyway so hand-built
	// registries and future DAG templates fail closed at creation time.
	if _, err := wf.dag.Validate(); err != nil {
		return nil, fmt.Errorf("building workflow %q: %w", story.ID, err)
	}

	return wf, nil
}

func taskDescription(taskType TaskType, story Story) string {
	label := strings.ReplaceAll(taskType.String(), "_", " ")
	title := story.Title
	if title == "" {
		title = story.ID
	}
	if story.Description == "" {
		return fmt.Sprintf("%s for %q", label, title)
	}
	return fmt.Sprintf("%s for %q\n\n%s", label, title, story.Description)
}

// taskArtifacts names the files each task type is expected to produce.
// Purely advisory: the engine uses these for resource locking and the
// workflow records them as produced artifact references.
func taskArtifacts(taskType TaskType, storyID string) []string {
	switch taskType {
	case TaskSpecification:
		return []string{fmt.Sprintf("docs/specs/spec-%s.md", storyID)}
	case TaskBackend:
		return []string{fmt.Sprintf("backend/app/api/%s.py", storyID)}
	case TaskFrontend:
		return []string{fmt.Sprintf("frontend/src/components/%s.tsx", storyID)}
	case TaskUnitTesting, TaskIntegrationTesting:
		return []string{fmt.Sprintf("tests/%s_%s.md", storyID, taskType)}
	case TaskManualTesting:
		return []string{fmt.Sprintf("reports/qa-%s.md", storyID)}
	case TaskQualityReview:
		return []string{fmt.Sprintf("reports/review-%s.md", storyID)}
	}
	return nil
}
