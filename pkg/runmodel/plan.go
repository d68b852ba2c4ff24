package runmodel

import "fmt"

// TaskStatus is the lifecycle state of a Task within a Plan.
type TaskStatus string

const (
	TaskReady   TaskStatus = "READY"
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
	TaskSkipped TaskStatus = "SKIPPED"
)

// Task is a single unit of plan execution. Type is drawn from a closed set;
// runcore does not enforce the set itself (that belongs to the Agent that
// produced the plan) but exposes it for validation callers that want it.
type Task struct {
	ID             string
	Type           string
	Description    string
	DependsOn      []string
	ExpectedOutput string
}

// Plan is the DAG of tasks an Agent produces during planning. Tasks is keyed
// by id (arena/id-based graph per spec.md §9 design notes); Order preserves
// insertion order for deterministic tie-breaking during dispatch.
type Plan struct {
	Tasks    map[string]*Task
	Order    []string
	Metadata PlanMetadata
}

// PlanMetadata carries planner-reported metadata about the plan.
type PlanMetadata struct {
	EstimatedSteps int
}

// NewPlan builds a Plan from an ordered task list, preserving insertion order.
func NewPlan(tasks []*Task, estimatedSteps int) *Plan {
	p := &Plan{
		Tasks:    make(map[string]*Task, len(tasks)),
		Order:    make([]string, 0, len(tasks)),
		Metadata: PlanMetadata{EstimatedSteps: estimatedSteps},
	}
	for _, t := range tasks {
		p.Tasks[t.ID] = t
		p.Order = append(p.Order, t.ID)
	}
	return p
}

// Validate checks the plan invariants spec.md §4.6 requires before a run may
// leave the planning state: unique task ids, dependsOn references resolve
// within the plan, and the dependency graph is acyclic.
//
// spec.md §4.6 also lists "unknown task types" among planning-validation
// failures, but Validate does not check Task.Type against a closed set by
// default: runcore doesn't own the task-type vocabulary, the Agent that
// produced the plan does. Callers that do own a fixed vocabulary can opt in
// by passing it as allowedTypes; Validate then rejects any task whose Type
// isn't in that set.
func (p *Plan) Validate(allowedTypes ...string) error {
	if len(p.Tasks) != len(p.Order) {
		return fmt.Errorf("%w: duplicate task id in plan", ErrPlanValidation)
	}
	for id, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := p.Tasks[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrPlanValidation, id, dep)
			}
		}
	}
	if cycle := p.findCycle(); cycle != "" {
		return fmt.Errorf("%w: dependency cycle involving task %q", ErrPlanValidation, cycle)
	}
	if len(allowedTypes) > 0 {
		allowed := make(map[string]bool, len(allowedTypes))
		for _, t := range allowedTypes {
			allowed[t] = true
		}
		for id, t := range p.Tasks {
			if !allowed[t.Type] {
				return fmt.Errorf("%w: task %q has unknown type %q", ErrPlanValidation, id, t.Type)
			}
		}
	}
	return nil
}

// findCycle returns the id of a task participating in a cycle, or "" if the
// graph is acyclic. Standard white/gray/black DFS coloring.
func (p *Plan) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range p.Tasks[id].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, id := range p.Order {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// TaskResult is the immutable-once-written outcome of executing a Task.
type TaskResult struct {
	TaskID      string
	Status      TaskStatus
	Output      string
	CompletedAt int64 // unix nanos; set once, never mutated
	Error       string
	// Annotations carries policy markers such as {"pricing": "unknown"}. No
	// runcore package sets it; the engine keeps whatever the Agent returns.
	Annotations map[string]string
}
