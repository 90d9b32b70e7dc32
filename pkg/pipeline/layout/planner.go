package layout

import (
	"errors"
	"fmt"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

// ErrInvalidDependencyGraph reports a cycle in the task dependency edges.
// A cyclic input would otherwise silently misplace tasks during stage
// insertion, so it is rejected up front.
var ErrInvalidDependencyGraph = errors.New("invalid task dependency graph")

// Plan lays out a run: the staged task DAG, the separately-annotated
// finally tasks and the overall duration.
func Plan(spec PipelineSpec, run *results.Record, taskRuns []*results.Record) (*Layout, error) {
	stages, err := Stages(annotateTasks(spec.Tasks, run, taskRuns))
	if err != nil {
		return nil, err
	}
	layout := &Layout{
		Stages:  stages,
		Finally: annotateTasks(spec.Finally, run, taskRuns),
	}
	if run != nil {
		layout.Duration = RunDuration(run)
	}
	return layout, nil
}

// Stages groups the annotated tasks into an ordered list of parallel
// stages using three passes: dependency-free roots first, then tasks with a
// resource-lineage edge, then tasks ordered by runAfter. Tasks whose
// dependency names nothing in the list fall to the end of the sequence.
func Stages(tasks []TaskWithStatus) ([]Stage, error) {
	if err := checkCycles(tasks); err != nil {
		return nil, err
	}

	var out []Stage

	// roots: neither lineage nor ordering constraints
	for _, task := range tasks {
		if task.fromTask() == "" && len(task.RunAfter) == 0 {
			if len(out) == 0 {
				out = append(out, Stage{})
			}
			out[0] = append(out[0], task)
		}
	}

	// lineage edges
	for _, task := range tasks {
		from := task.fromTask()
		if from == "" || len(task.RunAfter) != 0 {
			continue
		}
		out = place(out, task, from, func(first TaskWithStatus) bool {
			return first.fromTask() == from
		})
	}

	// ordering edges
	for _, task := range tasks {
		if len(task.RunAfter) == 0 {
			continue
		}
		head := task.RunAfter[0]
		out = place(out, task, head, func(first TaskWithStatus) bool {
			return len(first.RunAfter) != 0 && first.RunAfter[0] == head
		})
	}

	return out, nil
}

// place puts task into the stage after the one holding its dependency. The
// dependency's stage is the last one containing a task of that name in a
// left-to-right scan; a dependency found nowhere defaults to the final
// stage. The task joins the following stage when that stage opens with a
// task sharing the same dependency head, otherwise it starts a new stage.
func place(out []Stage, task TaskWithStatus, dep string, sameGroup func(TaskWithStatus) bool) []Stage {
	flag := len(out) - 1
	for i, stage := range out {
		for _, staged := range stage {
			if staged.Name == dep {
				flag = i
			}
		}
	}
	next := flag + 1
	if next < len(out) && len(out[next]) > 0 && sameGroup(out[next][0]) {
		out[next] = append(out[next], task)
		return out
	}
	out = append(out, nil)
	copy(out[next+1:], out[next:])
	out[next] = Stage{task}
	return out
}

// checkCycles runs Kahn's algorithm over the union of runAfter and lineage
// edges. Edges naming unknown tasks are ignored here; dangling references
// are legal placement input, cycles are not.
func checkCycles(tasks []TaskWithStatus) error {
	known := map[string]bool{}
	for _, task := range tasks {
		known[task.Name] = true
	}

	inDegree := map[string]int{}
	dependents := map[string][]string{}
	for _, task := range tasks {
		inDegree[task.Name] = 0
	}
	addEdge := func(from, to string) {
		if !known[from] || !known[to] {
			return
		}
		inDegree[to]++
		dependents[from] = append(dependents[from], to)
	}
	for _, task := range tasks {
		for _, dep := range task.RunAfter {
			addEdge(dep, task.Name)
		}
		if from := task.fromTask(); from != "" {
			addEdge(from, task.Name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		visited += len(queue)
		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	if visited != len(tasks) {
		return fmt.Errorf("%w: cycle detected among %d of %d tasks", ErrInvalidDependencyGraph, len(tasks)-visited, len(tasks))
	}
	return nil
}
