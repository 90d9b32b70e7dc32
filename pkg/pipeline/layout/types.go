// Package layout reconstructs the left-to-right stage layout of a pipeline
// out of its flat task list and annotates each task with the execution
// status of its run.
package layout

import (
	// k8s
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PipelineSpec is the slice of a Tekton pipeline definition the planner
// needs: the ordered task list plus the finally tasks that always run last.
type PipelineSpec struct {
	Tasks   []PipelineTask `json:"tasks,omitempty"`
	Finally []PipelineTask `json:"finally,omitempty"`
}

// PipelineTask declares one task and its two kinds of dependency edges:
// RunAfter is plain ordering, resource inputs with From express data
// lineage from the producing task.
type PipelineTask struct {
	Name      string                 `json:"name"`
	TaskRef   *TaskRef               `json:"taskRef,omitempty"`
	RunAfter  []string               `json:"runAfter,omitempty"`
	Resources *PipelineTaskResources `json:"resources,omitempty"`
}

type TaskRef struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

type PipelineTaskResources struct {
	Inputs  []TaskResourceBinding `json:"inputs,omitempty"`
	Outputs []TaskResourceBinding `json:"outputs,omitempty"`
}

type TaskResourceBinding struct {
	Name     string   `json:"name"`
	Resource string   `json:"resource,omitempty"`
	From     []string `json:"from,omitempty"`
}

// fromTask returns the producing task this task's first input draws from,
// empty when the task has no lineage edge.
func (t PipelineTask) fromTask() string {
	if t.Resources == nil || len(t.Resources.Inputs) == 0 || len(t.Resources.Inputs[0].From) == 0 {
		return ""
	}
	return t.Resources.Inputs[0].From[0]
}

// TaskWithStatus is a pipeline task annotated with its run state. Status is
// nil when the containing run carries no status information at all.
type TaskWithStatus struct {
	PipelineTask
	Status *TaskStatusInfo `json:"status,omitempty"`
}

type TaskStatusInfo struct {
	Reason         TaskStatus   `json:"reason"`
	StartTime      *metav1.Time `json:"startTime,omitempty"`
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`
	// Duration is human formatted, present once both timestamps are.
	Duration    string `json:"duration,omitempty"`
	PodName     string `json:"podName,omitempty"`
	TaskRunName string `json:"taskRunName,omitempty"`
}

// Stage is one column of the layout: tasks with no ordering between them.
type Stage []TaskWithStatus

// Layout is the planner's output for one run.
type Layout struct {
	Stages []Stage `json:"stages"`
	// Finally tasks are annotated but never staged; they render as their
	// own trailing section.
	Finally []TaskWithStatus `json:"finally,omitempty"`
	// Duration covers the whole run, human formatted.
	Duration string `json:"duration,omitempty"`
}
