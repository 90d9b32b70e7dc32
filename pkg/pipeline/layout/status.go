package layout

import (
	"strings"

	// k8s
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/duration"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

// TaskStatus is the computed execution state shown per task.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "Succeeded"
	StatusFailed    TaskStatus = "Failed"
	StatusRunning   TaskStatus = "Running"
	StatusPending   TaskStatus = "Pending"
	StatusCancelled TaskStatus = "Cancelled"
	StatusIdle      TaskStatus = "Idle"
)

// Run-level spec.status values a user can request on a PipelineRun.
const (
	specStatusCancelled         = "Cancelled"
	specStatusCancelledFinally  = "CancelledRunFinally"
	specStatusStoppedRunFinally = "StoppedRunFinally"
	specStatusPending           = "PipelineRunPending"
)

// RunStatusOf derives a single status from a run's conditions.
func RunStatusOf(rec *results.Record) TaskStatus {
	cond := rec.SucceededCondition()
	if cond == nil {
		return StatusPending
	}
	switch cond.Status {
	case corev1.ConditionTrue:
		return StatusSucceeded
	case corev1.ConditionFalse:
		if isCancelledReason(cond.Reason) {
			return StatusCancelled
		}
		return StatusFailed
	default:
		if cond.Reason == specStatusPending {
			return StatusIdle
		}
		if isCancelledReason(cond.Reason) {
			return StatusCancelled
		}
		return StatusRunning
	}
}

func isCancelledReason(reason string) bool {
	switch reason {
	case "PipelineRunCancelled", "TaskRunCancelled", "Cancelled", "CancelledRunFinally", "StoppedRunFinally":
		return true
	}
	return strings.Contains(reason, "Cancelled")
}

// RunDuration formats the wall-clock time a run took, empty until the run
// has both timestamps.
func RunDuration(rec *results.Record) string {
	return formatDuration(rec.Status.StartTime, rec.Status.CompletionTime)
}

func formatDuration(start, completion *metav1.Time) string {
	if start == nil || completion == nil {
		return ""
	}
	return duration.HumanDuration(completion.Time.Sub(start.Time))
}

// annotateTasks stamps each task with its execution status.
//
// Without a run there is nothing to say and tasks pass through unannotated.
// A run without per-task records resolves entirely from its spec.status:
// cancelled runs mark every task Cancelled, pending runs Idle, anything
// else failed before a single task could record state. With task records
// present each task is matched to its run by the pipelineTask label.
func annotateTasks(tasks []PipelineTask, run *results.Record, taskRuns []*results.Record) []TaskWithStatus {
	out := make([]TaskWithStatus, 0, len(tasks))
	if run == nil {
		for _, task := range tasks {
			out = append(out, TaskWithStatus{PipelineTask: task})
		}
		return out
	}

	if len(taskRuns) == 0 {
		var reason TaskStatus
		switch run.Spec.Status {
		case specStatusCancelled, specStatusCancelledFinally, specStatusStoppedRunFinally:
			reason = StatusCancelled
		case specStatusPending:
			reason = StatusIdle
		default:
			reason = StatusFailed
		}
		for _, task := range tasks {
			out = append(out, TaskWithStatus{
				PipelineTask: task,
				Status:       &TaskStatusInfo{Reason: reason},
			})
		}
		return out
	}

	for _, task := range tasks {
		taskRun := findTaskRun(taskRuns, task.Name)
		if taskRun == nil {
			out = append(out, TaskWithStatus{
				PipelineTask: task,
				Status:       &TaskStatusInfo{Reason: StatusPending},
			})
			continue
		}
		out = append(out, TaskWithStatus{
			PipelineTask: task,
			Status: &TaskStatusInfo{
				Reason:         RunStatusOf(taskRun),
				StartTime:      taskRun.Status.StartTime,
				CompletionTime: taskRun.Status.CompletionTime,
				Duration:       formatDuration(taskRun.Status.StartTime, taskRun.Status.CompletionTime),
				PodName:        taskRun.Status.PodName,
				TaskRunName:    taskRun.Name,
			},
		})
	}
	return out
}

func findTaskRun(taskRuns []*results.Record, pipelineTaskName string) *results.Record {
	for _, tr := range taskRuns {
		if tr.Labels[api.PipelineTaskLabel] == pipelineTaskName {
			return tr
		}
	}
	return nil
}
