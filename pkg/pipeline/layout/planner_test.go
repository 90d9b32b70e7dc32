package layout

import (
	"errors"
	"testing"
	"time"

	"github.com/go-test/deep"

	// k8s
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

func task(name string, runAfter ...string) PipelineTask {
	return PipelineTask{Name: name, RunAfter: runAfter}
}

func taskFrom(name, from string) PipelineTask {
	return PipelineTask{
		Name: name,
		Resources: &PipelineTaskResources{
			Inputs: []TaskResourceBinding{{Name: "source", From: []string{from}}},
		},
	}
}

func plain(tasks ...PipelineTask) []TaskWithStatus {
	out := make([]TaskWithStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskWithStatus{PipelineTask: t})
	}
	return out
}

func stageNames(stages []Stage) [][]string {
	out := make([][]string, 0, len(stages))
	for _, stage := range stages {
		var names []string
		for _, t := range stage {
			names = append(names, t.Name)
		}
		out = append(out, names)
	}
	return out
}

func TestStages(t *testing.T) {
	tests := []struct {
		name   string
		input  []PipelineTask
		output [][]string
	}{
		{
			name:   "no dependencies yields a single stage",
			input:  []PipelineTask{task("a"), task("b"), task("c")},
			output: [][]string{{"a", "b", "c"}},
		},
		{
			name:   "a runAfter chain yields one stage per task",
			input:  []PipelineTask{task("a"), task("b", "a"), task("c", "b")},
			output: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:   "fan-in on a shared runAfter head groups into one stage",
			input:  []PipelineTask{task("a"), task("b"), task("c", "a"), task("d", "a")},
			output: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name:   "differing runAfter heads split into separate stages",
			input:  []PipelineTask{task("a"), task("b"), task("c", "a"), task("d", "b")},
			output: [][]string{{"a", "b"}, {"d"}, {"c"}},
		},
		{
			name:   "a lineage chain yields one stage per task",
			input:  []PipelineTask{task("src"), taskFrom("build", "src"), taskFrom("deploy", "build")},
			output: [][]string{{"src"}, {"build"}, {"deploy"}},
		},
		{
			name:   "fan-in on a shared lineage source groups into one stage",
			input:  []PipelineTask{task("src"), taskFrom("unit", "src"), taskFrom("lint", "src")},
			output: [][]string{{"src"}, {"unit", "lint"}},
		},
		{
			name: "lineage and runAfter edges interleave",
			input: []PipelineTask{
				task("src"),
				taskFrom("build", "src"),
				task("deploy", "build"),
			},
			output: [][]string{{"src"}, {"build"}, {"deploy"}},
		},
		{
			name:   "a dangling runAfter reference lands after the last stage",
			input:  []PipelineTask{task("a"), task("b", "missing")},
			output: [][]string{{"a"}, {"b"}},
		},
		{
			name:   "a task with both edge kinds is placed by its runAfter head",
			input:  []PipelineTask{task("a"), task("b"), PipelineTask{Name: "c", RunAfter: []string{"b"}, Resources: &PipelineTaskResources{Inputs: []TaskResourceBinding{{Name: "src", From: []string{"a"}}}}}},
			output: [][]string{{"a", "b"}, {"c"}},
		},
		{
			name:   "empty task list yields no stages",
			input:  nil,
			output: [][]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := Stages(plain(tt.input...))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(stageNames(stages), tt.output); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestStagesRejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		input []PipelineTask
	}{
		{
			name:  "two-task runAfter cycle",
			input: []PipelineTask{task("a", "b"), task("b", "a")},
		},
		{
			name:  "self reference",
			input: []PipelineTask{task("a", "a")},
		},
		{
			name: "mixed-edge cycle",
			input: []PipelineTask{
				taskFrom("a", "c"),
				task("b", "a"),
				task("c", "b"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Stages(plain(tt.input...))
			if !errors.Is(err, ErrInvalidDependencyGraph) {
				t.Errorf("err = %v, want ErrInvalidDependencyGraph", err)
			}
		})
	}
}

func timePtr(t time.Time) *metav1.Time {
	return ptr.To(metav1.NewTime(t))
}

func run(specStatus string, conditions ...results.Condition) *results.Record {
	return &results.Record{
		ObjectMeta: metav1.ObjectMeta{Name: "run-1", Namespace: "ns1"},
		Spec:       results.RunSpec{Status: specStatus},
		Status:     results.RunStatus{Conditions: conditions},
	}
}

func succeeded() results.Condition {
	return results.Condition{Type: "Succeeded", Status: corev1.ConditionTrue}
}

func TestRunStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		input  *results.Record
		output TaskStatus
	}{
		{
			name:   "no condition yet",
			input:  run(""),
			output: StatusPending,
		},
		{
			name:   "succeeded",
			input:  run("", succeeded()),
			output: StatusSucceeded,
		},
		{
			name:   "failed",
			input:  run("", results.Condition{Type: "Succeeded", Status: corev1.ConditionFalse, Reason: "Failed"}),
			output: StatusFailed,
		},
		{
			name:   "cancelled run reported as failed condition",
			input:  run("", results.Condition{Type: "Succeeded", Status: corev1.ConditionFalse, Reason: "PipelineRunCancelled"}),
			output: StatusCancelled,
		},
		{
			name:   "cancellation still running finally tasks",
			input:  run("", results.Condition{Type: "Succeeded", Status: corev1.ConditionUnknown, Reason: "CancelledRunningFinally"}),
			output: StatusCancelled,
		},
		{
			name:   "pending run",
			input:  run("", results.Condition{Type: "Succeeded", Status: corev1.ConditionUnknown, Reason: "PipelineRunPending"}),
			output: StatusIdle,
		},
		{
			name:   "in progress",
			input:  run("", results.Condition{Type: "Succeeded", Status: corev1.ConditionUnknown, Reason: "Running"}),
			output: StatusRunning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RunStatusOf(tt.input); got != tt.output {
				t.Errorf("got %q, want %q", got, tt.output)
			}
		})
	}
}

func TestAnnotateTasksWithoutRun(t *testing.T) {
	annotated := annotateTasks([]PipelineTask{task("a")}, nil, nil)
	if len(annotated) != 1 || annotated[0].Status != nil {
		t.Error("without a run, tasks must pass through unannotated")
	}
}

func TestAnnotateTasksWithoutTaskRuns(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output TaskStatus
	}{
		{name: "cancelled run", input: "Cancelled", output: StatusCancelled},
		{name: "cancelled with finally", input: "CancelledRunFinally", output: StatusCancelled},
		{name: "pending run", input: "PipelineRunPending", output: StatusIdle},
		{name: "failed before any task started", input: "", output: StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotated := annotateTasks([]PipelineTask{task("a"), task("b")}, run(tt.input), nil)
			for _, got := range annotated {
				if got.Status == nil || got.Status.Reason != tt.output {
					t.Errorf("task %s status = %+v, want reason %q", got.Name, got.Status, tt.output)
				}
			}
		})
	}
}

func taskRun(name, pipelineTask string, conditions ...results.Condition) *results.Record {
	return &results.Record{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns1",
			Labels:    map[string]string{"tekton.dev/pipelineTask": pipelineTask},
		},
		Status: results.RunStatus{Conditions: conditions},
	}
}

func TestAnnotateTasksMatchesTaskRuns(t *testing.T) {
	start := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := taskRun("run-1-build", "build", succeeded())
	tr.Status.StartTime = timePtr(start)
	tr.Status.CompletionTime = timePtr(start.Add(90 * time.Second))
	tr.Status.PodName = "run-1-build-pod"

	annotated := annotateTasks([]PipelineTask{task("build"), task("deploy", "build")}, run(""), []*results.Record{tr})

	build := annotated[0].Status
	if build.Reason != StatusSucceeded {
		t.Errorf("build reason = %q, want Succeeded", build.Reason)
	}
	if build.Duration != "90s" {
		t.Errorf("build duration = %q, want 90s", build.Duration)
	}
	if build.PodName != "run-1-build-pod" || build.TaskRunName != "run-1-build" {
		t.Errorf("build pod/taskrun = %q/%q", build.PodName, build.TaskRunName)
	}

	// deploy has no task run yet
	if annotated[1].Status == nil || annotated[1].Status.Reason != StatusPending {
		t.Errorf("deploy status = %+v, want Pending", annotated[1].Status)
	}
}

func TestPlan(t *testing.T) {
	start := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	pr := run("", succeeded())
	pr.Status.StartTime = timePtr(start)
	pr.Status.CompletionTime = timePtr(start.Add(5 * time.Minute))

	spec := PipelineSpec{
		Tasks: []PipelineTask{
			task("build"),
			task("unit", "build"),
			task("lint", "build"),
			task("deploy", "unit"),
		},
		Finally: []PipelineTask{task("cleanup")},
	}
	taskRuns := []*results.Record{
		taskRun("run-1-build", "build", succeeded()),
		taskRun("run-1-unit", "unit", succeeded()),
		taskRun("run-1-lint", "lint", succeeded()),
		taskRun("run-1-deploy", "deploy", succeeded()),
		taskRun("run-1-cleanup", "cleanup", succeeded()),
	}

	layout, err := Plan(spec, pr, taskRuns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"build"}, {"unit", "lint"}, {"deploy"}}
	if diff := deep.Equal(stageNames(layout.Stages), want); diff != nil {
		t.Error(diff)
	}
	if len(layout.Finally) != 1 || layout.Finally[0].Name != "cleanup" {
		t.Error("finally tasks must be annotated separately, never staged")
	}
	if layout.Finally[0].Status == nil || layout.Finally[0].Status.Reason != StatusSucceeded {
		t.Errorf("cleanup status = %+v, want Succeeded", layout.Finally[0].Status)
	}
	if layout.Duration != "5m" {
		t.Errorf("run duration = %q, want 5m", layout.Duration)
	}
	for _, stage := range layout.Stages {
		for _, staged := range stage {
			if staged.Status == nil || staged.Status.Reason != StatusSucceeded {
				t.Errorf("task %s status = %+v, want Succeeded", staged.Name, staged.Status)
			}
		}
	}
}

func TestPlanRejectsCyclicSpec(t *testing.T) {
	spec := PipelineSpec{Tasks: []PipelineTask{task("a", "b"), task("b", "a")}}
	if _, err := Plan(spec, nil, nil); !errors.Is(err, ErrInvalidDependencyGraph) {
		t.Errorf("err = %v, want ErrInvalidDependencyGraph", err)
	}
}
