package results

import (
	"encoding/json"

	// k8s
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Record is the decoded form of a single pipeline or task execution,
// whether it arrived over a live watch or out of the Tekton Results archive.
// Identity is the metadata UID: two copies of the same execution sourced
// from both origins carry the same UID and must collapse to one entry.
type Record struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RunSpec   `json:"spec,omitempty"`
	Status RunStatus `json:"status,omitempty"`
}

// RunSpec carries the only run-level spec field the reconciler and planner
// care about.
type RunSpec struct {
	// Status is a user-requested override such as "Cancelled",
	// "CancelledRunFinally" or "PipelineRunPending".
	Status string `json:"status,omitempty"`
}

// RunStatus mirrors the condition-bearing status substructure shared by
// PipelineRun and TaskRun objects.
type RunStatus struct {
	Conditions     []Condition  `json:"conditions,omitempty"`
	StartTime      *metav1.Time `json:"startTime,omitempty"`
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`
	// PodName points at the executing pod, task runs only.
	PodName string `json:"podName,omitempty"`
	// PipelineSpec is the resolved pipeline definition Tekton stores on a
	// finished PipelineRun. Kept raw; the layout package owns its shape.
	PipelineSpec json.RawMessage `json:"pipelineSpec,omitempty"`
	// ChildReferences names the TaskRuns owned by a PipelineRun.
	ChildReferences []ChildReference `json:"childReferences,omitempty"`
}

// Condition is the knative-style status condition Tekton stamps on runs.
type Condition struct {
	Type               string                 `json:"type"`
	Status             corev1.ConditionStatus `json:"status"`
	Reason             string                 `json:"reason,omitempty"`
	Message            string                 `json:"message,omitempty"`
	LastTransitionTime *metav1.Time           `json:"lastTransitionTime,omitempty"`
}

type ChildReference struct {
	metav1.TypeMeta `json:",inline"`
	Name            string `json:"name"`
	PipelineTaskName string `json:"pipelineTaskName,omitempty"`
}

// SucceededCondition returns the run's terminal condition, nil when the run
// has not reported one yet.
func (r *Record) SucceededCondition() *Condition {
	for i := range r.Status.Conditions {
		if r.Status.Conditions[i].Type == "Succeeded" {
			return &r.Status.Conditions[i]
		}
	}
	return nil
}

// IsDone reports whether the run reached a terminal state. Done runs are the
// only ones whose archival query results may be cached, their record set can
// never change again.
func (r *Record) IsDone() bool {
	cond := r.SucceededCondition()
	if cond == nil {
		return false
	}
	return cond.Status == corev1.ConditionTrue || cond.Status == corev1.ConditionFalse
}

// RecordList is the wire envelope returned by the records endpoint.
type RecordList struct {
	NextPageToken string           `json:"nextPageToken,omitempty"`
	Records       []RecordEnvelope `json:"records"`
}

// RecordEnvelope wraps one stored record. Data.Value is base64 on the wire;
// encoding/json decodes it into raw bytes for us.
type RecordEnvelope struct {
	Name       string     `json:"name"`
	UID        string     `json:"uid"`
	CreateTime string     `json:"createTime,omitempty"`
	UpdateTime string     `json:"updateTime,omitempty"`
	Etag       string     `json:"etag,omitempty"`
	Data       RecordData `json:"data"`
}

type RecordData struct {
	Type  string `json:"type"`
	Value []byte `json:"value"`
}
