package api

const (
	// TargetNamespace could be made configurable if desired
	TargetNamespace = "openshift-pipelines"
	// ProxyName is shared by the deployment, service and ConsolePlugin
	// registration so single-item watches stay simple.
	ProxyName = "pipelines-results-proxy"
)

// Tekton Results API surface. The records endpoint is parented by namespace;
// a "-" parent queries every namespace the caller can see.
const (
	ResultsAPIGroup     = "results.tekton.dev"
	ResultsAPIVersion   = "v1alpha2"
	RecordsPathFormat   = "/apis/results.tekton.dev/v1alpha2/parents/%s/results/-/records"
	AllNamespacesParent = "-"
)

// Page-size bounds enforced before talking to the records endpoint.
const (
	MinimumPageSize = 5
	MaximumPageSize = 10000
)

// Record data types stored by the results API. The type string in a record
// envelope selects the decoder for its base64 payload.
const (
	DataTypePipelineRun       = "tekton.dev/v1.PipelineRun"
	DataTypePipelineRunV1Beta = "tekton.dev/v1beta1.PipelineRun"
	DataTypeTaskRun           = "tekton.dev/v1.TaskRun"
	DataTypeTaskRunV1Beta     = "tekton.dev/v1beta1.TaskRun"
	DataTypeLog               = "results.tekton.dev/v1alpha2.Log"
)

// Annotations stamped onto decoded records by the client. These are client
// metadata only and are never written back to the cluster.
const (
	// DeletedResourceAnnotation marks a record whose live object has been
	// removed from the cluster and now exists only in the archive.
	DeletedResourceAnnotation = "resource.deleted.in.k8s"
	// LoadedFromResultsAnnotation marks every record decoded out of the
	// archive, so consumers can tell archival copies from watched objects.
	LoadedFromResultsAnnotation = "resource.loaded.from.tektonResults"
)

// Well-known Tekton labels used to correlate runs with their tasks.
const (
	PipelineLabel     = "tekton.dev/pipeline"
	PipelineRunLabel  = "tekton.dev/pipelineRun"
	PipelineTaskLabel = "tekton.dev/pipelineTask"
	TaskLabel         = "tekton.dev/task"
)
