package results

import (
	"encoding/json"
	"fmt"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
)

// decoders maps a record envelope's data type to the function that turns its
// payload into a typed object. Dispatching through the table keeps call
// sites free of per-type branching.
var decoders = map[string]func([]byte) (*Record, error){
	api.DataTypePipelineRun:       decodeRun,
	api.DataTypePipelineRunV1Beta: decodeRun,
	api.DataTypeTaskRun:           decodeRun,
	api.DataTypeTaskRunV1Beta:     decodeRun,
	api.DataTypeLog:               decodeRun,
}

func decodeRun(value []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DecodeRecord decodes one stored record envelope. Every decoded object is
// annotated as loaded-from-archive. Archived copies of objects the cluster
// has since garbage-collected still carry their deletion timestamp; that
// marker is stripped and replaced with the deleted annotation so consumers
// see a plain object plus client metadata.
func DecodeRecord(env RecordEnvelope) (*Record, error) {
	decode, ok := decoders[env.Data.Type]
	if !ok {
		return nil, fmt.Errorf("no decoder for record data type %q", env.Data.Type)
	}
	rec, err := decode(env.Data.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %v", env.Name, err)
	}
	if rec.Annotations == nil {
		rec.Annotations = map[string]string{}
	}
	if rec.DeletionTimestamp != nil {
		rec.DeletionTimestamp = nil
		rec.Annotations[api.DeletedResourceAnnotation] = "true"
	}
	rec.Annotations[api.LoadedFromResultsAnnotation] = "true"
	return rec, nil
}
