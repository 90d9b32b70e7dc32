package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	// 3rd party
	"github.com/google/uuid"

	// k8s
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/klog/v2"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
	"github.com/openshift/pipelines-results-proxy/pkg/pipeline/layout"
	"github.com/openshift/pipelines-results-proxy/pkg/proxy/metrics"
	"github.com/openshift/pipelines-results-proxy/pkg/results"
	"github.com/openshift/pipelines-results-proxy/pkg/results/filter"
	"github.com/openshift/pipelines-results-proxy/pkg/results/reconciler"
)

const settleTimeout = 30 * time.Second

var (
	pipelineRunDataTypes = []string{api.DataTypePipelineRun, api.DataTypePipelineRunV1Beta}
	taskRunDataTypes     = []string{api.DataTypeTaskRun, api.DataTypeTaskRunV1Beta}
)

// recordListResponse is the merged view served to the console.
type recordListResponse struct {
	Records       []*results.Record `json:"records"`
	Loaded        bool              `json:"loaded"`
	Error         string            `json:"error,omitempty"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// withRequestLog tags each request with an id for log correlation and feeds
// the duration histogram.
func (s *Server) withRequestLog(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()
		klog.V(4).Infof("request %s: %s %s", requestID, r.Method, r.URL.String())
		handler(w, r)
		elapsed := time.Since(start)
		metrics.ObserveRequest(name, elapsed.Seconds())
		klog.V(4).Infof("request %s: done in %s", requestID, elapsed)
	})
}

func (s *Server) handlePipelineRuns(w http.ResponseWriter, r *http.Request) {
	s.handleRuns(w, r, pipelineRunDataTypes, s.pipelineRuns.Snapshot)
}

func (s *Server) handleTaskRuns(w http.ResponseWriter, r *http.Request) {
	s.handleRuns(w, r, taskRunDataTypes, s.taskRuns.Snapshot)
}

// handleRuns serves the merged record collection for one kind. A request
// without a page token reconciles live state against the first archival
// page; a request continuing from a token only extends the archival side,
// the live records were already part of the first response.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request, dataTypes []string, snapshot func() ([]*results.Record, bool, error)) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	namespace := params.Get("namespace")
	name := params.Get("name")
	namePrefix := params.Get("namePrefix")
	pageToken := params.Get("pageToken")
	cacheKey := params.Get("cacheKey")

	limit := 0
	if raw := params.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	selector := labels.Everything()
	if raw := params.Get("labelSelector"); raw != "" {
		parsed, err := labels.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid labelSelector: %v", err), http.StatusBadRequest)
			return
		}
		selector = parsed
	}

	expr, err := buildFilter(selector, name, namePrefix)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if pageToken != "" {
		records, list, inFlight, err := s.client.ListRecords(r.Context(), namespace, results.ListOptions{
			DataTypes: dataTypes,
			Filter:    expr,
			PageSize:  s.config.DefaultPageSize,
			Limit:     limit,
			PageToken: pageToken,
			CacheKey:  cacheKey,
		})
		metrics.HandlePageFetch(err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if inFlight {
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, recordListResponse{Records: []*results.Record{}})
			return
		}
		metrics.HandleMergedRecords(len(records))
		writeJSON(w, recordListResponse{
			Records:       records,
			Loaded:        true,
			NextPageToken: list.NextPageToken,
		})
		return
	}

	rec := reconciler.New(s.client, reconciler.Query{
		Namespace: namespace,
		DataTypes: dataTypes,
		Filter:    expr,
		PageSize:  s.config.DefaultPageSize,
		Limit:     limit,
		CacheKey:  cacheKey,
		Name:      name,
	}, nil)
	defer rec.Dispose()

	ctx, cancel := contextWithTimeout(r, settleTimeout)
	defer cancel()

	liveRecords, loaded, liveErr := snapshot()
	rec.SetLive(ctx, reconciler.LiveState{
		Records: filterLive(liveRecords, namespace, name, namePrefix, selector),
		Loaded:  loaded,
		Err:     liveErr,
	})
	rec.Start(ctx)

	result, err := rec.Settle(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	metrics.HandlePageFetch(result.Err)
	metrics.HandleMergedRecords(len(result.Records))

	response := recordListResponse{
		Records: result.Records,
		Loaded:  result.Loaded,
	}
	if result.Err != nil {
		response.Error = result.Err.Error()
	}
	if result.HasNextPage {
		response.NextPageToken = rec.NextPageToken()
	}
	writeJSON(w, response)
}

// handleLayout serves the staged DAG for one pipeline run, with every task
// annotated from the run's task records.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()
	namespace := params.Get("namespace")
	name := params.Get("name")
	if namespace == "" || name == "" {
		http.Error(w, "namespace and name are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := contextWithTimeout(r, settleTimeout)
	defer cancel()

	run, err := s.findPipelineRun(ctx, namespace, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if run == nil {
		http.Error(w, fmt.Sprintf("pipeline run %s/%s not found", namespace, name), http.StatusNotFound)
		return
	}
	if len(run.Status.PipelineSpec) == 0 {
		http.Error(w, fmt.Sprintf("pipeline run %s/%s carries no resolved pipeline spec", namespace, name), http.StatusNotFound)
		return
	}
	var spec layout.PipelineSpec
	if err := json.Unmarshal(run.Status.PipelineSpec, &spec); err != nil {
		http.Error(w, fmt.Sprintf("failed to parse pipeline spec: %v", err), http.StatusInternalServerError)
		return
	}

	taskRuns, err := s.taskRunsForPipelineRun(ctx, namespace, name, run)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	planned, err := layout.Plan(spec, run, taskRuns)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, planned)
}

// handleLog resolves the archived log path for a record, gated on the
// deployed results API version.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.config.ResultsAPI.SupportsLogs() {
		http.Error(w, "log records are not supported by the configured results API version", http.StatusNotImplemented)
		return
	}
	recordName := r.URL.Query().Get("record")
	if recordName == "" {
		http.Error(w, "record is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"path": results.LogPath(recordName)})
}

// findPipelineRun prefers the live copy and falls back to a single-name
// archival lookup for runs the cluster already pruned.
func (s *Server) findPipelineRun(ctx context.Context, namespace, name string) (*results.Record, error) {
	liveRecords, _, _ := s.pipelineRuns.Snapshot()
	for _, rec := range liveRecords {
		if rec.Namespace == namespace && rec.Name == name {
			return rec, nil
		}
	}
	records, _, _, err := s.client.ListRecords(ctx, namespace, results.ListOptions{
		DataTypes: pipelineRunDataTypes,
		Filter:    exactNameTerm(name),
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// taskRunsForPipelineRun reconciles the run's task records from both
// sources so archived tasks of a pruned run still appear in the layout.
func (s *Server) taskRunsForPipelineRun(ctx context.Context, namespace, name string, run *results.Record) (taskRuns []*results.Record, err error) {
	expr, err := filter.Build(filter.Options{
		Selector: &filter.Selector{MatchLabels: map[string]string{api.PipelineRunLabel: name}},
	})
	if err != nil {
		return nil, err
	}

	query := reconciler.Query{
		Namespace: namespace,
		DataTypes: taskRunDataTypes,
		Filter:    expr,
		PageSize:  s.config.DefaultPageSize,
	}
	if run.IsDone() {
		// a finished run's task record set is immutable, safe to cache
		query.CacheKey = namespace + "/" + name + "/taskruns"
	}
	rec := reconciler.New(s.client, query, nil)
	defer rec.Dispose()

	liveRecords, loaded, liveErr := s.taskRuns.Snapshot()
	var matching []*results.Record
	for _, tr := range liveRecords {
		if tr.Namespace == namespace && tr.Labels[api.PipelineRunLabel] == name {
			matching = append(matching, tr)
		}
	}
	rec.SetLive(ctx, reconciler.LiveState{Records: matching, Loaded: loaded, Err: liveErr})
	rec.Start(ctx)

	result, err := rec.Settle(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Records, nil
}

// buildFilter assembles the archival filter from request predicates.
func buildFilter(selector labels.Selector, name, namePrefix string) (string, error) {
	opts := filter.Options{NamePrefix: namePrefix}
	if name != "" {
		opts.Raw = exactNameTerm(name)
	}
	if requirements, selectable := selector.Requirements(); selectable && len(requirements) > 0 {
		sel := &filter.Selector{}
		for _, req := range requirements {
			sel.MatchExpressions = append(sel.MatchExpressions, filter.Requirement{
				Key:      req.Key(),
				Operator: req.Operator(),
				Values:   req.Values().List(),
			})
		}
		opts.Selector = sel
	}
	return filter.Build(opts)
}

func exactNameTerm(name string) string {
	return fmt.Sprintf("data.metadata.name == %q", name)
}

// filterLive narrows a watcher snapshot to the request's predicates; the
// watcher itself is cluster wide.
func filterLive(records []*results.Record, namespace, name, namePrefix string, selector labels.Selector) []*results.Record {
	filtered := make([]*results.Record, 0, len(records))
	for _, rec := range records {
		if namespace != "" && rec.Namespace != namespace {
			continue
		}
		if name != "" && rec.Name != name {
			continue
		}
		if namePrefix != "" && !strings.HasPrefix(rec.Name, namePrefix) {
			continue
		}
		if !selector.Matches(labels.Set(rec.Labels)) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered
}

func contextWithTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		klog.Errorf("failed to encode response: %v", err)
	}
}
