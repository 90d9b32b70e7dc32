// Package reconciler merges two views of the same executions: a live watch,
// authoritative for objects that still exist on the cluster, and the Tekton
// Results archive, which also remembers objects the cluster already pruned.
// It exposes one deduplicated, incrementally-loadable collection per query.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	// k8s
	"k8s.io/klog/v2"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

// State is the reconciler's lifecycle position for its current query.
type State int

const (
	// StateIdle means no archival fetch was needed or started yet.
	StateIdle State = iota
	// StateFetching means an archival page request is outstanding.
	StateFetching
	// StateSettled means the last requested page has been applied.
	StateSettled
	// StateDisposed means the owner tore the reconciler down; any late
	// page result is discarded.
	StateDisposed
)

// Archive is the slice of the results client the reconciler consumes.
type Archive interface {
	ListRecords(ctx context.Context, namespace string, opts results.ListOptions) ([]*results.Record, *results.RecordList, bool, error)
}

// LiveState is one observation delivered by the live-watch source.
type LiveState struct {
	Records []*results.Record
	Loaded  bool
	Err     error
}

// Query identifies one logical record collection.
type Query struct {
	// Namespace scopes the query; empty means all namespaces. Per-source
	// errors are masked for all-namespaces queries.
	Namespace string
	DataTypes []string
	// Filter is a pre-built expression from the filter package.
	Filter string
	// PageSize sizes each archival page when no Limit is set.
	PageSize int
	// Limit caps the merged collection, most recent first. Zero means
	// unbounded, in which case the archive is always consulted.
	Limit int
	// CacheKey marks the archival side of this query immutable.
	CacheKey string
	// Name is set for single-name lookups; it softens the error policy
	// when the archive loads fine but simply has no matching record.
	Name string
}

// Result is the merged view handed to the caller on every transition.
type Result struct {
	Records []*results.Record
	Loaded  bool
	Err     error
	// HasNextPage reports that the archive offered a continuation token.
	// More records arrive via LoadNextPage.
	HasNextPage bool
}

// Reconciler owns the merge state machine for a single query. Events may
// arrive from informer goroutines and fetch completions concurrently; every
// event is applied atomically under one lock.
type Reconciler struct {
	mu      sync.Mutex
	archive Archive
	query   Query

	state      State
	generation int

	live     LiveState
	prevLive []*results.Record
	// ghosts holds records seen live earlier but gone from the current
	// live snapshot, kept visible so a pruned record does not vanish
	// before its archival copy is served.
	ghosts map[string]*results.Record

	archiveRecords   []*results.Record
	archiveSeen      map[string]bool
	archiveLoaded    bool
	archiveAttempted bool
	archiveErr       error
	nextToken        string
	loadingMore      bool

	settleCh chan struct{}
	onUpdate func(Result)
}

// New builds a reconciler for query. onUpdate, when non-nil, is invoked
// after every state transition with a fresh Result; it must not be assumed
// to run on any particular goroutine.
func New(archive Archive, query Query, onUpdate func(Result)) *Reconciler {
	return &Reconciler{
		archive:     archive,
		query:       query,
		state:       StateIdle,
		ghosts:      map[string]*results.Record{},
		archiveSeen: map[string]bool{},
		onUpdate:    onUpdate,
	}
}

// Start requests the first archival page when the query calls for one.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	r.maybeFetchLocked(ctx)
	result := r.resultLocked()
	r.mu.Unlock()
	r.notify(result)
}

// SetQuery resets the reconciler onto a new namespace/filter tuple. The
// accumulated archival pages and continuation token are dropped and any
// in-flight request is superseded; its late result will be discarded.
func (r *Reconciler) SetQuery(ctx context.Context, query Query) {
	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	r.query = query
	r.generation++
	// wake any Settle waiter parked on the superseded fetch; it re-reads
	// the state and either returns or parks on the new fetch's channel
	r.closeSettleLocked()
	r.archiveRecords = nil
	r.archiveSeen = map[string]bool{}
	r.archiveLoaded = false
	r.archiveAttempted = false
	r.archiveErr = nil
	r.nextToken = ""
	r.loadingMore = false
	r.ghosts = map[string]*results.Record{}
	r.prevLive = nil
	r.state = StateIdle
	r.maybeFetchLocked(ctx)
	result := r.resultLocked()
	r.mu.Unlock()
	r.notify(result)
}

// SetLive applies a live-watch observation.
func (r *Reconciler) SetLive(ctx context.Context, live LiveState) {
	r.mu.Lock()
	if r.state == StateDisposed {
		r.mu.Unlock()
		return
	}
	r.live = live
	// A not-yet-loaded or errored observation counts as an empty live set,
	// which turns the whole previous snapshot into ghosts; the snapshot
	// itself is preserved until a clean observation replaces it.
	current := map[string]bool{}
	if live.Loaded && live.Err == nil {
		for _, rec := range live.Records {
			current[string(rec.UID)] = true
			delete(r.ghosts, string(rec.UID))
		}
	}
	for _, rec := range r.prevLive {
		if !current[string(rec.UID)] {
			r.ghosts[string(rec.UID)] = rec
		}
	}
	if live.Loaded && live.Err == nil {
		r.prevLive = live.Records
	}
	r.maybeFetchLocked(ctx)
	result := r.resultLocked()
	r.mu.Unlock()
	r.notify(result)
}

// LoadNextPage requests the next archival page. It is effective at most
// once per settled state: the call that starts a fetch returns true, and any
// further call before that fetch settles observes it outstanding and
// returns false. It also returns false when no continuation token exists.
func (r *Reconciler) LoadNextPage(ctx context.Context) bool {
	r.mu.Lock()
	if r.state != StateSettled || r.nextToken == "" || r.loadingMore {
		r.mu.Unlock()
		return false
	}
	r.loadingMore = true
	r.beginFetchLocked(ctx, r.nextToken)
	r.mu.Unlock()
	return true
}

// Dispose tears the reconciler down. In-flight results are discarded and
// any Settle waiter is woken to observe the disposal.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	r.state = StateDisposed
	r.generation++
	r.closeSettleLocked()
	r.mu.Unlock()
}

func (r *Reconciler) closeSettleLocked() {
	if r.settleCh != nil {
		close(r.settleCh)
		r.settleCh = nil
	}
}

// NextPageToken returns the archival continuation token, empty when the
// archive is exhausted.
func (r *Reconciler) NextPageToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextToken
}

// Snapshot returns the current merged view without waiting.
func (r *Reconciler) Snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resultLocked()
}

// Settle blocks until no archival fetch is outstanding, then returns the
// merged view.
func (r *Reconciler) Settle(ctx context.Context) (Result, error) {
	for {
		r.mu.Lock()
		switch r.state {
		case StateIdle, StateSettled:
			result := r.resultLocked()
			r.mu.Unlock()
			return result, nil
		case StateDisposed:
			r.mu.Unlock()
			return Result{}, fmt.Errorf("reconciler is disposed")
		}
		ch := r.settleCh
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ch:
		}
	}
}

// maybeFetchLocked starts the first archival page when the merge policy
// calls for it and nothing was attempted for this query yet.
func (r *Reconciler) maybeFetchLocked(ctx context.Context) {
	if r.state != StateIdle || r.archiveAttempted {
		return
	}
	if !r.shouldQueryArchiveLocked() {
		return
	}
	r.beginFetchLocked(ctx, "")
}

// shouldQueryArchiveLocked implements the decision of whether the archive
// is consulted at all: always without a limit; with a limit only while the
// live side leaves room under it, or as a fallback when the live side
// errored.
func (r *Reconciler) shouldQueryArchiveLocked() bool {
	if r.query.Limit <= 0 {
		return true
	}
	if r.live.Err != nil {
		return true
	}
	return len(r.candidatesLocked()) < r.query.Limit
}

func (r *Reconciler) beginFetchLocked(ctx context.Context, token string) {
	r.state = StateFetching
	r.closeSettleLocked()
	r.settleCh = make(chan struct{})
	gen := r.generation
	opts := results.ListOptions{
		DataTypes: r.query.DataTypes,
		Filter:    r.query.Filter,
		PageSize:  r.query.PageSize,
		Limit:     r.query.Limit,
		PageToken: token,
		CacheKey:  r.query.CacheKey,
	}
	namespace := r.query.Namespace
	go func() {
		records, list, inFlight, err := r.archive.ListRecords(ctx, namespace, opts)
		r.applyPage(gen, records, list, inFlight, err)
	}()
}

// applyPage commits a page result unless the request was superseded or the
// reconciler disposed in the meantime.
func (r *Reconciler) applyPage(gen int, records []*results.Record, list *results.RecordList, inFlight bool, err error) {
	r.mu.Lock()
	if r.state == StateDisposed || gen != r.generation {
		klog.V(4).Infof("discarding archival page for superseded query (namespace %q)", r.query.Namespace)
		r.mu.Unlock()
		return
	}
	if inFlight {
		// Upstream is still fetching this exact cached query for someone
		// else. Stay fetchable: a later live event retries the page.
		r.state = StateIdle
		r.loadingMore = false
		r.closeSettleLocked()
		result := r.resultLocked()
		r.mu.Unlock()
		r.notify(result)
		return
	}

	r.archiveAttempted = true
	r.loadingMore = false
	if err != nil {
		// Accumulated pages survive a failed fetch so partial history
		// stays on screen next to the error.
		r.archiveErr = err
	} else {
		r.archiveErr = nil
		r.archiveLoaded = true
		for _, rec := range records {
			uid := string(rec.UID)
			if r.archiveSeen[uid] {
				continue
			}
			r.archiveSeen[uid] = true
			r.archiveRecords = append(r.archiveRecords, rec)
		}
		r.nextToken = ""
		if list != nil {
			r.nextToken = list.NextPageToken
		}
	}
	r.state = StateSettled
	r.closeSettleLocked()
	result := r.resultLocked()
	r.mu.Unlock()
	r.notify(result)
}

// candidatesLocked assembles the live-derived half of the merge: current
// live records plus ghosts, most recent first, truncated to the limit.
func (r *Reconciler) candidatesLocked() []*results.Record {
	var liveRecords []*results.Record
	if r.live.Loaded && r.live.Err == nil {
		liveRecords = r.live.Records
	}
	seen := map[string]bool{}
	candidates := make([]*results.Record, 0, len(liveRecords)+len(r.ghosts))
	for _, rec := range liveRecords {
		seen[string(rec.UID)] = true
		candidates = append(candidates, rec)
	}
	for _, rec := range r.ghosts {
		if !seen[string(rec.UID)] {
			candidates = append(candidates, rec)
		}
	}
	sortByCreationDesc(candidates)
	if r.query.Limit > 0 && len(candidates) > r.query.Limit {
		candidates = candidates[:r.query.Limit]
	}
	return candidates
}

// resultLocked computes the externally-visible merged view. On a UID
// collision between a live candidate and an archival copy the live copy
// wins; both describe the same object, and the live source is fresher.
func (r *Reconciler) resultLocked() Result {
	candidates := r.candidatesLocked()
	seen := map[string]bool{}
	merged := make([]*results.Record, 0, len(candidates)+len(r.archiveRecords))
	for _, rec := range candidates {
		seen[string(rec.UID)] = true
		merged = append(merged, rec)
	}
	for _, rec := range r.archiveRecords {
		if !seen[string(rec.UID)] {
			seen[string(rec.UID)] = true
			merged = append(merged, rec)
		}
	}
	sortByCreationDesc(merged)
	if r.query.Limit > 0 && len(merged) > r.query.Limit {
		merged = merged[:r.query.Limit]
	}

	return Result{
		Records:     merged,
		Loaded:      len(candidates) > 0 || r.live.Loaded || r.archiveLoaded,
		Err:         r.errLocked(),
		HasNextPage: r.nextToken != "",
	}
}

// errLocked implements the error policy: all-namespaces queries mask
// per-source errors; otherwise the archival error wins when the archive was
// consulted, except that a single-name lookup the archive loaded but found
// nothing for falls back to the live error — missing archival history is
// not itself a failure.
func (r *Reconciler) errLocked() error {
	if r.query.Namespace == "" {
		return nil
	}
	if r.archiveAttempted {
		if r.query.Name != "" && r.archiveLoaded && len(r.archiveRecords) == 0 {
			return r.live.Err
		}
		if r.archiveErr != nil {
			return r.archiveErr
		}
	}
	return r.live.Err
}

func (r *Reconciler) notify(result Result) {
	if r.onUpdate != nil {
		r.onUpdate(result)
	}
}

func sortByCreationDesc(records []*results.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti := records[i].CreationTimestamp
		tj := records[j].CreationTimestamp
		if ti.Equal(&tj) {
			return records[i].Name < records[j].Name
		}
		return tj.Before(&ti)
	})
}
