// Package livewatch provides the live half of the reconciliation: a
// dynamic-informer backed view of the runs that currently exist on the
// cluster, delivered to the reconciler on every change.
package livewatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	// k8s
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"
	"k8s.io/klog/v2"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

var (
	PipelineRunGVR = schema.GroupVersionResource{Group: "tekton.dev", Version: "v1", Resource: "pipelineruns"}
	TaskRunGVR     = schema.GroupVersionResource{Group: "tekton.dev", Version: "v1", Resource: "taskruns"}
)

// UpdateFunc receives the full current record list on every change.
// loaded stays false until the initial cache sync finishes; err is the last
// watch failure, terminal for this subscription.
type UpdateFunc func(records []*results.Record, loaded bool, err error)

// Watcher keeps one informer per watched resource and fans snapshots out to
// a subscriber.
type Watcher struct {
	gvr      schema.GroupVersionResource
	informer cache.SharedIndexInformer

	mu       sync.Mutex
	loaded   bool
	watchErr error
	onUpdate UpdateFunc
}

// NewWatcher builds a watcher for gvr scoped to namespace (empty for all
// namespaces). onUpdate may be nil; Snapshot still works without it.
func NewWatcher(client dynamic.Interface, namespace string, gvr schema.GroupVersionResource, resync time.Duration, onUpdate UpdateFunc) *Watcher {
	factory := dynamicinformer.NewFilteredDynamicSharedInformerFactory(client, resync, namespace, nil)
	w := &Watcher{
		gvr:      gvr,
		informer: factory.ForResource(gvr).Informer(),
		onUpdate: onUpdate,
	}
	w.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { w.publish() },
		UpdateFunc: func(oldObj, newObj interface{}) { w.publish() },
		DeleteFunc: func(obj interface{}) { w.publish() },
	})
	// a watch failure is surfaced through the error slot, never a panic
	w.informer.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
		klog.Errorf("watch for %s failed: %v", gvr.Resource, err)
		w.mu.Lock()
		w.watchErr = err
		w.mu.Unlock()
		w.publish()
	})
	return w
}

// Run starts the informer and blocks until the initial sync, then returns
// while the informer keeps running until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	go w.informer.Run(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), w.informer.HasSynced) {
		return
	}
	w.mu.Lock()
	w.loaded = true
	w.mu.Unlock()
	klog.V(4).Infof("watch for %s synced", w.gvr.Resource)
	w.publish()
}

// Snapshot returns the current live record list with its loaded/error pair.
func (w *Watcher) Snapshot() ([]*results.Record, bool, error) {
	w.mu.Lock()
	loaded := w.loaded
	err := w.watchErr
	w.mu.Unlock()

	objects := w.informer.GetStore().List()
	records := make([]*results.Record, 0, len(objects))
	for _, obj := range objects {
		u, ok := obj.(*unstructured.Unstructured)
		if !ok {
			continue
		}
		rec, convErr := toRecord(u)
		if convErr != nil {
			klog.Errorf("failed to convert watched %s object: %v", w.gvr.Resource, convErr)
			continue
		}
		records = append(records, rec)
	}
	return records, loaded, err
}

func (w *Watcher) publish() {
	if w.onUpdate == nil {
		return
	}
	w.onUpdate(w.Snapshot())
}

// toRecord goes through JSON rather than the unstructured converter so the
// raw pipelineSpec passthrough keeps its original bytes.
func toRecord(u *unstructured.Unstructured) (*results.Record, error) {
	raw, err := json.Marshal(u.Object)
	if err != nil {
		return nil, err
	}
	var rec results.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
