package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	// k8s
	"k8s.io/client-go/dynamic"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"

	// openshift
	consoleclient "github.com/openshift/client-go/console/clientset/versioned"
	"github.com/openshift/library-go/pkg/controller/controllercmd"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/proxy/metrics"
	"github.com/openshift/pipelines-results-proxy/pkg/results"
	"github.com/openshift/pipelines-results-proxy/pkg/results/livewatch"
	"github.com/openshift/pipelines-results-proxy/pkg/version"
)

// ConfigFilePath is set from the serve command's flags.
var ConfigFilePath string

const watchResyncPeriod = 10 * time.Minute

// liveSource is the slice of a watcher the handlers consume.
type liveSource interface {
	Snapshot() ([]*results.Record, bool, error)
}

// Server hosts the merged-records HTTP API: one archival client plus one
// live watcher per record kind, shared across requests.
type Server struct {
	config       *Config
	client       *results.Client
	pipelineRuns liveSource
	taskRuns     liveSource
	watchers     []*livewatch.Watcher
}

func NewServer(config *Config, dynamicClient dynamic.Interface) (*Server, error) {
	token, err := config.ResultsAPI.Token()
	if err != nil {
		return nil, err
	}
	httpClient, err := config.ResultsAPI.HTTPClient()
	if err != nil {
		return nil, err
	}
	pipelineRuns := livewatch.NewWatcher(dynamicClient, "", livewatch.PipelineRunGVR, watchResyncPeriod, nil)
	taskRuns := livewatch.NewWatcher(dynamicClient, "", livewatch.TaskRunGVR, watchResyncPeriod, nil)
	return &Server{
		config:       config,
		client:       results.NewClient(config.ResultsAPI.URL, token, httpClient, results.NewPageCache()),
		pipelineRuns: pipelineRuns,
		taskRuns:     taskRuns,
		watchers:     []*livewatch.Watcher{pipelineRuns, taskRuns},
	}, nil
}

// Run starts the watchers and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	for _, watcher := range s.watchers {
		go watcher.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", legacyregistry.Handler())
	mux.Handle("/api/v1/pipelineruns", s.withRequestLog("pipelineruns", s.handlePipelineRuns))
	mux.Handle("/api/v1/taskruns", s.withRequestLog("taskruns", s.handleTaskRuns))
	mux.Handle("/api/v1/pipelineruns/layout", s.withRequestLog("layout", s.handleLayout))
	mux.Handle("/api/v1/logs", s.withRequestLog("logs", s.handleLog))

	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	klog.Infof("pipelines results proxy listening on %s", s.config.ListenAddress)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunProxyServer is the serve command's start func: wires clients off the
// controller context, ensures the ConsolePlugin registration and runs the
// HTTP server until shutdown.
func RunProxyServer(ctx context.Context, controllerContext *controllercmd.ControllerContext) error {
	config, err := LoadConfig(ConfigFilePath)
	if err != nil {
		return err
	}

	dynamicClient, err := dynamic.NewForConfig(controllerContext.KubeConfig)
	if err != nil {
		return err
	}

	if config.ConsolePlugin.Enabled {
		consoleClient, err := consoleclient.NewForConfig(controllerContext.KubeConfig)
		if err != nil {
			return err
		}
		if err := EnsureConsolePlugin(ctx, consoleClient.ConsoleV1(), controllerContext.EventRecorder, config.ConsolePlugin); err != nil {
			// registration failure should not take the proxy down, the
			// plugin may be applied out of band
			klog.Errorf("failed to ensure ConsolePlugin registration: %v", err)
		}
	}

	info := version.Get()
	metrics.RegisterVersion(info.GitCommit, info.GitVersion)

	server, err := NewServer(config, dynamicClient)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
