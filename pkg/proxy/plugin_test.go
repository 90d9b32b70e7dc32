package proxy

import (
	"context"
	"testing"

	// k8s
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	// openshift
	consolefake "github.com/openshift/client-go/console/clientset/versioned/fake"
	"github.com/openshift/library-go/pkg/operator/events"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
)

func TestEnsureConsolePlugin(t *testing.T) {
	client := consolefake.NewSimpleClientset()
	recorder := events.NewInMemoryRecorder("test")
	config := PluginConfig{
		ServiceName:      api.ProxyName,
		ServiceNamespace: api.TargetNamespace,
		Port:             8443,
		BasePath:         "/",
	}

	if err := EnsureConsolePlugin(context.TODO(), client.ConsoleV1(), recorder, config); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plugin, err := client.ConsoleV1().ConsolePlugins().Get(context.TODO(), api.ProxyName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("failed to get created plugin: %v", err)
	}
	service := plugin.Spec.Backend.Service
	if service == nil || service.Name != api.ProxyName || service.Namespace != api.TargetNamespace {
		t.Errorf("unexpected plugin backend: %+v", plugin.Spec.Backend)
	}

	// a second run with the same config must leave the object alone
	if err := EnsureConsolePlugin(context.TODO(), client.ConsoleV1(), recorder, config); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unchanged, _ := client.ConsoleV1().ConsolePlugins().Get(context.TODO(), api.ProxyName, metav1.GetOptions{})
	if unchanged.Spec.Backend.Service.Port != 8443 {
		t.Errorf("port = %d, want 8443", unchanged.Spec.Backend.Service.Port)
	}

	// a changed backend must be written through
	config.Port = 9443
	if err := EnsureConsolePlugin(context.TODO(), client.ConsoleV1(), recorder, config); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err := client.ConsoleV1().ConsolePlugins().Get(context.TODO(), api.ProxyName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("failed to get updated plugin: %v", err)
	}
	if updated.Spec.Backend.Service.Port != 9443 {
		t.Errorf("port = %d, want 9443", updated.Spec.Backend.Service.Port)
	}
}
