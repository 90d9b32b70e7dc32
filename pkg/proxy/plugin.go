package proxy

import (
	"context"

	// k8s
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"

	// openshift
	consolev1 "github.com/openshift/api/console/v1"
	consoleclientv1 "github.com/openshift/client-go/console/clientset/versioned/typed/console/v1"
	"github.com/openshift/library-go/pkg/operator/events"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
)

// EnsureConsolePlugin registers the proxy's backend with the console by
// creating or updating the ConsolePlugin object pointing at its service.
func EnsureConsolePlugin(ctx context.Context, client consoleclientv1.ConsoleV1Interface, recorder events.Recorder, config PluginConfig) error {
	desired := &consolev1.ConsolePlugin{
		ObjectMeta: metav1.ObjectMeta{
			Name: api.ProxyName,
			Labels: map[string]string{
				"app": api.ProxyName,
			},
		},
		Spec: consolev1.ConsolePluginSpec{
			DisplayName: "Pipelines Results",
			Backend: consolev1.ConsolePluginBackend{
				Type: consolev1.Service,
				Service: &consolev1.ConsolePluginService{
					Name:      config.ServiceName,
					Namespace: config.ServiceNamespace,
					Port:      config.Port,
					BasePath:  config.BasePath,
				},
			},
		},
	}

	existing, err := client.ConsolePlugins().Get(ctx, api.ProxyName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := client.ConsolePlugins().Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return err
		}
		recorder.Eventf("ConsolePluginCreated", "Registered ConsolePlugin %s", api.ProxyName)
		return nil
	}
	if err != nil {
		return err
	}

	if pluginBackendsEqual(existing.Spec.Backend, desired.Spec.Backend) {
		klog.V(4).Infof("ConsolePlugin %s is up to date", api.ProxyName)
		return nil
	}
	updated := existing.DeepCopy()
	updated.Spec = desired.Spec
	if _, err := client.ConsolePlugins().Update(ctx, updated, metav1.UpdateOptions{}); err != nil {
		return err
	}
	recorder.Eventf("ConsolePluginUpdated", "Updated ConsolePlugin %s backend", api.ProxyName)
	return nil
}

func pluginBackendsEqual(existing, desired consolev1.ConsolePluginBackend) bool {
	if existing.Type != desired.Type {
		return false
	}
	if existing.Service == nil || desired.Service == nil {
		return existing.Service == desired.Service
	}
	return *existing.Service == *desired.Service
}
