package proxy

import (
	// 3rd party
	"github.com/spf13/cobra"

	// openshift
	"github.com/openshift/library-go/pkg/controller/controllercmd"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/proxy"
	"github.com/openshift/pipelines-results-proxy/pkg/version"
)

func NewProxy() *cobra.Command {
	cmd := controllercmd.
		NewControllerCommandConfig(
			"pipelines-results-proxy",
			version.Get(),
			proxy.RunProxyServer).
		NewCommand()
	cmd.Use = "serve"
	cmd.Short = "Start the pipelines results proxy"
	cmd.Long = `A proxy that merges live PipelineRun and TaskRun watches with the
Tekton Results archive into one deduplicated view for the console.`

	cmd.Flags().StringVar(
		&proxy.ConfigFilePath,
		"proxy-config",
		"/etc/pipelines-results-proxy/config.yaml",
		"Path to the proxy configuration file.",
	)

	return cmd
}
