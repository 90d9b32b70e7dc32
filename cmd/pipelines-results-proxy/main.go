package main

import (
	// standard lib
	"os"

	// 3rd party
	"github.com/spf13/cobra"

	// kube / openshift
	"k8s.io/component-base/cli"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/cmd/proxy"
	"github.com/openshift/pipelines-results-proxy/pkg/cmd/version"
)

func main() {
	command := NewProxyCommand()
	code := cli.Run(command)
	os.Exit(code)
}

// create the root command; the subcommands do the actual work
func NewProxyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines-results-proxy",
		Short: "Top level command",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(1)
		},
	}

	cmd.AddCommand(proxy.NewProxy())
	cmd.AddCommand(version.NewVersion())

	return cmd
}
