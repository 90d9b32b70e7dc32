package version

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/spf13/cobra"

	"github.com/openshift/pipelines-results-proxy/pkg/version"
)

var (
	VerInfo   = version.Get()
	GitCommit = VerInfo.GitCommit
	BuildDate = VerInfo.BuildDate
	Version   = semver.MustParse(strings.TrimLeft(version.Raw, "v"))
	String    = fmt.Sprintf("PipelinesResultsProxy %s\nGit Commit: %s\nBuild Date: %s", version.Raw, GitCommit, BuildDate)
)

func NewVersion() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the proxy version",
		Run: func(command *cobra.Command, args []string) {
			fmt.Println(String)
		},
	}
	return cmd
}
