package version

import (
	"k8s.io/apimachinery/pkg/version"
)

// Values substituted at build time via -ldflags.
var (
	Raw       = "v0.0.1"
	GitCommit = ""
	BuildDate = ""
)

func Get() version.Info {
	return version.Info{
		GitVersion: Raw,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
	}
}
