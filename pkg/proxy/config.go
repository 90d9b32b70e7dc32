package proxy

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"

	// 3rd party
	"github.com/blang/semver"
	"github.com/ghodss/yaml"

	// k8s
	"k8s.io/klog/v2"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
	"github.com/openshift/pipelines-results-proxy/pkg/results"
)

// minLogsVersion is the first Tekton Results release whose log records are
// addressable through the records endpoint the way the proxy resolves them.
const minLogsVersion = "0.9.0"

// Config is the proxy's YAML configuration file.
type Config struct {
	// ListenAddress defaults to ":8443" when empty.
	ListenAddress string `json:"listenAddress,omitempty"`
	// DefaultPageSize applies when a request names no page size of its own.
	DefaultPageSize int              `json:"defaultPageSize,omitempty"`
	ResultsAPI      ResultsAPIConfig `json:"resultsAPI"`
	ConsolePlugin   PluginConfig     `json:"consolePlugin,omitempty"`
}

// ResultsAPIConfig locates and authenticates against the Tekton Results
// API service.
type ResultsAPIConfig struct {
	URL string `json:"url"`
	// TokenFile holds a bearer token, typically the mounted service
	// account token.
	TokenFile string `json:"tokenFile,omitempty"`
	CAFile    string `json:"caFile,omitempty"`
	// InsecureSkipTLSVerify is for development only.
	InsecureSkipTLSVerify bool `json:"insecureSkipTLSVerify,omitempty"`
	// Version is the deployed Tekton Results release, used to gate
	// capabilities such as log-record resolution.
	Version string `json:"version,omitempty"`
}

// PluginConfig describes the ConsolePlugin registration the proxy ensures
// on startup.
type PluginConfig struct {
	Enabled          bool   `json:"enabled,omitempty"`
	ServiceName      string `json:"serviceName,omitempty"`
	ServiceNamespace string `json:"serviceNamespace,omitempty"`
	Port             int32  `json:"port,omitempty"`
	BasePath         string `json:"basePath,omitempty"`
}

// LoadConfig reads and validates the proxy configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy config %s: %v", path, err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse proxy config %s: %v", path, err)
	}
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) setDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8443"
	}
	if c.DefaultPageSize == 0 {
		c.DefaultPageSize = 50
	}
	if c.ConsolePlugin.Enabled {
		if c.ConsolePlugin.ServiceName == "" {
			c.ConsolePlugin.ServiceName = api.ProxyName
		}
		if c.ConsolePlugin.ServiceNamespace == "" {
			c.ConsolePlugin.ServiceNamespace = api.TargetNamespace
		}
		if c.ConsolePlugin.Port == 0 {
			c.ConsolePlugin.Port = 8443
		}
		if c.ConsolePlugin.BasePath == "" {
			c.ConsolePlugin.BasePath = "/"
		}
	}
}

func (c *Config) Validate() error {
	if c.ResultsAPI.URL == "" {
		return fmt.Errorf("resultsAPI.url is required")
	}
	if c.DefaultPageSize < api.MinimumPageSize || c.DefaultPageSize > api.MaximumPageSize {
		return fmt.Errorf("defaultPageSize %d outside [%d, %d]", c.DefaultPageSize, api.MinimumPageSize, api.MaximumPageSize)
	}
	return nil
}

// SupportsLogs reports whether the configured Tekton Results release can
// resolve log records. An unset or unparseable version disables the
// capability rather than guessing.
func (r *ResultsAPIConfig) SupportsLogs() bool {
	raw := strings.TrimLeft(r.Version, "v")
	if raw == "" {
		return false
	}
	version, err := semver.Parse(raw)
	if err != nil {
		klog.V(4).Infof("unable to parse results API version %q", r.Version)
		return false
	}
	return version.Compare(semver.MustParse(minLogsVersion)) >= 0
}

// Token reads the configured bearer token file, empty when none is set.
func (r *ResultsAPIConfig) Token() (string, error) {
	if r.TokenFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(r.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read results API token: %v", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// HTTPClient builds the transport used against the results API, loading the
// configured CA bundle when present.
func (r *ResultsAPIConfig) HTTPClient() (*http.Client, error) {
	var caPool *x509.CertPool
	if r.CAFile != "" {
		caPool = x509.NewCertPool()
		pem, err := os.ReadFile(r.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read results API CA bundle: %v", err)
		}
		if ok := caPool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("failed to parse results API CA bundle %s", r.CAFile)
		}
	}
	return results.DefaultHTTPClient(caPool, r.InsecureSkipTLSVerify), nil
}
