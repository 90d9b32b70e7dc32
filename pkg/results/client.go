package results

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	// k8s
	"k8s.io/klog/v2"

	// us
	"github.com/openshift/pipelines-results-proxy/pkg/api"
	"github.com/openshift/pipelines-results-proxy/pkg/results/filter"
)

// Client fetches record pages from the Tekton Results API. It is safe for
// concurrent use; the page cache it owns serializes duplicate fetches for
// immutable queries.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *PageCache
}

func NewClient(baseURL, token string, httpClient *http.Client, cache *PageCache) *Client {
	if httpClient == nil {
		httpClient = DefaultHTTPClient(nil, false)
	}
	if cache == nil {
		cache = NewPageCache()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		cache:      cache,
	}
}

// Cache exposes the client's page cache, mainly so callers can Clear it.
func (c *Client) Cache() *PageCache {
	return c.cache
}

func DefaultHTTPClient(caPool *x509.CertPool, insecureSkipVerify bool) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				RootCAs:            caPool,
				InsecureSkipVerify: insecureSkipVerify,
			},
		},
	}
}

// ListOptions shapes one records query.
type ListOptions struct {
	// DataTypes restricts the query to the given stored data types.
	DataTypes []string
	// Filter is a pre-built expression, see the filter package.
	Filter string
	// PageSize is clamped to the API's floor and ceiling.
	PageSize int
	// Limit, when set, wins over PageSize and truncates the returned page
	// to exactly Limit records regardless of what the backend sent.
	Limit int
	// PageToken continues a prior page, opaque to us.
	PageToken string
	// CacheKey marks the query immutable. Only set it when the underlying
	// run is known to be done.
	CacheKey string
}

// clampPageSize applies the limit-wins-over-page-size rule and the API's
// floor and ceiling.
func clampPageSize(opts ListOptions) int {
	size := opts.PageSize
	if opts.Limit > 0 {
		size = opts.Limit
	}
	if size < api.MinimumPageSize {
		size = api.MinimumPageSize
	}
	if size > api.MaximumPageSize {
		size = api.MaximumPageSize
	}
	return size
}

// ListRecords fetches one page of archival records for namespace (empty
// means all namespaces). The returned bool reports that an identical cached
// query is still in flight, in which case records and list are nil and the
// caller should come back later rather than issue a duplicate request.
func (c *Client) ListRecords(ctx context.Context, namespace string, opts ListOptions) ([]*Record, *RecordList, bool, error) {
	if opts.CacheKey != "" {
		if records, list, ok := c.cache.Get(opts.CacheKey); ok {
			klog.V(4).Infof("records query served from cache, key %s", opts.CacheKey)
			return records, list, false, nil
		}
		if !c.cache.MarkInFlight(opts.CacheKey) {
			klog.V(4).Infof("records query already in flight, key %s", opts.CacheKey)
			return nil, nil, true, nil
		}
	}

	records, list, err := c.fetchPage(ctx, namespace, opts)
	if opts.CacheKey != "" {
		if err != nil {
			c.cache.Done(opts.CacheKey)
		} else {
			c.cache.Set(opts.CacheKey, records, list)
		}
	}
	return records, list, false, err
}

func (c *Client) fetchPage(ctx context.Context, namespace string, opts ListOptions) ([]*Record, *RecordList, error) {
	parent := namespace
	if parent == "" {
		parent = api.AllNamespacesParent
	}

	query := url.Values{}
	query.Set("page_size", strconv.Itoa(clampPageSize(opts)))
	if opts.PageToken != "" {
		query.Set("page_token", opts.PageToken)
	}
	var terms []string
	if len(opts.DataTypes) > 0 {
		terms = append(terms, filter.DataTypes(opts.DataTypes...))
	}
	terms = append(terms, opts.Filter)
	if expr := filter.AllOf(terms...); expr != "" {
		query.Set("filter", expr)
	}

	endpoint := c.baseURL + fmt.Sprintf(api.RecordsPathFormat, parent) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build records request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to GET records (%s): %v", endpoint, err)
	}
	defer resp.Body.Close()

	// A 404 means the results API has nothing indexed for this resource
	// yet, possibly because the archive is not provisioned at all. Degrade
	// to an empty page so live-only clusters keep working.
	if resp.StatusCode == http.StatusNotFound {
		klog.V(4).Infof("records endpoint returned 404 for parent %q, treating as empty", parent)
		return []*Record{}, &RecordList{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("records endpoint returned %q for parent %q", resp.Status, parent)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read records response: %v", err)
	}
	var list RecordList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, nil, fmt.Errorf("failed to parse records response: %v", err)
	}

	records := make([]*Record, 0, len(list.Records))
	for _, env := range list.Records {
		rec, err := DecodeRecord(env)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	klog.V(4).Infof("fetched %d records for parent %q, next page token present: %t", len(records), parent, list.NextPageToken != "")
	return records, &list, nil
}

// LogPath rewrites a log record's resource name into the path the results
// API serves the raw log stream from. Record names look like
// "ns/results/<result>/records/<name>"; the log lives at ".../logs/<name>".
func LogPath(recordName string) string {
	return "/apis/results.tekton.dev/v1alpha2/parents/" +
		strings.Replace(recordName, "/records/", "/logs/", 1)
}
