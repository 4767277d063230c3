// Package buildbot provides a client for a buildbot-style REST status API.
package buildbot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"releasedash/src/model"
)

// Buildbot result codes, per the data API.
const (
	resultSuccess = 0
	resultFailure = 2
)

// Client is a read-only buildbot data API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Builder represents a builder as returned by /builders.
type Builder struct {
	BuilderID int64    `json:"builderid"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
}

// Worker represents a worker as returned by /workers.
type Worker struct {
	WorkerID     int64          `json:"workerid"`
	Name         string         `json:"name"`
	ConnectedTo  []connection   `json:"connected_to"`
	ConfiguredOn []configuredOn `json:"configured_on"`
}

type connection struct {
	MasterID int64 `json:"masterid"`
}

type configuredOn struct {
	BuilderID int64 `json:"builderid"`
	MasterID  int64 `json:"masterid"`
}

// Build represents a build as returned by /builders/{id}/builds.
type Build struct {
	BuildID    int64    `json:"buildid"`
	BuilderID  int64    `json:"builderid"`
	Number     int      `json:"number"`
	Complete   bool     `json:"complete"`
	Results    *int     `json:"results"`
	StartedAt  float64  `json:"started_at"`
	CompleteAt *float64 `json:"complete_at"`
	// Properties holds requested build properties; buildbot encodes each
	// as a [value, source] pair.
	Properties map[string]json.RawMessage `json:"properties"`
}

// artifactProperty is the build property recording a JUnit artifact
// location. Its presence means an artifact was produced, not that the
// local mirror has it yet.
const artifactProperty = "junit_xml"

// HasArtifact reports whether the build recorded a JUnit artifact location.
func (b Build) HasArtifact() bool {
	_, ok := b.Properties[artifactProperty]
	return ok
}

// Outcome maps the buildbot result code to a model outcome. Incomplete
// builds and unrecognized codes are unknown.
func (b Build) Outcome() model.Outcome {
	if !b.Complete || b.Results == nil {
		return model.OutcomeUnknown
	}
	switch *b.Results {
	case resultSuccess:
		return model.OutcomeSuccess
	case resultFailure:
		return model.OutcomeFailure
	default:
		return model.OutcomeUnknown
	}
}

// NewClient creates a client for the given API base URL, e.g.
// "https://buildbot.python.org/api/v2". The timeout bounds every request;
// a timed-out query is indistinguishable from any other loader failure to
// callers upstream.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetBuilders fetches all builders with their tags.
func (c *Client) GetBuilders(ctx context.Context) ([]Builder, error) {
	var out struct {
		Builders []Builder `json:"builders"`
	}
	if err := c.get(ctx, "/builders", nil, &out); err != nil {
		return nil, err
	}
	return out.Builders, nil
}

// GetConnectedBuilderIDs returns the set of builder IDs configured on at
// least one currently-connected worker. Builders outside this set are
// effectively offline and report no fresh status.
func (c *Client) GetConnectedBuilderIDs(ctx context.Context) (map[int64]bool, error) {
	var out struct {
		Workers []Worker `json:"workers"`
	}
	if err := c.get(ctx, "/workers", nil, &out); err != nil {
		return nil, err
	}

	connected := make(map[int64]bool)
	for _, w := range out.Workers {
		if len(w.ConnectedTo) == 0 {
			continue
		}
		for _, cnf := range w.ConfiguredOn {
			connected[cnf.BuilderID] = true
		}
	}
	return connected, nil
}

// GetRecentBuilds fetches up to limit completed builds for a builder,
// newest first.
func (c *Client) GetRecentBuilds(ctx context.Context, builderID int64, limit int) ([]Build, error) {
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("order", "-complete_at")
	query.Set("complete__eq", "true")
	query.Set("property", artifactProperty)

	var out struct {
		Builds []Build `json:"builds"`
	}
	path := fmt.Sprintf("/builders/%d/builds", builderID)
	if err := c.get(ctx, path, query, &out); err != nil {
		return nil, err
	}
	return out.Builds, nil
}

// get performs a GET against the data API and decodes the response
// envelope into out. Buildbot wraps every collection in an object with
// the collection key plus a "meta" member; decoding into a struct with
// only the collection field drops meta.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
