package pagegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// Client is the PageGate SDK client. It communicates with the PageGate
// admin API to push deployments and manage projects, aliases, and
// domain mappings.
type Client struct {
	serverAddr string
	apiKey     string
	timeout    time.Duration
	retryMax   int
	retryWait  time.Duration
	httpClient *http.Client

	logger *slog.Logger
}

// NewClient creates a new PageGate SDK client.
// It reads configuration from PAGEGATE_* environment variables by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("PAGEGATE_SERVER_ADDR"),
		apiKey:     os.Getenv("PAGEGATE_API_KEY"),
		timeout:    parseDurationEnv("PAGEGATE_TIMEOUT", 30*time.Second),
		retryMax:   parseIntEnv("PAGEGATE_RETRY_MAX", 2),
		retryWait:  parseDurationEnv("PAGEGATE_RETRY_WAIT", 500*time.Millisecond),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, req ProjectRequest) (*Project, error) {
	var p Project
	if err := c.doRequest(ctx, http.MethodPost, "/admin/api/projects", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject fetches one project by ID.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := c.doRequest(ctx, http.MethodGet, "/admin/api/projects/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every project. Requires operator credentials.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.doRequest(ctx, http.MethodGet, "/admin/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// UpdateProject applies a partial update to a project. Zero-value fields
// keep their stored values.
func (c *Client) UpdateProject(ctx context.Context, id string, req ProjectRequest) (*Project, error) {
	var p Project
	if err := c.doRequest(ctx, http.MethodPut, "/admin/api/projects/"+id, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProject returns the project owned by owner with the given name,
// creating it when it does not exist yet. Requires operator credentials
// because it lists projects to find the match.
func (c *Client) EnsureProject(ctx context.Context, owner, name string) (*Project, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Owner == owner && projects[i].Name == name {
			return &projects[i], nil
		}
	}
	return c.CreateProject(ctx, ProjectRequest{Owner: owner, Name: name})
}

// Upload pushes one file into a project.
func (c *Client) Upload(ctx context.Context, projectID string, req UploadRequest) (*Asset, error) {
	payload, contentType, err := encodeUploadForm(req)
	if err != nil {
		return nil, err
	}
	var a Asset
	if err := c.send(ctx, http.MethodPost, "/admin/api/projects/"+projectID+"/uploads", contentType, payload, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeployDir walks fsys and uploads every regular file under it as one
// deployment, using each file's path within fsys as its public path.
// MIME types are derived from file extensions. The first failed upload
// aborts the walk; files already uploaded stay uploaded.
func (c *Client) DeployDir(ctx context.Context, projectID string, dep Deployment, fsys fs.FS) (*DeployResult, error) {
	result := &DeployResult{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer f.Close()

		a, err := c.Upload(ctx, projectID, UploadRequest{
			FileName:     path.Base(p),
			ContentType:  mime.TypeByExtension(path.Ext(p)),
			PublicPath:   p,
			Body:         f,
			CommitSHA:    dep.CommitSHA,
			Branch:       dep.Branch,
			DeploymentID: dep.DeploymentID,
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", p, err)
		}

		result.Files++
		result.TotalBytes += a.Size
		result.Assets = append(result.Assets, *a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListAliases returns a project's aliases, auto-minted previews included.
func (c *Client) ListAliases(ctx context.Context, projectID string) ([]Alias, error) {
	var aliases []Alias
	if err := c.doRequest(ctx, http.MethodGet, "/admin/api/projects/"+projectID+"/aliases", nil, &aliases); err != nil {
		return nil, err
	}
	return aliases, nil
}

// CreateAlias creates a named alias on a project.
func (c *Client) CreateAlias(ctx context.Context, projectID string, req AliasRequest) (*Alias, error) {
	var a Alias
	if err := c.doRequest(ctx, http.MethodPost, "/admin/api/projects/"+projectID+"/aliases", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAlias repoints or reconfigures an alias by ID. Zero-value fields
// keep their stored values.
func (c *Client) UpdateAlias(ctx context.Context, aliasID string, req AliasRequest) (*Alias, error) {
	var a Alias
	if err := c.doRequest(ctx, http.MethodPut, "/admin/api/aliases/"+aliasID, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetAlias points the named alias at a commit, creating the alias when
// the project does not have it yet. This is the release primitive:
// pointing "production" at a freshly deployed commit makes it live.
func (c *Client) SetAlias(ctx context.Context, projectID, name, commitSHA string) (*Alias, error) {
	aliases, err := c.ListAliases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range aliases {
		if aliases[i].Name == name {
			return c.UpdateAlias(ctx, aliases[i].ID, AliasRequest{CommitSHA: commitSHA})
		}
	}
	return c.CreateAlias(ctx, projectID, AliasRequest{Name: name, CommitSHA: commitSHA})
}

// ListDomains returns the domain mappings pointing at a project.
func (c *Client) ListDomains(ctx context.Context, projectID string) ([]Domain, error) {
	var domains []Domain
	if err := c.doRequest(ctx, http.MethodGet, "/admin/api/projects/"+projectID+"/domains", nil, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// CreateDomain attaches a hostname mapping. Requires operator credentials.
func (c *Client) CreateDomain(ctx context.Context, req DomainRequest) (*Domain, error) {
	var d Domain
	if err := c.doRequest(ctx, http.MethodPost, "/admin/api/domains", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// doRequest performs one JSON round trip against the admin API.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.send(ctx, method, path, "application/json", payload, result)
}

// send issues the request, replaying the payload from memory on each
// retry. Connection failures and retryable statuses are reattempted up
// to retryMax times; anything else surfaces immediately.
func (c *Client) send(ctx context.Context, method, path, contentType string, payload []byte, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryWait):
			}
			c.logger.Debug("retrying request",
				"method", method,
				"path", path,
				"attempt", attempt,
			)
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", contentType)
		}
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// DNS, connection refused, TLS handshake, timeouts.
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if retryableStatus(httpResp.StatusCode) && attempt < c.retryMax {
			lastErr = fmt.Errorf("server returned %d", httpResp.StatusCode)
			continue
		}

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			return apiErrorFrom(httpResp.StatusCode, respBody)
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		return nil
	}

	return &ServerUnreachableError{Cause: lastErr}
}

// retryableStatus reports whether a response status is worth another
// attempt: rate limiting and transient upstream failures.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// apiErrorFrom decodes the admin API's {"error","message"} body into an
// APIError, falling back to the raw body when it is not JSON.
func apiErrorFrom(status int, body []byte) error {
	var wire struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		apiErr.Code = wire.Error
		apiErr.Message = wire.Message
	} else {
		apiErr.Code = fmt.Sprintf("http_%d", status)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// encodeUploadForm renders the multipart body once so retries can
// replay it. The file part carries an explicit Content-Type because the
// server stores it as the asset's MIME type.
func encodeUploadForm(req UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range []struct{ name, value string }{
		{"commitSha", req.CommitSHA},
		{"branch", req.Branch},
		{"publicPath", req.PublicPath},
		{"deploymentId", req.DeploymentID},
	} {
		if field.value == "" {
			continue
		}
		if err := w.WriteField(field.name, field.value); err != nil {
			return nil, "", fmt.Errorf("failed to encode form field %s: %w", field.name, err)
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(req.FileName)))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return nil, "", fmt.Errorf("failed to read file body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// escapeQuotes mirrors what mime/multipart does for file names.
func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
