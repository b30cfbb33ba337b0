// Package pagegate provides a Go client for the PageGate admin API.
//
// PageGate is the serving plane of a static deployment platform. This SDK
// lets build and release tooling push deployment artifacts, point aliases
// at commits, and manage domain mappings programmatically. It uses only
// the Go standard library (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set PAGEGATE_SERVER_ADDR and PAGEGATE_API_KEY env vars, then:
//	client := pagegate.NewClient()
//
//	result, err := client.DeployDir(ctx, projectID, pagegate.Deployment{
//	    CommitSHA: sha,
//	    Branch:    "main",
//	}, os.DirFS("./dist"))
//	if err != nil {
//	    if errors.Is(err, pagegate.ErrQuotaExceeded) {
//	        log.Fatal("project is out of storage")
//	    }
//	    log.Fatal(err)
//	}
//
//	// Make the commit live.
//	_, err = client.SetAlias(ctx, projectID, "production", sha)
package pagegate

import "io"

// Project is a tenant site as the admin API represents it.
type Project struct {
	ID                   string `json:"id"`
	Owner                string `json:"owner"`
	Name                 string `json:"name"`
	IsPublic             bool   `json:"isPublic"`
	UnauthorizedBehavior string `json:"unauthorizedBehavior"`
	RequiredRole         string `json:"requiredRole"`
	DefaultRuleSetID     string `json:"defaultRuleSetId,omitempty"`
	StorageQuotaBytes    *int64 `json:"storageQuotaBytes,omitempty"`
	QuotaBehavior        string `json:"quotaBehavior"`
	CreatedAt            string `json:"createdAt"`
}

// ProjectRequest is the body for creating or updating a project. On
// update, zero-value fields keep their stored values.
type ProjectRequest struct {
	Owner                string `json:"owner,omitempty"`
	Name                 string `json:"name,omitempty"`
	IsPublic             *bool  `json:"isPublic,omitempty"`
	UnauthorizedBehavior string `json:"unauthorizedBehavior,omitempty"`
	RequiredRole         string `json:"requiredRole,omitempty"`
	DefaultRuleSetID     string `json:"defaultRuleSetId,omitempty"`
	StorageQuotaBytes    *int64 `json:"storageQuotaBytes,omitempty"`
	QuotaBehavior        string `json:"quotaBehavior,omitempty"`
}

// Alias is a named pointer onto a deployed commit.
type Alias struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"projectId"`
	Name           string  `json:"name"`
	CommitSHA      string  `json:"commitSha"`
	DeploymentID   string  `json:"deploymentId,omitempty"`
	IsAutoPreview  bool    `json:"isAutoPreview"`
	BasePath       *string `json:"basePath,omitempty"`
	ProxyRuleSetID string  `json:"proxyRuleSetId,omitempty"`
	IsPublic       *bool   `json:"isPublic,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

// AliasRequest is the body for creating or updating an alias. On update,
// zero-value fields keep their stored values.
type AliasRequest struct {
	Name           string  `json:"name,omitempty"`
	CommitSHA      string  `json:"commitSha,omitempty"`
	BasePath       *string `json:"basePath,omitempty"`
	ProxyRuleSetID string  `json:"proxyRuleSetId,omitempty"`
	IsPublic       *bool   `json:"isPublic,omitempty"`
}

// Domain is a hostname mapping onto a project.
type Domain struct {
	ID             string  `json:"id"`
	Domain         string  `json:"domain"`
	ProjectID      string  `json:"projectId,omitempty"`
	Alias          *string `json:"alias,omitempty"`
	Type           string  `json:"type"`
	RedirectTarget *string `json:"redirectTarget,omitempty"`
	IsActive       bool    `json:"isActive"`
	IsSPA          bool    `json:"isSpa"`
	IsPrimary      bool    `json:"isPrimary"`
	WWWBehavior    string  `json:"wwwBehavior,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

// DomainRequest is the body for creating or updating a domain mapping.
// Type is one of "subdomain", "custom", or "redirect".
type DomainRequest struct {
	Domain         string  `json:"domain,omitempty"`
	ProjectID      string  `json:"projectId,omitempty"`
	Alias          *string `json:"alias,omitempty"`
	Type           string  `json:"type,omitempty"`
	RedirectTarget *string `json:"redirectTarget,omitempty"`
	IsSPA          *bool   `json:"isSpa,omitempty"`
	IsPrimary      *bool   `json:"isPrimary,omitempty"`
	WWWBehavior    string  `json:"wwwBehavior,omitempty"`
}

// Asset is one stored file as the upload endpoint returns it.
type Asset struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	FileName     string `json:"fileName"`
	StorageKey   string `json:"storageKey"`
	URL          string `json:"url,omitempty"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	ContentHash  string `json:"contentHash"`
	CommitSHA    string `json:"commitSha,omitempty"`
	Branch       string `json:"branch,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	PublicPath   string `json:"publicPath,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// UploadRequest pushes a single file into a project. The ContentType
// becomes the stored MIME type; empty means application/octet-stream.
// CommitSHA, Branch, and PublicPath tie the file to a deployment;
// leaving them empty uploads a standalone file.
type UploadRequest struct {
	FileName    string
	ContentType string
	PublicPath  string
	Body        io.Reader

	CommitSHA    string
	Branch       string
	DeploymentID string
}

// Deployment identifies the commit a batch of uploads belongs to.
type Deployment struct {
	CommitSHA    string
	Branch       string
	DeploymentID string
}

// DeployResult summarizes one DeployDir run.
type DeployResult struct {
	Files      int
	TotalBytes int64
	Assets     []Asset
}

// PreviewAliasName returns the alias name the server auto-mints for a
// commit deployment: "preview-" plus the first 8 hex digits of the SHA.
// Useful for printing the preview URL after a deploy.
func PreviewAliasName(commitSHA string) string {
	if len(commitSHA) < 8 {
		return "preview-" + commitSHA
	}
	return "preview-" + commitSHA[:8]
}
