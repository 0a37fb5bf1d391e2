// Package issues files GitHub issues for report recommendations and assigns
// them to the engineer responsible for the affected control.
package issues

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultAPIURL = "https://api.github.com"
	apiVersion    = "2022-11-28"
	maxSnippet    = 200
)

var (
	// ErrNoToken means neither the request nor the configuration supplied a
	// GitHub token.
	ErrNoToken = errors.New("a GitHub token is required")
	// ErrNotGitHub means the report was not produced from a GitHub repository.
	ErrNotGitHub = errors.New("report source is not a GitHub repository")
	// ErrUnknownFinding means a requested finding has no recommendation.
	ErrUnknownFinding = errors.New("finding has no recommendation in the report")
)

// APIError is a non-success answer from the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (status %d): %s", e.StatusCode, e.Message)
}

// Repo identifies a GitHub repository.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo extracts owner and name from an https or scp-style GitHub URL.
func ParseRepo(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	var p string
	switch {
	case strings.HasPrefix(raw, "git@github.com:"):
		p = strings.TrimPrefix(raw, "git@github.com:")
	default:
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Hostname(), "github.com") {
			return Repo{}, ErrNotGitHub
		}
		p = u.Path
	}

	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, ErrNotGitHub
	}
	return Repo{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

// Draft is an issue ready to be filed.
type Draft struct {
	FindingID string   `json:"finding_id"`
	ControlID string   `json:"control_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	Assignee  string   `json:"assignee,omitempty"`
}

// Issue is the outcome of filing one draft. Error is set when filing failed.
type Issue struct {
	FindingID string `json:"finding_id"`
	Title     string `json:"title"`
	Number    int    `json:"number,omitempty"`
	URL       string `json:"url,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the GitHub issues API.
type Client struct {
	apiURL     string
	token      string
	labels     []string
	assignees  map[string]string
	httpClient *http.Client
	log        *logger.Logger
}

// New builds a client from configuration. A missing token is allowed here
// because callers may supply one per request.
func New(cfg config.IssuesConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	assignees := make(map[string]string, len(cfg.Assignees))
	for control, login := range cfg.Assignees {
		assignees[strings.ToLower(control)] = login
	}
	return &Client{
		apiURL:     apiURL,
		token:      cfg.Token,
		labels:     cfg.Labels,
		assignees:  assignees,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		log:        log,
	}
}

// Assignee returns the GitHub login responsible for a control, or "".
func (c *Client) Assignee(controlID string) string {
	if login, ok := c.assignees[strings.ToLower(controlID)]; ok {
		return login
	}
	return c.assignees["default"]
}

// Drafts builds one issue per recommendation of r. With findingIDs set only
// those recommendations are drafted, in the order given.
func (c *Client) Drafts(r *models.Report, catalog *controls.Catalog, findingIDs []string) ([]Draft, error) {
	recs := r.Recommendations
	if len(findingIDs) > 0 {
		byID := make(map[string]models.Recommendation, len(recs))
		for _, rec := range recs {
			byID[rec.FindingID] = rec
		}
		recs = make([]models.Recommendation, 0, len(findingIDs))
		for _, id := range findingIDs {
			rec, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFinding, id)
			}
			recs = append(recs, rec)
		}
	}

	findings := make(map[string]models.Finding, len(r.Findings))
	for _, f := range r.Findings {
		findings[f.ID] = f
	}

	drafts := make([]Draft, 0, len(recs))
	for _, rec := range recs {
		control, _ := catalog.Get(rec.ControlID)
		assignee := c.Assignee(rec.ControlID)
		drafts = append(drafts, Draft{
			FindingID: rec.FindingID,
			ControlID: rec.ControlID,
			Title:     issueTitle(rec),
			Body:      issueBody(rec, control, findings[rec.FindingID], assignee),
			Labels:    c.issueLabels(rec),
			Assignee:  assignee,
		})
	}
	return drafts, nil
}

// FileReport files an issue for each drafted recommendation of a git-sourced
// report. token overrides the configured token when set. Failures of single
// issues are recorded on the returned entries rather than aborting the batch.
func (c *Client) FileReport(ctx context.Context, r *models.Report, catalog *controls.Catalog, findingIDs []string, token string) ([]Issue, error) {
	if token == "" {
		token = c.token
	}
	if token == "" {
		return nil, ErrNoToken
	}
	if r.Metadata.SourceKind != models.SourceGit {
		return nil, ErrNotGitHub
	}
	repo, err := ParseRepo(r.Metadata.Source)
	if err != nil {
		return nil, err
	}
	drafts, err := c.Drafts(r, catalog, findingIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Issue, 0, len(drafts))
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		issue, err := c.Create(ctx, repo, d, token)
		if err != nil {
			c.log.Warn("could not file issue", "repo", repo.Owner+"/"+repo.Name, "finding_id", d.FindingID, "error", err)
			out = append(out, Issue{FindingID: d.FindingID, Title: d.Title, Assignee: d.Assignee, Error: err.Error()})
			continue
		}
		out = append(out, *issue)
	}
	return out, nil
}

type createRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

type issueResponse struct {
	Number    int    `json:"number"`
	HTMLURL   string `json:"html_url"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Create files one draft. A token that may not create labels gets the issue
// filed without them. When GitHub drops the assignee on creation a second
// call assigns it; failure there is logged and not returned.
func (c *Client) Create(ctx context.Context, repo Repo, d Draft, token string) (*Issue, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", c.apiURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name))
	req := createRequest{Title: d.Title, Body: d.Body, Labels: d.Labels}
	if d.Assignee != "" {
		req.Assignees = []string{d.Assignee}
	}

	var created issueResponse
	err := c.do(ctx, http.MethodPost, endpoint, token, req, &created)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden &&
		strings.Contains(strings.ToLower(apiErr.Message), "label") {
		c.log.Warn("label creation denied, filing issue without labels", "finding_id", d.FindingID)
		req.Labels = nil
		err = c.do(ctx, http.MethodPost, endpoint, token, req, &created)
	}
	if err != nil {
		return nil, err
	}

	if d.Assignee != "" && len(created.Assignees) == 0 {
		assignURL := fmt.Sprintf("%s/%d/assignees", endpoint, created.Number)
		body := map[string][]string{"assignees": {d.Assignee}}
		if err := c.do(ctx, http.MethodPost, assignURL, token, body, nil); err != nil {
			c.log.Warn("could not assign issue", "number", created.Number, "assignee", d.Assignee, "error", err)
		}
	}

	c.log.Info("filed issue", "repo", repo.Owner+"/"+repo.Name, "number", created.Number, "finding_id", d.FindingID)
	return &Issue{
		FindingID: d.FindingID,
		Title:     d.Title,
		Number:    created.Number,
		URL:       created.HTMLURL,
		Assignee:  d.Assignee,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) issueLabels(rec models.Recommendation) []string {
	labels := append([]string(nil), c.labels...)
	return append(labels,
		"severity-"+string(rec.Priority),
		"control-"+strings.ToLower(rec.ControlID))
}

func issueTitle(rec models.Recommendation) string {
	return fmt.Sprintf("[%s] [%s] %s", rec.ControlID, strings.ToUpper(string(rec.Priority)), humanize(rec.Type))
}

func humanize(typ string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(typ, "_", " "))
}

var riskText = map[models.Severity]string{
	models.SeverityCritical: "Immediate action required. This issue poses a severe security risk.",
	models.SeverityHigh:     "High priority. This issue significantly weakens the security posture.",
	models.SeverityMedium:   "Medium priority. Address this to improve security and compliance.",
	models.SeverityLow:      "Low priority. This is a minor security concern.",
	models.SeverityInfo:     "Informational. This is a best practice recommendation.",
}

func issueBody(rec models.Recommendation, control models.Control, f models.Finding, assignee string) string {
	var b strings.Builder

	controlName := control.Name
	if controlName == "" {
		controlName = "Compliance"
	}
	fmt.Fprintf(&b, "## Compliance issue detected\n\n")
	fmt.Fprintf(&b, "**Control:** %s - %s\n", rec.ControlID, controlName)
	fmt.Fprintf(&b, "**Type:** %s\n", humanize(rec.Type))
	fmt.Fprintf(&b, "**Severity:** %s\n", strings.ToUpper(string(rec.Priority)))
	if rec.Owner != "" {
		fmt.Fprintf(&b, "**Owning team:** %s\n", rec.Owner)
	}
	if assignee != "" {
		fmt.Fprintf(&b, "**Assigned to:** @%s\n", assignee)
	}

	fmt.Fprintf(&b, "\n### Summary\n%s\n", rec.Message)
	fmt.Fprintf(&b, "\n### Risk\n**%s** - %s\n", strings.ToUpper(string(rec.Priority)), riskText[rec.Priority])

	b.WriteString("\n### Location\n")
	if rec.Link != "" {
		fmt.Fprintf(&b, "**File:** [%s](%s)\n", rec.FilePath, rec.Link)
	} else {
		fmt.Fprintf(&b, "**File:** `%s`\n", rec.FilePath)
	}
	if rec.Line > 0 {
		fmt.Fprintf(&b, "**Line:** %d\n", rec.Line)
	}
	if f.Snippet != "" {
		snip := f.Snippet
		if len(snip) > maxSnippet {
			snip = snip[:maxSnippet]
		}
		fmt.Fprintf(&b, "\n```\n%s\n```\n", snip)
	}

	fmt.Fprintf(&b, "\n### Remediation\n%s\n", rec.Action)
	fmt.Fprintf(&b, "\n---\n*Filed by readyscan from finding `%s`.*\n", rec.FindingID)
	return b.String()
}
