package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hakim/readyscan/internal/models"
)

// Notifier posts job completion events to a webhook.
type Notifier struct {
	WebhookURL string // if empty, no notifications
	Client     *http.Client
}

// completionPayload is the JSON body posted to the webhook endpoint.
type completionPayload struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Source         string  `json:"source"`
	OverallScore   *int    `json:"overall_score,omitempty"`
	Grade          string  `json:"grade,omitempty"`
	FindingCount   int     `json:"finding_count"`
	Error          string  `json:"error,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// SendCompletion posts a JSON payload describing a terminal job. summary is
// nil for failed jobs. Returns nil if WebhookURL is empty (no-op). Callers
// treat errors as warnings.
func (n *Notifier) SendCompletion(ctx context.Context, job *models.ScanJob, summary *models.ReportSummary) error {
	if n == nil || n.WebhookURL == "" {
		return nil
	}

	payload := completionPayload{
		JobID:  job.ID,
		Status: string(job.Status),
		Source: job.Source.Location(),
		Error:  job.Error,
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		payload.ElapsedSeconds = job.CompletedAt.Sub(*job.StartedAt).Seconds()
	}
	if summary != nil {
		score := summary.OverallScore
		payload.OverallScore = &score
		payload.Grade = summary.Grade
		payload.FindingCount = summary.FindingCount
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.WebhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned non-2xx status %d", resp.StatusCode)
	}

	return nil
}
