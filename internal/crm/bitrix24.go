// Package crm submits completed leads to a Bitrix24 portal through an incoming webhook and
// reads them back for the admin commands.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrNotConfigured is returned by every call when no webhook URL is set.
var ErrNotConfigured = errors.New("bitrix24 webhook URL not configured")

// Lead statuses used by the portal.
const (
	StatusNew       = "NEW"
	StatusProcessed = "PROCESSED"
	StatusInProcess = "IN_PROCESS"
	StatusConverted = "CONVERTED"
	StatusJunk      = "JUNK"
)

// Lead source identifiers.
const (
	SourceCreate = "46"
	SourceBot    = "TELEGRAM_BOT"
)

const defaultTimeout = 30 * time.Second

var listSelect = []string{"ID", "TITLE", "NAME", "LAST_NAME", "PHONE", "COMMENTS", "DATE_CREATE", "STATUS_ID"}

// PhoneField is one entry of the multi-value PHONE field.
type PhoneField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE"`
}

// Lead is a lead as returned by crm.lead.list.
type Lead struct {
	ID         string       `json:"ID"`
	Title      string       `json:"TITLE"`
	Name       string       `json:"NAME"`
	LastName   string       `json:"LAST_NAME"`
	Phone      []PhoneField `json:"PHONE,omitempty"`
	Comments   string       `json:"COMMENTS"`
	DateCreate string       `json:"DATE_CREATE"`
	StatusID   string       `json:"STATUS_ID"`
}

// FirstPhone returns the first phone value or an empty string.
func (l Lead) FirstPhone() string {
	if len(l.Phone) == 0 {
		return ""
	}
	return l.Phone[0].Value
}

// Statistics summarizes the bot's leads by status.
type Statistics struct {
	Total     int `json:"total"`
	New       int `json:"new"`
	Processed int `json:"processed"`
	Converted int `json:"converted"`
	Lost      int `json:"lost"`
}

// ConversionRate returns converted/total as a percentage.
func (s Statistics) ConversionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Converted) / float64(s.Total) * 100
}

// Client talks to a Bitrix24 incoming webhook.
type Client struct {
	webhookURL string
	httpClient *http.Client
	labels     []string
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithQuestionLabels sets the labels paired with answers in the lead comment.
func WithQuestionLabels(labels []string) Option {
	return func(c *Client) { c.labels = labels }
}

// WithClock overrides the time source used in the lead comment.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Bitrix24 client. An empty webhook URL yields a client whose calls
// all fail with ErrNotConfigured.
func NewClient(webhookURL string, opts ...Option) *Client {
	c := &Client{
		webhookURL: strings.TrimRight(webhookURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.webhookURL != ""
}

// CreateLead submits a lead and returns its Bitrix24 ID.
func (c *Client) CreateLead(ctx context.Context, lead models.Lead) (string, error) {
	if !c.Configured() {
		slog.Warn("Bitrix24 CreateLead skipped: webhook not configured", "user_id", lead.UserID)
		return "", ErrNotConfigured
	}
	body := map[string]any{
		"fields": map[string]any{
			"TITLE":          "Заявка от " + lead.DisplayName(),
			"NAME":           lead.FirstName,
			"LAST_NAME":      lead.LastName,
			"PHONE":          []PhoneField{{Value: lead.Phone, ValueType: "WORK"}},
			"COMMENTS":       FormatComment(lead, c.labels, c.now()),
			"SOURCE_ID":      SourceCreate,
			"STATUS_ID":      StatusNew,
			"CURRENCY_ID":    "RUB",
			"OPPORTUNITY":    0,
			"ASSIGNED_BY_ID": 1,
		},
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.call(ctx, "crm.lead.add", body, &resp); err != nil {
		return "", err
	}
	id := strings.Trim(string(resp.Result), `"`)
	if id == "" || id == "null" || id == "false" {
		return "", fmt.Errorf("bitrix24 crm.lead.add returned no lead ID")
	}
	slog.Info("Bitrix24 lead created", "lead_id", id, "user_id", lead.UserID)
	return id, nil
}

// ListLeads returns leads matching filter, newest first.
func (c *Client) ListLeads(ctx context.Context, filter map[string]string) ([]Lead, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	body := map[string]any{
		"select": listSelect,
		"filter": filter,
		"order":  map[string]string{"DATE_CREATE": "DESC"},
		"start":  0,
	}
	var resp struct {
		Result []Lead `json:"result"`
	}
	if err := c.call(ctx, "crm.lead.list", body, &resp); err != nil {
		return nil, err
	}
	slog.Debug("Bitrix24 leads listed", "count", len(resp.Result), "filter", filter)
	return resp.Result, nil
}

// BotLeads returns the leads created by the bot.
func (c *Client) BotLeads(ctx context.Context) ([]Lead, error) {
	return c.ListLeads(ctx, map[string]string{"SOURCE_ID": SourceBot})
}

// NewLeads returns the bot's leads still in status NEW.
func (c *Client) NewLeads(ctx context.Context) ([]Lead, error) {
	return c.ListLeads(ctx, map[string]string{"SOURCE_ID": SourceBot, "STATUS_ID": StatusNew})
}

// UpdateLeadStatus changes the status of a lead.
func (c *Client) UpdateLeadStatus(ctx context.Context, id, status string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	body := map[string]any{
		"id":     id,
		"fields": map[string]string{"STATUS_ID": status},
	}
	var resp struct {
		Result bool `json:"result"`
	}
	if err := c.call(ctx, "crm.lead.update", body, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fmt.Errorf("bitrix24 crm.lead.update rejected lead %s", id)
	}
	slog.Info("Bitrix24 lead status updated", "lead_id", id, "status", status)
	return nil
}

// Statistics counts the bot's leads by status.
func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	leads, err := c.BotLeads(ctx)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{Total: len(leads)}
	for _, l := range leads {
		switch l.StatusID {
		case StatusNew, "":
			stats.New++
		case StatusProcessed, StatusInProcess:
			stats.Processed++
		case StatusConverted:
			stats.Converted++
		case StatusJunk:
			stats.Lost++
		}
	}
	return stats, nil
}

// Export writes the bot's leads to path as indented JSON and returns how many were written.
func (c *Client) Export(ctx context.Context, path string) (int, error) {
	leads, err := c.BotLeads(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode leads: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write leads export %s: %w", path, err)
	}
	slog.Info("Bitrix24 leads exported", "path", path, "count", len(leads))
	return len(leads), nil
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	url := c.webhookURL + "/" + method + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bitrix24 %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bitrix24 %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("bitrix24 %s: HTTP %d: %s: %s", method, resp.StatusCode, apiErr.Error, apiErr.Description)
		}
		return fmt.Errorf("bitrix24 %s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("bitrix24 %s: decode response: %w", method, err)
	}
	return nil
}
