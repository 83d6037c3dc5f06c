package ltm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jeanmemory/jean-memory-go/internal/models"
)

// Client talks to the remote long-term memory API over JSON/HTTP. It is the
// system of record; STM copies are ephemeral caches of it.
//
// The client degrades instead of failing: missing configuration or a failed
// health check leave it in a not-ready state, and every operation on a
// not-ready client returns nil without error. Callers treat nil/empty as
// "tier unavailable", never as fatal.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	ready      atomic.Bool
	logger     *slog.Logger
}

type Options struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

// Initialize performs the health check that gates all other operations.
// Missing configuration or an unhealthy endpoint leave the client not ready;
// neither raises an error.
func (c *Client) Initialize(ctx context.Context) {
	if c.baseURL == "" || c.apiKey == "" {
		c.logger.Warn("ltm not configured, long-term tier disabled")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		c.logger.Warn("ltm health request failed", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ltm health check failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ltm health check failed", "status", resp.StatusCode)
		return
	}

	c.ready.Store(true)
	c.logger.Info("ltm connected", "url", c.baseURL)
}

// IsReady reports whether the long-term tier is usable.
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// UploadMemory persists content to long-term storage with enriched metadata.
// Returns the created record, or nil when the tier is unavailable or the
// response carries no id.
func (c *Client) UploadMemory(ctx context.Context, content, userID, appID string, metadata map[string]any) *models.LTMRecord {
	if !c.IsReady() {
		return nil
	}

	enriched := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		enriched[k] = v
	}
	enriched["source"] = "jean_memory_v3"
	enriched["app_id"] = appID
	enriched["uploaded_at"] = time.Now().UTC().Format(time.RFC3339)

	body := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
		"user_id":  userID,
		"metadata": enriched,
	}

	data := c.doRequest(ctx, http.MethodPost, "/memories/", body, nil)
	if data == nil {
		return nil
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID == "" {
		c.logger.Warn("ltm upload returned no id", "user", userID)
		return nil
	}

	return &models.LTMRecord{
		ID:       resp.ID,
		Content:  content,
		UserID:   userID,
		Metadata: annotate(enriched),
	}
}

// SearchMemories runs a relevance search. Returns nil when unavailable.
func (c *Client) SearchMemories(ctx context.Context, query, userID string, limit int) []models.LTMRecord {
	if !c.IsReady() {
		return nil
	}

	body := map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	}
	data := c.doRequest(ctx, http.MethodPost, "/search/", body, nil)
	return c.decodeRecords(data)
}

// GetMemory fetches a single memory by its long-term id.
func (c *Client) GetMemory(ctx context.Context, id string) *models.LTMRecord {
	if !c.IsReady() {
		return nil
	}

	data := c.doRequest(ctx, http.MethodGet, "/memories/"+id, nil, nil)
	if data == nil {
		return nil
	}

	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Warn("ltm decode memory failed", "id", id, "error", err)
		return nil
	}
	rec := raw.normalize()
	return &rec
}

// GetUserMemories lists a user's memories, newest first.
func (c *Client) GetUserMemories(ctx context.Context, userID string, limit, offset int) []models.LTMRecord {
	if !c.IsReady() {
		return nil
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	data := c.doRequest(ctx, http.MethodGet, "/memories/", nil, q)
	return c.decodeRecords(data)
}

// GetHotMemories lists memories flagged as preload candidates, most relevant
// first.
func (c *Client) GetHotMemories(ctx context.Context, userID string, limit int) []models.LTMRecord {
	if !c.IsReady() {
		return nil
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "relevance")

	data := c.doRequest(ctx, http.MethodGet, "/memories/", nil, q)
	records := c.decodeRecords(data)

	hot := records[:0]
	for _, r := range records {
		if r.IsHot {
			hot = append(hot, r)
		}
	}
	if len(hot) > 0 {
		return hot
	}
	// No explicit hot flags: treat the relevance-sorted head as hot.
	return records
}

// DeleteMemory removes a memory by long-term id. Returns false when the tier
// is unavailable or the record was not found.
func (c *Client) DeleteMemory(ctx context.Context, id string) bool {
	if !c.IsReady() {
		return false
	}
	return c.doRequest(ctx, http.MethodDelete, "/memories/"+id, nil, nil) != nil
}

// GetCategories lists the user's memory categories.
func (c *Client) GetCategories(ctx context.Context, userID string) []string {
	if !c.IsReady() {
		return nil
	}

	q := url.Values{}
	q.Set("user_id", userID)
	data := c.doRequest(ctx, http.MethodGet, "/categories/", nil, q)
	if data == nil {
		return nil
	}

	var resp struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("ltm decode categories failed", "error", err)
		return nil
	}
	return resp.Categories
}

// GetLifeNarrative fetches the synthesized narrative for a user, or "" when
// none exists.
func (c *Client) GetLifeNarrative(ctx context.Context, userID string) string {
	if !c.IsReady() {
		return ""
	}

	q := url.Values{}
	q.Set("user_id", userID)
	data := c.doRequest(ctx, http.MethodGet, "/narrative/", nil, q)
	if data == nil {
		return ""
	}

	var resp struct {
		Narrative string `json:"narrative"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return ""
	}
	return resp.Narrative
}

// doRequest is the central HTTP call. It retries transport errors and 5xx
// responses up to maxRetries with a fixed delay, treats 404 as not-found
// (nil), and never retries other 4xx. On exhausted retries it logs and
// returns nil; callers interpret nil as tier-unavailable for this call only.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) []byte {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.logger.Error("ltm marshal request failed", "path", path, "error", err)
			return nil
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				c.logger.Warn("ltm request canceled", "path", path, "error", ctx.Err())
				return nil
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			c.logger.Error("ltm create request failed", "path", path, "error", err)
			return nil
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue // transport error, retry
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data
		case resp.StatusCode == http.StatusNotFound:
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
			continue // server error, retry
		default:
			c.logger.Warn("ltm request rejected", "path", path, "status", resp.StatusCode)
			return nil
		}
	}

	c.logger.Warn("ltm request failed after retries", "path", path, "attempts", c.maxRetries, "error", lastErr)
	return nil
}

// rawRecord tolerates the remote API's field variants.
type rawRecord struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Memory    string         `json:"memory"`
	Text      string         `json:"text"`
	UserID    string         `json:"user_id"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata_"`
	CreatedAt string         `json:"created_at"`
}

func (r rawRecord) normalize() models.LTMRecord {
	content := r.Content
	if content == "" {
		content = r.Memory
	}
	if content == "" {
		content = r.Text
	}

	meta := annotate(r.Metadata)
	isHot, _ := meta["is_hot"].(bool)

	rec := models.LTMRecord{
		ID:       r.ID,
		Content:  content,
		UserID:   r.UserID,
		Score:    r.Score,
		IsHot:    isHot,
		Metadata: meta,
	}
	if r.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec
}

func (c *Client) decodeRecords(data []byte) []models.LTMRecord {
	if data == nil {
		return nil
	}

	var resp struct {
		Memories []rawRecord `json:"memories"`
		Results  []rawRecord `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("ltm decode records failed", "error", err)
		return nil
	}

	raws := resp.Memories
	if len(raws) == 0 {
		raws = resp.Results
	}

	records := make([]models.LTMRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, raw.normalize())
	}
	return records
}

// annotate stamps source=ltm on record metadata.
func annotate(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["source"] = "ltm"
	return out
}
