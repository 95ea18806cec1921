package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the paged fetch surface the sync engine consumes. The HTTP
// implementation below talks to the listing platform; tests substitute fakes.
type Client interface {
	ListReviews(ctx context.Context, placeID string, since *time.Time, pageToken string, pageSize int) (*ReviewPage, error)
	ListPhotos(ctx context.Context, placeID string, pageToken string, pageSize int) (*PhotoPage, error)
	ListPosts(ctx context.Context, placeID string, pageToken string, pageSize int) (*PostPage, error)
}

type HTTPClient struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("listing API error (%d): %s", e.Status, e.Body)
}

func NewHTTPClient(httpClient *http.Client, host string) *HTTPClient {
	host = strings.TrimRight(host, "/")
	return &HTTPClient{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *HTTPClient) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *HTTPClient) ListReviews(ctx context.Context, placeID string, since *time.Time, pageToken string, pageSize int) (*ReviewPage, error) {
	if placeID == "" {
		return nil, fmt.Errorf("place_id is required")
	}
	query := url.Values{}
	query.Set("place_id", placeID)
	if since != nil && !since.IsZero() {
		query.Set("updated_after", since.UTC().Format(time.RFC3339))
	}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	if pageSize > 0 {
		query.Set("page_size", fmt.Sprintf("%d", pageSize))
	}
	body, err := c.doRequest(ctx, "/v1/reviews", query)
	if err != nil {
		return nil, err
	}
	var page ReviewPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}
	attachRawReviews(body, &page)
	return &page, nil
}

func (c *HTTPClient) ListPhotos(ctx context.Context, placeID string, pageToken string, pageSize int) (*PhotoPage, error) {
	if placeID == "" {
		return nil, fmt.Errorf("place_id is required")
	}
	query := url.Values{}
	query.Set("place_id", placeID)
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	if pageSize > 0 {
		query.Set("page_size", fmt.Sprintf("%d", pageSize))
	}
	body, err := c.doRequest(ctx, "/v1/media", query)
	if err != nil {
		return nil, err
	}
	var page PhotoPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode media: %w", err)
	}
	attachRawPhotos(body, &page)
	return &page, nil
}

func (c *HTTPClient) ListPosts(ctx context.Context, placeID string, pageToken string, pageSize int) (*PostPage, error) {
	if placeID == "" {
		return nil, fmt.Errorf("place_id is required")
	}
	query := url.Values{}
	query.Set("place_id", placeID)
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	if pageSize > 0 {
		query.Set("page_size", fmt.Sprintf("%d", pageSize))
	}
	body, err := c.doRequest(ctx, "/v1/posts", query)
	if err != nil {
		return nil, err
	}
	var page PostPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	for i := range page.Items {
		if page.Items[i].ExternalID == "" {
			page.Items[i].ExternalID = SynthesizePostID(page.Items[i].Source, page.Items[i].SourceID)
		}
	}
	attachRawPosts(body, &page)
	return &page, nil
}

// SynthesizePostID builds a stable identity for posts whose source platform
// reports no post id of its own.
func SynthesizePostID(source, sourceID string) string {
	return source + ":" + sourceID
}

// attachRaw* keep the original per-item payloads for audit storage.
func attachRawReviews(body []byte, page *ReviewPage) {
	var envelope struct {
		Items []json.RawMessage `json:"reviews"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}
	for i := range page.Items {
		if i < len(envelope.Items) {
			page.Items[i].Raw = envelope.Items[i]
		}
	}
}

func attachRawPhotos(body []byte, page *PhotoPage) {
	var envelope struct {
		Items []json.RawMessage `json:"media_items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}
	for i := range page.Items {
		if i < len(envelope.Items) {
			page.Items[i].Raw = envelope.Items[i]
		}
	}
}

func attachRawPosts(body []byte, page *PostPage) {
	var envelope struct {
		Items []json.RawMessage `json:"posts"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}
	for i := range page.Items {
		if i < len(envelope.Items) {
			page.Items[i].Raw = envelope.Items[i]
		}
	}
}
