package tiktok

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// OpenAPIBase is the TikTok Open API host.
	OpenAPIBase = "https://open.tiktokapis.com"
	// AuthorizeURL is where users are redirected to grant access.
	AuthorizeURL = "https://www.tiktok.com/v2/auth/authorize/"

	oauthTokenEndpoint = "/v2/oauth/token/"

	videoInitEndpoint     = "/v2/post/publish/video/init/"
	videoFinalizeEndpoint = "/v2/post/publish/video/publish/"

	// Photo/carousel endpoints depend on product access and may be
	// missing for many apps.
	photoInitEndpoint     = "/v2/post/publish/content/init/"
	photoFinalizeEndpoint = "/v2/post/publish/content/publish/"
)

// Payload is a decoded TikTok response body. Init responses embed values at
// multiple paths, so they stay dynamic and are walked with precedence chains.
type Payload = map[string]interface{}

// APIError is the typed failure of any TikTok call, carrying the HTTP
// status and decoded payload so fallbacks can classify it.
type APIError struct {
	Message    string
	StatusCode int
	Payload    Payload
}

func (e *APIError) Error() string {
	return e.Message
}

var permissionMarkers = []string{
	"unsupported",
	"not support",
	"permission",
	"scope",
	"forbidden",
	"insufficient",
	"not authorized",
	"not available",
}

// PermissionOrUnsupported classifies errors that should trigger fallback
// paths (direct→draft, photo→transcoded video) instead of failing the
// delivery outright.
func (e *APIError) PermissionOrUnsupported() bool {
	if e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound {
		return true
	}
	text := strings.ToLower(e.Message)
	for _, marker := range permissionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	payloadText := strings.ToLower(fmt.Sprintf("%v", e.Payload))
	for _, marker := range permissionMarkers {
		if strings.Contains(payloadText, marker) {
			return true
		}
	}
	return false
}

// API is the sink-platform surface consumed by the OAuth lifecycle and the
// publisher. Production uses *Client; tests substitute fakes.
type API interface {
	ExchangeCode(ctx context.Context, clientKey, clientSecret, code, redirectURI string) (Payload, error)
	Refresh(ctx context.Context, clientKey, clientSecret, refreshToken string) (Payload, error)
	InitVideoUpload(ctx context.Context, accessToken, caption, mode string, videoSizeBytes int64) (Payload, error)
	FinalizeVideo(ctx context.Context, accessToken, publishID, caption, mode string) (Payload, error)
	InitPhotoUpload(ctx context.Context, accessToken, caption, mode string, mediaCount int) (Payload, error)
	FinalizePhotoUpload(ctx context.Context, accessToken, publishID, caption, mode string) (Payload, error)
	UploadBinary(ctx context.Context, uploadURL, filePath, contentType string) error
}

// Client is the production TikTok Open API client. API calls use a 120s
// timeout; binary uploads get 300s.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	base         string
}

func NewClient() *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		uploadClient: &http.Client{Timeout: 300 * time.Second},
		base:         OpenAPIBase,
	}
}

func (c *Client) ExchangeCode(ctx context.Context, clientKey, clientSecret, code, redirectURI string) (Payload, error) {
	form := url.Values{
		"client_key":    {clientKey},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}
	payload, err := c.requestForm(ctx, oauthTokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

func (c *Client) Refresh(ctx context.Context, clientKey, clientSecret, refreshToken string) (Payload, error) {
	form := url.Values{
		"client_key":    {clientKey},
		"client_secret": {clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	payload, err := c.requestForm(ctx, oauthTokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

func (c *Client) InitVideoUpload(ctx context.Context, accessToken, caption, mode string, videoSizeBytes int64) (Payload, error) {
	body := Payload{
		"post_mode": mode,
		"post_info": Payload{
			"title": caption,
		},
		"source_info": Payload{
			"source":     "FILE_UPLOAD",
			"video_size": videoSizeBytes,
		},
	}
	payload, err := c.requestJSON(ctx, videoInitEndpoint, accessToken, body)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

func (c *Client) FinalizeVideo(ctx context.Context, accessToken, publishID, caption, mode string) (Payload, error) {
	if publishID == "" {
		return Payload{}, nil
	}
	body := Payload{
		"publish_id": publishID,
		"post_mode":  mode,
		"post_info": Payload{
			"title": caption,
		},
	}
	payload, err := c.requestJSON(ctx, videoFinalizeEndpoint, accessToken, body)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

func (c *Client) InitPhotoUpload(ctx context.Context, accessToken, caption, mode string, mediaCount int) (Payload, error) {
	body := Payload{
		"post_mode": mode,
		"post_info": Payload{
			"title": caption,
		},
		"source_info": Payload{
			"source":      "FILE_UPLOAD",
			"media_count": mediaCount,
			"media_type":  "PHOTO",
		},
	}
	payload, err := c.requestJSON(ctx, photoInitEndpoint, accessToken, body)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

func (c *Client) FinalizePhotoUpload(ctx context.Context, accessToken, publishID, caption, mode string) (Payload, error) {
	if publishID == "" {
		return Payload{}, nil
	}
	body := Payload{
		"publish_id": publishID,
		"post_mode":  mode,
		"post_info": Payload{
			"title": caption,
		},
	}
	payload, err := c.requestJSON(ctx, photoFinalizeEndpoint, accessToken, body)
	if err != nil {
		return nil, err
	}
	return unwrapData(payload), nil
}

// UploadBinary PUTs the file bytes to the init-issued upload URL.
func (c *Client) UploadBinary(ctx context.Context, uploadURL, filePath, contentType string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read upload file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("binary upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{
			Message:    fmt.Sprintf("binary upload failed: HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Payload:    safeDecode(resp.Body),
		}
	}
	return nil
}

func (c *Client) requestForm(ctx context.Context, endpoint string, form url.Values) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) requestJSON(ctx context.Context, endpoint, accessToken string, body Payload) (Payload, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (Payload, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok request failed: %w", err)
	}
	defer resp.Body.Close()

	payload := safeDecode(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Message:    fmt.Sprintf("TikTok API HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Payload:    payload,
		}
	}
	if err := apiErrorFromPayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func safeDecode(body io.Reader) Payload {
	raw, err := io.ReadAll(body)
	if err != nil || len(raw) == 0 {
		return Payload{}
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{"raw": string(raw)}
	}
	return payload
}

// apiErrorFromPayload surfaces in-band errors from 2xx responses. TikTok
// wraps most bodies in an error object whose code is "ok" on success.
func apiErrorFromPayload(payload Payload) error {
	switch errVal := payload["error"].(type) {
	case string:
		if errVal != "" {
			return &APIError{Message: fmt.Sprintf("TikTok API error: %s", errVal), Payload: payload}
		}
	case map[string]interface{}:
		code := stringValue(errVal["code"])
		if code != "" && code != "ok" && code != "0" {
			return &APIError{Message: fmt.Sprintf("TikTok API error: %s", code), Payload: payload}
		}
	}

	if code := stringValue(payload["error_code"]); code != "" && code != "0" {
		return &APIError{Message: fmt.Sprintf("TikTok API error_code=%s", code), Payload: payload}
	}
	return nil
}

// unwrapData descends into the conventional {"data": {...}} envelope when
// present.
func unwrapData(payload Payload) Payload {
	if data, ok := payload["data"].(map[string]interface{}); ok {
		return data
	}
	return payload
}

// stringValue renders a dynamic payload value as a trimmed string; nil and
// empty values become "".
func stringValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
