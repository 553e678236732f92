// Package gateway is the HTTP client for the upstream lead API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/pkg/config"
	"github.com/leadflow/leadflow-backend/pkg/httputil"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/microcosm-cc/bluemonday"
)

// ErrMissingLeadID means the gateway answered 2xx without a lead identifier.
var ErrMissingLeadID = errors.New("response carries no lead id")

// leadIDKeys are the response fields checked for the new lead id, in order.
var leadIDKeys = []string{"leadDbId", "lead_id", "_id", "id"}

const maxResponseBytes = 1 << 20

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the lead-creation and document-upload endpoints. The caller's
// bearer token is taken from the request context and forwarded as is.
type Client struct {
	baseURL    string
	leadPath   string
	uploadPath string
	lead       config.LeadConfig
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
	logger     *logger.Logger
}

// NewClient creates a gateway client. A zero cfg.Timeout leaves timing to
// the transport.
func NewClient(cfg *config.GatewayConfig, lead *config.LeadConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		leadPath:   cfg.LeadPath,
		uploadPath: cfg.UploadPath,
		lead:       *lead,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     log.WithComponent("gateway"),
	}
}

// CreateLeadRequest is the lead-creation payload.
type CreateLeadRequest struct {
	Department  string            `json:"department"`
	ProductType string            `json:"product_type"`
	SubCategory string            `json:"sub_category"`
	Client      ClientIdentity    `json:"client"`
	Meta        LeadMeta          `json:"meta"`
	FormData    map[string]string `json:"form_data"`
}

// ClientIdentity identifies the applicant.
type ClientIdentity struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
	Email  string `json:"email"`
}

// LeadMeta carries submission flags.
type LeadMeta struct {
	IsSelfLogin bool `json:"is_self_login"`
}

// DocumentMetadata is one element of the upload's metadata field.
type DocumentMetadata struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// BuildLeadRequest turns a form into the lead-creation payload. Values are
// trimmed and stripped of markup; unknown fields are dropped.
func (c *Client) BuildLeadRequest(form domain.FormState) CreateLeadRequest {
	clean := make(map[string]string, len(domain.Fields))
	for _, f := range domain.Fields {
		if v, ok := form[f]; ok {
			clean[f] = c.sanitize(v)
		}
	}

	return CreateLeadRequest{
		Department:  c.lead.Department,
		ProductType: c.lead.ProductType,
		SubCategory: c.lead.SubCategory,
		Client: ClientIdentity{
			Name:   clean[domain.FieldClientName],
			Mobile: clean[domain.FieldPhone],
			Email:  clean[domain.FieldEmail],
		},
		Meta:     LeadMeta{IsSelfLogin: c.lead.IsSelfLogin},
		FormData: clean,
	}
}

func (c *Client) sanitize(v string) string {
	// StrictPolicy HTML-escapes what it keeps; the payload is JSON, not HTML.
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(v)))
}

// CreateLead posts the form and returns the new lead id.
func (c *Client) CreateLead(ctx context.Context, form domain.FormState) (string, error) {
	payload, err := json.Marshal(c.BuildLeadRequest(form))
	if err != nil {
		return "", fmt.Errorf("failed to marshal lead request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.leadPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(ctx, req)

	c.logger.Info().
		Str("product_type", c.lead.ProductType).
		Msg("creating lead")

	body, err := c.do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("lead creation call failed")
		return "", err
	}

	leadID, err := ExtractLeadID(body)
	if err != nil {
		c.logger.Error().Err(err).Msg("lead creation response unusable")
		return "", err
	}

	c.logger.Info().Str("lead_id", leadID).Msg("lead created")
	return leadID, nil
}

// UploadDocument sends one queued file as multipart/form-data with the
// fields leadDbId, metadata and documents. Only the status code matters.
func (c *Client) UploadDocument(ctx context.Context, leadID string, file domain.QueuedFile) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("leadDbId", leadID); err != nil {
		return fmt.Errorf("write leadDbId field: %w", err)
	}

	meta, err := json.Marshal([]DocumentMetadata{{Key: file.DocumentKey, Label: file.Label}})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(meta)); err != nil {
		return fmt.Errorf("write metadata field: %w", err)
	}

	part, err := writer.CreatePart(filePartHeader(file.File))
	if err != nil {
		return fmt.Errorf("create documents part: %w", err)
	}
	if _, err := part.Write(file.File.Data); err != nil {
		return fmt.Errorf("write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.uploadPath, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(ctx, req)

	c.logger.Debug().
		Str("lead_id", leadID).
		Str("document_key", file.DocumentKey).
		Str("file_name", file.File.Name).
		Int("bytes", len(file.File.Data)).
		Msg("uploading document")

	if _, err := c.do(req); err != nil {
		c.logger.Warn().Err(err).Str("document_key", file.DocumentKey).Msg("document upload failed")
		return err
	}
	return nil
}

func filePartHeader(f domain.PickedFile) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "documents",
		"filename": f.Name,
	}))
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}

func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if token := httputil.GetBearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: upstreamMessage(body)}
	}
	return body, nil
}

// upstreamMessage pulls a human message out of an error body, if any.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	switch e := parsed.Error.(type) {
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	return ""
}

// ExtractLeadID finds the lead id in a creation response. Top-level fields
// win over fields nested under "data". Numeric ids are accepted.
func ExtractLeadID(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrMissingLeadID, err)
	}

	if id := pickID(doc); id != "" {
		return id, nil
	}
	if data, ok := doc["data"].(map[string]any); ok {
		if id := pickID(data); id != "" {
			return id, nil
		}
	}
	return "", ErrMissingLeadID
}

func pickID(m map[string]any) string {
	for _, k := range leadIDKeys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
