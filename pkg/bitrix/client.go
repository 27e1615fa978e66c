package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/bruin-data/dealsync/pkg/logger"
	"github.com/pkg/errors"
)

// StatusError is returned when the CRM answers with a non-success HTTP status.
type StatusError struct {
	Method      string
	StatusCode  int
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("crm method %s returned status %d", e.Method, e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type fieldInfo struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	ListLabel string `json:"listLabel"`
}

type fieldsResponse struct {
	Result map[string]fieldInfo `json:"result"`
}

type stageInfo struct {
	EntityID string `json:"ENTITY_ID"`
	StatusID string `json:"STATUS_ID"`
	Name     string `json:"NAME"`
}

type stagesResponse struct {
	Result []stageInfo `json:"result"`
	Next   *int        `json:"next"`
}

// DealPage is a single page of the deal listing.
type DealPage struct {
	Deals []*deal.Record `json:"result"`
	Next  *int           `json:"next"`
	Total int            `json:"total"`
}

type listRequest struct {
	Select []string `json:"SELECT"`
}

type Client struct {
	config     Config
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(c Config, log logger.Logger) (*Client, error) {
	if c.WebhookURL == "" {
		return nil, errors.New("webhook_url is required for the CRM connection")
	}

	u, err := url.Parse(c.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid CRM webhook url '%s'", c.WebhookURL)
	}

	return &Client{
		config: c.WithDefaults(),
		httpClient: &http.Client{
			Timeout: c.Timeout,
		},
		logger: log,
	}, nil
}

func (c *Client) Config() Config {
	return c.config
}

// call performs a single CRM method call and decodes a successful response
// into out. A non-200 status is reported as *StatusError.
func (c *Client) call(ctx context.Context, httpMethod, method string, query url.Values, body interface{}, out interface{}) error {
	endpoint, err := url.Parse(c.config.methodURL(method))
	if err != nil {
		return errors.Wrapf(err, "failed to build url for crm method %s", method)
	}

	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal request for crm method %s", method)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint.String(), reqBody)
	if err != nil {
		return errors.Wrapf(err, "failed to create request for crm method %s", method)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debugw("calling crm", "method", method, "query", endpoint.RawQuery)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to perform request for crm method %s", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Method: method, StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)

		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil {
			statusErr.Code = apiErr.Error
			statusErr.Description = apiErr.ErrorDescription
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode response of crm method %s", method)
	}

	return nil
}

// ListDeals fetches the page of deals starting at the given offset.
func (c *Client) ListDeals(ctx context.Context, start int) (*DealPage, error) {
	var page DealPage
	err := c.call(ctx, http.MethodPost, c.config.DealsMethod, startQuery(start), listRequest{Select: c.config.Select}, &page)
	if err != nil {
		return nil, err
	}

	return &page, nil
}

func startQuery(start int) url.Values {
	return url.Values{"start": []string{strconv.Itoa(start)}}
}
