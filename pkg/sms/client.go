package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/pkg/config"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

// Client sends text messages through a Twilio-compatible REST API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	http       *http.Client
	logger     *zap.Logger
}

// New builds a client from cfg. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.SMSConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		http:       httpClient,
		logger:     logger,
	}
}

type messageResponse struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	Code         int     `json:"code"`
	Message      string  `json:"message"`
}

// Deliver posts one message. A 2xx response that carries an error code or a
// failed status is still reported as a transport error.
func (c *Client) Deliver(ctx context.Context, destination, body string) (*models.DeliveryReceipt, error) {
	if c.accountSID == "" || c.authToken == "" || c.from == "" {
		return nil, appErrors.Clone(appErrors.ErrTransport, "sms credentials are not configured")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", c.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "build sms request")
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "sms request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransport, err, "read sms response")
	}

	var payload messageResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("sms api returned %d", resp.StatusCode)
		if decodeErr == nil && payload.Message != "" {
			msg = fmt.Sprintf("%s: %d %s", msg, payload.Code, payload.Message)
		}
		return nil, appErrors.Clone(appErrors.ErrTransport, msg)
	}
	if decodeErr != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransport, decodeErr, "decode sms response")
	}
	if payload.ErrorCode != nil {
		msg := fmt.Sprintf("sms rejected: %d", *payload.ErrorCode)
		if payload.ErrorMessage != nil {
			msg += " " + *payload.ErrorMessage
		}
		return nil, appErrors.Clone(appErrors.ErrTransport, msg)
	}
	if payload.Status == "failed" || payload.Status == "undelivered" {
		return nil, appErrors.Clone(appErrors.ErrTransport, "sms status "+payload.Status)
	}

	c.logger.Sugar().Debugw("sms accepted", "sid", payload.SID, "status", payload.Status)
	return &models.DeliveryReceipt{
		ID:          payload.SID,
		Channel:     models.ContactPhone,
		Destination: destination,
		Status:      payload.Status,
		SentAt:      time.Now().UTC(),
	}, nil
}
