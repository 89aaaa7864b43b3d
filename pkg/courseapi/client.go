package courseapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/pkg/config"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

// Client reads seat availability from the institution course API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a client from cfg. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.CourseAPIConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpClient,
		logger:  logger,
	}
}

// FetchCourse returns the sections of one course in one term.
func (c *Client) FetchCourse(ctx context.Context, group models.CourseGroup) (*models.CourseData, error) {
	endpoint := fmt.Sprintf("%s/institutions/%s/terms/%s/courses/%s",
		c.baseURL,
		url.PathEscape(group.Institution),
		url.PathEscape(group.Term),
		url.PathEscape(group.Course),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrFetch, err, "build course request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrFetch, err, "course request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, appErrors.Clone(appErrors.ErrFetch, fmt.Sprintf("course api returned %d for %s", resp.StatusCode, group))
	}

	var data models.CourseData
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&data); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrFetch, err, "decode course response")
	}
	c.logger.Sugar().Debugw("course fetched", "group", group.String(), "sections", len(data.Sections))
	return &data, nil
}
