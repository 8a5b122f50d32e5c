// Package display pushes the current online-user count to an external
// numeric-display device. Reporting is strictly best-effort: a slow or
// unreachable device must never delay presence handling.
package display

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL       = "https://api.smiirl.com"
	defaultReportTimeout = time.Second
)

var errMissingCredentials = errors.New("display: device id and token are required")

// ReporterConfig bundles the device coordinates for a Reporter.
type ReporterConfig struct {
	BaseURL    string
	DeviceID   string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Reporter reports a number to the display device over HTTP.
type Reporter struct {
	baseURL    string
	deviceID   string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReporter constructs a reporter with validated configuration.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	deviceID := strings.TrimSpace(cfg.DeviceID)
	token := strings.TrimSpace(cfg.Token)
	if deviceID == "" || token == "" {
		return nil, errMissingCredentials
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		deviceID:   deviceID,
		token:      token,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Report sends the number to the device and logs the outcome. Failures are
// swallowed; the caller fires this from a goroutine and never waits on it.
func (r *Reporter) Report(count int) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/set-number/%s/%d", r.baseURL, r.deviceID, r.token, count)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		r.logger.Warn("display report request build failed", zap.Error(err))
		return
	}

	response, err := r.httpClient.Do(request)
	if err != nil {
		r.logger.Warn("display report failed", zap.Int("count", count), zap.Error(err))
		return
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		r.logger.Warn("display report rejected",
			zap.Int("count", count),
			zap.Int("status", response.StatusCode))
		return
	}
	r.logger.Info("display report sent", zap.Int("count", count))
}
