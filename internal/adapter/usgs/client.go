// Package usgs fetches discharge observations from the USGS NWIS water
// services. The daily-values endpoint serves daily means; the
// instantaneous-values endpoint serves raw gauge readings.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

const (
	// parameterDischarge is the NWIS parameter code for discharge in cubic
	// feet per second.
	parameterDischarge = "00060"

	// sentinelMissing marks unavailable readings in NWIS feeds.
	sentinelMissing = -999999
)

// Client fetches one NWIS endpoint for one series type.
type Client struct {
	baseURL    string
	endpoint   string
	series     domain.SeriesType
	unit       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDailyClient fetches daily mean discharge from the /dv endpoint.
func NewDailyClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return newClient(baseURL, "dv", domain.SeriesDailyMean, timeout, logger)
}

// NewInstantaneousClient fetches raw gauge readings from the /iv endpoint.
func NewInstantaneousClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return newClient(baseURL, "iv", domain.SeriesRealtimeSubdaily, timeout, logger)
}

func newClient(baseURL, endpoint string, series domain.SeriesType, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		endpoint: endpoint,
		series:   series,
		unit:     domain.UnitCFS,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch returns the station's discharge readings inside the window.
// Window bounds are sent at day granularity, the feeds' coarsest common
// denominator; the resulting overlap is absorbed downstream by the
// duplicate constraint. Points carrying the NWIS missing-value sentinel or
// an unparseable value are dropped here, before validation.
func (c *Client) Fetch(ctx context.Context, stationNumber string, w domain.Window) ([]domain.RawObservation, error) {
	params := url.Values{
		"format":      {"json"},
		"sites":       {stationNumber},
		"parameterCd": {parameterDischarge},
		"startDT":     {w.Start.UTC().Format("2006-01-02")},
		"endDT":       {w.End.UTC().Format("2006-01-02")},
	}
	fullURL := fmt.Sprintf("%s/%s/?%s", c.baseURL, c.endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nwis %s request: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nwis API error: status %d: %s", resp.StatusCode, body)
	}

	var nwisResp response
	if err := json.NewDecoder(resp.Body).Decode(&nwisResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	raw := c.collect(nwisResp, stationNumber)
	c.logger.Debug("nwis fetch complete",
		"endpoint", c.endpoint, "station", stationNumber, "records", len(raw))
	return raw, nil
}

func (c *Client) collect(nwisResp response, stationNumber string) []domain.RawObservation {
	var raw []domain.RawObservation
	for _, ts := range nwisResp.Value.TimeSeries {
		for _, block := range ts.Values {
			for _, p := range block.Value {
				value, err := strconv.ParseFloat(p.Value, 64)
				if err != nil || value == sentinelMissing {
					continue
				}
				observedAt, err := time.Parse(time.RFC3339, p.DateTime)
				if err != nil {
					c.logger.Warn("nwis point has unparseable timestamp",
						"station", stationNumber, "datetime", p.DateTime)
					continue
				}
				v := value
				raw = append(raw, domain.RawObservation{
					ObservedAt:  observedAt.UTC(),
					Value:       &v,
					Unit:        c.unit,
					SeriesType:  c.series,
					QualityCode: firstQualifier(p.Qualifiers),
				})
			}
		}
	}
	return raw
}

func firstQualifier(qualifiers []string) string {
	if len(qualifiers) == 0 {
		return ""
	}
	return qualifiers[0]
}

// NWIS waterservices response types.

type response struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	Values []valueBlock `json:"values"`
}

type valueBlock struct {
	Value []point `json:"value"`
}

type point struct {
	Value      string   `json:"value"`
	Qualifiers []string `json:"qualifiers"`
	DateTime   string   `json:"dateTime"`
}
