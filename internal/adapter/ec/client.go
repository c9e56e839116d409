// Package ec fetches discharge observations from the Environment Canada
// wateroffice real-time CSV service. The feed reports local standard time;
// timestamps are converted to UTC with the fixed offset supplied at
// construction, never the process timezone. Daily means are not served
// upstream, so the daily client aggregates realtime readings per UTC day.
package ec

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rivermark/streamflow-pull/internal/domain"
)

// parameterDischarge is the wateroffice parameter id for discharge in cubic
// metres per second.
const parameterDischarge = "47"

const feedTimeLayout = "2006-01-02 15:04:05"

// Client fetches the wateroffice CSV feed for one series type.
type Client struct {
	baseURL    string
	series     domain.SeriesType
	zone       *time.Location
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRealtimeClient fetches raw gauge readings.
func NewRealtimeClient(baseURL string, utcOffset, timeout time.Duration, logger *slog.Logger) *Client {
	return newClient(baseURL, domain.SeriesRealtimeSubdaily, utcOffset, timeout, logger)
}

// NewDailyClient fetches raw gauge readings and aggregates them into daily
// means, one observation per UTC day stamped at midnight.
func NewDailyClient(baseURL string, utcOffset, timeout time.Duration, logger *slog.Logger) *Client {
	return newClient(baseURL, domain.SeriesDailyMean, utcOffset, timeout, logger)
}

func newClient(baseURL string, series domain.SeriesType, utcOffset, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		series:  series,
		zone:    time.FixedZone("LST", int(utcOffset/time.Second)),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch returns the station's discharge readings inside the window. Window
// bounds are sent at day granularity; the overlap is absorbed downstream by
// the duplicate constraint.
func (c *Client) Fetch(ctx context.Context, stationNumber string, w domain.Window) ([]domain.RawObservation, error) {
	params := url.Values{
		"stations[]":   {stationNumber},
		"parameters[]": {parameterDischarge},
		"start_date":   {w.Start.UTC().Format("2006-01-02")},
		"end_date":     {w.End.UTC().Format("2006-01-02")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wateroffice request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("wateroffice API error: status %d: %s", resp.StatusCode, body)
	}

	raw, err := c.parseCSV(resp.Body, stationNumber)
	if err != nil {
		return nil, err
	}
	if c.series == domain.SeriesDailyMean {
		raw = aggregateDaily(raw)
	}

	c.logger.Debug("wateroffice fetch complete",
		"station", stationNumber, "series", c.series, "records", len(raw))
	return raw, nil
}

func (c *Client) parseCSV(body io.Reader, stationNumber string) ([]domain.RawObservation, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	dateCol := columnIndex(header, "Date")
	valueCol := columnIndex(header, "Value")
	qualifierCol := columnIndex(header, "Qualifier")
	if dateCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("wateroffice csv missing Date or Value column: %q", header)
	}

	var raw []domain.RawObservation
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if len(record) <= dateCol || len(record) <= valueCol {
			continue
		}

		observedAt, err := time.ParseInLocation(feedTimeLayout, strings.TrimSpace(record[dateCol]), c.zone)
		if err != nil {
			c.logger.Warn("wateroffice record has unparseable timestamp",
				"station", stationNumber, "date", record[dateCol])
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[valueCol]), 64)
		if err != nil {
			continue
		}

		quality := ""
		if qualifierCol >= 0 && len(record) > qualifierCol {
			quality = strings.TrimSpace(record[qualifierCol])
		}

		v := value
		raw = append(raw, domain.RawObservation{
			ObservedAt:  observedAt.UTC(),
			Value:       &v,
			Unit:        domain.UnitCMS,
			SeriesType:  domain.SeriesRealtimeSubdaily,
			QualityCode: quality,
		})
	}
	return raw, nil
}

// columnIndex locates a column by its English name. Wateroffice headers are
// bilingual ("Value/Valeur"), so a prefix before the slash also matches.
func columnIndex(header []string, name string) int {
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == name || strings.HasPrefix(h, name+"/") {
			return i
		}
	}
	return -1
}

// aggregateDaily folds subdaily readings into one mean per UTC day, stamped
// at midnight with quality "A" (aggregated).
func aggregateDaily(raw []domain.RawObservation) []domain.RawObservation {
	type acc struct {
		sum float64
		n   int
	}
	days := make(map[time.Time]*acc)
	for _, r := range raw {
		if r.Value == nil {
			continue
		}
		day := r.ObservedAt.UTC().Truncate(24 * time.Hour)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		a.sum += *r.Value
		a.n++
	}

	out := make([]domain.RawObservation, 0, len(days))
	for day, a := range days {
		mean := a.sum / float64(a.n)
		v := mean
		out = append(out, domain.RawObservation{
			ObservedAt:  day,
			Value:       &v,
			Unit:        domain.UnitCMS,
			SeriesType:  domain.SeriesDailyMean,
			QualityCode: "A",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out
}
