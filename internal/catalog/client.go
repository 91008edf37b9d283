package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Filters are passed through to the upstream catalog query.
type Filters struct {
	Keyword      string
	Regions      []string
	SupportAreas []string
	ThisWeekOnly bool
	EndingSoon   bool
}

// Config holds catalog client settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int
}

// Client fetches support-program announcements from the external catalog API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates a catalog client with a request-level timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 50
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// announcementList mirrors the upstream list response.
type announcementList struct {
	Items []announcement `json:"items"`
	Total int            `json:"totalCount"`
}

// announcement mirrors a single upstream listing. Upstream fields are
// frequently missing or empty; normalization fills the gaps.
type announcement struct {
	ID               string `json:"pblancId"`
	Title            string `json:"pblancNm"`
	Description      string `json:"bsnsSumryCn"`
	Agency           string `json:"jrsdInsttNm"`
	TargetRegion     string `json:"trgtRegion"`
	SupportField     string `json:"pldirSportRealmLclasCodeNm"`
	ApplicationDates string `json:"reqstBeginEndDe"`
	Amount           string `json:"sportScaleCn"`
	DetailURL        string `json:"pblancUrl"`
	AnnouncedOn      string `json:"creatPnttm"`
}

// FetchPrograms retrieves one page of programs matching the filters.
// Returns the page items and the upstream total count.
func (c *Client) FetchPrograms(ctx context.Context, filters Filters, page, pageSize int) ([]Program, int, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	if page <= 0 {
		page = 1
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if c.apiKey != "" {
		q.Set("serviceKey", c.apiKey)
	}
	if filters.Keyword != "" {
		q.Set("searchKeyword", filters.Keyword)
	}
	if len(filters.Regions) > 0 {
		q.Set("regions", strings.Join(filters.Regions, ","))
	}
	if len(filters.SupportAreas) > 0 {
		q.Set("supportAreas", strings.Join(filters.SupportAreas, ","))
	}
	if filters.ThisWeekOnly {
		q.Set("thisWeekOnly", "true")
	}
	if filters.EndingSoon {
		q.Set("endingSoon", "true")
	}

	reqURL := fmt.Sprintf("%s/announcements?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, 0, fmt.Errorf("catalog returned unexpected content type: %s", ct)
	}

	var list announcementList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, 0, fmt.Errorf("decode catalog response: %w", err)
	}

	programs := make([]Program, 0, len(list.Items))
	for _, item := range list.Items {
		if item.ID == "" {
			continue
		}
		programs = append(programs, c.normalize(item))
	}

	c.logger.Debug("programs fetched",
		zap.Int("page", page),
		zap.Int("count", len(programs)),
		zap.Int("total", list.Total),
	)

	return programs, list.Total, nil
}

// FetchNewSince retrieves this week's announcements and keeps only those
// announced after the checkpoint.
func (c *Client) FetchNewSince(ctx context.Context, since time.Time) ([]Program, error) {
	programs, _, err := c.FetchPrograms(ctx, Filters{ThisWeekOnly: true}, 1, c.pageSize)
	if err != nil {
		return nil, err
	}
	return FilterAnnouncedSince(programs, since), nil
}

// FetchEndingSoon retrieves programs whose deadline falls within the next
// `days` days. Open-ended programs are excluded.
func (c *Client) FetchEndingSoon(ctx context.Context, days int) ([]Program, error) {
	programs, _, err := c.FetchPrograms(ctx, Filters{EndingSoon: true}, 1, c.pageSize)
	if err != nil {
		return nil, err
	}
	return FilterEndingSoon(programs, days, time.Now()), nil
}

func (c *Client) normalize(item announcement) Program {
	agency := strings.TrimSpace(item.Agency)

	return Program{
		ID:                  item.ID,
		Title:               strings.TrimSpace(item.Title),
		Description:         strings.TrimSpace(item.Description),
		Region:              agency,
		GeographicRegions:   normalizeRegions(item.TargetRegion, agency),
		SupportArea:         NormalizeSupportArea(item.SupportField),
		ApplicationDeadline: strings.TrimSpace(item.ApplicationDates),
		Amount:              strings.TrimSpace(item.Amount),
		ApplicationURL:      strings.TrimSpace(item.DetailURL),
		AnnouncementDate:    strings.TrimSpace(item.AnnouncedOn),
	}
}
