// Package isalang syncs facility data from the national childcare portal
// and triggers alerts on the status transitions it observes.
package isalang

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/model"
)

// Facility is one upstream record, normalized.
type Facility struct {
	Name              string
	Type              string
	Address           string
	Phone             string
	Capacity          int
	CurrentEnrollment int
	WaitingCount      int
	OperatingHours    string
}

// Status derives the enrollment state the same way the portal UI does:
// anyone waiting means waiting, a full roster means full.
func (f *Facility) Status() model.FacilityStatus {
	if f.WaitingCount > 0 {
		return model.StatusWaiting
	}
	if f.Capacity > 0 && f.CurrentEnrollment >= f.Capacity {
		return model.StatusFull
	}
	return model.StatusAvailable
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Total int       `json:"total"`
		Items []apiItem `json:"items"`
	} `json:"data"`
}

type apiItem struct {
	Name              string `json:"crname"`
	Type              string `json:"crtypename"`
	Address           string `json:"craddr"`
	Phone             string `json:"crtelno"`
	Capacity          int    `json:"crcapat"`
	CurrentEnrollment int    `json:"crchcnt"`
	WaitingCount      int    `json:"crwaitcnt"`
	OperatingHours    string `json:"crhours"`
}

const defaultPerPage = 500

// Client fetches facility pages from the portal API.
type Client struct {
	cfg     *config.IsalangConfig
	perPage int
	client  *http.Client
}

// NewClient creates a portal API client.
func NewClient(cfg *config.IsalangConfig) *Client {
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Client{
		cfg:     cfg,
		perPage: perPage,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchRegion pulls every facility of one region, paging until the
// reported total is covered.
func (c *Client) FetchRegion(ctx context.Context, regionCode string) ([]Facility, error) {
	var all []Facility
	total := 1
	perPage := c.perPage

	for page := 1; (page-1)*perPage < total; page++ {
		resp, err := c.fetchPage(ctx, regionCode, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch region %s page %d: %w", regionCode, page, err)
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		for _, item := range resp.Data.Items {
			all = append(all, Facility{
				Name:              item.Name,
				Type:              item.Type,
				Address:           item.Address,
				Phone:             item.Phone,
				Capacity:          item.Capacity,
				CurrentEnrollment: item.CurrentEnrollment,
				WaitingCount:      item.WaitingCount,
				OperatingHours:    item.OperatingHours,
			})
		}
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, regionCode string, page int) (*apiResponse, error) {
	params := url.Values{}
	params.Set("arcode", regionCode)
	params.Set("perPage", strconv.Itoa(c.perPage))
	params.Set("page", strconv.Itoa(page))
	if c.cfg.ServiceKey != "" {
		params.Set("serviceKey", c.cfg.ServiceKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code %d: %s", apiResp.Code, apiResp.Msg)
	}
	return &apiResp, nil
}
