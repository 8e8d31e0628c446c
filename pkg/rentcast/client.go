// Package rentcast provides a client for the Rentcast property records API.
package rentcast

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealdesk/internal/resilience"
)

const defaultBaseURL = "https://api.rentcast.io/v1"

// Property types accepted by the API.
const (
	TypeMultiFamily = "Multi-Family"
	TypeOffice      = "Office"
	TypeRetail      = "Retail"
	TypeIndustrial  = "Industrial"
)

// Client queries property records.
type Client interface {
	SearchProperties(ctx context.Context, q PropertyQuery) ([]Property, error)
}

// PropertyQuery selects properties within RadiusMiles of a point.
type PropertyQuery struct {
	Latitude     float64
	Longitude    float64
	RadiusMiles  float64
	PropertyType string
	Limit        int
}

// Property is a property record. Numeric fields are nil when Rentcast has
// no value.
type Property struct {
	ID               string   `json:"id"`
	FormattedAddress string   `json:"formattedAddress"`
	AddressLine1     string   `json:"addressLine1"`
	City             string   `json:"city"`
	State            string   `json:"state"`
	ZipCode          string   `json:"zipCode"`
	PropertyType     string   `json:"propertyType"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	YearBuilt        *int     `json:"yearBuilt"`
	Units            *int     `json:"units"`
	UnitCount        *int     `json:"unitCount"`
	SquareFootage    *float64 `json:"squareFootage"`
	LastSalePrice    *float64 `json:"lastSalePrice"`
	LastSaleDate     string   `json:"lastSaleDate"`
	CapRate          *float64 `json:"capRate"`
	RentEstimate     *float64 `json:"rentEstimate"`
	OccupancyRate    *float64 `json:"occupancyRate"`
}

// UnitTotal returns the unit count from whichever field Rentcast populated.
func (p Property) UnitTotal() *int {
	if p.Units != nil {
		return p.Units
	}
	return p.UnitCount
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Rentcast client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("rentcast", "properties")
	return c
}

func (c *httpClient) SearchProperties(ctx context.Context, q PropertyQuery) ([]Property, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	if q.RadiusMiles > 0 {
		params.Set("radius", strconv.FormatFloat(q.RadiusMiles, 'f', -1, 64))
	}
	if q.PropertyType != "" {
		params.Set("propertyType", q.PropertyType)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := c.baseURL + "/properties?" + params.Encode()

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Property, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "rentcast: create request")
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "rentcast: http request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "rentcast: read response")
		}
		if err := resilience.CheckResponse("rentcast", resp.StatusCode, body); err != nil {
			return nil, err
		}
		return decodeProperties(body)
	})
}

// decodeProperties accepts either a bare array or {"properties": [...]}.
func decodeProperties(body []byte) ([]Property, error) {
	var list []Property
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Properties []Property `json:"properties"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, eris.Wrap(err, "rentcast: decode response")
	}
	return wrapped.Properties, nil
}
