package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pfrederiksen/municipal-events/internal/location"
)

// DefaultGoogleURL is the Google Maps Geocoding API endpoint.
const DefaultGoogleURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleClient is a Geocoder backed by the Google Maps Geocoding API.
type GoogleClient struct {
	apiKey     string
	baseURL    string
	language   string
	region     string
	httpClient *http.Client
}

// GoogleOption configures a GoogleClient.
type GoogleOption func(*GoogleClient)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) GoogleOption {
	return func(c *GoogleClient) { c.baseURL = u }
}

// WithLanguage sets the language and region bias parameters.
func WithLanguage(language, region string) GoogleOption {
	return func(c *GoogleClient) {
		c.language = language
		c.region = region
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) GoogleOption {
	return func(c *GoogleClient) { c.httpClient.Timeout = d }
}

// NewGoogleClient creates a client for the Google Maps Geocoding API.
func NewGoogleClient(apiKey string, opts ...GoogleOption) *GoogleClient {
	c := &GoogleClient{
		apiKey:   apiKey,
		baseURL:  DefaultGoogleURL,
		language: "de",
		region:   "de",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type googleResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []googleResult `json:"results"`
}

type googleResult struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// Geocode implements Geocoder. With several candidates the first one is used
// and the result is marked multiple.
func (c *GoogleClient) Geocode(ctx context.Context, name, region string) Result {
	params := url.Values{}
	params.Set("address", Query(name, region))
	params.Set("key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	if c.region != "" {
		params.Set("region", c.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errorResult(fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errorResult(fmt.Errorf("making request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorResult(fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	var body googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errorResult(fmt.Errorf("parsing response: %w", err))
	}

	switch body.Status {
	case "OK":
		if len(body.Results) == 0 {
			return Result{Status: location.GeocodeNotFound}
		}
		first := body.Results[0]
		status := location.GeocodeSuccess
		if len(body.Results) > 1 {
			status = location.GeocodeMultiple
		}
		return Result{
			Status:           status,
			Latitude:         first.Geometry.Location.Lat,
			Longitude:        first.Geometry.Location.Lng,
			FormattedAddress: first.FormattedAddress,
			ResultCount:      len(body.Results),
		}
	case "ZERO_RESULTS":
		return Result{Status: location.GeocodeNotFound}
	default:
		msg := body.Status
		if body.ErrorMessage != "" {
			msg += ": " + body.ErrorMessage
		}
		return Result{Status: location.GeocodeError, ErrorMessage: msg}
	}
}

func errorResult(err error) Result {
	return Result{Status: location.GeocodeError, ErrorMessage: err.Error()}
}
