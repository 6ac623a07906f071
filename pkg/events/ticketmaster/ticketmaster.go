// Package ticketmaster queries the Ticketmaster Discovery API for upcoming
// events near a location. attune-events-sync maps the results onto
// social_events rows for the social agent to suggest.
package ticketmaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const defaultBaseURL = "https://app.ticketmaster.com/discovery/v2"

// Option configures a Discovery client.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL overrides the Discovery API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Client calls the Discovery events endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a Discovery client.
func New(apiKey string, opts ...Option) *Client {
	o := &options{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: o.baseURL,
		client:  o.httpClient,
	}
}

// Query bounds one Discovery search.
type Query struct {
	Lat float64
	Lon float64
	// RadiusKm is sent as a whole number of kilometers, clamped to the API's
	// 0..19999 range.
	RadiusKm float64
	// Keyword optionally filters events (e.g. "wellness", "music").
	Keyword string
	// Size caps the number of events returned. Default 20.
	Size int
}

// Event is one normalized Discovery result.
type Event struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	StartDateTime string `json:"start_date_time"`
	LocalDate     string `json:"local_date"`
	LocalTime     string `json:"local_time"`
	VenueName     string `json:"venue_name"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Segment       string `json:"segment"`
	Genre         string `json:"genre"`
}

type discoveryResponse struct {
	Embedded struct {
		Events []discoveryEvent `json:"events"`
	} `json:"_embedded"`
}

type discoveryEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Dates struct {
		Start struct {
			DateTime  string `json:"dateTime"`
			LocalDate string `json:"localDate"`
			LocalTime string `json:"localTime"`
		} `json:"start"`
	} `json:"dates"`
	Embedded struct {
		Venues []struct {
			Name string `json:"name"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
			Country struct {
				Name string `json:"name"`
			} `json:"country"`
		} `json:"venues"`
	} `json:"_embedded"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"classifications"`
}

// Search runs one Discovery query sorted by date ascending.
func (c *Client) Search(ctx context.Context, q Query) ([]Event, error) {
	if c.apiKey == "" {
		return nil, errors.New("ticketmaster: api key is not set")
	}

	size := q.Size
	if size <= 0 {
		size = 20
	}

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("latlong", strconv.FormatFloat(q.Lat, 'f', -1, 64)+","+strconv.FormatFloat(q.Lon, 'f', -1, 64))
	params.Set("radius", strconv.Itoa(clampRadius(q.RadiusKm)))
	params.Set("unit", "km")
	params.Set("size", strconv.Itoa(size))
	params.Set("sort", "date,asc")
	params.Set("locale", "*")
	if q.Keyword != "" {
		params.Set("keyword", q.Keyword)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ticketmaster: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticketmaster: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ticketmaster: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ticketmaster: decode response: %w", err)
	}

	events := make([]Event, 0, len(out.Embedded.Events))
	for _, raw := range out.Embedded.Events {
		events = append(events, normalize(raw))
	}
	return events, nil
}

func normalize(raw discoveryEvent) Event {
	ev := Event{
		ID:            raw.ID,
		Name:          raw.Name,
		URL:           raw.URL,
		StartDateTime: raw.Dates.Start.DateTime,
		LocalDate:     raw.Dates.Start.LocalDate,
		LocalTime:     raw.Dates.Start.LocalTime,
	}
	if len(raw.Embedded.Venues) > 0 {
		venue := raw.Embedded.Venues[0]
		ev.VenueName = venue.Name
		ev.City = venue.City.Name
		ev.Country = venue.Country.Name
	}
	if len(raw.Classifications) > 0 {
		ev.Segment = raw.Classifications[0].Segment.Name
		ev.Genre = raw.Classifications[0].Genre.Name
	}
	return ev
}

func clampRadius(km float64) int {
	radius := int(km)
	if radius < 0 {
		return 0
	}
	if radius > 19999 {
		return 19999
	}
	return radius
}
