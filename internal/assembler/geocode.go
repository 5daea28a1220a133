// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGeocodingURL is the Open-Meteo geocoding search endpoint.
const DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

// OpenMeteo resolves city names to timezones with the Open-Meteo
// geocoding API, which needs no API key.
type OpenMeteo struct {
	searchURL  string
	httpClient *http.Client
}

// NewOpenMeteo creates a geocoder. An empty searchURL uses the public API.
func NewOpenMeteo(searchURL string) *OpenMeteo {
	if searchURL == "" {
		searchURL = DefaultGeocodingURL
	}
	return &OpenMeteo{
		searchURL:  searchURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type geocodingResponse struct {
	Results []struct {
		Name     string  `json:"name"`
		Lat      float64 `json:"latitude"`
		Lon      float64 `json:"longitude"`
		Timezone string  `json:"timezone"`
		Country  string  `json:"country_code"`
	} `json:"results"`
}

// Timezone returns the IANA timezone of the best match for city.
func (o *OpenMeteo) Timezone(ctx context.Context, city string) (string, error) {
	params := url.Values{}
	params.Set("name", strings.TrimSpace(city))
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build geocoding request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode %q: %w", city, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoding API returned HTTP %d", resp.StatusCode)
	}

	var result geocodingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode geocoding response: %w", err)
	}
	if len(result.Results) == 0 || result.Results[0].Timezone == "" {
		return "", fmt.Errorf("no timezone found for %q", city)
	}
	return result.Results[0].Timezone, nil
}
