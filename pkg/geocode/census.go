package geocode

import (
	"encoding/json"
	"net/url"
)

const censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// censusProvider queries the free Census one-line address endpoint. Its
// matches are interpolated on address ranges and reported as rooftop.
func censusProvider() provider {
	return provider{
		name: "census",
		endpoint: func(line string) string {
			q := url.Values{"address": {line}, "benchmark": {"Public_AR_Current"}, "format": {"json"}}
			return censusOneLineURL + "?" + q.Encode()
		},
		decode: decodeCensus,
	}
}

func decodeCensus(body []byte) (*Result, error) {
	var resp censusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.AddressMatches) == 0 {
		return &Result{}, nil
	}
	c := resp.Result.AddressMatches[0].Coordinates
	return &Result{Latitude: c.Y, Longitude: c.X, Quality: "rooftop", Matched: true}, nil
}
