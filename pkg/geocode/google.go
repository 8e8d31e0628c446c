package geocode

import (
	"encoding/json"
	"net/url"
	"strings"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

func googleProvider(key string) provider {
	return provider{
		name: "google",
		endpoint: func(line string) string {
			return googleGeocodeURL + "?" + url.Values{"address": {line}, "key": {key}}.Encode()
		},
		decode: decodeGoogle,
	}
}

// decodeGoogle treats any status other than OK, ZERO_RESULTS included, as
// no match.
func decodeGoogle(body []byte) (*Result, error) {
	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return &Result{}, nil
	}
	geo := resp.Results[0].Geometry
	return &Result{
		Latitude:  geo.Location.Lat,
		Longitude: geo.Location.Lng,
		Quality:   locationQuality(geo.LocationType),
		Matched:   true,
	}, nil
}

func locationQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
