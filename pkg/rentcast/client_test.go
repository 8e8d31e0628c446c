package rentcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealdesk/internal/resilience"
)

func newTestClient(baseURL string) Client {
	return NewClient("rc-test", WithBaseURL(baseURL), WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}))
}

func TestSearchProperties_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/properties", r.URL.Path)
		assert.Equal(t, "rc-test", r.Header.Get("X-Api-Key"))

		q := r.URL.Query()
		assert.Equal(t, "30.2672", q.Get("latitude"))
		assert.Equal(t, "-97.7431", q.Get("longitude"))
		assert.Equal(t, "2", q.Get("radius"))
		assert.Equal(t, TypeMultiFamily, q.Get("propertyType"))
		assert.Equal(t, "10", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"p1","formattedAddress":"12 Oak St, Austin, TX 78701","addressLine1":"12 Oak St","city":"Austin","state":"TX","propertyType":"Multi-Family","units":24,"squareFootage":18000,"lastSalePrice":4800000}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).SearchProperties(context.Background(), PropertyQuery{
		Latitude: 30.2672, Longitude: -97.7431, RadiusMiles: 2, PropertyType: TypeMultiFamily, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "12 Oak St", got[0].AddressLine1)
	require.NotNil(t, got[0].UnitTotal())
	assert.Equal(t, 24, *got[0].UnitTotal())
	require.NotNil(t, got[0].LastSalePrice)
	assert.InDelta(t, 4_800_000, *got[0].LastSalePrice, 0.01)
}

func TestSearchProperties_WrappedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"properties":[{"id":"p2","formattedAddress":"9 Elm Ave, Dallas, TX","unitCount":8}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).SearchProperties(context.Background(), PropertyQuery{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 8, *got[0].UnitTotal())
}

func TestSearchProperties_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`)) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).SearchProperties(context.Background(), PropertyQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchProperties_ClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SearchProperties(context.Background(), PropertyQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}
