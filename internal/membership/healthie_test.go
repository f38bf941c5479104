package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
)

func newHealthieTestClient(srv *httptest.Server) *HealthieClient {
	return NewHealthieClient(HealthieConfig{
		URL:       srv.URL,
		APIKey:    "hk_test",
		Transport: upstream.Config{HTTPClient: srv.Client(), Timeout: time.Second},
	})
}

func decodeGraphQL(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	var req struct {
		OperationName string         `json:"operationName"`
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return graphQLRequest{OperationName: req.OperationName, Query: req.Query, Variables: req.Variables}
}

func TestListPackagesMapsFrequencyAndPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic hk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "API", r.Header.Get("AuthorizationSource"))
		req := decodeGraphQL(t, r)
		assert.Equal(t, "Offerings", req.OperationName)
		_, _ = w.Write([]byte(`{"data":{"offerings":[
			{"id":"o-1","name":"$150/Monthly","price":"150.0","billing_frequency":"Monthly"},
			{"id":"o-2","name":"$40/Biweekly","price":"40","billing_frequency":"Every 2 Weeks"}
		]}}`))
	}))
	defer srv.Close()

	pkgs, err := newHealthieTestClient(srv).ListPackages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, int64(15000), pkgs[0].PriceCents)
	assert.Equal(t, "monthly", pkgs[0].Frequency)
	assert.Equal(t, "biweekly", pkgs[1].Frequency)
}

func TestCreatePackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeGraphQL(t, r)
		vars := req.Variables.(map[string]any)
		assert.Equal(t, "99.99", vars["price"])
		assert.Equal(t, "Every 3 Months", vars["frequency"])
		_, _ = w.Write([]byte(`{"data":{"createOffering":{"offering":
			{"id":"o-9","name":"$99.99/Quarterly","price":"99.99","billing_frequency":"Every 3 Months"},"messages":[]}}}`))
	}))
	defer srv.Close()

	pkg, err := newHealthieTestClient(srv).CreatePackage(context.Background(), PackageInput{
		Name: "$99.99/Quarterly", PriceCents: 9999, Frequency: "quarterly",
	})
	require.NoError(t, err)
	assert.Equal(t, "o-9", pkg.ID)
	assert.Equal(t, "quarterly", pkg.Frequency)
	assert.Equal(t, int64(9999), pkg.PriceCents)
}

func TestCreatePackageSurfacesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"createOffering":{"offering":null,"messages":[{"field":"price","message":"is invalid"}]}}}`))
	}))
	defer srv.Close()

	_, err := newHealthieTestClient(srv).CreatePackage(context.Background(), PackageInput{Name: "x", PriceCents: 1, Frequency: "monthly"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price is invalid")
	assert.False(t, apperr.IsFatal(err))

	_, err = newHealthieTestClient(srv).CreatePackage(context.Background(), PackageInput{Name: "x", Frequency: "hourly"})
	assert.True(t, apperr.IsValidation(err))
}

func TestGraphQLErrorsBecomeExternalErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"rate limited"}]}`))
	}))
	defer srv.Close()

	_, err := newHealthieTestClient(srv).ListMembers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestHealthieNotConfigured(t *testing.T) {
	_, err := NewHealthieClient(HealthieConfig{URL: "http://unused.invalid"}).ListPackages(context.Background())
	assert.True(t, apperr.IsFatal(err))
}
