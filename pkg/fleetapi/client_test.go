package fleetapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_LoginCachesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "abc123", c.token)
}

func TestClient_LoginFailureWrapsErrAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "wrong"})
	err := c.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestClient_GetAvailableTagsByTankID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/api/v1/tanks/7/tags":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"tags": []TagRecord{
					{Tag: "E200001D8914005717701BFC", FleetNumber: "FL-1", TankCapacityLiters: 100, CurrentMachineHours: 120.5},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	tags, err := c.GetAvailableTagsByTankID(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "FL-1", tags[0].FleetNumber)
}

func TestClient_UpdateVehicleHours(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/api/v1/vehicles/E200001D8914005717701BFC/hours":
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	err := c.UpdateVehicleHours(context.Background(), "E200001D8914005717701BFC", 123.0)
	require.NoError(t, err)
	assert.Equal(t, 123.0, gotBody["currentMachineHours"])
}

func TestClient_UpdateVehicleHoursPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", Password: "p"})
	err := c.UpdateVehicleHours(context.Background(), "TAG", 1.0)
	require.Error(t, err)
}
