package isalang

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotori-monitor-backend/config"
	"dotori-monitor-backend/internal/model"
)

func TestFetchRegion_PagesUntilTotalCovered(t *testing.T) {
	pages := map[string][]apiItem{
		"1": {{Name: "가든 어린이집"}, {Name: "나무 어린이집"}},
		"2": {{Name: "다정 어린이집"}},
	}
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "11440", r.URL.Query().Get("arcode"))
		assert.Equal(t, "secret-key", r.URL.Query().Get("serviceKey"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		var resp apiResponse
		resp.Data.Total = 3
		resp.Data.Items = pages[page]
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(&config.IsalangConfig{
		URL:        server.URL,
		ServiceKey: "secret-key",
		Headers:    map[string]string{"User-Agent": "test-agent"},
		PerPage:    2,
	})

	facilities, err := client.FetchRegion(context.Background(), "11440")
	require.NoError(t, err)

	require.Len(t, facilities, 3)
	assert.Equal(t, []string{"1", "2"}, requested)
	assert.Equal(t, "가든 어린이집", facilities[0].Name)
	assert.Equal(t, "다정 어린이집", facilities[2].Name)
}

func TestFetchRegion_EmptyRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(apiResponse{}))
	}))
	defer server.Close()

	client := NewClient(&config.IsalangConfig{URL: server.URL, PerPage: 500})
	facilities, err := client.FetchRegion(context.Background(), "11440")
	require.NoError(t, err)
	assert.Empty(t, facilities)
}

func TestFetchRegion_ZeroPerPageUsesDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("perPage"))
		var resp apiResponse
		resp.Data.Total = 1
		resp.Data.Items = []apiItem{{Name: "가든 어린이집"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	// An unconfigured page size must not stall the paging loop.
	client := NewClient(&config.IsalangConfig{URL: server.URL})
	facilities, err := client.FetchRegion(context.Background(), "11440")
	require.NoError(t, err)
	assert.Len(t, facilities, 1)
}

func TestFetchRegion_ApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(apiResponse{Code: 99, Msg: "invalid service key"}))
	}))
	defer server.Close()

	client := NewClient(&config.IsalangConfig{URL: server.URL, PerPage: 500})
	_, err := client.FetchRegion(context.Background(), "11440")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid service key")
}

func TestFacilityStatusDerivation(t *testing.T) {
	cases := []struct {
		name     string
		facility Facility
		want     model.FacilityStatus
	}{
		{"open slots", Facility{Capacity: 20, CurrentEnrollment: 15}, model.StatusAvailable},
		{"full roster", Facility{Capacity: 20, CurrentEnrollment: 20}, model.StatusFull},
		{"over capacity", Facility{Capacity: 20, CurrentEnrollment: 22}, model.StatusFull},
		{"waitlist wins over open slots", Facility{Capacity: 20, CurrentEnrollment: 15, WaitingCount: 3}, model.StatusWaiting},
		{"unknown capacity", Facility{Capacity: 0, CurrentEnrollment: 0}, model.StatusAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.facility.Status())
		})
	}
}
