package hass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

// staticSource serves a fixed model root; tests don't need real locking.
type staticSource struct{ info *types.Info }

func (s staticSource) WithInfo(fn func(*types.Info)) { fn(s.info) }

func modelFixture(t *testing.T) Source {
	return staticSource{info: infoFixture(t)}
}

func infoFixture(t *testing.T) *types.Info {
	t.Helper()
	formats := map[string]interface{}{"all": "г. Москва, ул. Тестовая, д. 1"}
	raw, err := json.Marshal(map[string]interface{}{
		"_uid": "user-1", "_type": "user", "phone": "+79990000000",
		"accounts": []map[string]interface{}{{
			"_uid": "acc-1", "_type": "account",
			"debt": 123.45, "address": "ул. Тестовая, д. 1",
			"linked_at":       "2020-01-01T00:00:00+03:00",
			"premise":         map[string]interface{}{"_uid": "prem-1", "_type": "premise", "address_formats": formats},
			"building":        map[string]interface{}{"_uid": "bld-1", "_type": "building", "geo_location": []float64{0, 0}, "address_formats": formats},
			"address_formats": formats,
			"meters": []map[string]interface{}{{
				"_uid": "meter-1", "_type": "meter", "resource_type": 3, "unit_name": "kWh",
				"factory_number": "FN-1",
				"tariffs": []map[string]interface{}{
					{"type": 1, "value": 100.5, "average_in_month": 1.0},
					{"type": 2, "value": 50.0, "average_in_month": 1.0},
				},
			}},
			"payments": []map[string]interface{}{{
				"_uid": "pay-1", "_type": "payment", "amount": 50.0, "status": 2,
				"payment_date":          "2021-06-01T12:00:00+03:00",
				"payment_point_details": map[string]interface{}{},
			}},
			"receipts": []map[string]interface{}{{
				"_type": "receipt", "period": "2021-06-01", "total": 1000.0,
				"main": []map[string]interface{}{},
			}},
			"tickets": []map[string]interface{}{{
				"_uid": "tick-1", "_type": "ticket", "number": "T-1", "status": 201,
				"description":         "течёт кран",
				"last_status_changed": "2021-06-01T09:00:00+03:00",
				"created":             "2021-06-01T09:00:00+03:00",
				"updated":             "2021-06-01T09:00:00+03:00",
			}},
		}},
	})
	require.NoError(t, err)
	info, err := types.NewInfo(raw)
	require.NoError(t, err)
	return info
}

func TestPublish(t *testing.T) {
	var mu sync.Mutex
	states := map[string]entityState{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.True(t, strings.HasPrefix(r.URL.Path, "/api/states/"))
		id := strings.TrimPrefix(r.URL.Path, "/api/states/")

		var state entityState
		require.NoError(t, json.NewDecoder(r.Body).Decode(&state))
		mu.Lock()
		states[id] = state
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	b := New(srv.URL, "tok-1")
	require.NoError(t, b.Publish(context.Background(), modelFixture(t)))

	assert.Len(t, states, 6)

	debt := states["sensor.pik_account_acc_1_debt"]
	assert.Equal(t, "123.45", debt.State)
	assert.Equal(t, "RUB", debt.Attributes["unit_of_measurement"])

	payment := states["sensor.pik_account_acc_1_last_payment"]
	assert.Equal(t, "50", payment.State)
	assert.Equal(t, "accepted", payment.Attributes["status"])

	receipt := states["sensor.pik_account_acc_1_last_receipt"]
	assert.Equal(t, "1000", receipt.State)
	assert.Equal(t, "2021-06", receipt.Attributes["period"])

	tariff1 := states["sensor.pik_meter_meter_1_tariff_1"]
	assert.Equal(t, "100.5", tariff1.State)
	assert.Equal(t, "kWh", tariff1.Attributes["unit_of_measurement"])
	assert.Equal(t, "electricity", tariff1.Attributes["resource"])
	assert.Contains(t, states, "sensor.pik_meter_meter_1_tariff_2")

	ticket := states["sensor.pik_ticket_tick_1"]
	assert.Equal(t, "processing", ticket.State)
}

func TestPublishDisabled(t *testing.T) {
	b := New("", "")
	assert.False(t, b.Enabled())
	assert.NoError(t, b.Publish(context.Background(), modelFixture(t)))
}

func TestPublishNilModel(t *testing.T) {
	b := New("http://127.0.0.1:0", "tok")
	assert.NoError(t, b.Publish(context.Background(), nil))
	assert.NoError(t, b.Publish(context.Background(), staticSource{}))
}

func TestPublishFailureReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	b := New(srv.URL, "bad")
	assert.Error(t, b.Publish(context.Background(), modelFixture(t)))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "abc_123", slug("Abc-123"))
	assert.Equal(t, "a_b_c", slug("a b/c"))
}
