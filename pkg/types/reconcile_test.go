package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func addressFormatsFixture() map[string]interface{} {
	return map[string]interface{}{
		"all":                    "г. Москва, ул. Тестовая, д. 1, кв. 2",
		"street_only":            "ул. Тестовая",
		"finishing_with_village": "ул. Тестовая, д. 1",
		"starting_with_street":   "ул. Тестовая, д. 1, кв. 2",
		"finishing_with_street":  "г. Москва, ул. Тестовая",
	}
}

func meterFixture(uid string, tariffs ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"_uid":                    uid,
		"_type":                   "meter",
		"factory_number":          "FN-" + uid,
		"resource_type":           3,
		"has_user_readings":       true,
		"is_auto":                 false,
		"import_id":               "imp-" + uid,
		"meter_type":              1,
		"is_individual":           true,
		"unit_name":               "kWh",
		"recalibration_status":    "ok",
		"last_period":             "2021-06-01",
		"user_meter_name":         "",
		"date_next_recalibration": nil,
		"tariffs":                 tariffs,
	}
}

func tariffFixture(number int, value float64) map[string]interface{} {
	return map[string]interface{}{
		"type":               number,
		"value":              value,
		"average_in_month":   value / 10,
		"user_value":         nil,
		"user_value_created": nil,
		"user_value_updated": nil,
	}
}

func paymentFixture(uid, ts string, amount float64) map[string]interface{} {
	return map[string]interface{}{
		"_uid":          uid,
		"_type":         "payment",
		"amount":        amount,
		"status":        2,
		"check_url":     "https://example.com/check/" + uid,
		"bank_id":       "bank-1",
		"payment_date":  ts,
		"payment_type":  1,
		"payment_point": "app",
		"payment_point_details": map[string]interface{}{
			"icon_name":       "card",
			"normalized_name": "app",
			"color":           "#fff",
		},
	}
}

func receiptFixture(period string, total float64) map[string]interface{} {
	return map[string]interface{}{
		"_type":            "receipt",
		"period":           period,
		"charge":           total,
		"charge_correct":   0.0,
		"payment":          0.0,
		"incoming_balance": 0.0,
		"subsidy":          0.0,
		"total":            total,
		"penalty":          0.0,
		"main":             []map[string]interface{}{},
	}
}

func ticketFixture(uid string, status int) map[string]interface{} {
	return map[string]interface{}{
		"_uid":                uid,
		"_type":               "ticket",
		"number":              "T-" + uid,
		"description":         "leaky faucet",
		"classifier_id":       "cls-leaf",
		"status":              status,
		"is_viewed":           false,
		"last_status_changed": "2021-06-02T10:00:00+03:00",
		"created":             "2021-06-01T09:00:00+03:00",
		"updated":             "2021-06-02T10:00:00+03:00",
		"is_commentable":      true,
		"attachments":         []map[string]interface{}{},
		"comments":            []map[string]interface{}{},
	}
}

func notificationFixture(uid, title string) map[string]interface{} {
	return map[string]interface{}{
		"_uid":              uid,
		"_type":             "notification",
		"created":           "2021-06-01T09:00:00+03:00",
		"title":             title,
		"short_text":        "short",
		"full_text":         "full",
		"notification_type": 1,
		"is_urgent":         false,
		"is_viewed":         false,
		"date_from":         nil,
		"date_to":           nil,
	}
}

func accountFixture(uid string, nested map[string][]map[string]interface{}) map[string]interface{} {
	a := map[string]interface{}{
		"_uid":                      uid,
		"_type":                     "account",
		"banned":                    false,
		"address":                   "г. Москва, ул. Тестовая, д. 1, кв. 2",
		"premise_number":            "2",
		"has_account_number":        true,
		"import_id":                 "imp-" + uid,
		"number":                    "40000001",
		"debt":                      123.45,
		"userpayment_in_processing": 0.0,
		"bill_type":                 "eps",
		"brand_code":                "pik",
		"is_active":                 true,
		"is_prepaid":                false,
		"new_receipt_day":           5,
		"final_payment_day":         25,
		"final_reading_day":         20,
		"emergency_phone_number":    "",
		"last_readings_date":        "2021-06-15",
		"last_turnover_date":        nil,
		"linked_at":                 "2020-01-01T00:00:00+03:00",
		"premise": map[string]interface{}{
			"_uid":              "premise-" + uid,
			"_type":             "premise",
			"number":            "2",
			"address":           "ул. Тестовая, д. 1, кв. 2",
			"building":          "building-1",
			"type":              1,
			"common_space":      54.3,
			"living_space":      30.1,
			"nonliving_space":   nil,
			"pay_space":         54.3,
			"user_premise_name": "",
			"address_formats":   addressFormatsFixture(),
		},
		"building": map[string]interface{}{
			"_uid":            "building-1",
			"_type":           "building",
			"address":         "ул. Тестовая, д. 1",
			"type":            1,
			"geo_location":    []float64{55.75, 37.62},
			"common_space":    nil,
			"living_space":    nil,
			"nonliving_space": nil,
			"address_formats": addressFormatsFixture(),
		},
		"address_formats":       addressFormatsFixture(),
		"meters":                []map[string]interface{}{},
		"receipts":              []map[string]interface{}{},
		"payments":              []map[string]interface{}{},
		"tickets":               []map[string]interface{}{},
		"account_notifications": []map[string]interface{}{},
	}
	for k, v := range nested {
		a[k] = v
	}
	return a
}

func infoFixture(accounts ...map[string]interface{}) map[string]interface{} {
	if accounts == nil {
		accounts = []map[string]interface{}{}
	}
	return map[string]interface{}{
		"_uid":           "user-1",
		"_type":          "user",
		"phone":          "+79990000000",
		"gender":         "",
		"first_name":     "Иван",
		"middle_name":    "Иванович",
		"last_name":      "Иванов",
		"birth_date":     "1990-02-03",
		"email":          "",
		"email_verified": false,
		"accounts":       accounts,
	}
}

func TestNewInfo(t *testing.T) {
	payload := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"meters": {meterFixture("meter-1", tariffFixture(1, 100))},
	}))
	info, err := NewInfo(mustRaw(t, payload))
	require.NoError(t, err)

	assert.Equal(t, Identity{UID: "user-1", Type: "user"}, info.Identity)
	assert.Nil(t, info.Email, "empty email should normalize to nil")
	require.NotNil(t, info.BirthDate)
	assert.Equal(t, time.Date(1990, 2, 3, 0, 0, 0, 0, time.UTC), *info.BirthDate)

	require.Len(t, info.Accounts, 1)
	acc := info.Accounts[0]
	require.NotNil(t, acc.Number)
	assert.Equal(t, "40000001", *acc.Number)
	assert.Nil(t, acc.EmergencyPhoneNumber)
	assert.Nil(t, acc.LastTurnoverDate)
	require.NotNil(t, acc.LastReadingsDate)
	assert.Equal(t, time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC), *acc.LastReadingsDate)

	require.Len(t, acc.Meters, 1)
	m := acc.Meters[0]
	assert.Equal(t, MeterResourceElectricity, m.ResourceType())
	require.NotNil(t, m.Tariff(1))
	assert.Equal(t, 100.0, m.Tariff(1).Value)
	assert.Nil(t, m.Tariff(2))
}

func TestReconcileIdempotent(t *testing.T) {
	payload := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"meters": {meterFixture("meter-1", tariffFixture(1, 100), tariffFixture(2, 50))},
		"payments": {
			paymentFixture("pay-1", "2021-06-01T12:00:00+03:00", 10),
			paymentFixture("pay-2", "2021-06-02T12:00:00+03:00", 20),
		},
	}))
	raw := mustRaw(t, payload)

	info, err := NewInfo(raw)
	require.NoError(t, err)

	acc := info.Accounts[0]
	meter := acc.Meters[0]
	tariff := meter.Tariff(1)
	payments := append([]*Payment(nil), acc.Payments...)

	require.NoError(t, info.UpdateFromJSON(raw))

	assert.Same(t, acc, info.Accounts[0], "account instance must survive reconciliation")
	assert.Same(t, meter, acc.Meters[0], "meter instance must survive reconciliation")
	assert.Same(t, tariff, meter.Tariff(1), "tariff instance must survive reconciliation")
	require.Len(t, acc.Payments, 2)
	for i := range payments {
		assert.Same(t, payments[i], acc.Payments[i])
	}

	// and once more for good measure
	require.NoError(t, info.UpdateFromJSON(raw))
	assert.Same(t, acc, info.Accounts[0])
}

func TestReconcileInsertUpdateEvict(t *testing.T) {
	first := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"payments": {
			paymentFixture("pay-1", "2021-06-01T12:00:00+03:00", 10),
			paymentFixture("pay-2", "2021-06-02T12:00:00+03:00", 20),
			paymentFixture("pay-3", "2021-06-03T12:00:00+03:00", 30),
		},
	}))
	info, err := NewInfo(mustRaw(t, first))
	require.NoError(t, err)

	acc := info.Accounts[0]
	require.Len(t, acc.Payments, 3)
	pay1, pay3 := acc.Payments[0], acc.Payments[2]

	// drop pay-2, mutate pay-1, add pay-4
	updated := paymentFixture("pay-1", "2021-06-01T12:00:00+03:00", 15)
	second := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"payments": {
			updated,
			paymentFixture("pay-3", "2021-06-03T12:00:00+03:00", 30),
			paymentFixture("pay-4", "2021-06-04T12:00:00+03:00", 40),
		},
	}))
	require.NoError(t, info.UpdateFromJSON(mustRaw(t, second)))

	require.Len(t, acc.Payments, 3)
	assert.Same(t, pay1, acc.Payments[0], "surviving records keep their instances")
	assert.Same(t, pay3, acc.Payments[1], "relative order of survivors is preserved")
	assert.Equal(t, 15.0, pay1.Amount, "updated in place")
	assert.Equal(t, "pay-4", acc.Payments[2].UID)
}

func TestUpdateIdentityMismatch(t *testing.T) {
	info, err := NewInfo(mustRaw(t, infoFixture()))
	require.NoError(t, err)

	other := infoFixture()
	other["_uid"] = "user-2"
	err = info.UpdateFromJSON(mustRaw(t, other))

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie, "cross-identity update must fail loudly")
	assert.Equal(t, Identity{UID: "user-1", Type: "user"}, info.Identity, "identity unchanged after failed update")
}

func TestIdentityInvariantUnderUpdate(t *testing.T) {
	payload := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"tickets": {ticketFixture("tick-1", 200)},
	}))
	info, err := NewInfo(mustRaw(t, payload))
	require.NoError(t, err)

	tick := info.Accounts[0].Tickets[0]
	id := tick.Identity

	changed := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"tickets": {ticketFixture("tick-1", 202)},
	}))
	require.NoError(t, info.UpdateFromJSON(mustRaw(t, changed)))

	assert.Same(t, tick, info.Accounts[0].Tickets[0])
	assert.Equal(t, id, tick.Identity, "identity is invariant under update")
	assert.Equal(t, TicketStatusCompleted, tick.Status())
}

func TestNotificationsReconcile(t *testing.T) {
	first := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"account_notifications": {
			notificationFixture("note-1", "Отключение воды"),
			notificationFixture("note-2", "Собрание жильцов"),
		},
	}))
	info, err := NewInfo(mustRaw(t, first))
	require.NoError(t, err)

	acc := info.Accounts[0]
	require.Len(t, acc.Notifications, 2)
	note1 := acc.Notifications[0]
	assert.Equal(t, "Отключение воды", note1.Title)
	assert.Nil(t, note1.DateFrom, "absent window normalizes to nil")

	// drop note-2, mutate note-1, add note-3
	changed := notificationFixture("note-1", "Отключение воды")
	changed["is_viewed"] = true
	changed["date_from"] = "2021-06-10T00:00:00+03:00"
	second := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"account_notifications": {
			changed,
			notificationFixture("note-3", "Ремонт лифта"),
		},
	}))
	require.NoError(t, info.UpdateFromJSON(mustRaw(t, second)))

	require.Len(t, acc.Notifications, 2)
	assert.Same(t, note1, acc.Notifications[0], "surviving notification keeps its instance")
	assert.True(t, note1.IsViewed, "updated in place")
	require.NotNil(t, note1.DateFrom)
	assert.Equal(t, "note-3", acc.Notifications[1].UID)
}

func TestReceiptsKeyedByTypeAndPeriod(t *testing.T) {
	payload := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"receipts": {
			receiptFixture("2021-05-01", 1000),
			receiptFixture("2021-06-01", 1200),
		},
	}))
	info, err := NewInfo(mustRaw(t, payload))
	require.NoError(t, err)

	acc := info.Accounts[0]
	require.Len(t, acc.Receipts, 2)
	may := acc.Receipts[0]

	// same period updates in place, new period appends
	next := infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"receipts": {
			receiptFixture("2021-05-01", 1001),
			receiptFixture("2021-06-01", 1200),
			receiptFixture("2021-07-01", 900),
		},
	}))
	require.NoError(t, info.UpdateFromJSON(mustRaw(t, next)))

	require.Len(t, acc.Receipts, 3)
	assert.Same(t, may, acc.Receipts[0])
	assert.Equal(t, 1001.0, may.Total)
}

func TestDerivedViews(t *testing.T) {
	t.Run("empty collections", func(t *testing.T) {
		info, err := NewInfo(mustRaw(t, infoFixture(accountFixture("acc-1", nil))))
		require.NoError(t, err)
		acc := info.Accounts[0]
		assert.Nil(t, acc.LastPayment())
		assert.Nil(t, acc.LastReceipt())
	})

	t.Run("single element", func(t *testing.T) {
		info, err := NewInfo(mustRaw(t, infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
			"payments": {paymentFixture("pay-1", "2021-06-01T12:00:00+03:00", 10)},
			"receipts": {receiptFixture("2021-06-01", 100)},
		}))))
		require.NoError(t, err)
		acc := info.Accounts[0]
		assert.Equal(t, "pay-1", acc.LastPayment().UID)
		assert.Equal(t, 100.0, acc.LastReceipt().Total)
	})

	t.Run("latest wins", func(t *testing.T) {
		info, err := NewInfo(mustRaw(t, infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
			"payments": {
				paymentFixture("pay-new", "2021-06-05T12:00:00+03:00", 20),
				paymentFixture("pay-old", "2021-06-01T12:00:00+03:00", 10),
			},
			"receipts": {
				receiptFixture("2021-05-01", 100),
				receiptFixture("2021-06-01", 200),
			},
		}))))
		require.NoError(t, err)
		acc := info.Accounts[0]
		assert.Equal(t, "pay-new", acc.LastPayment().UID)
		assert.Equal(t, 200.0, acc.LastReceipt().Total)
	})

	t.Run("exact tie prefers earlier list position", func(t *testing.T) {
		ts := "2021-06-01T12:00:00+03:00"
		info, err := NewInfo(mustRaw(t, infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
			"payments": {
				paymentFixture("pay-a", ts, 10),
				paymentFixture("pay-b", ts, 20),
			},
		}))))
		require.NoError(t, err)
		assert.Equal(t, "pay-a", info.Accounts[0].LastPayment().UID)
	})
}

func TestMeterRefResolve(t *testing.T) {
	info, err := NewInfo(mustRaw(t, infoFixture(accountFixture("acc-1", map[string][]map[string]interface{}{
		"meters": {meterFixture("meter-1", tariffFixture(1, 100))},
	}))))
	require.NoError(t, err)

	ref := MeterRef{Identity: Identity{UID: "meter-1", Type: "meter"}}
	assert.Same(t, info.Accounts[0].Meters[0], ref.Resolve(info))

	missing := MeterRef{Identity: Identity{UID: "meter-x", Type: "meter"}}
	assert.Nil(t, missing.Resolve(info))
	assert.Nil(t, ref.Resolve(nil))
}

func TestNewMeterReadings(t *testing.T) {
	raw := mustRaw(t, []map[string]interface{}{
		{
			"_uid":        "read-1",
			"_type":       "meterreading",
			"value":       150.0,
			"tariff_type": 1,
			"date":        "2021-06-20",
			"meter": map[string]interface{}{
				"_uid":           "meter-1",
				"_type":          "meter",
				"import_id":      "imp-meter-1",
				"resource_type":  3,
				"is_auto":        false,
				"factory_number": "FN-1",
				"meter_type":     1,
			},
		},
	})
	readings, err := NewMeterReadings(raw)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 150.0, readings[0].Value)
	assert.Equal(t, 1, readings[0].TariffType)
	assert.Equal(t, Identity{UID: "meter-1", Type: "meter"}, readings[0].Meter.Identity)
	assert.Equal(t, time.Date(2021, 6, 20, 0, 0, 0, 0, time.UTC), readings[0].Date)
}
