package types

import (
	"fmt"
	"time"
)

type receiptData struct {
	Type        string               `json:"_type"`
	Period      string               `json:"period"`
	Charge      float64              `json:"charge"`
	Corrections float64              `json:"charge_correct"`
	Payment     float64              `json:"payment"`
	Initial     float64              `json:"incoming_balance"`
	Subsidy     float64              `json:"subsidy"`
	Total       float64              `json:"total"`
	Penalty     float64              `json:"penalty"`
	Paid        *float64             `json:"paid"`
	Debt        *float64             `json:"debt"`
	Contents    []receiptContentData `json:"main"`
}

// ReceiptKey is the natural identity of a receipt: one receipt per billing
// type per calendar month.
type ReceiptKey struct {
	Type   string
	Period time.Time
}

func receiptKey(d receiptData) ReceiptKey {
	// An unparseable period yields the zero time here; construction then
	// fails for the same payload, so the bad key never enters the list.
	period, _ := parseDate(d.Period)
	return ReceiptKey{Type: d.Type, Period: period}
}

// Receipt is one monthly bill. Unlike most records it carries no uid; its
// identity is the (type, period) pair.
type Receipt struct {
	Type        string
	Period      time.Time
	Charge      float64
	Corrections float64
	Payment     float64
	Initial     float64
	Subsidy     float64
	Total       float64
	Penalty     float64
	Paid        *float64
	Debt        *float64
	Contents    []*ReceiptContent
}

func newReceipt(d receiptData) (*Receipt, error) {
	period, err := parseDate(d.Period)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: period: %w", d.Type, err)
	}
	r := &Receipt{Type: d.Type, Period: period}
	if err := r.applyRest(d); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Receipt) recordKey() ReceiptKey {
	return ReceiptKey{Type: r.Type, Period: r.Period}
}

func (r *Receipt) update(d receiptData) error {
	period, err := parseDate(d.Period)
	if err != nil {
		return fmt.Errorf("receipt %s: period: %w", d.Type, err)
	}
	if r.Type != d.Type || !r.Period.Equal(period) {
		return integrityErrorf("receipt key mismatch: have (%s, %s), payload (%s, %s)",
			r.Type, r.Period.Format("2006-01"), d.Type, period.Format("2006-01"))
	}
	return r.applyRest(d)
}

func (r *Receipt) applyRest(d receiptData) error {
	if err := reconcile(&r.Contents, d.Contents, receiptContentKey, newReceiptContent); err != nil {
		return err
	}
	r.Charge = d.Charge
	r.Corrections = d.Corrections
	r.Payment = d.Payment
	r.Initial = d.Initial
	r.Subsidy = d.Subsidy
	r.Total = d.Total
	r.Penalty = d.Penalty
	r.Paid = d.Paid
	r.Debt = d.Debt
	return nil
}

type receiptContentData struct {
	UID             string         `json:"_uid"`
	Type            string         `json:"_type"`
	ImportID        string         `json:"import_id"`
	Title           string         `json:"title"`
	DisplayName     string         `json:"display_name"`
	Address         string         `json:"address"`
	RequestPhone    string         `json:"request_phone"`
	DispatcherPhone string         `json:"dispatcher_phone"`
	Charge          float64        `json:"charge"`
	Corrections     float64        `json:"charge_correct"`
	Payment         float64        `json:"payment"`
	Initial         float64        `json:"incoming_balance"`
	Subsidy         float64        `json:"subsidy"`
	Penalty         float64        `json:"penalty"`
	Total           float64        `json:"total"`
	Turnovers       []turnoverData `json:"turnover_balance_records"`
}

func receiptContentKey(d receiptContentData) Identity {
	return Identity{UID: d.UID, Type: d.Type}
}

// ReceiptContent is one management-company block inside a receipt.
type ReceiptContent struct {
	Identity
	ImportID        string
	Title           string
	DisplayName     *string
	Address         string
	RequestPhone    string
	DispatcherPhone string
	Charge          float64
	Corrections     float64
	Payment         float64
	Initial         float64
	Subsidy         float64
	Penalty         float64
	Total           float64
	Turnovers       []*TurnoverBalanceRecord
}

func newReceiptContent(d receiptContentData) (*ReceiptContent, error) {
	c := &ReceiptContent{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := c.applyRest(d); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ReceiptContent) recordKey() Identity { return c.Identity }

func (c *ReceiptContent) update(d receiptContentData) error {
	if err := checkIdentity("receipt content", c.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	return c.applyRest(d)
}

func (c *ReceiptContent) applyRest(d receiptContentData) error {
	if err := reconcile(&c.Turnovers, d.Turnovers, turnoverKey, newTurnover); err != nil {
		return err
	}
	c.ImportID = d.ImportID
	c.Title = d.Title
	c.DisplayName = optionalString(d.DisplayName)
	c.Address = d.Address
	c.RequestPhone = d.RequestPhone
	c.DispatcherPhone = d.DispatcherPhone
	c.Charge = d.Charge
	c.Corrections = d.Corrections
	c.Payment = d.Payment
	c.Initial = d.Initial
	c.Subsidy = d.Subsidy
	c.Penalty = d.Penalty
	c.Total = d.Total
	return nil
}

type turnoverData struct {
	UID           string  `json:"_uid"`
	Type          string  `json:"_type"`
	ServiceName   string  `json:"service_name"`
	ServiceCode   string  `json:"service_code"`
	Initial       float64 `json:"incoming_balance"`
	Charge        float64 `json:"charge"`
	BoostedCharge float64 `json:"boosted_charge"`
	Corrections   float64 `json:"charge_correct"`
	Subsidy       float64 `json:"subsidy"`
	Payment       float64 `json:"payment"`
	Total         float64 `json:"total"`
}

func turnoverKey(d turnoverData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// TurnoverBalanceRecord is one per-service balance line under a receipt
// content block.
type TurnoverBalanceRecord struct {
	Identity
	ServiceName   string
	ServiceCode   string
	Initial       float64
	Charge        float64
	BoostedCharge float64
	Corrections   float64
	Subsidy       float64
	Payment       float64
	Total         float64
}

func newTurnover(d turnoverData) (*TurnoverBalanceRecord, error) {
	t := &TurnoverBalanceRecord{Identity: Identity{UID: d.UID, Type: d.Type}}
	return t, t.update(d)
}

func (t *TurnoverBalanceRecord) recordKey() Identity { return t.Identity }

func (t *TurnoverBalanceRecord) update(d turnoverData) error {
	if err := checkIdentity("turnover record", t.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	t.ServiceName = d.ServiceName
	t.ServiceCode = d.ServiceCode
	t.Initial = d.Initial
	t.Charge = d.Charge
	t.BoostedCharge = d.BoostedCharge
	t.Corrections = d.Corrections
	t.Subsidy = d.Subsidy
	t.Payment = d.Payment
	t.Total = d.Total
	return nil
}
