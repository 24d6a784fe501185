package types

import (
	"fmt"
	"time"
)

// PaymentStatus is the processing state of a payment. Unknown values map to
// PaymentStatusUnknown.
type PaymentStatus int

const (
	PaymentStatusUnknown    PaymentStatus = 0
	PaymentStatusProcessing PaymentStatus = 1
	PaymentStatusAccepted   PaymentStatus = 2
	PaymentStatusDeclined   PaymentStatus = 3
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusProcessing:
		return "processing"
	case PaymentStatusAccepted:
		return "accepted"
	case PaymentStatusDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

type paymentData struct {
	UID          string           `json:"_uid"`
	Type         string           `json:"_type"`
	Amount       float64          `json:"amount"`
	StatusID     int              `json:"status"`
	CheckURL     string           `json:"check_url"`
	BankID       string           `json:"bank_id"`
	PaymentDate  string           `json:"payment_date"`
	PaymentType  int              `json:"payment_type"`
	PaymentPoint string           `json:"payment_point"`
	PointDetails paymentPointData `json:"payment_point_details"`
}

func paymentKey(d paymentData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Payment is one payment made against an account.
type Payment struct {
	Identity
	Amount        float64
	StatusID      int
	CheckURL      string
	BankID        string
	Timestamp     time.Time
	PaymentType   int
	SourceName    string
	SourceDetails *PaymentPointDetails
}

func newPayment(d paymentData) (*Payment, error) {
	p := &Payment{
		Identity:      Identity{UID: d.UID, Type: d.Type},
		SourceDetails: newPaymentPointDetails(d.PointDetails),
	}
	if err := p.applyScalars(d); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Payment) recordKey() Identity { return p.Identity }

func (p *Payment) update(d paymentData) error {
	if err := checkIdentity("payment", p.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	p.SourceDetails.update(d.PointDetails)
	return p.applyScalars(d)
}

func (p *Payment) applyScalars(d paymentData) error {
	ts, err := parseTimestamp(d.PaymentDate)
	if err != nil {
		return fmt.Errorf("payment %s: payment_date: %w", p.Identity, err)
	}
	p.Amount = d.Amount
	p.StatusID = d.StatusID
	p.CheckURL = d.CheckURL
	p.BankID = d.BankID
	p.Timestamp = ts
	p.PaymentType = d.PaymentType
	p.SourceName = d.PaymentPoint
	return nil
}

// Status returns the typed payment status, PaymentStatusUnknown for values
// the model doesn't know about.
func (p *Payment) Status() PaymentStatus {
	if p.StatusID < 1 || p.StatusID > 3 {
		return PaymentStatusUnknown
	}
	return PaymentStatus(p.StatusID)
}

type paymentPointData struct {
	IconName       string `json:"icon_name"`
	NormalizedName string `json:"normalized_name"`
	Color          string `json:"color"`
}

// PaymentPointDetails is the unkeyed presentation tuple of a payment source.
type PaymentPointDetails struct {
	IconName       string
	NormalizedName string
	Color          string
}

func newPaymentPointDetails(d paymentPointData) *PaymentPointDetails {
	p := &PaymentPointDetails{}
	p.update(d)
	return p
}

func (p *PaymentPointDetails) update(d paymentPointData) {
	p.IconName = d.IconName
	p.NormalizedName = d.NormalizedName
	p.Color = d.Color
}
