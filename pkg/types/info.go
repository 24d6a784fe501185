package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type infoData struct {
	UID           string        `json:"_uid"`
	Type          string        `json:"_type"`
	Phone         string        `json:"phone"`
	Gender        string        `json:"gender"`
	FirstName     string        `json:"first_name"`
	MiddleName    string        `json:"middle_name"`
	LastName      string        `json:"last_name"`
	BirthDate     string        `json:"birth_date"`
	Email         string        `json:"email"`
	EmailVerified bool          `json:"email_verified"`
	Accounts      []accountData `json:"accounts"`
}

// Info is the root of the model: the authenticated user and the accounts
// linked to them. It is built once from the first snapshot and updated in
// place by every snapshot after that.
type Info struct {
	Identity
	Phone         string
	Gender        string
	FirstName     string
	MiddleName    string
	LastName      string
	BirthDate     *time.Time
	Email         *string
	EmailVerified bool
	Accounts      []*Account
}

// NewInfo builds the model root from a raw snapshot result.
func NewInfo(raw json.RawMessage) (*Info, error) {
	var d infoData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return newInfo(d)
}

func newInfo(d infoData) (*Info, error) {
	i := &Info{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := i.apply(d); err != nil {
		return nil, err
	}
	return i, nil
}

// UpdateFromJSON reconciles a newer snapshot result into the existing model.
// The snapshot must describe the same user; a different identity is a defect
// upstream and fails with an IntegrityError.
func (i *Info) UpdateFromJSON(raw json.RawMessage) error {
	var d infoData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	return i.update(d)
}

func (i *Info) recordKey() Identity { return i.Identity }

func (i *Info) update(d infoData) error {
	if err := checkIdentity("user", i.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	return i.apply(d)
}

func (i *Info) apply(d infoData) error {
	if err := reconcile(&i.Accounts, d.Accounts, accountKey, newAccount); err != nil {
		return err
	}

	birthDate, err := parseOptionalDate(d.BirthDate)
	if err != nil {
		return fmt.Errorf("user %s: birth_date: %w", i.Identity, err)
	}

	i.Phone = d.Phone
	i.Gender = d.Gender
	i.FirstName = d.FirstName
	i.MiddleName = d.MiddleName
	i.LastName = d.LastName
	i.BirthDate = birthDate
	i.Email = optionalString(d.Email)
	i.EmailVerified = d.EmailVerified
	return nil
}

// Account looks up an account by its identity, nil when absent.
func (i *Info) Account(id Identity) *Account {
	for _, a := range i.Accounts {
		if a.Identity == id {
			return a
		}
	}
	return nil
}

// Meter looks up a meter anywhere in the model by its identity. Used to
// resolve weak back-references (e.g. from reading confirmations) against the
// current model root instead of holding owning pointers.
func (i *Info) Meter(id Identity) *Meter {
	for _, a := range i.Accounts {
		for _, m := range a.Meters {
			if m.Identity == id {
				return m
			}
		}
	}
	return nil
}

type accountData struct {
	UID                  string             `json:"_uid"`
	Type                 string             `json:"_type"`
	Banned               bool               `json:"banned"`
	Address              string             `json:"address"`
	PremiseNumber        string             `json:"premise_number"`
	HasAccountNumber     bool               `json:"has_account_number"`
	ImportID             string             `json:"import_id"`
	Number               string             `json:"number"`
	Debt                 float64            `json:"debt"`
	PaymentInProcessing  float64            `json:"userpayment_in_processing"`
	BillType             string             `json:"bill_type"`
	BrandCode            string             `json:"brand_code"`
	IsActive             bool               `json:"is_active"`
	IsPrepaid            bool               `json:"is_prepaid"`
	NewReceiptDay        int                `json:"new_receipt_day"`
	FinalPaymentDay      int                `json:"final_payment_day"`
	FinalReadingDay      int                `json:"final_reading_day"`
	EmergencyPhoneNumber string             `json:"emergency_phone_number"`
	LastReadingsDate     string             `json:"last_readings_date"`
	LastTurnoverDate     string             `json:"last_turnover_date"`
	LinkedAt             string             `json:"linked_at"`
	Premise              premiseData        `json:"premise"`
	Building             buildingData       `json:"building"`
	AddressFormats       addressFormatData  `json:"address_formats"`
	Meters               []meterData        `json:"meters"`
	Receipts             []receiptData      `json:"receipts"`
	Payments             []paymentData      `json:"payments"`
	Tickets              []ticketData       `json:"tickets"`
	Notifications        []notificationData `json:"account_notifications"`
}

func accountKey(d accountData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Account is a single personal account: one premise in one building plus its
// meters, receipts, payments and support tickets.
type Account struct {
	Identity
	Banned               bool
	Address              string
	PremiseNumber        string
	HasAccountNumber     bool
	ImportID             string
	Number               *string
	Debt                 float64
	PaymentInProcessing  float64
	BillType             string
	BrandCode            string
	IsActive             bool
	IsPrepaid            bool
	NewReceiptDay        int
	FinalPaymentDay      int
	FinalReadingDay      int
	EmergencyPhoneNumber *string
	LastReadingsDate     *time.Time
	LastTurnoverDate     *time.Time
	LinkedAt             time.Time
	Premise              *Premise
	Building             *Building
	AddressFormats       *AddressFormat
	Meters               []*Meter
	Receipts             []*Receipt
	Payments             []*Payment
	Tickets              []*Ticket
	Notifications        []*Notification
}

func newAccount(d accountData) (*Account, error) {
	premise, err := newPremise(d.Premise)
	if err != nil {
		return nil, err
	}
	building, err := newBuilding(d.Building)
	if err != nil {
		return nil, err
	}
	a := &Account{
		Identity:       Identity{UID: d.UID, Type: d.Type},
		Premise:        premise,
		Building:       building,
		AddressFormats: newAddressFormat(d.AddressFormats),
	}
	if err := a.applyScalars(d); err != nil {
		return nil, err
	}
	if err := a.reconcileLists(d); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) recordKey() Identity { return a.Identity }

func (a *Account) update(d accountData) error {
	if err := checkIdentity("account", a.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	// nested identity-preserving records first, scalars after
	if err := a.Premise.update(d.Premise); err != nil {
		return err
	}
	if err := a.Building.update(d.Building); err != nil {
		return err
	}
	a.AddressFormats.update(d.AddressFormats)
	if err := a.reconcileLists(d); err != nil {
		return err
	}
	return a.applyScalars(d)
}

func (a *Account) reconcileLists(d accountData) error {
	if err := reconcile(&a.Meters, d.Meters, meterKey, newMeter); err != nil {
		return err
	}
	if err := reconcile(&a.Receipts, d.Receipts, receiptKey, newReceipt); err != nil {
		return err
	}
	if err := reconcile(&a.Payments, d.Payments, paymentKey, newPayment); err != nil {
		return err
	}
	if err := reconcile(&a.Tickets, d.Tickets, ticketKey, newTicket); err != nil {
		return err
	}
	return reconcile(&a.Notifications, d.Notifications, notificationKey, newNotification)
}

func (a *Account) applyScalars(d accountData) error {
	lastReadings, err := parseOptionalDate(d.LastReadingsDate)
	if err != nil {
		return fmt.Errorf("account %s: last_readings_date: %w", a.Identity, err)
	}
	lastTurnover, err := parseOptionalDate(d.LastTurnoverDate)
	if err != nil {
		return fmt.Errorf("account %s: last_turnover_date: %w", a.Identity, err)
	}
	linkedAt, err := parseTimestamp(d.LinkedAt)
	if err != nil {
		return fmt.Errorf("account %s: linked_at: %w", a.Identity, err)
	}

	a.Banned = d.Banned
	a.Address = d.Address
	a.PremiseNumber = d.PremiseNumber
	a.HasAccountNumber = d.HasAccountNumber
	a.ImportID = d.ImportID
	a.Number = optionalString(d.Number)
	a.Debt = d.Debt
	a.PaymentInProcessing = d.PaymentInProcessing
	a.BillType = d.BillType
	a.BrandCode = d.BrandCode
	a.IsActive = d.IsActive
	a.IsPrepaid = d.IsPrepaid
	a.NewReceiptDay = d.NewReceiptDay
	a.FinalPaymentDay = d.FinalPaymentDay
	a.FinalReadingDay = d.FinalReadingDay
	a.EmergencyPhoneNumber = optionalString(d.EmergencyPhoneNumber)
	a.LastReadingsDate = lastReadings
	a.LastTurnoverDate = lastTurnover
	a.LinkedAt = linkedAt
	return nil
}

// LastPayment returns the payment with the greatest timestamp, preferring the
// earlier list position on exact ties, or nil when there are no payments.
func (a *Account) LastPayment() *Payment {
	var best *Payment
	for _, p := range a.Payments {
		if best == nil || p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	return best
}

// LastReceipt returns the receipt with the greatest period, preferring the
// earlier list position on exact ties, or nil when there are no receipts.
func (a *Account) LastReceipt() *Receipt {
	var best *Receipt
	for _, r := range a.Receipts {
		if best == nil || r.Period.After(best.Period) {
			best = r
		}
	}
	return best
}

type premiseData struct {
	UID             string            `json:"_uid"`
	Type            string            `json:"_type"`
	Number          string            `json:"number"`
	Address         string            `json:"address"`
	Building        string            `json:"building"`
	TypeID          int               `json:"type"`
	CommonSpace     float64           `json:"common_space"`
	LivingSpace     float64           `json:"living_space"`
	NonlivingSpace  *float64          `json:"nonliving_space"`
	PaySpace        *float64          `json:"pay_space"`
	UserPremiseName string            `json:"user_premise_name"`
	AddressFormats  addressFormatData `json:"address_formats"`
}

// Premise describes the dwelling behind an account.
type Premise struct {
	Identity
	Number          string
	Address         string
	BuildingUID     string
	TypeID          int
	CommonSpace     float64
	LivingSpace     float64
	NonlivingSpace  *float64
	PaySpace        *float64
	UserPremiseName *string
	AddressFormats  *AddressFormat
}

func newPremise(d premiseData) (*Premise, error) {
	p := &Premise{
		Identity:       Identity{UID: d.UID, Type: d.Type},
		AddressFormats: newAddressFormat(d.AddressFormats),
	}
	p.applyScalars(d)
	return p, nil
}

func (p *Premise) update(d premiseData) error {
	if err := checkIdentity("premise", p.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	p.AddressFormats.update(d.AddressFormats)
	p.applyScalars(d)
	return nil
}

func (p *Premise) applyScalars(d premiseData) {
	p.Number = d.Number
	p.Address = d.Address
	p.BuildingUID = d.Building
	p.TypeID = d.TypeID
	p.CommonSpace = d.CommonSpace
	p.LivingSpace = d.LivingSpace
	p.NonlivingSpace = d.NonlivingSpace
	p.PaySpace = d.PaySpace
	p.UserPremiseName = optionalString(d.UserPremiseName)
}

type buildingData struct {
	UID            string            `json:"_uid"`
	Type           string            `json:"_type"`
	Address        string            `json:"address"`
	TypeID         int               `json:"type"`
	GeoLocation    []float64         `json:"geo_location"`
	CommonSpace    *float64          `json:"common_space"`
	LivingSpace    *float64          `json:"living_space"`
	NonlivingSpace *float64          `json:"nonliving_space"`
	AddressFormats addressFormatData `json:"address_formats"`
}

// Building describes the building the premise belongs to.
type Building struct {
	Identity
	Address        string
	TypeID         int
	GeoLocation    [2]float64
	CommonSpace    *float64
	LivingSpace    *float64
	NonlivingSpace *float64
	AddressFormats *AddressFormat
}

func newBuilding(d buildingData) (*Building, error) {
	b := &Building{
		Identity:       Identity{UID: d.UID, Type: d.Type},
		AddressFormats: newAddressFormat(d.AddressFormats),
	}
	b.applyScalars(d)
	return b, nil
}

func (b *Building) update(d buildingData) error {
	if err := checkIdentity("building", b.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	b.AddressFormats.update(d.AddressFormats)
	b.applyScalars(d)
	return nil
}

func (b *Building) applyScalars(d buildingData) {
	b.Address = d.Address
	b.TypeID = d.TypeID
	if len(d.GeoLocation) >= 2 {
		b.GeoLocation = [2]float64{d.GeoLocation[0], d.GeoLocation[1]}
	} else {
		b.GeoLocation = [2]float64{}
	}
	b.CommonSpace = d.CommonSpace
	b.LivingSpace = d.LivingSpace
	b.NonlivingSpace = d.NonlivingSpace
}

type addressFormatData struct {
	All                  string `json:"all"`
	StreetOnly           string `json:"street_only"`
	FinishingWithVillage string `json:"finishing_with_village"`
	StartingWithStreet   string `json:"starting_with_street"`
	FinishingWithStreet  string `json:"finishing_with_street"`
}

// AddressFormat is an unkeyed tuple of display renditions of one address.
// It has no identity of its own and is always owned by a keyed parent.
type AddressFormat struct {
	All                  string
	StreetOnly           string
	FinishingWithVillage string
	StartingWithStreet   string
	FinishingWithStreet  string
}

func newAddressFormat(d addressFormatData) *AddressFormat {
	f := &AddressFormat{}
	f.update(d)
	return f
}

func (f *AddressFormat) update(d addressFormatData) {
	f.All = d.All
	f.StreetOnly = d.StreetOnly
	f.FinishingWithVillage = d.FinishingWithVillage
	f.StartingWithStreet = d.StartingWithStreet
	f.FinishingWithStreet = d.FinishingWithStreet
}
