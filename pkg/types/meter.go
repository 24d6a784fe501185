package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MeterResourceType identifies the metered resource. Unknown values map to
// MeterResourceUnknown instead of failing, since the backend grows this list.
type MeterResourceType int

const (
	MeterResourceUnknown     MeterResourceType = 0
	MeterResourceColdWater   MeterResourceType = 1
	MeterResourceHotWater    MeterResourceType = 2
	MeterResourceElectricity MeterResourceType = 3
	MeterResourceGas         MeterResourceType = 4
	MeterResourceHeating     MeterResourceType = 5
	MeterResourceGasTanks    MeterResourceType = 6
	MeterResourceSolidFuel   MeterResourceType = 7
	MeterResourceWasteWater  MeterResourceType = 8
)

func (t MeterResourceType) String() string {
	switch t {
	case MeterResourceColdWater:
		return "cold_water"
	case MeterResourceHotWater:
		return "hot_water"
	case MeterResourceElectricity:
		return "electricity"
	case MeterResourceGas:
		return "gas"
	case MeterResourceHeating:
		return "heating"
	case MeterResourceGasTanks:
		return "gas_tanks"
	case MeterResourceSolidFuel:
		return "solid_fuel"
	case MeterResourceWasteWater:
		return "waste_water"
	default:
		return "unknown"
	}
}

type meterData struct {
	UID                   string       `json:"_uid"`
	Type                  string       `json:"_type"`
	FactoryNumber         string       `json:"factory_number"`
	ResourceTypeID        int          `json:"resource_type"`
	HasUserReadings       bool         `json:"has_user_readings"`
	IsAuto                bool         `json:"is_auto"`
	ImportID              string       `json:"import_id"`
	MeterType             int          `json:"meter_type"`
	IsIndividual          bool         `json:"is_individual"`
	UnitName              string       `json:"unit_name"`
	RecalibrationStatus   string       `json:"recalibration_status"`
	LastPeriod            string       `json:"last_period"`
	UserMeterName         string       `json:"user_meter_name"`
	DateNextRecalibration string       `json:"date_next_recalibration"`
	Tariffs               []tariffData `json:"tariffs"`
}

func meterKey(d meterData) Identity { return Identity{UID: d.UID, Type: d.Type} }

// Meter is a physical metering device with one reading channel per tariff
// zone (e.g. day/night electricity rates).
type Meter struct {
	Identity
	FactoryNumber         string
	ResourceTypeID        int
	HasUserReadings       bool
	IsAuto                bool
	ImportID              string
	MeterType             int
	IsIndividual          bool
	UnitName              string
	RecalibrationStatus   string
	LastPeriod            string
	UserMeterName         *string
	DateNextRecalibration *time.Time
	Tariffs               []*Tariff
}

func newMeter(d meterData) (*Meter, error) {
	m := &Meter{Identity: Identity{UID: d.UID, Type: d.Type}}
	if err := reconcile(&m.Tariffs, d.Tariffs, tariffKey, newTariff); err != nil {
		return nil, err
	}
	if err := m.applyScalars(d); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Meter) recordKey() Identity { return m.Identity }

func (m *Meter) update(d meterData) error {
	if err := checkIdentity("meter", m.Identity, Identity{UID: d.UID, Type: d.Type}); err != nil {
		return err
	}
	if err := reconcile(&m.Tariffs, d.Tariffs, tariffKey, newTariff); err != nil {
		return err
	}
	return m.applyScalars(d)
}

func (m *Meter) applyScalars(d meterData) error {
	nextRecalibration, err := parseOptionalDate(d.DateNextRecalibration)
	if err != nil {
		return fmt.Errorf("meter %s: date_next_recalibration: %w", m.Identity, err)
	}

	m.FactoryNumber = d.FactoryNumber
	m.ResourceTypeID = d.ResourceTypeID
	m.HasUserReadings = d.HasUserReadings
	m.IsAuto = d.IsAuto
	m.ImportID = d.ImportID
	m.MeterType = d.MeterType
	m.IsIndividual = d.IsIndividual
	m.UnitName = d.UnitName
	m.RecalibrationStatus = d.RecalibrationStatus
	m.LastPeriod = d.LastPeriod
	m.UserMeterName = optionalString(d.UserMeterName)
	m.DateNextRecalibration = nextRecalibration
	return nil
}

// ResourceType returns the typed resource, MeterResourceUnknown for values
// the model doesn't know about.
func (m *Meter) ResourceType() MeterResourceType {
	if m.ResourceTypeID < 1 || m.ResourceTypeID > 8 {
		return MeterResourceUnknown
	}
	return MeterResourceType(m.ResourceTypeID)
}

// Tariff looks up a rate zone by its number, nil when absent.
func (m *Meter) Tariff(number int) *Tariff {
	for _, t := range m.Tariffs {
		if t.Number == number {
			return t
		}
	}
	return nil
}

type tariffData struct {
	Number           int      `json:"type"`
	Value            float64  `json:"value"`
	AverageInMonth   float64  `json:"average_in_month"`
	UserValue        *float64 `json:"user_value"`
	UserValueCreated string   `json:"user_value_created"`
	UserValueUpdated string   `json:"user_value_updated"`
}

func tariffKey(d tariffData) int { return d.Number }

// Tariff is one rate zone of a meter, keyed by its zone number rather than
// an opaque id.
type Tariff struct {
	Number           int
	Value            float64
	AverageInMonth   float64
	UserValue        *float64
	UserValueCreated *time.Time
	UserValueUpdated *time.Time
}

func newTariff(d tariffData) (*Tariff, error) {
	t := &Tariff{Number: d.Number}
	if err := t.applyScalars(d); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tariff) recordKey() int { return t.Number }

func (t *Tariff) update(d tariffData) error {
	if t.Number != d.Number {
		return integrityErrorf("tariff number mismatch: have %d, payload %d", t.Number, d.Number)
	}
	return t.applyScalars(d)
}

func (t *Tariff) applyScalars(d tariffData) error {
	created, err := parseOptionalTimestamp(d.UserValueCreated)
	if err != nil {
		return fmt.Errorf("tariff %d: user_value_created: %w", t.Number, err)
	}
	updated, err := parseOptionalTimestamp(d.UserValueUpdated)
	if err != nil {
		return fmt.Errorf("tariff %d: user_value_updated: %w", t.Number, err)
	}

	t.Value = d.Value
	t.AverageInMonth = d.AverageInMonth
	t.UserValue = d.UserValue
	t.UserValueCreated = created
	t.UserValueUpdated = updated
	return nil
}

type meterReadingData struct {
	UID        string               `json:"_uid"`
	Type       string               `json:"_type"`
	Value      float64              `json:"value"`
	TariffType int                  `json:"tariff_type"`
	Date       string               `json:"date"`
	Meter      meterReadingMeterRef `json:"meter"`
}

type meterReadingMeterRef struct {
	UID            string `json:"_uid"`
	Type           string `json:"_type"`
	ImportID       string `json:"import_id"`
	ResourceTypeID int    `json:"resource_type"`
	IsAuto         bool   `json:"is_auto"`
	FactoryNumber  string `json:"factory_number"`
	MeterType      int    `json:"meter_type"`
}

// MeterReading is a submitted reading confirmation returned by the backend.
// Its meter reference is weak: the identity tuple is stored and resolved
// against a model root on demand, never an owning pointer, so it stays valid
// across reconciliation passes.
type MeterReading struct {
	Identity
	Value      float64
	TariffType int
	Date       time.Time
	Meter      MeterRef
}

// MeterRef is the identity plus descriptive fields of the meter a reading
// was recorded against.
type MeterRef struct {
	Identity
	ImportID       string
	ResourceTypeID int
	IsAuto         bool
	FactoryNumber  string
	MeterType      int
}

// Resolve looks the referenced meter up in the given model root, nil when
// the meter no longer exists there.
func (r MeterRef) Resolve(info *Info) *Meter {
	if info == nil {
		return nil
	}
	return info.Meter(r.Identity)
}

// NewMeterReadings decodes the confirmation list returned by the reading
// submission endpoint.
func NewMeterReadings(raw json.RawMessage) ([]*MeterReading, error) {
	var list []meterReadingData
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding meter readings: %w", err)
	}
	readings := make([]*MeterReading, 0, len(list))
	for _, d := range list {
		date, err := parseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("meter reading %s/%s: date: %w", d.Type, d.UID, err)
		}
		readings = append(readings, &MeterReading{
			Identity:   Identity{UID: d.UID, Type: d.Type},
			Value:      d.Value,
			TariffType: d.TariffType,
			Date:       date,
			Meter: MeterRef{
				Identity:       Identity{UID: d.Meter.UID, Type: d.Meter.Type},
				ImportID:       d.Meter.ImportID,
				ResourceTypeID: d.Meter.ResourceTypeID,
				IsAuto:         d.Meter.IsAuto,
				FactoryNumber:  d.Meter.FactoryNumber,
				MeterType:      d.Meter.MeterType,
			},
		})
	}
	return readings, nil
}
