// Package storage is the persistence facade of the agent. Rows are mirrors of
// in-memory state: they are written best-effort and read back only at boot.
package storage

import (
	"time"

	"github.com/futurehomeno/cliffhanger/database"
	"github.com/pkg/errors"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

const (
	bucketChargePoints  = "chargePoints:"
	bucketActiveSession = "activeChargeSession:"
	bucketStation       = "chargeStation:"

	stationKey = "station"
)

// ChargePointRecord is the persisted mirror of one charge point.
type ChargePointRecord struct {
	ID             string                    `json:"id"`
	Status         model.ChargePointStatus   `json:"status"`
	PilotState     model.ControlPilotState   `json:"pilotState"`
	ProximityState model.ProximityPilotState `json:"proximityState"`
	ErrorCode      model.ErrorCode           `json:"errorCode"`
	Availability   model.Availability        `json:"availability"`
	Telemetry      model.Telemetry           `json:"telemetry"`
	Reservation    *model.Reservation        `json:"reservation,omitempty"`
	CurrentLimit   uint8                     `json:"currentLimit"`
}

// SessionRecord is the persisted mirror of the live charge session. The row
// exists only while the session does.
type SessionRecord struct {
	ID               string              `json:"id"`
	ChargePointID    string              `json:"chargePointId"`
	AuthorizationUID string              `json:"authorizationUid"`
	Status           model.SessionStatus `json:"status"`
	StartTime        time.Time           `json:"startTime"`
	StopTime         time.Time           `json:"stopTime,omitempty"`
	InitialEnergyWh  int64               `json:"initialEnergyWh"`
	LastEnergyWh     int64               `json:"lastEnergyWh"`
}

// StationRecord is the persisted singleton station row.
type StationRecord struct {
	State model.StationState `json:"state"`
}

// Store persists charge point, session and station rows.
type Store interface {
	Start() error
	Stop() error
	Reset() error

	SaveChargePoint(record ChargePointRecord) error
	LoadChargePoint(id string) (*ChargePointRecord, error)

	SaveActiveSession(record SessionRecord) error
	LoadActiveSession(chargePointID string) (*SessionRecord, error)
	DeleteActiveSession(chargePointID string) error

	SaveStation(record StationRecord) error
	LoadStation() (*StationRecord, error)
}

type store struct {
	db database.Database
}

// NewStore creates a store over the given database.
func NewStore(db database.Database) Store {
	return &store{db: db}
}

func (s *store) Start() error {
	return s.db.Start()
}

func (s *store) Stop() error {
	return s.db.Stop()
}

func (s *store) Reset() error {
	return s.db.Reset()
}

func (s *store) SaveChargePoint(record ChargePointRecord) error {
	if record.ID == "" {
		return errors.New("storage: charge point record without id")
	}

	return s.db.Set(bucketChargePoints, record.ID, record)
}

func (s *store) LoadChargePoint(id string) (*ChargePointRecord, error) {
	record := &ChargePointRecord{}

	ok, err := s.db.Get(bucketChargePoints, id, record)
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to load charge point row")
	}

	if !ok {
		return nil, nil
	}

	return record, nil
}

func (s *store) SaveActiveSession(record SessionRecord) error {
	if record.ChargePointID == "" {
		return errors.New("storage: session record without charge point id")
	}

	return s.db.Set(bucketActiveSession, record.ChargePointID, record)
}

func (s *store) LoadActiveSession(chargePointID string) (*SessionRecord, error) {
	record := &SessionRecord{}

	ok, err := s.db.Get(bucketActiveSession, chargePointID, record)
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to load active session row")
	}

	if !ok {
		return nil, nil
	}

	return record, nil
}

func (s *store) DeleteActiveSession(chargePointID string) error {
	return s.db.Delete(bucketActiveSession, chargePointID)
}

func (s *store) SaveStation(record StationRecord) error {
	return s.db.Set(bucketStation, stationKey, record)
}

func (s *store) LoadStation() (*StationRecord, error) {
	record := &StationRecord{}

	ok, err := s.db.Get(bucketStation, stationKey, record)
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to load station row")
	}

	if !ok {
		return nil, nil
	}

	return record, nil
}
