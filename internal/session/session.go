// Package session tracks one charge transaction's energy and time bounds and
// mirrors it into storage while it lives.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/michalkurzeja/go-clock"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

// StatusReport is the payload emitted on every session status change.
type StatusReport struct {
	SessionID     string              `json:"sessionId"`
	Status        model.SessionStatus `json:"status"`
	StartTime     int64               `json:"startTime"`
	FinishTime    int64               `json:"finishTime,omitempty"`
	InitialEnergy int64               `json:"initialEnergy"`
	LastEnergy    int64               `json:"lastEnergy"`
}

// Session is one charge transaction. It is owned exclusively by one charge
// point; all mutating calls come from the single dispatch loop. The mirror
// goroutine only reads, under the internal lock.
type Session struct {
	mu sync.Mutex

	id               string
	chargePointID    string
	authorizationUID string
	status           model.SessionStatus
	startTime        time.Time
	stopTime         time.Time
	initialEnergyWh  int64
	lastEnergyWh     int64

	publisher      routing.Publisher
	store          storage.Store
	mirrorInterval time.Duration
	done           chan struct{}
	stopOnce       sync.Once
}

// New creates a session with the given authorization credential and the
// current accumulated energy as baseline.
func New(chargePointID, authorizationUID string, energyWh int64, publisher routing.Publisher, store storage.Store, mirrorInterval time.Duration) *Session {
	return &Session{
		id:               uuid.NewString(),
		chargePointID:    chargePointID,
		authorizationUID: authorizationUID,
		initialEnergyWh:  energyWh,
		lastEnergyWh:     energyWh,
		publisher:        publisher,
		store:            store,
		mirrorInterval:   mirrorInterval,
		done:             make(chan struct{}),
	}
}

// Restore rebuilds a live session from its persisted row after a restart.
func Restore(record storage.SessionRecord, publisher routing.Publisher, store storage.Store, mirrorInterval time.Duration) *Session {
	return &Session{
		id:               record.ID,
		chargePointID:    record.ChargePointID,
		authorizationUID: record.AuthorizationUID,
		status:           record.Status,
		startTime:        record.StartTime,
		stopTime:         record.StopTime,
		initialEnergyWh:  record.InitialEnergyWh,
		lastEnergyWh:     record.LastEnergyWh,
		publisher:        publisher,
		store:            store,
		mirrorInterval:   mirrorInterval,
		done:             make(chan struct{}),
	}
}

// ID returns the globally unique session id.
func (s *Session) ID() string {
	return s.id
}

// AuthorizationUID returns the credential the session was started with.
func (s *Session) AuthorizationUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authorizationUID
}

// Status returns the current lifecycle state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Active reports whether the session has not yet stopped.
func (s *Session) Active() bool {
	return s.Status() != model.SessionStopped
}

// EnergyWh returns the energy drawn since the session started.
func (s *Session) EnergyWh() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastEnergyWh - s.initialEnergyWh
}

// SetLastEnergy updates the running energy register mirror.
func (s *Session) SetLastEnergy(wh int64) {
	s.mu.Lock()
	s.lastEnergyWh = wh
	s.mu.Unlock()
}

// Start opens the transaction: stamps the start time, persists the row and
// spawns the storage mirror.
func (s *Session) Start() {
	s.mu.Lock()
	s.startTime = clock.Now()
	s.mu.Unlock()

	s.setStatus(model.SessionStarted)
	s.persist()

	go s.mirror()
}

// StartMirror relaunches the storage mirror for a restored session.
func (s *Session) StartMirror() {
	go s.mirror()
}

// Stop closes the transaction and removes the persisted row. Safe to call
// more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopTime = clock.Now()
		s.mu.Unlock()

		s.setStatus(model.SessionStopped)
		close(s.done)

		if err := s.store.DeleteActiveSession(s.chargePointID); err != nil {
			log.WithError(err).Warn("session: failed to remove persisted row")
		}
	})
}

// Suspend pauses the transaction without touching the start time.
func (s *Session) Suspend() {
	s.setStatus(model.SessionSuspended)
}

// Pause marks the transaction paused by the EVSE side.
func (s *Session) Pause() {
	s.setStatus(model.SessionPaused)
}

// Resume returns a paused or suspended transaction to Started.
func (s *Session) Resume() {
	s.setStatus(model.SessionStarted)
}

// Record snapshots the session for persistence.
func (s *Session) Record() storage.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return storage.SessionRecord{
		ID:               s.id,
		ChargePointID:    s.chargePointID,
		AuthorizationUID: s.authorizationUID,
		Status:           s.status,
		StartTime:        s.startTime,
		StopTime:         s.stopTime,
		InitialEnergyWh:  s.initialEnergyWh,
		LastEnergyWh:     s.lastEnergyWh,
	}
}

// setStatus bundles the state change with its outbound notification.
func (s *Session) setStatus(status model.SessionStatus) {
	s.mu.Lock()
	s.status = status

	report := StatusReport{
		SessionID:     s.id,
		Status:        s.status,
		StartTime:     s.startTime.Unix(),
		InitialEnergy: s.initialEnergyWh,
		LastEnergy:    s.lastEnergyWh,
	}
	if status == model.SessionStopped {
		report.FinishTime = s.stopTime.Unix()
	}
	s.mu.Unlock()

	msg, err := model.NewMessage(model.MessageTypeSessionStatus, report)
	if err != nil {
		log.WithError(err).Error("session: failed to build status report")

		return
	}

	s.publisher.Publish(msg)
}

func (s *Session) persist() {
	if err := s.store.SaveActiveSession(s.Record()); err != nil {
		log.WithError(err).Warn("session: failed to persist row")
	}
}

// mirror periodically writes the live row until the session stops. Writes are
// best-effort: in-memory state stays authoritative.
func (s *Session) mirror() {
	ticker := time.NewTicker(s.mirrorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.persist()
		}
	}
}
