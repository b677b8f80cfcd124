package chargepoint_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	cliffConfig "github.com/futurehomeno/cliffhanger/config"
	"github.com/futurehomeno/cliffhanger/database"
	"github.com/michalkurzeja/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/auth"
	"github.com/enervia/edge-acpw-agent/internal/chargepoint"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/session"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

type fakeCommander struct {
	commands []string
}

func (c *fakeCommander) record(cmd string) error {
	c.commands = append(c.commands, cmd)

	return nil
}

func (c *fakeCommander) SendStartCharging() error { return c.record("start") }
func (c *fakeCommander) SendStopCharging() error  { return c.record("stop") }
func (c *fakeCommander) SendPauseCharge() error   { return c.record("pause") }

func (c *fakeCommander) SendCurrentLimit(amps uint8) error {
	return c.record(fmt.Sprintf("currentLimit:%d", amps))
}

func (c *fakeCommander) SendAvailability(operative bool) error {
	return c.record(fmt.Sprintf("availability:%t", operative))
}

func (c *fakeCommander) SendPeripheralRequest(req acpw.PeripheralRequest) error {
	return c.record(fmt.Sprintf("peripheral:%d", req))
}

func (c *fakeCommander) SendOperationMode(mode acpw.OperationMode) error {
	return c.record(fmt.Sprintf("mode:%d", mode))
}

func (c *fakeCommander) count(cmd string) int {
	n := 0

	for _, got := range c.commands {
		if got == cmd {
			n++
		}
	}

	return n
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []model.Message
}

func (p *recordingPublisher) Publish(msg model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) ofType(t model.MessageType) []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.Message

	for _, msg := range p.messages {
		if msg.Type == t {
			out = append(out, msg)
		}
	}

	return out
}

type fixture struct {
	cp        *chargepoint.ChargePoint
	commander *fakeCommander
	publisher *recordingPublisher
	cfg       *config.Service
	store     storage.Store
}

func newFixture(t *testing.T, mode model.AuthorizationMode) *fixture {
	t.Helper()

	defaults := config.New(t.TempDir())
	cfg := config.NewService(cliffConfig.NewStorage(defaults, defaults.WorkDir))

	db, err := database.NewDatabase(t.TempDir())
	require.NoError(t, err)

	store := storage.NewStore(db)
	require.NoError(t, store.Start())

	t.Cleanup(func() {
		_ = store.Reset()
		_ = store.Stop()
	})

	f := &fixture{
		commander: &fakeCommander{},
		publisher: &recordingPublisher{},
		cfg:       cfg,
		store:     store,
	}

	dispatch := func(fn func()) { fn() }

	f.cp = chargepoint.New(cfg, f.commander, f.publisher, store, dispatch)

	policy, err := auth.NewPolicy(mode, auth.Dependencies{
		Controller: f.cp,
		Commander:  f.commander,
		Config:     cfg,
		Publisher:  f.publisher,
		Dispatch:   dispatch,
	})
	require.NoError(t, err)

	f.cp.SetPolicy(policy)
	f.cp.SetInitialized()

	return f
}

func (f *fixture) pilot(states ...model.ControlPilotState) {
	for _, state := range states {
		f.cp.OnPilotState(state)
	}
}

func TestChargePoint_AutostartFullCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	assert.Equal(t, model.StatusAvailable, f.cp.Status())

	f.pilot(model.ControlPilotB1)
	assert.Equal(t, model.StatusPreparing, f.cp.Status())
	assert.Equal(t, 1, f.commander.count("start"))
	assert.Equal(t, model.AutoStartUID, f.cp.AuthorizationUID())

	f.pilot(model.ControlPilotC2)
	assert.Equal(t, model.StatusCharging, f.cp.Status())
	require.True(t, f.cp.SessionActive())
	assert.Equal(t, model.AutoStartUID, f.cp.CurrentSession().AuthorizationUID())

	sessionID := f.cp.CurrentSession().ID()

	f.cp.SetEnergy(1500)

	f.pilot(model.ControlPilotA1)
	assert.False(t, f.cp.SessionActive())
	assert.Equal(t, model.StatusAvailable, f.cp.Status())
	assert.False(t, f.cp.AuthorizationOpen())

	row, err := f.store.LoadActiveSession(f.cp.ID())
	require.NoError(t, err)
	assert.Nil(t, row)

	// Exactly one session for the whole plug cycle.
	var ids []string

	for _, msg := range f.publisher.ofType(model.MessageTypeSessionStatus) {
		var report session.StatusReport

		require.NoError(t, json.Unmarshal(msg.Data, &report))

		ids = append(ids, report.SessionID)
	}

	require.NotEmpty(t, ids)

	for _, id := range ids {
		assert.Equal(t, sessionID, id)
	}
}

func TestChargePoint_LocalListGrantThenCharge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeLocalList)
	require.NoError(t, f.cfg.AddLocalAuthUID("04AABBCC"))

	f.cp.Authorize("04aabbcc")
	assert.True(t, f.cp.IsAuthorized())
	assert.Equal(t, "04aabbcc", f.cp.AuthorizationUID())
	assert.Equal(t, 1, f.commander.count("start"))

	f.pilot(model.ControlPilotB1, model.ControlPilotC2)

	require.True(t, f.cp.SessionActive())
	assert.Equal(t, "04aabbcc", f.cp.CurrentSession().AuthorizationUID())
	assert.Equal(t, model.StatusCharging, f.cp.Status())
}

func TestChargePoint_UnauthorizedPlugStaysPreparing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeLocalList)

	f.pilot(model.ControlPilotB1)
	assert.Equal(t, model.StatusPreparing, f.cp.Status())
	assert.Zero(t, f.commander.count("start"))

	f.pilot(model.ControlPilotC1)
	assert.Equal(t, model.StatusPreparing, f.cp.Status())
	assert.False(t, f.cp.SessionActive())
}

func TestChargePoint_AuthorizationTimesOutUnplugged(t *testing.T) { //nolint:paralleltest
	mock := clock.Mock(time.Date(2025, time.March, 5, 11, 0, 0, 0, time.UTC))
	defer clock.Restore()

	f := newFixture(t, model.ModeLocalList)
	require.NoError(t, f.cfg.AddLocalAuthUID("04AABBCC"))

	f.cp.Authorize("04AABBCC")
	require.True(t, f.cp.IsAuthorized())

	mock.Add(f.cfg.GetAuthorizationTimeout() + time.Second)

	assert.False(t, f.cp.IsAuthorized())
	assert.Equal(t, 1, f.commander.count("stop"))
	assert.Equal(t, model.StatusAvailable, f.cp.Status())

	responses := f.publisher.ofType(model.MessageTypeAuthResponse)
	require.NotEmpty(t, responses)
	assert.JSONEq(t, `{"response":"Timeout"}`, string(responses[len(responses)-1].Data))
}

func TestChargePoint_SessionSurvivesPilotDip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	sessionID := f.cp.CurrentSession().ID()

	f.pilot(model.ControlPilotB1)
	require.True(t, f.cp.SessionActive())
	assert.Equal(t, sessionID, f.cp.CurrentSession().ID())

	f.pilot(model.ControlPilotC2)
	assert.Equal(t, model.StatusCharging, f.cp.Status())
	assert.Equal(t, model.SessionStarted, f.cp.CurrentSession().Status())
}

func TestChargePoint_ChargeHeldSuspendsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	f.pilot(model.ControlPilotC1)
	assert.Equal(t, model.StatusSuspendedEVSE, f.cp.Status())
	assert.Equal(t, model.SessionPaused, f.cp.CurrentSession().Status())

	f.pilot(model.ControlPilotB2)
	assert.Equal(t, model.StatusSuspendedEV, f.cp.Status())
	assert.Equal(t, model.SessionSuspended, f.cp.CurrentSession().Status())
}

func TestChargePoint_StopRequestFinishesOnChargeHeld(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	require.NoError(t, f.cp.StopCharging(true))
	assert.True(t, f.cp.StopRequested())

	f.pilot(model.ControlPilotC1)
	assert.Equal(t, model.StatusFinishing, f.cp.Status())

	f.pilot(model.ControlPilotA1)
	assert.False(t, f.cp.SessionActive())
	assert.Equal(t, model.StatusAvailable, f.cp.Status())
	assert.False(t, f.cp.StopRequested())
}

func TestChargePoint_RestartAfterStopClearsStopRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeLocalList)
	require.NoError(t, f.cfg.AddLocalAuthUID("04AABBCC"))

	f.cp.Authorize("04AABBCC")
	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	require.NoError(t, f.cp.StopCharging(true))
	require.True(t, f.cp.StopRequested())

	f.pilot(model.ControlPilotC1)
	require.Equal(t, model.StatusFinishing, f.cp.Status())

	// A fresh swipe while still plugged opens a new transaction.
	f.cp.Authorize("04AABBCC")
	f.pilot(model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())
	assert.False(t, f.cp.StopRequested())

	sessionID := f.cp.CurrentSession().ID()

	// The stale stop request must not tear the new session down on a B1 dip.
	f.pilot(model.ControlPilotB1)
	require.True(t, f.cp.SessionActive())
	assert.Equal(t, sessionID, f.cp.CurrentSession().ID())
}

func TestChargePoint_FaultOverridesAndRestores(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.Equal(t, model.StatusCharging, f.cp.Status())

	f.cp.SetFaultMask(1 << 17)
	assert.Equal(t, model.StatusFaulted, f.cp.Status())
	assert.Equal(t, model.ErrorGroundFailure, f.cp.ErrorCode())
	assert.True(t, f.cp.SessionActive())

	f.cp.SetFaultMask(0)
	assert.Equal(t, model.StatusCharging, f.cp.Status())
	assert.Equal(t, model.ErrorNone, f.cp.ErrorCode())
}

func TestClassifyFaultMask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mask uint32
		want model.ErrorCode
	}{
		{mask: 0, want: model.ErrorNone},
		{mask: 1 << 0, want: model.ErrorConnectorLock},
		{mask: 1 << 19, want: model.ErrorConnectorLock},
		{mask: 1 << 17, want: model.ErrorGroundFailure},
		{mask: 1 << 14, want: model.ErrorOverCurrent},
		{mask: 1 << 11, want: model.ErrorUnderVoltage},
		{mask: 1 << 8, want: model.ErrorOverVoltage},
		{mask: 1 << 5, want: model.ErrorOther},
		// Lock failure wins over ground failure.
		{mask: 1<<0 | 1<<17, want: model.ErrorConnectorLock},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(fmt.Sprintf("0x%06X", tc.mask), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, model.ModeNoAuthorization)

			f.cp.SetFaultMask(tc.mask)
			assert.Equal(t, tc.want, f.cp.ErrorCode())
		})
	}
}

func TestChargePoint_Reservation(t *testing.T) { //nolint:paralleltest
	clock.Mock(time.Date(2025, time.March, 5, 11, 0, 0, 0, time.UTC))
	defer clock.Restore()

	f := newFixture(t, model.ModeLocalList)

	f.cp.MakeReservation(7, "04AABBCC", clock.Now().Add(time.Hour))
	assert.Equal(t, model.StatusReserved, f.cp.Status())
	assert.Equal(t, 1, f.commander.count(fmt.Sprintf("peripheral:%d", acpw.PeripheralStartBlinkReserve)))

	// Unknown id does not release the slot.
	f.cp.CancelReservation(99)
	assert.Equal(t, model.StatusReserved, f.cp.Status())

	f.cp.CancelReservation(7)
	assert.Equal(t, model.StatusAvailable, f.cp.Status())
	assert.Equal(t, 1, f.commander.count(fmt.Sprintf("peripheral:%d", acpw.PeripheralStopBlinkReserve)))

	// Cancelling again is a no-op.
	f.cp.CancelReservation(7)
	assert.Equal(t, 1, f.commander.count(fmt.Sprintf("peripheral:%d", acpw.PeripheralStopBlinkReserve)))
}

func TestChargePoint_ReservationExpires(t *testing.T) { //nolint:paralleltest
	mock := clock.Mock(time.Date(2025, time.March, 5, 11, 0, 0, 0, time.UTC))
	defer clock.Restore()

	f := newFixture(t, model.ModeLocalList)

	f.cp.MakeReservation(7, "04AABBCC", clock.Now().Add(30*time.Minute))
	require.Equal(t, model.StatusReserved, f.cp.Status())

	mock.Add(31 * time.Minute)

	assert.Equal(t, model.StatusAvailable, f.cp.Status())
	reservation := f.cp.Reservation()
	require.NotNil(t, reservation)
	assert.Equal(t, model.ReservationDisabled, reservation.Status)
}

func TestChargePoint_Availability(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	require.NoError(t, f.cp.SetAvailability(model.Inoperative))
	assert.Equal(t, model.StatusUnavailable, f.cp.Status())
	assert.Equal(t, 1, f.commander.count("availability:false"))

	require.NoError(t, f.cp.SetAvailability(model.Operative))
	assert.Equal(t, model.StatusAvailable, f.cp.Status())
	assert.Equal(t, 1, f.commander.count("availability:true"))
}

func TestChargePoint_CurrentLimitClamped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	require.NoError(t, f.cp.SetCurrentLimit(100))
	assert.Equal(t, f.cfg.GetMaxCurrent(), f.cp.CurrentLimit())

	require.NoError(t, f.cp.SetCurrentLimit(1))
	assert.Equal(t, f.cfg.GetMinCurrent(), f.cp.CurrentLimit())

	require.NoError(t, f.cp.SetCurrentLimit(16))
	assert.Equal(t, uint8(16), f.cp.CurrentLimit())
	assert.Equal(t, 1, f.commander.count("currentLimit:16"))
}

func TestChargePoint_TelemetryPublished(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.cp.SetVoltage(model.PhaseValues{L1: 230000, L2: 231000, L3: 229500})
	f.cp.SetCurrent(model.PhaseValues{L1: 16000, L2: 15800, L3: 16100})
	f.cp.SetPower(model.PhaseValues{L1: 3680000, L2: 3650000, L3: 3700000})
	f.cp.SetEnergy(123456)

	assert.Len(t, f.publisher.ofType(model.MessageTypeVoltage), 1)
	assert.Len(t, f.publisher.ofType(model.MessageTypeCurrent), 1)
	assert.Len(t, f.publisher.ofType(model.MessageTypePower), 1)
	assert.Len(t, f.publisher.ofType(model.MessageTypeEnergy), 1)

	telemetry := f.cp.Telemetry()
	assert.Equal(t, int64(230000), telemetry.Voltage.L1)
	assert.Equal(t, int64(123456), telemetry.EnergyWh)
}

func TestChargePoint_SessionEnergyAccounting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.cp.SetEnergy(10000)
	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	f.cp.SetEnergy(12500)
	assert.Equal(t, int64(2500), f.cp.CurrentSession().EnergyWh())
}

func TestChargePoint_RestoreAfterRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, model.ModeNoAuthorization)

	f.cp.SetEnergy(5000)
	require.NoError(t, f.cp.SetCurrentLimit(20))
	f.pilot(model.ControlPilotB1, model.ControlPilotC2)
	require.True(t, f.cp.SessionActive())

	sessionID := f.cp.CurrentSession().ID()

	restored := chargepoint.New(f.cfg, f.commander, f.publisher, f.store, func(fn func()) { fn() })
	require.NoError(t, restored.Restore())

	assert.Equal(t, model.StatusCharging, restored.Status())
	assert.Equal(t, uint8(20), restored.CurrentLimit())
	assert.Equal(t, int64(5000), restored.Telemetry().EnergyWh)
	require.True(t, restored.SessionActive())
	assert.Equal(t, sessionID, restored.CurrentSession().ID())
}
