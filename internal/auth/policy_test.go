package auth_test

import (
	"testing"
	"time"

	cliffConfig "github.com/futurehomeno/cliffhanger/config"
	"github.com/michalkurzeja/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/auth"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
)

type fakeController struct {
	pilot         model.ControlPilotState
	status        model.ChargePointStatus
	availability  model.Availability
	open          bool
	uid           string
	sessionActive bool
	sessionUID    string
	response      model.AuthorizationResponse
	calls         []string
}

func newFakeController() *fakeController {
	return &fakeController{
		pilot:        model.ControlPilotA1,
		status:       model.StatusAvailable,
		availability: model.Operative,
	}
}

func (c *fakeController) PilotState() model.ControlPilotState { return c.pilot }
func (c *fakeController) Status() model.ChargePointStatus     { return c.status }
func (c *fakeController) Availability() model.Availability    { return c.availability }
func (c *fakeController) IsAuthorized() bool                  { return c.uid != "" && c.open }
func (c *fakeController) AuthorizationOpen() bool             { return c.open }
func (c *fakeController) AuthorizationUID() string            { return c.uid }
func (c *fakeController) SessionActive() bool                 { return c.sessionActive }
func (c *fakeController) SessionAuthorizationUID() string     { return c.sessionUID }

func (c *fakeController) GrantAuthorization(uid string) {
	c.open = true
	c.uid = uid
	c.calls = append(c.calls, "grant:"+uid)
}

func (c *fakeController) SetAuthorizationResponse(response model.AuthorizationResponse) {
	c.response = response
}

func (c *fakeController) TimeoutAuthorization() {
	c.open = false
	c.uid = ""
	c.calls = append(c.calls, "timeout")
}

func (c *fakeController) ClearAuthorization() {
	c.open = false
	c.uid = ""
	c.calls = append(c.calls, "clear")
}

func (c *fakeController) StartCharging() error {
	c.calls = append(c.calls, "startCharging")

	return nil
}

func (c *fakeController) StopCharging(finishAuthorization bool) error {
	if finishAuthorization {
		c.calls = append(c.calls, "stopCharging:finish")
	} else {
		c.calls = append(c.calls, "stopCharging")
	}

	return nil
}

func (c *fakeController) FinishDanglingSession()        { c.calls = append(c.calls, "finishDangling") }
func (c *fakeController) CancelActiveReservation()      { c.calls = append(c.calls, "cancelReservation") }
func (c *fakeController) IndicateAuthorizationPending() { c.calls = append(c.calls, "indicatePending") }
func (c *fakeController) IndicateAuthorizationGranted() { c.calls = append(c.calls, "indicateGranted") }
func (c *fakeController) IndicateAuthorizationFailed()  { c.calls = append(c.calls, "indicateFailed") }

func (c *fakeController) called(name string) bool {
	for _, call := range c.calls {
		if call == name {
			return true
		}
	}

	return false
}

type fakeCommander struct {
	modes []acpw.OperationMode
}

func (c *fakeCommander) SendOperationMode(mode acpw.OperationMode) error {
	c.modes = append(c.modes, mode)

	return nil
}

type capturingPublisher struct {
	messages []model.Message
}

func (p *capturingPublisher) Publish(msg model.Message) {
	p.messages = append(p.messages, msg)
}

var _ routing.Publisher = &capturingPublisher{}

type policyFixture struct {
	controller *fakeController
	commander  *fakeCommander
	publisher  *capturingPublisher
	cfg        *config.Service
}

func newPolicyFixture(t *testing.T) *policyFixture {
	t.Helper()

	cfg := config.New(t.TempDir())

	return &policyFixture{
		controller: newFakeController(),
		commander:  &fakeCommander{},
		publisher:  &capturingPublisher{},
		cfg:        config.NewService(cliffConfig.NewStorage(cfg, cfg.WorkDir)),
	}
}

func (f *policyFixture) policy(t *testing.T, mode model.AuthorizationMode) auth.Policy {
	t.Helper()

	policy, err := auth.NewPolicy(mode, auth.Dependencies{
		Controller: f.controller,
		Commander:  f.commander,
		Config:     f.cfg,
		Publisher:  f.publisher,
		Dispatch:   func(fn func()) { fn() },
	})
	require.NoError(t, err)

	t.Cleanup(policy.Close)

	return policy
}

func TestNoAuthorization(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeNoAuthorization)

	assert.Equal(t, model.ModeNoAuthorization, policy.Mode())
	assert.True(t, policy.AutostartActive())
	assert.Equal(t, []acpw.OperationMode{acpw.OperationModeAuto}, f.commander.modes)

	policy.Authorize("04AABBCC")
	assert.Empty(t, f.controller.calls)
}

func TestLocalList_Authorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		list        []string
		uid         string
		wantGranted bool
	}{
		{name: "known credential", list: []string{"04AABBCC"}, uid: "04AABBCC", wantGranted: true},
		{name: "case insensitive match", list: []string{"04aabbcc"}, uid: "04AABBCC", wantGranted: true},
		{name: "unknown credential", list: []string{"04AABBCC"}, uid: "FFFFFFFF", wantGranted: false},
		{name: "empty list", list: nil, uid: "04AABBCC", wantGranted: false},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newPolicyFixture(t)

			for _, uid := range tc.list {
				require.NoError(t, f.cfg.AddLocalAuthUID(uid))
			}

			policy := f.policy(t, model.ModeLocalList)
			assert.Equal(t, []acpw.OperationMode{acpw.OperationModeAuthorized}, f.commander.modes)

			policy.Authorize(tc.uid)

			if tc.wantGranted {
				assert.True(t, f.controller.called("grant:"+tc.uid))
				assert.True(t, f.controller.called("startCharging"))
				assert.Equal(t, model.ResponseAccepted, f.controller.response)
			} else {
				assert.False(t, f.controller.open)
				assert.True(t, f.controller.called("indicateFailed"))
				assert.Equal(t, model.ResponseInvalid, f.controller.response)
			}
		})
	}
}

func TestLocalList_SecondPresentationEndsAuthorization(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	require.NoError(t, f.cfg.AddLocalAuthUID("04AABBCC"))

	policy := f.policy(t, model.ModeLocalList)

	policy.Authorize("04AABBCC")
	require.True(t, f.controller.open)

	f.controller.calls = nil

	policy.Authorize("04AABBCC")

	assert.True(t, f.controller.called("stopCharging:finish"))
	assert.False(t, f.controller.called("startCharging"))
}

func TestLocalList_MismatchedPresentationDuringSession(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	require.NoError(t, f.cfg.AddLocalAuthUID("04AABBCC"))
	require.NoError(t, f.cfg.AddLocalAuthUID("OTHER"))

	policy := f.policy(t, model.ModeLocalList)

	policy.Authorize("04AABBCC")

	f.controller.sessionActive = true
	f.controller.sessionUID = "04AABBCC"
	f.controller.calls = nil

	policy.Authorize("OTHER")

	assert.True(t, f.controller.called("indicateFailed"))
	assert.False(t, f.controller.called("stopCharging:finish"))
	assert.Equal(t, model.ResponseInvalid, f.controller.response)
}

func TestAcceptAll_GrantsAnyCredential(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeAcceptAll)

	policy.Authorize("anything")

	assert.True(t, f.controller.called("grant:anything"))
	assert.True(t, f.controller.called("startCharging"))
}

func TestAuthorizationTimeout(t *testing.T) { //nolint:paralleltest
	mock := clock.Mock(time.Date(2025, time.March, 5, 11, 0, 0, 0, time.UTC))
	defer clock.Restore()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeAcceptAll)

	policy.Authorize("04AABBCC")
	require.True(t, f.controller.open)

	f.controller.calls = nil

	mock.Add(f.cfg.GetAuthorizationTimeout() + time.Second)

	assert.Equal(t, model.ResponseTimeout, f.controller.response)
	assert.True(t, f.controller.called("timeout"))
	assert.True(t, f.controller.called("stopCharging:finish"))
	assert.False(t, f.controller.open)
}

func TestAuthorizationTimeout_SkippedWhenPluggedIn(t *testing.T) { //nolint:paralleltest
	mock := clock.Mock(time.Date(2025, time.March, 5, 11, 0, 0, 0, time.UTC))
	defer clock.Restore()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeAcceptAll)

	policy.Authorize("04AABBCC")

	f.controller.pilot = model.ControlPilotB1
	f.controller.calls = nil

	mock.Add(f.cfg.GetAuthorizationTimeout() + time.Second)

	assert.True(t, f.controller.open)
	assert.Empty(t, f.controller.calls)
}

func TestOCPP_AuthorizePublishesRequest(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeOcppDelegated)

	policy.Authorize("04AABBCC")

	assert.True(t, f.controller.called("indicatePending"))
	require.Len(t, f.publisher.messages, 1)
	assert.Equal(t, model.MessageTypeAuthorizeRequest, f.publisher.messages[0].Type)
	assert.JSONEq(t, `{"idTag":"04AABBCC"}`, string(f.publisher.messages[0].Data))
	assert.False(t, f.controller.open)
}

func TestOCPP_AcceptedResponseGrants(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeOcppDelegated)

	policy.Authorize("04AABBCC")
	policy.OnAuthorizationResponse(model.ResponseAccepted, "04AABBCC")

	assert.True(t, f.controller.called("cancelReservation"))
	assert.True(t, f.controller.called("grant:04AABBCC"))
	assert.True(t, f.controller.called("startCharging"))
}

func TestOCPP_RejectedResponse(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeOcppDelegated)

	policy.Authorize("04AABBCC")
	policy.OnAuthorizationResponse(model.ResponseBlocked, "04AABBCC")

	assert.False(t, f.controller.open)
	assert.True(t, f.controller.called("indicateFailed"))
	assert.Equal(t, model.ResponseInvalid, f.controller.response)
}

func TestOCPP_AcceptedResponseWhileOpenEndsAuthorization(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	policy := f.policy(t, model.ModeOcppDelegated)

	f.controller.open = true
	f.controller.uid = "04AABBCC"

	policy.OnAuthorizationResponse(model.ResponseAccepted, "04AABBCC")

	assert.True(t, f.controller.called("stopCharging:finish"))
	assert.False(t, f.controller.called("grant:04AABBCC"))
}

func TestOCPP_FreeModeGrantsLocally(t *testing.T) {
	t.Parallel()

	f := newPolicyFixture(t)
	require.NoError(t, f.cfg.SetOcppFreeMode(true))

	policy := f.policy(t, model.ModeOcppDelegated)

	policy.Authorize("04AABBCC")

	assert.Empty(t, f.publisher.messages)
	assert.True(t, f.controller.called("grant:04AABBCC"))
}
