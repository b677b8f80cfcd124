package auth

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// ocppDelegated forwards every credential to the central system and acts on
// the asynchronous verdict. With free mode enabled it short-circuits into
// accept-all behaviour.
type ocppDelegated struct {
	base

	cfg *config.Service
}

func newOCPPDelegated(b base, commander Commander, cfg *config.Service) Policy {
	switchBoardMode(commander, acpw.OperationModeAuthorized)

	return &ocppDelegated{base: b, cfg: cfg}
}

func (p *ocppDelegated) Mode() model.AuthorizationMode {
	return model.ModeOcppDelegated
}

func (p *ocppDelegated) Authorize(uid string) {
	if uid == "" {
		return
	}

	if p.cfg.GetOcppFreeMode() {
		p.authorizeAny(uid)

		return
	}

	if !p.ShouldAuthorize() {
		return
	}

	p.controller.IndicateAuthorizationPending()
	p.publishAuthorizeRequest(uid)
}

// OnAuthorizationResponse applies the central system's verdict. The idTag
// identifies which request the verdict belongs to; a stale or mismatched tag
// is rejected rather than acted on.
func (p *ocppDelegated) OnAuthorizationResponse(response model.AuthorizationResponse, idTag string) {
	p.controller.SetAuthorizationResponse(response)

	if p.controller.AuthorizationOpen() {
		p.respondToOpenAuthorization(response, idTag)

		return
	}

	switch response {
	case model.ResponseAccepted:
		p.controller.CancelActiveReservation()
		p.grant(idTag)
	case model.ResponseTimeout:
		p.controller.TimeoutAuthorization()
		p.CancelAuthorization()
	default:
		p.reject()
	}
}

// respondToOpenAuthorization handles verdicts arriving while an authorization
// window is already open: an accepted matching tag ends the transaction.
func (p *ocppDelegated) respondToOpenAuthorization(response model.AuthorizationResponse, idTag string) {
	if p.controller.SessionActive() {
		p.handleOpenAuthorization(response == model.ResponseAccepted && strings.EqualFold(idTag, p.controller.SessionAuthorizationUID()))

		return
	}

	if !strings.EqualFold(idTag, p.controller.AuthorizationUID()) {
		p.controller.IndicateAuthorizationFailed()

		return
	}

	switch response {
	case model.ResponseAccepted:
		p.controller.IndicateAuthorizationGranted()

		if err := p.controller.StopCharging(true); err != nil {
			log.WithError(err).Error("auth: failed to stop charging on deauthorization")
		}
	case model.ResponseTimeout:
		p.controller.TimeoutAuthorization()
		p.CancelAuthorization()
	default:
		p.controller.IndicateAuthorizationFailed()
	}
}
