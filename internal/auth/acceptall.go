package auth

import (
	"strings"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// acceptAll grants any presented credential. Presenting the same credential
// again while its authorization window is open ends the transaction.
type acceptAll struct {
	base
}

func newAcceptAll(b base, commander Commander) Policy {
	switchBoardMode(commander, acpw.OperationModeAuthorized)

	return &acceptAll{base: b}
}

func (p *acceptAll) Mode() model.AuthorizationMode {
	return model.ModeAcceptAll
}

func (p *acceptAll) Authorize(uid string) {
	p.authorizeAny(uid)
}

// authorizeAny is shared with the delegated policy's free mode.
func (b *base) authorizeAny(uid string) {
	if uid == "" || !b.ShouldAuthorize() {
		return
	}

	if b.controller.AuthorizationOpen() {
		if b.controller.SessionActive() {
			b.handleOpenAuthorization(strings.EqualFold(uid, b.controller.SessionAuthorizationUID()))
		} else {
			b.handleOpenAuthorization(strings.EqualFold(uid, b.controller.AuthorizationUID()))
		}

		return
	}

	b.grant(uid)
}
