package auth

import (
	"strings"

	"github.com/thoas/go-funk"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// localList authorizes against the whitelist held in configuration. Matching
// is case-insensitive.
type localList struct {
	base

	cfg *config.Service
}

func newLocalList(b base, commander Commander, cfg *config.Service) Policy {
	switchBoardMode(commander, acpw.OperationModeAuthorized)

	return &localList{base: b, cfg: cfg}
}

func (p *localList) Mode() model.AuthorizationMode {
	return model.ModeLocalList
}

func (p *localList) Authorize(uid string) {
	if uid == "" || !p.ShouldAuthorize() {
		return
	}

	if p.controller.AuthorizationOpen() {
		if p.controller.SessionActive() {
			p.handleOpenAuthorization(strings.EqualFold(uid, p.controller.SessionAuthorizationUID()))
		} else {
			p.handleOpenAuthorization(strings.EqualFold(uid, p.controller.AuthorizationUID()))
		}

		return
	}

	if !p.allowed(uid) {
		p.reject()

		return
	}

	p.grant(uid)
}

func (p *localList) allowed(uid string) bool {
	lowered, _ := funk.Map(p.cfg.GetLocalAuthList(), strings.ToLower).([]string)

	return funk.ContainsString(lowered, strings.ToLower(uid))
}
