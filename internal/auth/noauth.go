package auth

import (
	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// noAuthorization lets the board run in auto mode: plugging in is enough to
// charge, credentials are ignored.
type noAuthorization struct {
	base
}

func newNoAuthorization(b base, commander Commander) Policy {
	switchBoardMode(commander, acpw.OperationModeAuto)

	return &noAuthorization{base: b}
}

func (p *noAuthorization) Mode() model.AuthorizationMode {
	return model.ModeNoAuthorization
}

func (p *noAuthorization) Authorize(string) {}

func (p *noAuthorization) AutostartActive() bool { return true }
