package station

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// ecoGate tracks whether the current eco window already released a charge,
// so the start command goes out once per window.
type ecoGate struct {
	released bool
}

// delayGate holds the one-shot countdown timer.
type delayGate struct {
	timer *bclock.Timer
}

func (g *delayGate) stop() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// SetEcoCharge applies a daily charge window. Arming it disarms a pending
// delay countdown; disarming it releases a charge the window was holding
// back.
func (s *Supervisor) SetEcoCharge(cfg model.EcoChargeConfig) error {
	if cfg.Enabled {
		if _, err := parseWallClock(cfg.Start); err != nil {
			return errors.Wrap(err, "station: invalid eco window start")
		}

		if _, err := parseWallClock(cfg.Stop); err != nil {
			return errors.Wrap(err, "station: invalid eco window stop")
		}

		if delay := s.cfg.GetDelayCharge(); delay.Enabled {
			s.delay.stop()

			delay.Enabled = false

			if err := s.cfg.SetDelayCharge(delay); err != nil {
				return errors.Wrap(err, "station: failed to disarm delay charge")
			}
		}
	}

	if err := s.cfg.SetEcoCharge(cfg); err != nil {
		return errors.Wrap(err, "station: failed to persist eco charge")
	}

	s.eco.released = false
	s.publishMessage(model.MessageTypeEcoCharge, cfg)

	if !cfg.Enabled {
		s.releaseHeldCharge()
	}

	return nil
}

// SetDelayCharge applies a one-shot start countdown. Arming it disarms the
// eco window; the countdown does not survive an unplug.
func (s *Supervisor) SetDelayCharge(cfg model.DelayChargeConfig) error {
	if cfg.Enabled {
		if cfg.Delay <= 0 {
			return errors.New("station: delay must be positive")
		}

		if eco := s.cfg.GetEcoCharge(); eco.Enabled {
			eco.Enabled = false

			if err := s.cfg.SetEcoCharge(eco); err != nil {
				return errors.Wrap(err, "station: failed to disarm eco charge")
			}
		}
	}

	return s.applyDelayCharge(cfg)
}

func (s *Supervisor) applyDelayCharge(cfg model.DelayChargeConfig) error {
	s.delay.stop()

	if cfg.Enabled {
		s.delay.timer = clock.AfterFunc(cfg.Delay, func() {
			s.Do(s.delayElapsed)
		})
	}

	if err := s.cfg.SetDelayCharge(cfg); err != nil {
		return errors.Wrap(err, "station: failed to persist delay charge")
	}

	s.publishMessage(model.MessageTypeDelayCharge, cfg)

	if !cfg.Enabled {
		s.releaseHeldCharge()
	}

	return nil
}

func (s *Supervisor) delayElapsed() {
	cfg := s.cfg.GetDelayCharge()
	cfg.Enabled = false

	if err := s.cfg.SetDelayCharge(cfg); err != nil {
		log.WithError(err).Error("station: failed to clear elapsed delay charge")
	}

	s.publishMessage(model.MessageTypeDelayCharge, cfg)
	s.releaseHeldCharge()
}

// ecoLoop polls the wall clock so the window opens without any board event.
func (s *Supervisor) ecoLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Do(s.checkEcoWindow)
		}
	}
}

func (s *Supervisor) checkEcoWindow() {
	eco := s.cfg.GetEcoCharge()
	if !eco.Enabled {
		return
	}

	in, err := inWindow(clock.Now(), eco.Start, eco.Stop)
	if err != nil {
		log.WithError(err).Debug("station: unusable eco window")

		return
	}

	if !in {
		s.eco.released = false

		return
	}

	if s.eco.released {
		return
	}

	if s.releaseHeldCharge() {
		s.eco.released = true
	}
}

// releaseHeldCharge starts an authorized charge that is plugged and waiting.
// Returns true when the start command was issued.
func (s *Supervisor) releaseHeldCharge() bool {
	if !s.cp.AuthorizationOpen() || s.cp.SessionActive() || !pluggedWaiting(s.cp.PilotState()) {
		return false
	}

	if err := s.cp.StartCharging(); err != nil {
		log.WithError(err).Error("station: failed to release held charge")

		return false
	}

	return true
}

func pluggedWaiting(state model.ControlPilotState) bool {
	return state == model.ControlPilotB1 || state == model.ControlPilotC1
}

// parseWallClock parses a "HH:MM" mark into minutes after midnight.
func parseWallClock(mark string) (int, error) {
	parsed, err := time.Parse("15:04", mark)
	if err != nil {
		return 0, err
	}

	return parsed.Hour()*60 + parsed.Minute(), nil
}

// inWindow reports whether now falls inside the [start, stop) daily window.
// Windows crossing midnight wrap; an empty window never matches.
func inWindow(now time.Time, start, stop string) (bool, error) {
	startMin, err := parseWallClock(start)
	if err != nil {
		return false, err
	}

	stopMin, err := parseWallClock(stop)
	if err != nil {
		return false, err
	}

	nowMin := now.Hour()*60 + now.Minute()

	switch {
	case startMin == stopMin:
		return false, nil
	case startMin < stopMin:
		return nowMin >= startMin && nowMin < stopMin, nil
	default:
		return nowMin >= startMin || nowMin < stopMin, nil
	}
}
