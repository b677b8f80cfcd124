// Package meter periodically polls the board's electrical registers. The
// board pushes pilot edges on its own but reports readings only when asked.
package meter

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
)

// Querier requests a register readout from the board.
type Querier interface {
	Query(cmd acpw.CommandID) error
}

// Poller drives the periodic register readout.
type Poller interface {
	Start() error
	Stop() error
}

type poller struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	cfg     *config.Service
	querier Querier
}

// NewPoller creates a poller reading at the configured interval.
func NewPoller(cfg *config.Service, querier Querier) Poller {
	return &poller{
		cfg:     cfg,
		querier: querier,
	}
}

func (p *poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.done = make(chan struct{})
	p.running = true

	p.wg.Add(1)

	go p.run()

	return nil
}

func (p *poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	close(p.done)
	p.wg.Wait()

	p.running = false

	return nil
}

func (p *poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.GetMeterPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *poller) poll() {
	for _, cmd := range []acpw.CommandID{acpw.CmdEnergy, acpw.CmdPower, acpw.CmdCurrent, acpw.CmdVoltage} {
		if err := p.querier.Query(cmd); err != nil {
			log.WithError(err).WithField("command", cmd).Warn("meter: register query failed")
		}
	}
}
