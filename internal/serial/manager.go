package serial

import (
	"sync"
	"time"

	"github.com/futurehomeno/cliffhanger/backoff"
	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
)

const outgoingQueueSize = 64

// FrameHandler receives every decoded inbound frame exactly once, in arrival
// order.
type FrameHandler interface {
	HandleFrame(frame acpw.Frame) error
}

// Manager owns the serial link: it queues outgoing frames, paces writes,
// dispatches inbound frames and recycles a wedged port.
type Manager interface {
	Start() error
	Stop() error

	// Connected reports whether the port is currently open.
	Connected() bool
	// Write queues one encoded frame for paced delivery. It never blocks on
	// the wire; a full queue is an error.
	Write(frame []byte) error
}

type manager struct {
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	cfg     *config.Service
	open    Opener
	handler FrameHandler

	portMu    sync.Mutex
	port      Port
	connected bool

	outgoing  chan []byte
	lastWrite time.Time
}

// NewManager creates a serial link manager. The handler is called from the
// reader goroutine, one frame at a time.
func NewManager(cfg *config.Service, open Opener, handler FrameHandler) Manager {
	return &manager{
		cfg:     cfg,
		open:    open,
		handler: handler,
	}
}

func (m *manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.done = make(chan struct{})
	m.outgoing = make(chan []byte, outgoingQueueSize)
	m.lastWrite = clock.Now()

	m.wg.Add(3)

	go m.readLoop()
	go m.writeLoop()
	go m.watchdogLoop()

	m.running = true

	return nil
}

func (m *manager) Stop() error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()

		return nil
	}

	close(m.done)
	m.running = false
	m.mu.Unlock()

	m.closePort()
	m.wg.Wait()

	return nil
}

func (m *manager) Connected() bool {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	return m.connected
}

func (m *manager) Write(frame []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return errors.New("serial: link is not running")
	}

	select {
	case m.outgoing <- frame:
		return nil
	default:
		return errors.New("serial: outgoing queue is full")
	}
}

// readLoop owns the port: it opens it with backoff, drains inbound bytes
// through the splitter and reopens on any read error.
func (m *manager) readLoop() {
	defer m.wg.Done()

	retry := backoff.NewStateful(time.Second, 10*time.Second, time.Minute, 5, 10)
	splitter := acpw.NewSplitter()
	buf := make([]byte, 256)

	for {
		select {
		case <-m.done:
			return
		default:
		}

		port := m.currentPort()
		if port == nil {
			opened, err := m.open()
			if err != nil {
				log.WithError(err).Warn("serial: failed to open port")

				select {
				case <-m.done:
					return
				case <-time.After(retry.Next()):
				}

				continue
			}

			retry.Reset()
			m.setPort(opened)
			log.Info("serial: port opened")

			continue
		}

		n, err := port.Read(buf)
		if err != nil {
			if m.stopping() {
				return
			}

			log.WithError(err).Warn("serial: read failed, recycling port")
			m.closePort()

			continue
		}

		if n == 0 {
			continue
		}

		for _, frame := range splitter.Push(buf[:n]) {
			if err := m.handler.HandleFrame(frame); err != nil {
				log.
					WithError(err).
					WithField("command", frame.Command).
					Error("serial: failed to handle inbound frame")
			}
		}
	}
}

// writeLoop drains the outgoing queue with a minimum spacing between writes.
func (m *manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case frame := <-m.outgoing:
			m.pace()
			m.writeFrame(frame)
		}
	}
}

// pace enforces the minimum write spacing required by the board.
func (m *manager) pace() {
	m.portMu.Lock()
	elapsed := clock.Since(m.lastWrite)
	m.portMu.Unlock()

	if spacing := m.cfg.GetSerialWritePacing(); elapsed < spacing {
		select {
		case <-m.done:
		case <-clock.After(spacing - elapsed):
		}
	}
}

// writeFrame writes outside the port lock so the watchdog can recycle a port
// wedged inside Write.
func (m *manager) writeFrame(frame []byte) {
	port := m.currentPort()
	if port == nil {
		log.Warn("serial: port closed, outgoing frame dropped")

		return
	}

	if _, err := port.Write(frame); err != nil {
		log.WithError(err).Error("serial: write failed, frame dropped")

		return
	}

	m.portMu.Lock()
	m.lastWrite = clock.Now()
	m.portMu.Unlock()
}

// watchdogLoop recycles the port when frames are pending but nothing has been
// written past the staleness threshold. Dequeued frames are not resent.
func (m *manager) watchdogLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if m.stale() {
				log.Warn("serial: link stale, forcing port recycle")
				m.closePort()
			}
		}
	}
}

func (m *manager) stale() bool {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	if m.port == nil || len(m.outgoing) == 0 {
		return false
	}

	return clock.Since(m.lastWrite) > m.cfg.GetSerialWatchdog()
}

func (m *manager) currentPort() Port {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	return m.port
}

func (m *manager) setPort(port Port) {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	m.port = port
	m.connected = true
}

func (m *manager) closePort() {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	if m.port != nil {
		if err := m.port.Close(); err != nil {
			log.WithError(err).Debug("serial: failed to close port")
		}
	}

	m.port = nil
	m.connected = false
}

func (m *manager) stopping() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
