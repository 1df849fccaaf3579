// Package stream owns the live push channel and its reconnect policy.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/api"
	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/models"
)

// Status is the connection status of a Manager.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrDecode wraps frames that are not a valid message.
var ErrDecode = errors.New("decode frame")

// URLFunc builds the push channel URL for a token.
type URLFunc func(token string) string

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Dialer      Dialer
	URL         URLFunc
	Tokens      api.TokenSource
	DialTimeout time.Duration

	// OnOpen runs after the channel opened.
	OnOpen func()

	// OnLost runs when the channel failed or closed without Close being
	// called. A failed dial counts.
	OnLost func(err error)
}

// Manager holds at most one open push channel.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger

	mu     sync.Mutex
	status Status
	conn   Conn
	cancel context.CancelFunc
	gen    uint64

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Manager{opts: opts, logger: logging.Component("stream")}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect opens the channel in the background and delivers decoded
// messages to onMessage on the reader goroutine. It is a no-op while
// connecting or connected, and when no token is available.
func (m *Manager) Connect(ctx context.Context, onMessage func(models.Message)) {
	m.mu.Lock()
	if m.status != Disconnected {
		m.mu.Unlock()
		return
	}
	token := ""
	if m.opts.Tokens != nil {
		token = m.opts.Tokens.Token()
	}
	if token == "" {
		m.mu.Unlock()
		m.logger.Debug().Msg("connect skipped, no token")
		return
	}
	m.status = Connecting
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	url := m.opts.URL(token)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx, gen, url, onMessage)
}

// Close closes the channel with LocalCloseReason. It never triggers
// OnLost.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.status == Disconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn := m.conn
	cancel := m.cancel
	m.conn = nil
	m.cancel = nil
	m.status = Disconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(LocalCloseReason); err != nil {
			m.logger.Debug().Err(err).Msg("close channel")
		}
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info().Msg("stream closed")
}

// Wait blocks until the reader goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) current(gen uint64) bool {
	return m.gen == gen
}

func (m *Manager) run(ctx context.Context, gen uint64, url string, onMessage func(models.Message)) {
	defer m.wg.Done()

	logger := m.logger.With().Str("url", logging.RedactURL(url)).Logger()

	dialCtx, cancelDial := context.WithTimeout(ctx, m.opts.DialTimeout)
	conn, err := m.opts.Dialer.Dial(dialCtx, url)
	cancelDial()

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(LocalCloseReason)
		}
		return
	}
	if err != nil {
		m.status = Disconnected
		cancel := m.cancel
		m.cancel = nil
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		logger.Warn().Err(err).Msg("stream dial failed")
		m.lost(err)
		return
	}
	m.status = Connected
	m.conn = conn
	m.mu.Unlock()

	logger.Info().Msg("stream connected")
	if m.opts.OnOpen != nil {
		m.opts.OnOpen()
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.readFailed(gen, conn, err, logger)
			return
		}
		msg, err := decode(data)
		if err != nil {
			logger.Debug().Err(err).Int("bytes", len(data)).Msg("dropping frame")
			continue
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func (m *Manager) readFailed(gen uint64, conn Conn, err error, logger zerolog.Logger) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	m.status = Disconnected
	m.conn = nil
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close("")
	if IsLocalClose(err) {
		logger.Debug().Msg("server echoed a local close reason")
	}
	logger.Warn().Err(err).Msg("stream lost")
	m.lost(err)
}

func (m *Manager) lost(err error) {
	if m.opts.OnLost != nil {
		m.opts.OnLost(err)
	}
}

func decode(data []byte) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Message{}, &api.Error{Kind: api.KindDecode, Err: errors.Join(ErrDecode, err)}
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, &api.Error{Kind: api.KindDecode, Err: errors.Join(ErrDecode, err)}
	}
	return msg, nil
}
