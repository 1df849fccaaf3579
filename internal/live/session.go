// Package live wires the push channel, message store and delete queue
// into one session.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/api"
	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/auth"
	"github.com/tOgg1/pushdeck/internal/clock"
	"github.com/tOgg1/pushdeck/internal/config"
	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/messages"
	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/notify"
	"github.com/tOgg1/pushdeck/internal/stream"
	"github.com/tOgg1/pushdeck/internal/undo"
)

// ErrNotStarted is returned by operations that need Start first.
var ErrNotStarted = errors.New("session not started")

const offlineText = "Connection lost. Retrying in the background."

// Options overrides collaborators, mostly for tests.
type Options struct {
	HTTPClient *http.Client
	Dialer     stream.Dialer
	Clock      clock.Clock
	Sink       notify.Sink
	Auth       *auth.Session

	// OnMessage observes every pushed message after the store ingested it.
	OnMessage func(models.Message)
}

// Session is the constructed dependency graph of a running client.
type Session struct {
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger

	auth        *auth.Session
	client      *api.Client
	apps        *apps.Registry
	store       *messages.Store
	queue       *undo.Queue
	manager     *stream.Manager
	reconnector *stream.Reconnector
	sink        notify.Sink

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	offline bool
	started bool
	unsubs  []func()
	syncing bool
	unknown map[int64]bool
	wg      sync.WaitGroup
}

// New builds a session from cfg. Nothing touches the network until Start.
func New(cfg *config.Config, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Sink == nil {
		opts.Sink = notify.NewLogSink()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewSession(cfg.Server.Token)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Server.RequestTimeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = stream.WebsocketDialer{HTTPClient: opts.HTTPClient}
	}

	s := &Session{
		cfg:    cfg,
		opts:   opts,
		logger: logging.Component("live"),
		auth:   opts.Auth,
		sink:   opts.Sink,
	}
	s.client = api.NewClient(cfg.Server.URL, s.auth, opts.HTTPClient)
	s.apps = apps.NewRegistry(s.client, s.client)
	s.store = messages.NewStore(s.client, s.apps, messages.Options{PageSize: cfg.Messages.PageSize})
	s.queue = undo.NewQueue(s.store, undo.Options{
		Window:          cfg.Undo.Window,
		FinalizeTimeout: cfg.Undo.FinalizeTimeout,
		Clock:           opts.Clock,
		Sink:            s.sink,
		OnError: func(_ models.Message, err error) {
			s.handleError(err)
		},
	})
	s.manager = stream.NewManager(stream.ManagerOptions{
		Dialer:      opts.Dialer,
		URL:         s.client.StreamURL,
		Tokens:      s.auth,
		DialTimeout: cfg.Stream.DialTimeout,
		OnOpen:      s.channelOpened,
		OnLost:      s.channelLost,
	})
	s.reconnector = stream.NewReconnector(stream.ReconnectOptions{
		Clock:        opts.Clock,
		Base:         cfg.Stream.BackoffBase,
		Max:          cfg.Stream.BackoffMax,
		CheckTimeout: cfg.Server.RequestTimeout,
		Check:        s.checkSession,
		Connect:      s.connect,
		OnAuthFailed: s.reconnectAuthFailed,
	})
	return s
}

func (s *Session) Store() *messages.Store          { return s.store }
func (s *Session) Queue() *undo.Queue              { return s.queue }
func (s *Session) Apps() *apps.Registry            { return s.apps }
func (s *Session) Auth() *auth.Session             { return s.auth }
func (s *Session) Client() *api.Client             { return s.client }
func (s *Session) Status() stream.Status           { return s.manager.Status() }
func (s *Session) Reconnector() *stream.Reconnector { return s.reconnector }

// Offline reports whether the connection banner is showing.
func (s *Session) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Start verifies the session, loads the application directory and opens
// the push channel. A network failure is not fatal: the session starts
// offline and retries in the background. A rejected token is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.unsubs = append(s.unsubs,
		s.auth.OnTokenChanged(s.tokenChanged),
		s.auth.OnUnauthenticated(s.unauthenticated),
	)
	s.mu.Unlock()

	if _, err := s.client.CurrentUser(ctx); err != nil {
		if errors.Is(err, api.ErrAuthRejected) {
			return fmt.Errorf("authenticate: %w", err)
		}
		s.handleError(err)
		s.scheduleRetry()
		return nil
	}

	if err := s.apps.Refresh(ctx); err != nil {
		s.handleError(err)
	}
	s.connect()
	s.logger.Info().Str("server", s.client.BaseURL()).Msg("session started")
	return nil
}

// Stop flushes pending deletes, closes the channel and cancels retries.
// A stopped session cannot be started again.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	flushed := s.queue.FinalizePending(ctx, models.PartitionAll)
	waitErr := s.queue.Wait(ctx)

	s.reconnector.Close()
	s.manager.Close()
	cancel()
	s.manager.Wait()
	s.wg.Wait()

	s.logger.Info().Int("flushed", flushed).Msg("session stopped")
	return waitErr
}

// Logout flushes pending deletes, drops the connection and every cached
// partition, then forgets the token.
func (s *Session) Logout(ctx context.Context) error {
	s.queue.FinalizePending(ctx, models.PartitionAll)
	err := s.queue.Wait(ctx)
	s.auth.Logout()
	return err
}

// LoadMore loads the next page of partition, converting failures into
// notices or the offline banner.
func (s *Session) LoadMore(ctx context.Context, partition int64) error {
	if !s.running() {
		return ErrNotStarted
	}
	if err := s.store.LoadMore(ctx, partition); err != nil {
		s.handleError(err)
		return err
	}
	s.recovered()
	return nil
}

// Delete removes m optimistically from the view of partition view.
func (s *Session) Delete(m models.Message, view int64) bool {
	return s.queue.RequestDeleteIn(m, view)
}

// Undo reverts a pending delete.
func (s *Session) Undo(id int64) bool {
	return s.queue.Undo(id)
}

// Dismiss closes an undo prompt and deletes right away.
func (s *Session) Dismiss(id int64) bool {
	return s.queue.Dismiss(id)
}

// DeletePartition deletes every message of a partition. Pending deletes
// in it are flushed first.
func (s *Session) DeletePartition(ctx context.Context, partition int64) error {
	if !s.running() {
		return ErrNotStarted
	}
	s.queue.FinalizePending(ctx, partition)
	if err := s.queue.Wait(ctx); err != nil {
		return err
	}
	if err := s.store.DeletePartition(ctx, partition); err != nil {
		s.handleError(err)
		return err
	}
	return nil
}

// Retry is the manual retry action of the connection banner.
func (s *Session) Retry() {
	s.reconnector.RetryNow()
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// connect opens the channel. When it is already open, as after a REST
// outage, the retry cycle is over and the backoff resets.
func (s *Session) connect() {
	if s.manager.Status() == stream.Connected {
		s.reconnector.Success()
		return
	}
	s.manager.Connect(s.context(), s.pushed)
}

// scheduleRetry arms the reconnect timer unless a retry is already
// waiting or running.
func (s *Session) scheduleRetry() {
	if s.reconnector.State() == stream.Idle {
		s.reconnector.Failure()
	}
}

func (s *Session) pushed(m models.Message) {
	s.store.Publish(m)
	if _, ok := s.apps.Get(m.AppID); !ok {
		s.refreshFor(m.AppID)
	}
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(m)
	}
}

// refreshFor reloads the directory once per unknown application id.
func (s *Session) refreshFor(appID int64) {
	s.mu.Lock()
	if !s.started || s.unknown[appID] {
		s.mu.Unlock()
		return
	}
	if s.unknown == nil {
		s.unknown = make(map[int64]bool)
	}
	s.unknown[appID] = true
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.apps.Refresh(ctx); err != nil {
			s.handleError(err)
		}
	}()
}

func (s *Session) channelOpened() {
	s.reconnector.Success()
	s.recovered()
}

func (s *Session) channelLost(err error) {
	if errors.Is(err, api.ErrAuthRejected) {
		s.auth.Unauthorized()
		return
	}
	s.goOffline(err)
	s.reconnector.Failure()
}

func (s *Session) checkSession(ctx context.Context) error {
	if !s.auth.Authenticated() {
		return &api.Error{Kind: api.KindAuthRejected, Err: api.ErrNoToken}
	}
	_, err := s.client.CurrentUser(ctx)
	if err == nil {
		s.recovered()
	}
	return err
}

func (s *Session) reconnectAuthFailed(err error) {
	s.sink.Notify(notify.Notice{Level: notify.LevelError, Text: "Reconnect failed: not authenticated", At: s.opts.Clock.Now()})
	if !errors.Is(err, api.ErrNoToken) {
		s.auth.Unauthorized()
	}
}

func (s *Session) tokenChanged(token string) {
	if token == "" {
		s.manager.Close()
		s.reconnector.Stop()
		s.store.ClearAll()
		s.apps.Reset()
		s.setOnline()
		s.mu.Lock()
		s.unknown = nil
		s.mu.Unlock()
		return
	}

	// A new token may belong to another user, so the old channel is
	// dropped and the directory reloaded.
	s.manager.Close()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.apps.Refresh(ctx); err != nil {
			s.handleError(err)
		}
	}()
	s.connect()
}

func (s *Session) unauthenticated() {
	s.sink.Notify(notify.Notice{Level: notify.LevelWarn, Text: "Session expired, please log in again", At: s.opts.Clock.Now()})
}

// handleError converts a remote failure into a state transition or notice.
func (s *Session) handleError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	switch api.KindOf(err) {
	case api.KindAuthRejected:
		if !errors.Is(err, api.ErrNoToken) {
			s.auth.Unauthorized()
		}
	case api.KindNetworkUnavailable, api.KindServerError:
		s.goOffline(err)
		s.scheduleRetry()
	case api.KindClientError:
		s.sink.Notify(notify.Notice{Level: notify.LevelWarn, Text: clientErrorText(err), At: s.opts.Clock.Now()})
	default:
		s.logger.Warn().Err(err).Msg("unexpected error")
	}
}

func (s *Session) goOffline(err error) {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return
	}
	s.offline = true
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("offline")
	s.sink.SetBanner(notify.Banner{Visible: true, Text: offlineText, Retryable: true})
	if api.KindOf(err) == api.KindServerError {
		s.sink.Notify(notify.Notice{Level: notify.LevelError, Text: err.Error(), At: s.opts.Clock.Now()})
	}
}

func (s *Session) setOnline() bool {
	s.mu.Lock()
	was := s.offline
	s.offline = false
	s.mu.Unlock()
	if was {
		s.sink.SetBanner(notify.Banner{})
	}
	return was
}

// recovered clears the banner after a successful authenticated request
// and re-syncs every loaded partition, since pushes may have been missed.
func (s *Session) recovered() {
	if !s.setOnline() {
		return
	}

	s.mu.Lock()
	if s.syncing || !s.started {
		s.mu.Unlock()
		return
	}
	s.syncing = true
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.syncing = false
			s.mu.Unlock()
		}()
		s.resync(ctx)
	}()
}

func (s *Session) resync(ctx context.Context) {
	loaded := s.store.Loaded()
	s.logger.Info().Int("partitions", len(loaded)).Msg("re-syncing after outage")

	if err := s.apps.Refresh(ctx); err != nil {
		s.handleError(err)
	}
	for _, id := range loaded {
		// Clearing per partition keeps pending deletes hidden on reload.
		s.store.ClearPartition(id)
	}
	for _, id := range loaded {
		if err := s.store.LoadMore(ctx, id); err != nil {
			s.handleError(err)
			return
		}
	}
}

func clientErrorText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Request failed"
}
