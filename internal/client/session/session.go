// Package session glues one editor surface to the collaboration channel. It owns the
// document state, presence tracker and window layout for a single note, routes inbound
// events to them and turns local edits into published operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"notepad-sync/internal/client/api"
	"notepad-sync/internal/client/channel"
	"notepad-sync/internal/client/document"
	"notepad-sync/internal/client/layout"
	"notepad-sync/internal/client/presence"
	"notepad-sync/internal/client/storage"
	"notepad-sync/internal/domain"
	"notepad-sync/internal/protocol"
	"notepad-sync/internal/textop"
)

const (
	DefaultTypingIdle        = time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPresenceTTL       = 30 * time.Second
	pruneInterval            = time.Second
	restTimeout              = 10 * time.Second
)

type ChangeKind int

const (
	ContentChanged ChangeKind = iota
	PresenceChanged
	LayoutChanged
	ConnectionChanged
	ErrorReported
)

// Change tells the surface which part of the session to re-read.
type Change struct {
	Kind ChangeKind
	Err  error
}

// Fetcher is the REST side of the session: the fallback used while the channel is down
// and the roster fetched once it is up.
type Fetcher interface {
	GetNote(ctx context.Context, token, noteID string) (*domain.NoteResponse, error)
	GetPresence(ctx context.Context, token, noteID string) ([]domain.Member, error)
	GetWindowPosition(ctx context.Context, token string) (*domain.WindowPosition, error)
	SaveWindowPosition(ctx context.Context, token string, req domain.UpdateWindowPositionRequest) (*domain.WindowPosition, error)
}

type Config struct {
	ServerURL         string
	NoteID            string
	Token             string
	Identity          domain.Identity
	Viewport          layout.Viewport
	TypingIdle        time.Duration
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
}

type Session struct {
	cfg      Config
	fetcher  Fetcher
	logger   *slog.Logger
	document *document.State
	presence *presence.Tracker
	layout   *layout.Store
	channel  *channel.Manager
	changes  chan Change
	now      func() time.Time

	mu          sync.Mutex
	cursor      int
	typing      bool
	typingTimer *time.Timer
	lastErr     error
	pending     map[string]struct{}
	cancel      context.CancelFunc
	loopDone    chan struct{}
}

// New builds a session. fetcher and layoutStorage may be nil. Extra channel options are
// appended after the session's own, so tests can swap the dialer.
func New(cfg Config, fetcher Fetcher, layoutStorage storage.LayoutStorage, logger *slog.Logger, opts ...channel.Option) *Session {
	if cfg.NoteID == "" {
		cfg.NoteID = domain.DefaultNoteID
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = DefaultTypingIdle
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = DefaultPresenceTTL
	}

	s := &Session{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		changes: make(chan Change, 64),
		now:     time.Now,
		pending: make(map[string]struct{}),
	}

	s.document = document.NewState(cfg.NoteID, logger)
	s.presence = presence.NewTracker(cfg.Identity.UserID,
		presence.WithCursorTTL(cfg.PresenceTTL),
		presence.WithTypingTTL(cfg.PresenceTTL),
	)

	channelOpts := []channel.Option{
		channel.WithLogger(logger),
		channel.WithEventHandler(s.HandleEvent),
		channel.WithStateHandler(s.handleState),
		channel.WithErrorHandler(s.handleError),
		channel.WithFallback(s.fetchSnapshot),
	}
	s.channel = channel.NewManager(cfg.ServerURL, cfg.NoteID, append(channelOpts, opts...)...)
	s.layout = layout.NewStore(cfg.Identity.UserID, cfg.Viewport, s, layoutStorage, logger)

	return s
}

func (s *Session) Document() *document.State   { return s.document }
func (s *Session) Presence() *presence.Tracker { return s.presence }
func (s *Session) Layout() *layout.Store       { return s.layout }
func (s *Session) Identity() domain.Identity   { return s.cfg.Identity }
func (s *Session) State() channel.State        { return s.channel.State() }

// Changes delivers coalescable notifications; a full buffer drops the notification
// since the surface re-reads the whole session anyway.
func (s *Session) Changes() <-chan Change {
	return s.changes
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start restores the window, connects the channel and starts the presence loop.
func (s *Session) Start(ctx context.Context) error {
	if err := s.layout.Load(ctx); err != nil {
		s.logger.Warn("Failed to load local window layout", "error", err)
	}
	s.restoreWindow(ctx)

	if err := s.channel.Connect(ctx, s.cfg.Token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		loopCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.loopDone = make(chan struct{})
		go s.loop(loopCtx, s.loopDone)
	}
	return nil
}

// Stop tears the channel down and clears note and presence state.
func (s *Session) Stop() {
	s.channel.Disconnect()

	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typing = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.document.Reset()
	s.presence.Clear()
	s.clearPending()
	s.notify(Change{Kind: ContentChanged})
}

func (s *Session) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if expired := s.presence.Prune(); len(expired) > 0 {
				s.logger.Debug("Expired stale collaborators", "users", expired)
				s.notify(Change{Kind: PresenceChanged})
			}
		case <-heartbeat.C:
			if s.channel.State() != channel.Connected {
				continue
			}
			s.mu.Lock()
			cursor := s.cursor
			s.mu.Unlock()
			if err := s.channel.PublishCursor(cursor); err != nil {
				s.logger.Debug("Cursor heartbeat failed", "error", err)
			}
		}
	}
}

// HandleEvent routes one inbound server event to the matching store.
func (s *Session) HandleEvent(event protocol.Event) {
	switch e := event.(type) {
	case protocol.OperationEvent:
		if e.NoteID != "" && e.NoteID != s.cfg.NoteID {
			return
		}
		s.acknowledge(e.Operation.ID)
		if _, err := s.document.ApplyOperation(e.Operation); errors.Is(err, document.ErrSequenceGap) {
			s.logger.Warn("Requesting resync", "note_id", s.cfg.NoteID, "error", err)
			if err := s.channel.Resync(); err != nil {
				s.logger.Warn("Resync request failed", "error", err)
			}
		}
		s.notify(Change{Kind: ContentChanged})

	case protocol.SyncEvent:
		if e.NoteID != "" && e.NoteID != s.cfg.NoteID {
			return
		}
		s.document.SetContent(e.Content, e.Sequence)
		s.notify(Change{Kind: ContentChanged})

	case protocol.CursorEvent:
		s.presence.UpdateCursor(e.Cursor)
		s.notify(Change{Kind: PresenceChanged})

	case protocol.TypingEvent:
		s.presence.UpdateTyping(e.Indicator)
		s.notify(Change{Kind: PresenceChanged})

	case protocol.CollaboratorLeftEvent:
		s.presence.RemoveCollaborator(e.UserID)
		s.notify(Change{Kind: PresenceChanged})

	case protocol.WindowEvent:
		if e.Position.UserID != "" && e.Position.UserID != s.cfg.Identity.UserID {
			return
		}
		s.layout.Restore(context.Background(), e.Position)
		s.notify(Change{Kind: LayoutChanged})

	case protocol.ErrorEvent:
		s.logger.Warn("Server rejected a message", "error", e.Message)
		// a rejected operation is never echoed, so the surface must resync to the document
		s.clearPending()
		s.setError(errors.New(e.Message))
		s.notify(Change{Kind: ContentChanged})

	case protocol.PongEvent:

	default:
		s.logger.Warn("Unhandled event", "type", event.EventType())
	}
}

// LocalEdit publishes the operations that turn base into next. base is the text the
// surface showed before the keystroke; the document itself only changes when the server
// broadcasts the operations back.
func (s *Session) LocalEdit(base, next string, cursor int) error {
	ops := textop.DeriveAll(base, next, cursor)
	if len(ops) == 0 {
		return s.MoveCursor(cursor)
	}

	for _, op := range ops {
		op.ID = uuid.NewString()
		op.UserID = s.cfg.Identity.UserID
		op.CreatedAt = s.now()

		s.mu.Lock()
		s.pending[op.ID] = struct{}{}
		s.mu.Unlock()

		if err := s.channel.PublishOperation(op); err != nil {
			s.acknowledge(op.ID)
			return fmt.Errorf("publish operation: %w", err)
		}
	}

	s.markTyping()
	return s.MoveCursor(cursor)
}

// PendingOperations counts operations this session published that the server has not
// echoed back yet. While it is non-zero the surface shows text the document lacks.
func (s *Session) PendingOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) acknowledge(opID string) {
	if opID == "" {
		return
	}
	s.mu.Lock()
	delete(s.pending, opID)
	s.mu.Unlock()
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = make(map[string]struct{})
	s.mu.Unlock()
}

// MoveCursor publishes the caret when it changed.
func (s *Session) MoveCursor(position int) error {
	s.mu.Lock()
	if s.cursor == position {
		s.mu.Unlock()
		return nil
	}
	s.cursor = position
	s.mu.Unlock()

	if err := s.channel.PublishCursor(position); err != nil {
		return fmt.Errorf("publish cursor: %w", err)
	}
	return nil
}

// markTyping publishes typing=true on the first keystroke of a burst and schedules
// typing=false once no keystroke arrives for TypingIdle.
func (s *Session) markTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.typing {
		s.typing = true
		if err := s.channel.PublishTyping(true); err != nil {
			s.logger.Debug("Typing publish failed", "error", err)
		}
	}

	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingIdle, s.typingIdle)
}

func (s *Session) typingIdle() {
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.typingTimer = nil
	s.mu.Unlock()

	if err := s.channel.PublishTyping(false); err != nil {
		s.logger.Debug("Typing publish failed", "error", err)
	}
}

func (s *Session) handleState(state channel.State) {
	if state == channel.Disconnected {
		s.document.Reset()
		s.presence.Clear()
		s.clearPending()
		s.mu.Lock()
		s.cursor = 0
		s.mu.Unlock()
		s.notify(Change{Kind: ContentChanged})
	}
	if state == channel.Connected {
		s.setError(nil)
		go s.fetchMembers()
	}
	s.notify(Change{Kind: ConnectionChanged})
}

func (s *Session) handleError(err error) {
	s.setError(err)
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.notify(Change{Kind: ErrorReported, Err: err})
}

// fetchSnapshot fills the document over REST so the surface is not blank while the
// channel reconnects.
func (s *Session) fetchSnapshot(ctx context.Context) {
	if s.fetcher == nil {
		return
	}

	note, err := s.fetcher.GetNote(ctx, s.cfg.Token, s.cfg.NoteID)
	if err != nil {
		s.logger.Warn("Fallback fetch failed", "note_id", s.cfg.NoteID, "error", err)
		return
	}

	s.document.SetContent(note.Content, note.Sequence)
	s.notify(Change{Kind: ContentChanged})
}

// fetchMembers seeds the roster with collaborators who are on the note but have not
// moved their cursor since this session connected.
func (s *Session) fetchMembers() {
	if s.fetcher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	members, err := s.fetcher.GetPresence(ctx, s.cfg.Token, s.cfg.NoteID)
	if err != nil {
		s.logger.Warn("Failed to fetch presence", "note_id", s.cfg.NoteID, "error", err)
		return
	}
	if s.channel.State() != channel.Connected {
		return
	}

	s.presence.SetMembers(members)
	s.notify(Change{Kind: PresenceChanged})
}

// PublishWindowPosition satisfies layout.Publisher. While the channel is down the
// geometry is saved over REST in the background instead.
func (s *Session) PublishWindowPosition(ctx context.Context, pos domain.WindowPosition) error {
	err := s.channel.PublishWindowPosition(ctx, pos)
	if !errors.Is(err, channel.ErrNotConnected) || s.fetcher == nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()

		_, err := s.fetcher.SaveWindowPosition(ctx, s.cfg.Token, domain.UpdateWindowPositionRequest{
			X:      pos.X,
			Y:      pos.Y,
			Width:  pos.Width,
			Height: pos.Height,
		})
		if err != nil {
			s.logger.Warn("Failed to save window position", "user_id", s.cfg.Identity.UserID, "error", err)
		}
	}()
	return nil
}

func (s *Session) restoreWindow(ctx context.Context) {
	if s.fetcher == nil || s.cfg.Token == "" {
		return
	}

	pos, err := s.fetcher.GetWindowPosition(ctx, s.cfg.Token)
	if errors.Is(err, api.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("Failed to fetch window position", "error", err)
		return
	}

	s.layout.Restore(ctx, *pos)
	s.notify(Change{Kind: LayoutChanged})
}

func (s *Session) notify(change Change) {
	select {
	case s.changes <- change:
	default:
	}
}
