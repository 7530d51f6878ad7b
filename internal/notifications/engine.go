package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tilal/fieldops-notify/internal/apiclient"
	"github.com/tilal/fieldops-notify/internal/session"
)

var (
	ErrUnknownNotification = errors.New("unknown notification")
	ErrNoPrincipal         = errors.New("no active principal")
)

// PushConnector opens a push subscription scoped to one principal. The
// returned Closer must stop all handler calls once Close returns.
type PushConnector interface {
	Connect(ctx context.Context, p session.Principal, handler func(Notification)) (io.Closer, error)
}

type EngineOptions struct {
	// Connector is optional; without it the engine is pull-only.
	Connector PushConnector
	Logger    zerolog.Logger
}

// OpenResult describes the outcome of opening a notification. Route is valid
// even when the remote delete failed. Removed reports whether the entry was
// dropped from the held list.
type OpenResult struct {
	Notification Notification
	Route        Route
	Removed      bool
	DeleteErr    error
}

// Engine owns the notification list of the active principal. The list is
// mutated only here; readers get copies through Snapshot and Subscribe.
//
// Every principal change bumps epoch. Work started under an older epoch
// (pulls, deletes, pushes from a closed scope) is discarded when it lands.
type Engine struct {
	client    RemoteClient
	connector PushConnector
	logger    zerolog.Logger

	mu        sync.Mutex
	epoch     uint64
	principal *session.Principal
	items     []Notification
	pulling   int
	pending   []Notification
	// deleted holds ids removed while a pull was in flight, so a pull that
	// started before the delete cannot bring them back.
	deleted map[string]struct{}
	scope   io.Closer

	observersMu  sync.Mutex
	observers    map[int]func(Snapshot)
	nextObserver int
}

func NewEngine(client RemoteClient, opts EngineOptions) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &Engine{
		client:    client,
		connector: opts.Connector,
		logger:    opts.Logger.With().Str("component", "notifications").Logger(),
		items:     []Notification{},
		observers: map[int]func(Snapshot){},
	}, nil
}

// SetPrincipal reconciles the engine with a new identity. Login, identity
// change and logout all tear down the current push scope and clear the list
// first. For a non-nil principal it then subscribes to pushes and pulls the
// initial snapshot; pushes that arrive during the pull are applied after it.
func (e *Engine) SetPrincipal(ctx context.Context, p *session.Principal) error {
	e.mu.Lock()
	if p.Valid() && e.principal.Equal(p) {
		e.mu.Unlock()
		return nil
	}
	old := e.scope
	e.scope = nil
	e.epoch++
	epoch := e.epoch
	e.items = []Notification{}
	e.pending = nil
	e.pulling = 0
	e.deleted = nil
	e.principal = nil
	var principal session.Principal
	if p.Valid() {
		principal = *p
		e.principal = &principal
		e.pulling = 1
	}
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("closing push scope failed")
		}
	}
	e.notify()
	if !p.Valid() {
		e.logger.Info().Msg("principal cleared; notification state reset")
		return nil
	}
	e.logger.Info().Str("principal", principal.ID).Str("role", string(principal.Role)).Msg("principal active; loading notifications")

	if e.connector != nil {
		scope, err := e.connector.Connect(ctx, principal, func(n Notification) {
			e.handlePush(epoch, n)
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("principal", principal.ID).Msg("push subscription unavailable; continuing pull-only")
		} else {
			e.mu.Lock()
			stale := e.epoch != epoch
			if !stale {
				e.scope = scope
			}
			e.mu.Unlock()
			if stale {
				_ = scope.Close()
			}
		}
	}
	return e.pull(ctx, epoch)
}

// Refresh re-pulls the snapshot for the current principal.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.principal == nil {
		e.mu.Unlock()
		return ErrNoPrincipal
	}
	e.pulling++
	epoch := e.epoch
	e.mu.Unlock()
	return e.pull(ctx, epoch)
}

func (e *Engine) pull(ctx context.Context, epoch uint64) error {
	items, err := e.client.ListNotifications(ctx, MaxNotifications, false)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		e.logger.Debug().Msg("discarding pull result from a previous session")
		return nil
	}
	e.pulling--
	if err == nil {
		e.items = capNotifications(dedupe(withoutDeleted(items, e.deleted)))
	}
	if e.pulling <= 0 {
		e.pulling = 0
		for _, n := range e.pending {
			e.items = prepend(e.items, n)
		}
		e.pending = nil
		e.deleted = nil
	}
	e.mu.Unlock()
	e.notify()

	if err != nil {
		if !apiclient.IsStatus(err, http.StatusTooManyRequests) {
			e.logger.Warn().Err(err).Msg("pulling notifications failed; keeping previous list")
		}
		return fmt.Errorf("pull notifications: %w", err)
	}
	return nil
}

func (e *Engine) handlePush(epoch uint64, n Notification) {
	e.mu.Lock()
	if e.epoch != epoch || e.principal == nil {
		e.mu.Unlock()
		e.logger.Debug().Str("id", n.ID).Msg("dropping push for a closed session")
		return
	}
	if e.pulling > 0 {
		e.pending = append(e.pending, n)
		e.mu.Unlock()
		return
	}
	e.items = prepend(e.items, n)
	e.mu.Unlock()
	e.notify()
}

// Open consumes a held notification: it is deleted remotely (read means
// delete), dropped locally once the delete succeeds, and a route is resolved
// either way.
func (e *Engine) Open(ctx context.Context, id string) (OpenResult, error) {
	e.mu.Lock()
	if e.principal == nil {
		e.mu.Unlock()
		return OpenResult{}, ErrNoPrincipal
	}
	idx := indexOf(e.items, id)
	if idx < 0 {
		e.mu.Unlock()
		return OpenResult{}, fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	n := e.items[idx]
	role := e.principal.Role
	epoch := e.epoch
	e.mu.Unlock()
	return e.open(ctx, n, role, epoch), nil
}

// OpenNotification opens n as rendered by the caller, even if it has since
// left the held list (evicted by newer pushes or replaced by a pull). The
// route is always resolved and the delete is sent regardless.
func (e *Engine) OpenNotification(ctx context.Context, n Notification) (OpenResult, error) {
	if n.ID == "" {
		return OpenResult{}, fmt.Errorf("%w: empty id", ErrUnknownNotification)
	}
	e.mu.Lock()
	if e.principal == nil {
		e.mu.Unlock()
		return OpenResult{}, ErrNoPrincipal
	}
	if idx := indexOf(e.items, n.ID); idx >= 0 {
		n = e.items[idx]
	}
	role := e.principal.Role
	epoch := e.epoch
	e.mu.Unlock()
	return e.open(ctx, n, role, epoch), nil
}

func (e *Engine) open(ctx context.Context, n Notification, role session.Role, epoch uint64) OpenResult {
	result := OpenResult{
		Notification: n,
		Route:        ResolveRoute(n, role),
	}
	if err := e.client.DeleteNotification(ctx, n.ID); err != nil {
		e.logger.Warn().Err(err).Str("id", n.ID).Msg("deleting notification failed; keeping it listed")
		result.DeleteErr = err
		return result
	}

	e.mu.Lock()
	if e.epoch == epoch {
		if e.pulling > 0 {
			if e.deleted == nil {
				e.deleted = map[string]struct{}{}
			}
			e.deleted[n.ID] = struct{}{}
		}
		e.pending = remove(e.pending, n.ID)
		if indexOf(e.items, n.ID) >= 0 {
			e.items = remove(e.items, n.ID)
			result.Removed = true
		}
	}
	e.mu.Unlock()
	if result.Removed {
		e.notify()
	}
	return result
}

// MarkRead flags a notification read remotely and locally without removing it.
// The open path never uses this; it deletes instead.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.principal == nil {
		e.mu.Unlock()
		return ErrNoPrincipal
	}
	if indexOf(e.items, id) < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	epoch := e.epoch
	e.mu.Unlock()

	if err := e.client.MarkRead(ctx, id); err != nil {
		e.logger.Warn().Err(err).Str("id", id).Msg("marking notification read failed")
		return fmt.Errorf("mark read: %w", err)
	}
	e.mu.Lock()
	changed := false
	if e.epoch == epoch {
		if idx := indexOf(e.items, id); idx >= 0 {
			e.items[idx].Read = true
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.notify()
	}
	return nil
}

// MarkAllRead sends the bulk read request and then always re-pulls.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	e.mu.Lock()
	active := e.principal != nil
	e.mu.Unlock()
	if !active {
		return ErrNoPrincipal
	}
	var markErr error
	if err := e.client.MarkAllRead(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("mark all read failed")
		markErr = fmt.Errorf("mark all read: %w", err)
	}
	refreshErr := e.Refresh(ctx)
	if errors.Is(refreshErr, ErrNoPrincipal) {
		refreshErr = nil
	}
	return errors.Join(markErr, refreshErr)
}

// Close drops the principal and releases the push scope.
func (e *Engine) Close() error {
	return e.SetPrincipal(context.Background(), nil)
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Items:  cloneNotifications(e.items),
		Unread: len(e.items),
	}
	if e.principal != nil {
		s.PrincipalID = e.principal.ID
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a func that removes it.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.observersMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.observersMu.Unlock()
	return func() {
		e.observersMu.Lock()
		delete(e.observers, id)
		e.observersMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.observersMu.Lock()
	if len(e.observers) == 0 {
		e.observersMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.observersMu.Unlock()

	snapshot := e.Snapshot()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// prepend puts n at the head, dropping any older copy with the same id, and
// evicts from the tail past MaxNotifications.
func prepend(items []Notification, n Notification) []Notification {
	out := make([]Notification, 0, MaxNotifications)
	out = append(out, n)
	for _, existing := range items {
		if existing.ID == n.ID {
			continue
		}
		if len(out) == MaxNotifications {
			break
		}
		out = append(out, existing)
	}
	return out
}

func dedupe(items []Notification) []Notification {
	seen := make(map[string]struct{}, len(items))
	out := make([]Notification, 0, len(items))
	for _, n := range items {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

func capNotifications(items []Notification) []Notification {
	if len(items) > MaxNotifications {
		items = items[:MaxNotifications]
	}
	return cloneNotifications(items)
}

func withoutDeleted(items []Notification, deleted map[string]struct{}) []Notification {
	if len(deleted) == 0 {
		return items
	}
	out := make([]Notification, 0, len(items))
	for _, n := range items {
		if _, gone := deleted[n.ID]; !gone {
			out = append(out, n)
		}
	}
	return out
}

func remove(items []Notification, id string) []Notification {
	out := items[:0:0]
	for _, n := range items {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func indexOf(items []Notification, id string) int {
	for i, n := range items {
		if n.ID == id {
			return i
		}
	}
	return -1
}
