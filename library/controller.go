package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ActionHandler runs an Action for its target id.
type ActionHandler func(ctx context.Context, target int64) error

// Options wires a Controller. Client, Renderer and Confirmer are required.
type Options struct {
	Client     *Client
	Sessions   *SessionStore
	Renderer   Renderer
	Confirmer  Confirmer
	Logger     logrus.FieldLogger
	MessageTTL time.Duration
	DateLayout string
	Now        func() time.Time
}

// Controller keeps the screen in sync with the backend: every action performs
// its call, shows a status message, and re-fetches the lists it affected.
// Nothing fetched outlives the next fetch of the same list.
type Controller struct {
	api        *Client
	sessions   *SessionStore
	renderer   Renderer
	confirm    Confirmer
	log        logrus.FieldLogger
	ttl        time.Duration
	dateLayout string
	now        func() time.Time
	screen     *Screen

	// renderMu serializes renderer calls from concurrent re-fetches.
	renderMu sync.Mutex

	mu          sync.Mutex
	books       []Book
	users       []User
	records     []BorrowRecord
	bannerSeq   uint64
	bannerTimer *time.Timer
	handlers    map[ActionKind]ActionHandler
}

// NewController builds a controller and subscribes it to session changes.
func NewController(opts Options) *Controller {
	c := &Controller{
		api:        opts.Client,
		sessions:   opts.Sessions,
		renderer:   opts.Renderer,
		confirm:    opts.Confirmer,
		log:        opts.Logger,
		ttl:        opts.MessageTTL,
		dateLayout: opts.DateLayout,
		now:        opts.Now,
		screen:     NewScreen(),
		handlers:   make(map[ActionKind]ActionHandler),
	}
	if c.sessions == nil {
		c.sessions = NewSessionStore()
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.ttl <= 0 {
		c.ttl = 5 * time.Second
	}
	if c.dateLayout == "" {
		c.dateLayout = "2006-01-02"
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.sessions.Subscribe(c.onSessionChange)

	c.On(ActionLogout, func(ctx context.Context, _ int64) error { return c.Logout(ctx) })
	c.On(ActionDeleteBook, c.DeleteBook)
	c.On(ActionApproveUser, c.ApproveUser)
	c.On(ActionRejectUser, c.RejectUser)
	c.On(ActionDeleteUser, c.DeleteUser)
	c.On(ActionMarkReturned, c.AdminReturnBook)
	c.On(ActionMarkFinePaid, c.PayFine)
	return c
}

// On registers the listener for an action kind, replacing any previous one.
// Actions that need form input (edit, login, change password) are registered
// by the shell that owns the input.
func (c *Controller) On(kind ActionKind, h ActionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

// Dispatch runs the listener registered for a.Kind.
func (c *Controller) Dispatch(ctx context.Context, a Action) error {
	c.mu.Lock()
	h, ok := c.handlers[a.Kind]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, a.Kind)
	}
	return h(ctx, a.Target)
}

// Session returns the current session.
func (c *Controller) Session() Session { return c.sessions.Current() }

// Screen returns the latest rendered fragments.
func (c *Controller) Screen() *Screen { return c.screen }

// Close stops the pending banner timer.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
}

func (c *Controller) render(f Fragment) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.renderLocked(f)
}

func (c *Controller) renderLocked(f Fragment) {
	c.screen.Set(f)
	if err := c.renderer.Render(f); err != nil {
		c.log.WithError(err).WithField("panel", f.Panel).Warn("render failed")
	}
}

// publish stores a fetched list and renders it, unless the session changed
// since gen was read. Session changes render under renderMu too, so a stale
// fetch can never land after the panel was hidden.
func (c *Controller) publish(gen uint64, f Fragment, store func()) bool {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if c.sessions.Generation() != gen {
		c.log.WithField("panel", f.Panel).Debug("session changed during fetch, dropping result")
		return false
	}
	if store != nil {
		c.mu.Lock()
		store()
		c.mu.Unlock()
	}
	c.renderLocked(f)
	return true
}

// showMessage renders the banner and schedules it to clear after the TTL.
// A newer message cancels the older one's clear.
func (c *Controller) showMessage(kind MessageKind, text string) {
	c.mu.Lock()
	c.bannerSeq++
	seq := c.bannerSeq
	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
	c.bannerTimer = time.AfterFunc(c.ttl, func() { c.clearMessage(seq) })
	c.mu.Unlock()

	c.render(Fragment{Panel: PanelMessage, Banner: &Banner{
		Text:    text,
		Kind:    kind,
		Expires: c.now().Add(c.ttl),
	}})
}

func (c *Controller) clearMessage(seq uint64) {
	c.mu.Lock()
	current := c.bannerSeq == seq
	c.mu.Unlock()
	if current {
		c.render(Fragment{Panel: PanelMessage, Banner: &Banner{}})
	}
}

// fail reports a failed action in the banner and returns err unchanged.
func (c *Controller) fail(action string, err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		c.showMessage(MessageError, vErr.Message)
		return err
	}
	c.log.WithError(err).WithField("action", action).Warn("action failed")
	c.showMessage(MessageError, fmt.Sprintf("Failed to %s: %s", action, describe(err)))
	return err
}

// succeed shows the server's message, or fallback when it sent none.
func (c *Controller) succeed(res Result, fallback string) {
	msg := res.Message
	if msg == "" {
		msg = fallback
	}
	c.showMessage(MessageSuccess, msg)
}

// refetch runs list fetches concurrently and waits for all of them. Each fetch
// reports its own failure, so errors are not propagated.
func (c *Controller) refetch(ctx context.Context, fetches ...func(context.Context) error) {
	var g errgroup.Group
	for _, fetch := range fetches {
		fetch := fetch
		g.Go(func() error {
			_ = fetch(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) requireAdmin(action string) error {
	if c.Session().IsAdmin() {
		return nil
	}
	c.log.WithField("action", action).Debug("ignored: admin only")
	return ErrAdminRequired
}

// confirmed asks the question and logs prompt failures as a decline.
func (c *Controller) confirmed(ctx context.Context, question string) bool {
	ok, err := c.confirm.Confirm(ctx, question)
	if err != nil {
		c.log.WithError(err).Debug("confirmation failed")
		return false
	}
	return ok
}
