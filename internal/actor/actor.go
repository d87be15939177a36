package actor

import (
	"encoding/hex"
	"fmt"
	"sync"

	"Tally/internal/logger"
)

const (
	// mailboxSize is the buffer size of each actor's mailbox.
	mailboxSize = 1024
)

// Identity is an opaque, globally unique addressable key.
type Identity [32]byte

// String returns a short hex form for logging.
func (id Identity) String() string {
	return hex.EncodeToString(id[:8])
}

// Envelope is a single message in flight between two actors.
// Budget is the resource budget attached by the originator; it is
// consumed by each hop's metered processing and any surplus is
// explicitly returned via the refund ledger.
type Envelope struct {
	From   Identity // From is the originating identity
	To     Identity // To is the recipient actor
	Budget uint64   // Budget is the attached resource budget
	Body   []byte   // Body is the encoded message payload
}

// Handler processes messages delivered to one actor address.
// Receive is never invoked concurrently for the same actor: one
// envelope is fully handled before the next begins.
type Handler interface {
	Receive(ctx *Context, env Envelope)
}

// Context gives a handler access to the system under its own address.
type Context struct {
	sys  *System
	self Identity
}

// Self returns the address the handler is registered under.
func (c *Context) Self() Identity {
	return c.self
}

// Send queues a fire-and-forget message to another actor.
func (c *Context) Send(to Identity, body []byte, budget uint64) error {
	return c.sys.Send(Envelope{From: c.self, To: to, Budget: budget, Body: body})
}

// Refund credits unused budget back to the given identity.
func (c *Context) Refund(to Identity, amount uint64) {
	c.sys.Refund(to, amount)
}

// mailbox is the per-actor message queue and its serial consumer.
type mailbox struct {
	handler Handler
	queue   chan Envelope
}

// System routes envelopes between registered actors.
// Each actor runs on its own goroutine and handles messages strictly
// serially; there is no total order across distinct actors.
type System struct {
	mu      sync.RWMutex
	actors  map[Identity]*mailbox
	closed  bool
	stop    chan struct{}
	workers sync.WaitGroup

	inflight sync.WaitGroup // inflight counts queued but unhandled envelopes

	refundMu sync.Mutex
	refunds  map[Identity]uint64
}

// NewSystem creates an empty actor system.
func NewSystem() *System {
	return &System{
		actors:  make(map[Identity]*mailbox),
		refunds: make(map[Identity]uint64),
		stop:    make(chan struct{}),
	}
}

// Register spawns an actor at the given address.
// Fails if the address is already taken or the system is closed.
func (s *System) Register(id Identity, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("system closed")
	}

	if _, exists := s.actors[id]; exists {
		return fmt.Errorf("actor %s already registered", id)
	}

	mb := &mailbox{
		handler: h,
		queue:   make(chan Envelope, mailboxSize),
	}
	s.actors[id] = mb

	s.workers.Add(1)
	go s.run(id, mb)

	return nil
}

// Has reports whether an actor is registered at the given address.
func (s *System) Has(id Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.actors[id]
	return exists
}

// Send queues an envelope for delivery. Sending is fire-and-forget:
// it never blocks on the recipient's processing.
func (s *System) Send(env Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("system closed")
	}

	mb, exists := s.actors[env.To]
	if !exists {
		return fmt.Errorf("unknown actor %s", env.To)
	}

	s.inflight.Add(1)

	select {
	case mb.queue <- env:
		return nil
	default:
		s.inflight.Done()
		return fmt.Errorf("mailbox full for actor %s", env.To)
	}
}

// SendOrSpawn delivers an envelope, instantiating the recipient via
// ctor on first contact. The recipient's address is a pure function of
// its construction inputs, so addressing it is the existence test.
func (s *System) SendOrSpawn(env Envelope, ctor func() Handler) error {
	s.mu.RLock()
	_, exists := s.actors[env.To]
	s.mu.RUnlock()

	if !exists {
		if err := s.Register(env.To, ctor()); err != nil {
			// Lost a spawn race: the address now exists either way.
			if !s.Has(env.To) {
				return err
			}
		}
	}

	return s.Send(env)
}

// Refund credits unused budget back to an identity.
func (s *System) Refund(id Identity, amount uint64) {
	if amount == 0 {
		return
	}

	s.refundMu.Lock()
	s.refunds[id] += amount
	s.refundMu.Unlock()

	logger.Debug("budget refunded", "identity", id, "amount", amount)
}

// Refunds returns the total budget refunded to an identity so far.
func (s *System) Refunds(id Identity) uint64 {
	s.refundMu.Lock()
	defer s.refundMu.Unlock()

	return s.refunds[id]
}

// Settle waits until every queued envelope, including envelopes queued
// by handlers while settling, has been fully handled.
func (s *System) Settle() {
	s.inflight.Wait()
}

// Close stops all actors after their queued messages are handled.
func (s *System) Close() {
	s.inflight.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.workers.Wait()
}

// run is the serial message loop for one actor.
func (s *System) run(id Identity, mb *mailbox) {
	defer s.workers.Done()

	ctx := &Context{sys: s, self: id}

	for {
		select {
		case env := <-mb.queue:
			mb.handler.Receive(ctx, env)
			s.inflight.Done()
		case <-s.stop:
			// Drain anything queued before shutdown was signalled.
			for {
				select {
				case env := <-mb.queue:
					mb.handler.Receive(ctx, env)
					s.inflight.Done()
				default:
					return
				}
			}
		}
	}
}
