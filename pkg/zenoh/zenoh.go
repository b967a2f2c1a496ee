// Package zenoh is the public surface of this engine, the way the
// teacher's pkg/mcast sits on top of pkg/mcast/core: it wires
// internal/session, internal/admin, internal/config, internal/logging
// and internal/scheduler into one constructor so a caller never has to
// reach into internal/ directly. The link I/O drivers themselves stay
// external collaborators (spec.md's own "OUT OF SCOPE" list) — Open
// takes a link.Dialer/link.Listener the same way the teacher's NewUnity
// takes a Storage/LogicalGlobalClock it does not implement itself.
package zenoh

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/admin"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/config"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/link"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/logging"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/scheduler"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/session"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"
	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/wire"

	"github.com/cockroachdb/errors"
)

// Options configures the ambient pieces Open wires in on top of cfg
// (spec.md §3's Session: "Owns: ... logger"; §4.9's
// auto_start_admin_space).
type Options struct {
	// Logger receives transport and session events. Defaults to a
	// production zap logger named "zenoh" if nil.
	Logger logging.Logger
	// AutoStartAdminSpace mirrors auto_start_admin_space on open
	// (spec.md §4.9).
	AutoStartAdminSpace bool
	// SessionOptions is passed through to internal/session.New, with
	// Logger overridden by the resolved Logger above unless already set.
	SessionOptions session.Options
	// Scheduler drives advanced-layer periodic tasks (spec.md §4.8). A
	// default of 128 task slots is created if nil.
	Scheduler *scheduler.Scheduler
}

// Session is the engine's public handle: a live session plus whatever
// ambient infrastructure Open started alongside it.
type Session struct {
	*session.Session

	cfg   config.Config
	log   logging.Logger
	sched *scheduler.Scheduler

	mu      sync.Mutex
	adminSp *admin.Space

	listenCancel context.CancelFunc
	listenWG     sync.WaitGroup
}

// Scheduler returns the scheduler driving this session's advanced-layer
// background tasks (internal/advanced's NewPublisher/NewSubscriber take
// one directly).
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// StartAdminSpace declares the admin queryable if it is not already
// running (spec.md §4.9's zp_start_admin_space, idempotent the way the
// teacher's context.started guard makes NewUnity/Start idempotent).
func (s *Session) StartAdminSpace(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminSp != nil {
		return nil
	}
	sp, err := admin.Start(ctx, s.Session)
	if err != nil {
		return err
	}
	s.adminSp = sp
	return nil
}

// StopAdminSpace retracts the admin queryable, if running.
func (s *Session) StopAdminSpace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminSp == nil {
		return
	}
	s.adminSp.Stop()
	s.adminSp = nil
}

// Close stops the listener loop (if any), retracts the admin space,
// clears the scheduler, and then closes the session and every transport,
// in that order.
func (s *Session) Close() error {
	if s.listenCancel != nil {
		s.listenCancel()
		s.listenWG.Wait()
	}
	s.StopAdminSpace()
	if s.sched != nil {
		s.sched.Clear()
	}
	return s.Session.Close()
}

func newLocalZID() wire.ZID {
	return wire.ZID(uuid.New())
}

func whatAmI(cfg config.Config) wire.WhatAmI {
	if cfg.Mode == "client" {
		return wire.WhatAmIClient
	}
	return wire.WhatAmIPeer
}

func transportConfig(cfg config.Config, zid wire.ZID, log logging.Logger) transport.Config {
	return transport.Config{
		LocalZID:     zid,
		WhatAmI:      whatAmI(cfg),
		BatchSize:    transport.DefaultBatchSize,
		SNResolution: wire.DefaultSNResolution,
		LeaseMs:      transport.DefaultLeaseMs,
		Logger:       log,
	}
}

// Open builds the transport(s) named by cfg (a unicast client connection
// for "connect", a unicast listener for "listener", a multicast peer
// transport when multicast_scouting is enabled) and starts a Session
// over them (spec.md §4.4 "Open", §3's Session lifecycle). dialer and
// listener are the external link-driver collaborators named in spec.md's
// "OUT OF SCOPE" list; either may be nil if cfg never exercises it (e.g.
// a multicast-only peer needs no dialer for unicast "connect").
func Open(ctx context.Context, cfg config.Config, dialer link.Dialer, listener link.Listener, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		adapter, err := logging.New("zenoh", "info")
		if err != nil {
			return nil, errors.Wrap(err, "zenoh: building default logger")
		}
		log = adapter
	}

	zid := newLocalZID()
	tcfg := transportConfig(cfg, zid, log)

	var transports []transport.Transport

	if cfg.Connect != "" {
		if dialer == nil {
			return nil, errors.New("zenoh: config sets connect but no link.Dialer was provided")
		}
		loc, err := link.ParseLocator(cfg.Connect)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: parsing connect locator %q", cfg.Connect)
		}
		lnk, err := dialer.Dial(ctx, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: dialing %q", cfg.Connect)
		}
		tr, err := transport.OpenUnicastClient(ctx, lnk, tcfg)
		if err != nil {
			return nil, errors.Wrap(err, "zenoh: opening unicast client transport")
		}
		transports = append(transports, tr)
	}

	if cfg.MulticastScouting {
		if dialer == nil {
			return nil, errors.New("zenoh: config enables multicast_scouting but no link.Dialer was provided")
		}
		addr := cfg.MulticastAddress
		if addr == "" {
			addr = config.Default().MulticastAddress
		}
		loc, err := link.ParseLocator(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: parsing multicast_address %q", addr)
		}
		lnk, err := dialer.Dial(ctx, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: dialing multicast locator %q", addr)
		}
		mtr := transport.OpenMulticastPeer(ctx, lnk, tcfg)
		transports = append(transports, mtr)
	}

	sopts := opts.SessionOptions
	if sopts.Logger == nil {
		sopts.Logger = log
	}
	sess := session.New(zid, sopts, transports...)

	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(128)
	}

	s := &Session{
		Session: sess,
		cfg:     cfg,
		log:     log,
		sched:   sched,
	}

	if cfg.Listener != "" {
		if listener == nil {
			return nil, errors.New("zenoh: config sets listener but no link.Listener was provided")
		}
		loc, err := link.ParseLocator(cfg.Listener)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: parsing listener locator %q", cfg.Listener)
		}
		acceptor, err := listener.Listen(ctx, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "zenoh: listening on %q", cfg.Listener)
		}
		listenCtx, cancel := context.WithCancel(ctx)
		s.listenCancel = cancel
		s.listenWG.Add(1)
		go s.acceptLoop(listenCtx, acceptor, tcfg)
	}

	if opts.AutoStartAdminSpace {
		if err := s.StartAdminSpace(ctx); err != nil {
			s.Close()
			return nil, errors.Wrap(err, "zenoh: starting admin space")
		}
	}

	return s, nil
}

// acceptLoop accepts inbound unicast peers on acceptor and folds each
// one into the session (spec.md §4.4 "Open (peer role, unicast)"),
// stopping when ctx is cancelled or the acceptor closes.
func (s *Session) acceptLoop(ctx context.Context, acceptor link.Acceptor, tcfg transport.Config) {
	defer s.listenWG.Done()
	defer acceptor.Close()
	for {
		lnk, err := acceptor.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Errorf("zenoh: accept failed: %v", err)
			return
		}
		tr, err := transport.AcceptUnicastPeer(ctx, lnk, tcfg)
		if err != nil {
			s.log.Warnf("zenoh: unicast handshake failed: %v", err)
			continue
		}
		s.Session.AdoptTransport(tr)
	}
}
