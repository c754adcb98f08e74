// Package authstate implements the Kerberos Auth State Machine (spec §4.3):
// the chain of asynchronous transitions that turns one PAM AUTHENTICATE or
// CHAUTHTOK request into a spawned, de-privileged helper child, a framed
// IPC exchange, and a terminal PAM status — with offline tracking and
// optional credential caching on success.
package authstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/obslog"
	"github.com/smnsjas/go-identd/internal/offline"
	"github.com/smnsjas/go-identd/internal/pamtypes"
	"github.com/smnsjas/go-identd/internal/procrunner"
	"github.com/smnsjas/go-identd/internal/sched"
	"github.com/smnsjas/go-identd/internal/wire"
)

// Config holds the Kerberos provider context (spec §3): realm, KDC
// address, change-password principal, and the simple-UPN fallback option.
// It is fixed for the lifetime of the backend.
type Config struct {
	Realm             string
	KDCAddr           string
	TrySimpleUPN      bool
	ChangePwPrincipal string
	CacheCredentials  bool

	// HelperPath is the Kerberos helper binary invoked with no arguments
	// (§4.2, §6). HelperDir is the neutral working directory the child
	// chdirs into before dropping privileges.
	HelperPath string
	HelperDir  string
}

// childRunner is the subset of *procrunner.Runner the state machine
// depends on. Tests substitute a fake that emulates the helper child over
// real pipes, without spawning an actual process.
type childRunner interface {
	Start() (*wire.Transport, error)
	Reap(loop *sched.Loop, fn func(procrunner.Result))
	Close() error
}

// Machine drives one backend's Kerberos auth requests through §4.3. It is
// not safe for concurrent use from outside the loop goroutine it is bound
// to — Handle, and every continuation it schedules, must run there.
type Machine struct {
	cfg     Config
	store   cache.Store
	offline *offline.Tracker
	loop    *sched.Loop
	logger  *slog.Logger

	newRunner func(procrunner.Spec) childRunner
}

// New creates a Machine. offline is the backend's single shared offline
// tracker (§9 design note: Kerberos and Directory providers of one
// backend consult the same flag).
func New(cfg Config, store cache.Store, offline *offline.Tracker, loop *sched.Loop, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		cfg:     cfg,
		store:   store,
		offline: offline,
		loop:    loop,
		logger:  logger,
		newRunner: func(spec procrunner.Spec) childRunner {
			return procrunner.New(spec)
		},
	}
}

// Handle begins the state machine for req. Must be called on the loop
// goroutine. The handler rejects any command other than AUTHENTICATE or
// CHAUTHTOK with PAM_SUCCESS immediately — those aren't ours (§4.3).
func (m *Machine) Handle(req *pamtypes.Request) {
	if req.Command != pamtypes.CommandAuthenticate && req.Command != pamtypes.CommandChauthtok {
		req.Finish(pamtypes.StatusSuccess)
		return
	}

	st := &requestState{req: req, correlationID: obslog.NewSecurityLogger(m.logger, req.AccountName).CorrelationID()}

	if m.offline.IsOffline() {
		m.securityLog(st).LogAuthentication(subtypeFor(req.Command), obslog.OutcomeUnavailable, obslog.SeverityWarning, nil)
		m.finish(st, pamtypes.StatusAuthinfoUnavail)
		return
	}

	m.resolveUPN(st)
}

func (m *Machine) securityLog(st *requestState) *obslog.SecurityLogger {
	sl := obslog.NewSecurityLogger(m.logger, st.req.AccountName)
	return sl
}

func subtypeFor(cmd pamtypes.Command) string {
	if cmd == pamtypes.CommandChauthtok {
		return obslog.SubtypeChauthtok
	}
	return obslog.SubtypeAuthenticate
}

// resolveUPN implements the resolving_upn transition: prefer the cached
// principal; fall back to user@realm if enabled and configured; otherwise
// fail PAM_SYSTEM_ERR.
func (m *Machine) resolveUPN(st *requestState) {
	principal, ok, err := m.store.LookupPrincipal(context.Background(), st.req.AccountName)
	if err != nil {
		m.logger.Warn("principal lookup failed", slog.String("account", st.req.AccountName), slog.String("error", err.Error()))
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	switch {
	case ok && principal != "":
		st.principal = principal
	case m.cfg.TrySimpleUPN && m.cfg.Realm != "":
		st.principal = st.req.AccountName + "@" + m.cfg.Realm
	default:
		m.logger.Warn("no principal available", slog.String("account", st.req.AccountName))
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	m.spawn(st)
}

// spawn implements the spawning transition: fork+exec the de-privileged
// helper (§4.2).
func (m *Machine) spawn(st *requestState) {
	runner := m.newRunner(procrunner.Spec{
		Path: m.cfg.HelperPath,
		Dir:  m.cfg.HelperDir,
		UID:  st.req.TargetUID,
		GID:  st.req.TargetGID,
	})

	transport, err := runner.Start()
	if err != nil {
		m.logger.Error("failed to spawn kerberos helper", slog.String("account", st.req.AccountName), slog.String("error", err.Error()))
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	st.runner = runner
	st.transport = transport
	m.write(st)
}

// write implements the writing transition: serialise and send the
// request frame, then close the write end (handled by WriteFrame).
func (m *Machine) write(st *requestState) {
	cmd := wire.CmdAuthenticate
	if st.req.Command == pamtypes.CommandChauthtok {
		cmd = wire.CmdChauthtok
	}

	frame, err := wire.Request{
		Cmd:        cmd,
		UPN:        st.principal,
		AuthTok:    st.req.AuthTok,
		NewAuthTok: st.req.NewAuthTok,
	}.Encode()
	if err != nil {
		m.logger.Error("failed to encode request frame", slog.String("error", err.Error()))
		st.cleanup()
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	if err := st.transport.WriteFrame(frame); err != nil {
		m.logger.Error("failed to write request frame", slog.String("error", err.Error()))
		st.cleanup()
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	m.read(st)
}

// read implements the reading transition. ReadFrame blocks on the pipe's
// read end; it runs on a dedicated goroutine so the loop goroutine is
// never blocked, and hands the result back via loop.Post so dispatching
// still executes on the loop — the only place state is allowed to
// mutate (§5).
func (m *Machine) read(st *requestState) {
	go func() {
		data, err := st.transport.ReadFrame()
		m.loop.Post(func() { m.dispatch(st, data, err) })
	}()

	// The helper's exit is reaped independently for logging; a non-zero
	// exit or wait error doesn't gate completion — the transport result
	// (success, truncation, or EOF) is what determines the PAM status.
	st.runner.Reap(m.loop, func(res procrunner.Result) {
		if res.Err != nil {
			m.logger.Warn("failed to reap kerberos helper", slog.String("error", res.Err.Error()))
		} else if res.ExitCode != 0 {
			m.logger.Warn("kerberos helper exited non-zero", slog.Int("exit_code", res.ExitCode))
		}
	})
}

// dispatch implements the dispatching transition: parse the reply frame,
// append response items, and resolve the terminal (or caching) status.
func (m *Machine) dispatch(st *requestState, data []byte, readErr error) {
	st.cleanup()

	sl := m.securityLog(st)
	subtype := subtypeFor(st.req.Command)

	if readErr != nil {
		sl.LogAuthentication(subtype, obslog.OutcomeFailure, obslog.SeverityError, map[string]any{"reason": readErr.Error()})
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	reply, err := wire.DecodeReply(data)
	if err != nil {
		sl.LogAuthentication(subtype, obslog.OutcomeFailure, obslog.SeverityError, map[string]any{"reason": fmt.Sprintf("malformed reply: %v", err)})
		m.finish(st, pamtypes.StatusSystemErr)
		return
	}

	if len(reply.Payload) > 0 {
		st.req.AppendItem(itemTypeFromWire(reply.MsgType), string(reply.Payload))
	}

	status := pamtypes.Status(reply.Status)

	if status == pamtypes.StatusAuthinfoUnavail {
		m.offline.MarkOffline()
		sl.LogAuthentication(subtype, obslog.OutcomeUnavailable, obslog.SeverityWarning, nil)
		m.finish(st, status)
		return
	}

	if status == pamtypes.StatusSuccess && st.req.Command == pamtypes.CommandAuthenticate {
		st.req.AppendItem(pamtypes.ItemEnv, "SSSD_REALM="+m.cfg.Realm)
		st.req.AppendItem(pamtypes.ItemEnv, "SSSD_KDC="+m.cfg.KDCAddr)
	}

	var details map[string]any
	if st.req.Command == pamtypes.CommandChauthtok && m.cfg.ChangePwPrincipal != "" {
		details = map[string]any{"changepw_principal": m.cfg.ChangePwPrincipal}
	}
	sl.LogAuthentication(subtype, outcomeFor(status), severityFor(status), details)

	if status == pamtypes.StatusSuccess && m.cfg.CacheCredentials {
		m.cacheCredential(st, status)
		return
	}

	m.finish(st, status)
}

// cacheCredential implements the optional caching transition. Password
// cache failures are logged but never change the terminal status (§4.3,
// §7).
func (m *Machine) cacheCredential(st *requestState, status pamtypes.Status) {
	tok := st.req.AuthTok
	if st.req.Command == pamtypes.CommandChauthtok {
		tok = st.req.NewAuthTok
	}

	cp := make([]byte, len(tok))
	copy(cp, tok)
	defer obslog.WipeBytes(cp)

	if err := m.store.SavePassword(context.Background(), st.req.AccountName, cp); err != nil {
		m.logger.Warn("password cache failed", slog.String("account", st.req.AccountName), slog.String("error", err.Error()))
	}

	m.finish(st, status)
}

// finish implements the done transition: wipe secrets, release any
// remaining resources, and invoke the completion callback exactly once.
func (m *Machine) finish(st *requestState, status pamtypes.Status) {
	st.cleanup()
	obslog.WipeBytes(st.req.AuthTok)
	obslog.WipeBytes(st.req.NewAuthTok)
	st.req.Finish(status)
}

func itemTypeFromWire(msgType int32) pamtypes.ItemType {
	if msgType == 1 {
		return pamtypes.ItemErrorMsg
	}
	return pamtypes.ItemUserInfo
}

func outcomeFor(status pamtypes.Status) string {
	switch status {
	case pamtypes.StatusSuccess:
		return obslog.OutcomeSuccess
	case pamtypes.StatusAuthErr:
		return obslog.OutcomeDenied
	default:
		return obslog.OutcomeFailure
	}
}

func severityFor(status pamtypes.Status) string {
	if status == pamtypes.StatusSuccess {
		return obslog.SeverityInfo
	}
	return obslog.SeverityWarning
}
