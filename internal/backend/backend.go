// Package backend assembles one configured instance of the core: the
// Kerberos auth state machine, the directory connection manager, the
// identity dispatcher, and the enumeration scheduler, all sharing the
// single offline tracker spec §9's design note calls for ("a single bit
// shared between the two providers of one backend, not one per
// provider").
package backend

import (
	"context"
	"log/slog"
	"os"

	"github.com/smnsjas/go-identd/internal/authstate"
	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/clockutil"
	"github.com/smnsjas/go-identd/internal/config"
	"github.com/smnsjas/go-identd/internal/dirconn"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/enum"
	"github.com/smnsjas/go-identd/internal/identity"
	"github.com/smnsjas/go-identd/internal/offline"
	"github.com/smnsjas/go-identd/internal/pamtypes"
	"github.com/smnsjas/go-identd/internal/sched"
)

// Backend is one fully wired instance of the module-init contract (§6):
// a Kerberos auth handler, a directory identity dispatcher, and the
// enumeration scheduler backing both, sharing one offline tracker and one
// single-threaded loop.
type Backend struct {
	Loop *sched.Loop

	Auth     *authstate.Machine
	Conn     *dirconn.Manager
	Identity *identity.Dispatcher
	Enum     *enum.Scheduler
	Offline  *offline.Tracker
	Store    cache.Store

	logger *slog.Logger
}

// New builds a Backend from configuration. dialer is the directory
// protocol dialer (a real one in production, dirproto.NewFakeDialer in
// cmd/identd-ctl's standalone mode); store is the local cache.
func New(cfg config.Config, dialer dirproto.Dialer, store cache.Store, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}

	loop := sched.New()
	tracker := offline.New(clockutil.Real{}, cfg.Directory.OfflineTimeout)

	// Export the Kerberos module-init environment (§6), mirroring the
	// setenv() calls sssm_krb5_auth_init makes (krb5_auth.c:788,802,828).
	// exec.Cmd leaves Env nil for the krb5-helper child it spawns, so the
	// child inherits these from the process environment with no wire
	// protocol change needed.
	os.Setenv("SSSD_KDC", cfg.Kerberos.KDCIP)
	os.Setenv("SSSD_REALM", cfg.Kerberos.Realm)
	os.Setenv("SSSD_KRB5_CHANGEPW_PRINCIPLE", cfg.ChangePwPrincipalFQ())

	auth := authstate.New(authstate.Config{
		Realm:             cfg.Kerberos.Realm,
		KDCAddr:           cfg.Kerberos.KDCIP,
		TrySimpleUPN:      cfg.Kerberos.TrySimpleUPN,
		ChangePwPrincipal: cfg.ChangePwPrincipalFQ(),
		CacheCredentials:  cfg.Kerberos.CacheCredentials,
		HelperPath:        cfg.Kerberos.HelperPath,
		HelperDir:         cfg.Kerberos.HelperDir,
	}, store, tracker, loop, logger)

	conn := dirconn.New(dirconn.Config{
		Address:  cfg.Directory.Address,
		StartTLS: cfg.Directory.StartTLS,
		BindDN:   cfg.Directory.BindDN,
		BindPW:   cfg.Directory.BindPW,
	}, dialer, tracker, logger)

	ident := identity.New(identity.Config{
		UserBaseDN:       cfg.Directory.UserBaseDN,
		UserNameAttr:     cfg.Directory.UserNameAttr,
		UserIDAttr:       cfg.Directory.UserIDAttr,
		UserObjectClass:  cfg.Directory.UserObjectClass,
		UserAttrs:        attrsOf(cfg.Directory.UserAttrs),
		GroupBaseDN:      cfg.Directory.GroupBaseDN,
		GroupNameAttr:    cfg.Directory.GroupNameAttr,
		GroupIDAttr:      cfg.Directory.GroupIDAttr,
		GroupObjectClass: cfg.Directory.GroupObjectClass,
		GroupAttrs:       attrsOf(cfg.Directory.GroupAttrs),
		GroupMemberAttr:  cfg.Directory.GroupMemberAttr,
	}, conn)

	sweeper := enum.New(enum.Config{
		Enabled:          cfg.Directory.EnumerateEnabled,
		RefreshTimeout:   cfg.Directory.EnumRefresh,
		UserBaseDN:       cfg.Directory.UserBaseDN,
		UserNameAttr:     cfg.Directory.UserNameAttr,
		UserObjectClass:  cfg.Directory.UserObjectClass,
		UserModstamp:     cfg.Directory.UserModstamp,
		GroupBaseDN:      cfg.Directory.GroupBaseDN,
		GroupNameAttr:    cfg.Directory.GroupNameAttr,
		GroupObjectClass: cfg.Directory.GroupObjectClass,
		GroupModstamp:    cfg.Directory.GroupModstamp,
		UserAttrs:        enumAttrList(cfg.Directory.UserAttrs),
		GroupAttrs:       enumAttrList(cfg.Directory.GroupAttrs),
	}, conn, store, loop, clockutil.Real{}, logger)

	return &Backend{
		Loop:     loop,
		Auth:     auth,
		Conn:     conn,
		Identity: ident,
		Enum:     sweeper,
		Offline:  tracker,
		Store:    store,
		logger:   logger,
	}
}

func attrsOf(names []string) []identity.Attribute {
	out := make([]identity.Attribute, len(names))
	for i, n := range names {
		out[i] = identity.Attribute{Name: n}
	}
	return out
}

// enumAttrList builds the attribute list an enumeration sweep requests,
// objectClass first then the configured extras, matching the identity
// dispatcher's own attributeList convention (§4.5, ldap_id.c:995,1145).
func enumAttrList(names []string) []string {
	out := make([]string, 0, len(names)+1)
	out = append(out, "objectClass")
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Run starts the enumeration scheduler and drives the loop until ctx is
// cancelled. It blocks; callers run it from the process's main goroutine.
func (b *Backend) Run(ctx context.Context) error {
	if err := b.Enum.Start(); err != nil {
		return err
	}
	b.Loop.Run(ctx)
	return nil
}

// HandleAuthenticate dispatches a PAM_SM_AUTHENTICATE call onto the loop.
func (b *Backend) HandleAuthenticate(req *pamtypes.Request) {
	req.Command = pamtypes.CommandAuthenticate
	b.Loop.Post(func() { b.Auth.Handle(req) })
}

// HandleChauthtok dispatches a PAM_SM_CHAUTHTOK call onto the loop.
func (b *Backend) HandleChauthtok(req *pamtypes.Request) {
	req.Command = pamtypes.CommandChauthtok
	b.Loop.Post(func() { b.Auth.Handle(req) })
}

// LookupIdentity runs an account-info dispatch. It may be called from any
// goroutine: identity.Dispatcher issues its own directory I/O directly
// rather than hopping through the loop, since it has no shared mutable
// request state to protect (unlike the Kerberos state machine).
func (b *Backend) LookupIdentity(ctx context.Context, req identity.Request) ([]dirproto.SearchResult, error) {
	return b.Identity.Dispatch(ctx, req)
}
