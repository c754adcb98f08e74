package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-identd/internal/cache"
	"github.com/smnsjas/go-identd/internal/config"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/identity"
	"github.com/smnsjas/go-identd/internal/pamtypes"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Kerberos.Realm = "EXAMPLE.COM"
	cfg.Directory.UserBaseDN = "ou=users,dc=example,dc=com"
	cfg.Directory.UserNameAttr = "uid"
	cfg.Directory.GroupBaseDN = "ou=groups,dc=example,dc=com"
	cfg.Directory.GroupNameAttr = "cn"
	cfg.Directory.EnumerateEnabled = false
	return cfg
}

func TestNewSharesOneOfflineTrackerAcrossProviders(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	b := New(testConfig(), dialer, cache.NewMemStore(), nil)

	b.Offline.MarkOffline()
	require.True(t, b.Conn.IsOffline(), "directory manager must observe the same tracker the backend marked offline")

	_, err := b.Identity.Dispatch(context.Background(), identity.Request{
		EntryType:   identity.EntryUser,
		FilterType:  identity.FilterName,
		FilterValue: "alice",
	})
	require.ErrorIs(t, err, identity.ErrUnavailable)
}

func TestHandleAuthenticateOfflineWiresThroughLoop(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	b := New(testConfig(), dialer, cache.NewMemStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Loop.Run(ctx)

	b.Offline.MarkOffline()

	done := make(chan *pamtypes.Request, 1)
	req := &pamtypes.Request{
		AccountName: "alice",
		AuthTok:     []byte("hunter2"),
		Done:        func(r *pamtypes.Request) { done <- r },
	}
	b.HandleAuthenticate(req)

	select {
	case r := <-done:
		require.Equal(t, pamtypes.StatusAuthinfoUnavail, r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("request never completed")
	}
}

func TestRunStartsEnumerationWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.EnumerateEnabled = true
	cfg.Directory.EnumRefresh = time.Hour

	dialer := dirproto.NewFakeDialer([]dirproto.SearchResult{
		{Attributes: map[string][]string{"uid": {"alice"}, "modifyTimestamp": {"20240101000000Z"}}},
	})
	store := cache.NewMemStore()
	b := New(cfg, dialer, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	defer cancel()

	require.Eventually(t, func() bool {
		return b.Enum.UserWatermark() != ""
	}, 2*time.Second, 10*time.Millisecond)
}
