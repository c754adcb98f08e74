package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-identd/internal/dirconn"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/offline"
)

func testConfig() Config {
	return Config{
		UserBaseDN:       "ou=users,dc=example,dc=com",
		UserNameAttr:     "uid",
		UserIDAttr:       "uidNumber",
		UserObjectClass:  "posixAccount",
		UserAttrs:        []Attribute{{Name: "uid"}, {Name: ""}, {Name: "uidNumber"}},
		GroupBaseDN:      "ou=groups,dc=example,dc=com",
		GroupNameAttr:    "cn",
		GroupIDAttr:      "gidNumber",
		GroupObjectClass: "posixGroup",
		GroupAttrs:       []Attribute{{Name: "cn"}},
		GroupMemberAttr:  "memberUid",
	}
}

func newDispatcher(entries []dirproto.SearchResult) (*Dispatcher, *dirproto.FakeDialer) {
	dialer := dirproto.NewFakeDialer(entries)
	conn := dirconn.New(dirconn.Config{}, dialer, offline.New(nil, time.Minute), nil)
	return New(testConfig(), conn), dialer
}

func TestDispatchUserWildcardIsNoOp(t *testing.T) {
	d, dialer := newDispatcher(nil)
	results, err := d.Dispatch(context.Background(), Request{EntryType: EntryUser, FilterType: FilterName, FilterValue: "*"})
	require.NoError(t, err)
	require.Nil(t, results)
	require.Equal(t, 0, dialer.Dials(), "wildcard lookup must not touch the directory")
}

func TestDispatchUserByNameBuildsFilter(t *testing.T) {
	entries := []dirproto.SearchResult{{DN: "uid=alice,ou=users,dc=example,dc=com", Attributes: map[string][]string{"uid": {"alice"}}}}
	d, _ := newDispatcher(entries)

	results, err := d.Dispatch(context.Background(), Request{EntryType: EntryUser, FilterType: FilterName, FilterValue: "alice"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDispatchInitgroupsRejectsNonNameFilter(t *testing.T) {
	d, dialer := newDispatcher(nil)
	_, err := d.Dispatch(context.Background(), Request{EntryType: EntryInitgroups, FilterType: FilterIDNum, AttrType: AttrCore, FilterValue: "1000"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, 0, dialer.Dials())
}

func TestDispatchInitgroupsRejectsWildcard(t *testing.T) {
	d, _ := newDispatcher(nil)
	_, err := d.Dispatch(context.Background(), Request{EntryType: EntryInitgroups, FilterType: FilterName, AttrType: AttrCore, FilterValue: "ali*"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDispatchOfflineShortCircuits(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	tracker := offline.New(nil, time.Minute)
	tracker.MarkOffline()
	conn := dirconn.New(dirconn.Config{}, dialer, tracker, nil)
	d := New(testConfig(), conn)

	_, err := d.Dispatch(context.Background(), Request{EntryType: EntryUser, FilterType: FilterName, FilterValue: "alice"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 0, dialer.Dials())
}

func TestRepeatedQueriesProduceIdenticalFilters(t *testing.T) {
	d, _ := newDispatcher(nil)
	req := Request{EntryType: EntryUser, FilterType: FilterName, FilterValue: "alice"}

	first, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAttributeListSkipsEmptyNamesAndLeadsWithObjectClass(t *testing.T) {
	out := attributeList([]Attribute{{Name: "uid"}, {Name: ""}, {Name: "uidNumber"}})
	require.Equal(t, []string{"objectClass", "uid", "uidNumber"}, out)
}
