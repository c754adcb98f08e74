// Package identity implements the Identity Request Dispatcher (spec §4.5):
// it classifies inbound account-info requests, builds the directory filter
// for the requested entry kind, ensures a connection per §4.4, and issues
// the query.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smnsjas/go-identd/internal/dirconn"
	"github.com/smnsjas/go-identd/internal/dirproto"
)

// EntryType identifies the kind of account-info request.
type EntryType int

const (
	EntryUser EntryType = iota
	EntryGroup
	EntryInitgroups
)

// FilterType identifies how the caller is naming the account.
type FilterType int

const (
	FilterName FilterType = iota
	FilterIDNum
)

// AttrType identifies the requested attribute set. CORE is the only value
// this dispatcher currently validates against (§4.5's INITGROUPS rule).
type AttrType int

const (
	AttrCore AttrType = iota
)

// ErrUnavailable is returned when the backend is offline (§4.4).
var ErrUnavailable = errors.New("identity: backend unavailable, retry later")

// ErrInvalidArgument is returned for a malformed INITGROUPS request.
var ErrInvalidArgument = errors.New("identity: invalid argument")

// Attribute is one entry of an attribute map. A zero-value (empty Name)
// entry is a deliberate gap in the map and is skipped when the outbound
// attribute list is built.
type Attribute struct {
	Name string
}

// Config holds the directory schema mapping used to build filters and
// attribute lists for both entry kinds.
type Config struct {
	UserBaseDN      string
	UserNameAttr    string
	UserIDAttr      string
	UserObjectClass string
	UserAttrs       []Attribute

	GroupBaseDN      string
	GroupNameAttr    string
	GroupIDAttr      string
	GroupObjectClass string
	GroupAttrs       []Attribute

	// GroupMemberAttr names the group attribute holding member account
	// names, used to resolve INITGROUPS.
	GroupMemberAttr string
}

// Request is one classified account-info request (§4.5's input table).
type Request struct {
	EntryType   EntryType
	FilterType  FilterType
	AttrType    AttrType
	FilterValue string
}

// Dispatcher classifies and services account-info requests.
type Dispatcher struct {
	cfg  Config
	conn *dirconn.Manager
}

// New creates a Dispatcher backed by conn, the backend's directory
// connection manager.
func New(cfg Config, conn *dirconn.Manager) *Dispatcher {
	return &Dispatcher{cfg: cfg, conn: conn}
}

// Dispatch classifies req and, if it requires directory access, ensures a
// connection and issues the search. A nil, nil result for a USER or GROUP
// wildcard lookup means "success, no work" per §4.5.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]dirproto.SearchResult, error) {
	switch req.EntryType {
	case EntryUser:
		return d.dispatchSimple(ctx, req, d.cfg.UserBaseDN, d.cfg.UserObjectClass, d.cfg.UserAttrs, nameOrIDAttr(req.FilterType, d.cfg.UserNameAttr, d.cfg.UserIDAttr))
	case EntryGroup:
		return d.dispatchSimple(ctx, req, d.cfg.GroupBaseDN, d.cfg.GroupObjectClass, d.cfg.GroupAttrs, nameOrIDAttr(req.FilterType, d.cfg.GroupNameAttr, d.cfg.GroupIDAttr))
	case EntryInitgroups:
		return d.dispatchInitgroups(ctx, req)
	default:
		return nil, fmt.Errorf("identity: unknown entry type %d", req.EntryType)
	}
}

func (d *Dispatcher) dispatchSimple(ctx context.Context, req Request, baseDN, objectClass string, attrs []Attribute, attr string) ([]dirproto.SearchResult, error) {
	if req.FilterValue == "*" {
		return nil, nil
	}

	filter := fmt.Sprintf("(&(%s=%s)(objectclass=%s))", attr, req.FilterValue, objectClass)
	return d.query(ctx, baseDN, filter, attributeList(attrs))
}

func (d *Dispatcher) dispatchInitgroups(ctx context.Context, req Request) ([]dirproto.SearchResult, error) {
	if req.FilterType != FilterName || req.AttrType != AttrCore || strings.Contains(req.FilterValue, "*") {
		return nil, ErrInvalidArgument
	}

	filter := fmt.Sprintf("(&(%s=%s)(objectclass=%s))", d.cfg.GroupMemberAttr, req.FilterValue, d.cfg.GroupObjectClass)
	return d.query(ctx, d.cfg.GroupBaseDN, filter, attributeList(d.cfg.GroupAttrs))
}

func (d *Dispatcher) query(ctx context.Context, baseDN, filter string, attrs []string) ([]dirproto.SearchResult, error) {
	if d.conn.IsOffline() {
		return nil, ErrUnavailable
	}

	handle, err := d.conn.EnsureConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: ensure connected: %w", err)
	}

	results, err := handle.Search(ctx, baseDN, filter, attrs, 0)
	if err != nil {
		return nil, fmt.Errorf("identity: search: %w", err)
	}
	return results, nil
}

func nameOrIDAttr(ft FilterType, nameAttr, idAttr string) string {
	if ft == FilterIDNum {
		return idAttr
	}
	return nameAttr
}

// attributeList builds the outbound attribute list: objectClass always
// first, followed by the non-empty Name fields of attrs in order (§4.5).
func attributeList(attrs []Attribute) []string {
	out := make([]string, 0, len(attrs)+1)
	out = append(out, "objectClass")
	for _, a := range attrs {
		if a.Name != "" {
			out = append(out, a.Name)
		}
	}
	return out
}
