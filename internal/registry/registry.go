// Package registry holds the live identity <-> connection index. It is the
// only shared mutable state in the core: every lookup the dispatcher performs
// and every admission the server performs goes through here.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daneralejandro03/geolocation-backend/internal/identity"
)

// Conn is the slice of a live connection the registry and dispatcher need:
// its process-local id, a fire-and-forget send, and a close for superseded
// sessions. *transport.Connection satisfies it.
type Conn interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

type entry struct {
	identity     identity.Identity
	conn         Conn
	registeredAt time.Time
}

// Registry is an in-memory bidirectional index between identity ids and live
// connections. A single mutex guards both maps so no reader can observe an
// entry present in one direction and absent in the other.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[int64]*entry
	byConn     map[uuid.UUID]*entry

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		byIdentity: make(map[int64]*entry),
		byConn:     make(map[uuid.UUID]*entry),
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// Register records conn as the live connection for ident, replacing any prior
// entry for the same identity. The displaced connection, if any, is returned
// so the caller can apply its reconnect policy; the registry never closes
// connections itself.
func (r *Registry) Register(ident identity.Identity, conn Conn) (superseded Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byIdentity[ident.ID]; ok {
		delete(r.byConn, prev.conn.ID())
		superseded = prev.conn
	}
	e := &entry{identity: ident, conn: conn, registeredAt: time.Now()}
	r.byIdentity[ident.ID] = e
	r.byConn[conn.ID()] = e

	r.logger.Debug("connection registered",
		slog.Int64("identityID", ident.ID),
		slog.String("connID", conn.ID().String()),
		slog.Bool("superseded", superseded != nil),
	)
	return superseded
}

// Unregister removes the entry for connID. Unknown ids are a no-op: the
// disconnect path may run twice (read pump failure and explicit close), and a
// superseded connection's teardown arrives after its entry is already gone.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	// Only drop the identity half if it still points at this connection;
	// a newer session for the same identity must survive the old one's close.
	if cur, ok := r.byIdentity[e.identity.ID]; ok && cur.conn.ID() == connID {
		delete(r.byIdentity, e.identity.ID)
	}
	r.logger.Debug("connection unregistered",
		slog.Int64("identityID", e.identity.ID),
		slog.String("connID", connID.String()),
	)
}

// ConnectionOf returns the live connection for an identity, if any.
func (r *Registry) ConnectionOf(identityID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byIdentity[identityID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// IdentityOf returns the identity behind a connection. The dispatcher derives
// the sender from this, never from client-supplied payload fields.
func (r *Registry) IdentityOf(connID uuid.UUID) (identity.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	if !ok {
		return identity.Identity{}, false
	}
	return e.identity, true
}
