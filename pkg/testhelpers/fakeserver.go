package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/identity"
)

// MaxDatabases is the number of logical databases a FakeServer accepts.
const MaxDatabases = 16

// ServerCounters counts commands a FakeServer received.
type ServerCounters struct {
	Dials       int
	Pings       int
	Selects     int
	ClientLists int
	ClientIDs   int
}

// FakeServer simulates the connection-level state of a Redis server: which
// connections are open, their selected database and their last command.
type FakeServer struct {
	mu sync.Mutex

	// Version is the major server version. Below 7 the last command of
	// CLIENT LIST and CLIENT ID is reported as "client".
	Version int

	requirePass string
	down        bool
	failPings   bool
	failSelects bool
	listFilter  func([]driver.Descriptor) []driver.Descriptor

	nextID     int64
	conns      map[int64]*fakeConn
	persistent map[string]int64 // persistent name -> connection id
	counters   ServerCounters
}

type fakeConn struct {
	id  int64
	db  int
	cmd string
}

// NewFakeServer returns a running server reporting version 7.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		Version:    7,
		conns:      make(map[int64]*fakeConn),
		persistent: make(map[string]int64),
	}
}

// RequirePass makes connections authenticate with pass. Empty disables auth.
func (s *FakeServer) RequirePass(pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirePass = pass
}

// Stop makes the server unreachable and drops every open connection.
func (s *FakeServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
	s.conns = make(map[int64]*fakeConn)
	s.persistent = make(map[string]int64)
}

// Start makes a stopped server reachable again.
func (s *FakeServer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = false
}

// FailPings makes PING return a non-connectivity error.
func (s *FakeServer) FailPings(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPings = fail
}

// FailSelects makes SELECT return a server error.
func (s *FakeServer) FailSelects(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSelects = fail
}

// FilterClientList rewrites CLIENT LIST replies. Nil restores the default.
func (s *FakeServer) FilterClientList(fn func([]driver.Descriptor) []driver.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFilter = fn
}

// SetDatabase changes a connection's database behind every client's back,
// as another process sharing the socket would.
func (s *FakeServer) SetDatabase(connID int64, db int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[connID]; ok {
		c.db = db
		c.cmd = "select"
	}
}

// Database returns the selected database of a connection.
func (s *FakeServer) Database(connID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[connID]
	if !ok {
		return 0, false
	}
	return c.db, true
}

// OpenConnections returns the number of open connections.
func (s *FakeServer) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Counters returns a snapshot of the command counters.
func (s *FakeServer) Counters() ServerCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *FakeServer) dial(addr, credential, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Dials++
	if s.down {
		return 0, fmt.Errorf("dial tcp %s: connect: connection refused", addr)
	}
	if s.requirePass != "" && credential != s.requirePass {
		return 0, errors.New("WRONGPASS invalid username-password pair or user is disabled")
	}
	if name != "" {
		if id, ok := s.persistent[name]; ok {
			if _, open := s.conns[id]; open {
				return id, nil
			}
		}
	}

	s.nextID++
	s.conns[s.nextID] = &fakeConn{id: s.nextID, cmd: "auth"}
	if name != "" {
		s.persistent[name] = s.nextID
	}
	return s.nextID, nil
}

func (s *FakeServer) close(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	for name, pid := range s.persistent {
		if pid == id {
			delete(s.persistent, name)
		}
	}
}

// conn returns the open connection or a connectivity error. Caller holds s.mu.
func (s *FakeServer) conn(id int64) (*fakeConn, error) {
	if s.down {
		return nil, errors.New("read tcp: i/o timeout")
	}
	c, ok := s.conns[id]
	if !ok {
		return nil, errors.New("use of closed network connection")
	}
	return c, nil
}

func (s *FakeServer) subcommand(sub string) string {
	if s.Version < 7 {
		return "client"
	}
	return "client|" + sub
}

func (s *FakeServer) ping(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Pings++
	c, err := s.conn(id)
	if err != nil {
		return err
	}
	c.cmd = "ping"
	if s.failPings {
		return errors.New("LOADING Redis is loading the dataset in memory")
	}
	return nil
}

func (s *FakeServer) selectDB(id int64, db int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Selects++
	c, err := s.conn(id)
	if err != nil {
		return err
	}
	c.cmd = "select"
	if s.failSelects {
		return errors.New("ERR SELECT is not allowed in cluster mode")
	}
	if db < 0 || db >= MaxDatabases {
		return errors.New("ERR DB index is out of range")
	}
	c.db = db
	return nil
}

func (s *FakeServer) clientList(id int64) ([]driver.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.ClientLists++
	c, err := s.conn(id)
	if err != nil {
		return nil, err
	}
	c.cmd = s.subcommand("list")

	ids := make([]int64, 0, len(s.conns))
	for cid := range s.conns {
		ids = append(ids, cid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	descs := make([]driver.Descriptor, 0, len(ids))
	for _, cid := range ids {
		fc := s.conns[cid]
		descs = append(descs, driver.NewDescriptor(fc.id, fc.db, fc.cmd))
	}
	if s.listFilter != nil {
		descs = s.listFilter(descs)
	}
	return descs, nil
}

func (s *FakeServer) clientID(id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.ClientIDs++
	c, err := s.conn(id)
	if err != nil {
		return 0, err
	}
	c.cmd = s.subcommand("id")
	return c.id, nil
}

// FakeFactory builds FakeHandles against servers registered by address.
// Unregistered addresses refuse connections.
type FakeFactory struct {
	mu      sync.Mutex
	family  driver.Family
	servers map[string]*FakeServer
	built   int
}

// NewFakeFactory returns a factory whose handles reply the way family does:
// booleans for redigo, status tokens otherwise.
func NewFakeFactory(family driver.Family) *FakeFactory {
	return &FakeFactory{
		family:  family,
		servers: make(map[string]*FakeServer),
	}
}

// Serve registers srv under the address of host and port.
func (f *FakeFactory) Serve(host string, port uint16, srv *FakeServer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[identity.New(host, port, identity.SchemeTCP, "", false).Addr()] = srv
}

// Built returns how many handles the factory constructed.
func (f *FakeFactory) Built() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

// NewHandle implements driver.Factory.
func (f *FakeFactory) NewHandle(_ context.Context, id identity.Identity) (driver.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	return &FakeHandle{
		id:     id,
		family: f.family,
		server: f.servers[id.Addr()],
	}, nil
}

// FakeHandle is a driver.Handle backed by a FakeServer.
type FakeHandle struct {
	mu     sync.Mutex
	id     identity.Identity
	family driver.Family
	server *FakeServer
	connID int64
}

// Identity returns the identity the handle was built for, persistence tag
// included.
func (h *FakeHandle) Identity() identity.Identity {
	return h.id
}

// ServerConnID returns the server-side id of the open connection, 0 when
// not connected.
func (h *FakeHandle) ServerConnID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connID
}

func (h *FakeHandle) Connect(_ context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connID != 0 {
		return true, nil
	}
	if h.server == nil {
		return false, fmt.Errorf("dial tcp %s: connect: connection refused", h.id.Addr())
	}
	id, err := h.server.dial(h.id.Addr(), h.id.Credential, h.id.PersistentName())
	if err != nil {
		return false, err
	}
	h.connID = id
	return true, nil
}

func (h *FakeHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connID == 0 {
		return nil
	}
	h.server.close(h.connID)
	h.connID = 0
	return nil
}

func (h *FakeHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connID != 0
}

func (h *FakeHandle) connected() (int64, error) {
	if h.connID == 0 {
		return 0, fmt.Errorf("%w: fake handle not connected", apperrors.ErrConnectionLost)
	}
	return h.connID, nil
}

func (h *FakeHandle) reply(token driver.Status) any {
	if h.family == driver.FamilyRedigo {
		return true
	}
	return token
}

func (h *FakeHandle) Ping(_ context.Context) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.connected()
	if err != nil {
		return nil, err
	}
	if err := h.server.ping(id); err != nil {
		return nil, err
	}
	return h.reply(driver.StatusPONG), nil
}

func (h *FakeHandle) Select(_ context.Context, db int) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.connected()
	if err != nil {
		return nil, err
	}
	if err := h.server.selectDB(id, db); err != nil {
		return nil, err
	}
	return h.reply(driver.StatusOK), nil
}

func (h *FakeHandle) ClientList(_ context.Context) ([]driver.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.connected()
	if err != nil {
		return nil, err
	}
	return h.server.clientList(id)
}

func (h *FakeHandle) ClientID(_ context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.connected()
	if err != nil {
		return 0, err
	}
	return h.server.clientID(id)
}

func (h *FakeHandle) Persistent() bool {
	return h.id.Persistent
}

func (h *FakeHandle) Identify() driver.Family {
	return h.family
}

var (
	_ driver.Handle  = (*FakeHandle)(nil)
	_ driver.Factory = (*FakeFactory)(nil)
)
