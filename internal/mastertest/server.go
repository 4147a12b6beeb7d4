// Package mastertest is an in-memory master server speaking the wire protocol
// over net.Pipe, for tests and examples.
package mastertest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/protocol"
	"github.com/huykn/mastersync/schema"
	"github.com/huykn/mastersync/types"
)

// Option configures a Server.
type Option func(*Server)

// WithVersions sets the versions the server accepts.
func WithVersions(vs ...protocol.Version) Option {
	return func(s *Server) { s.versions = vs }
}

// WithRegistry replaces the default table registry.
func WithRegistry(reg *schema.Registry) Option {
	return func(s *Server) { s.reg = reg }
}

// WithLogger logs connection failures.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNoOp(l) }
}

// WithChunkSize sets the file chunk size.
func WithChunkSize(n int) Option {
	return func(s *Server) { s.chunkSize = n }
}

type rowKey struct {
	table types.TableID
	key   string
}

// Server holds tables and files and answers requests on every dialed pipe.
type Server struct {
	reg       *schema.Registry
	logger    logging.Logger
	chunkSize int

	mu           sync.Mutex
	versions     []protocol.Version
	tables       map[types.TableID]map[string]schema.Row
	files        map[string][]byte
	conns        map[net.Conn]struct{}
	listeners    map[*listener]struct{}
	held         bool
	queued       []types.Invalidation
	rowFetches   map[rowKey]int
	tableFetches map[types.TableID]int
	commands     map[protocol.CommandID]int
	fetchDelay   time.Duration
	failNext     *protocol.RemoteError
	closed       bool
	wg           sync.WaitGroup
}

// New returns an empty server accepting every supported version.
func New(opts ...Option) *Server {
	s := &Server{
		reg:          schema.DefaultRegistry(),
		logger:       logging.NewNoOpLogger(),
		chunkSize:    1024,
		versions:     protocol.Versions(),
		tables:       make(map[types.TableID]map[string]schema.Row),
		files:        make(map[string][]byte),
		conns:        make(map[net.Conn]struct{}),
		listeners:    make(map[*listener]struct{}),
		rowFetches:   make(map[rowKey]int),
		tableFetches: make(map[types.TableID]int),
		commands:     make(map[protocol.CommandID]int),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects a new client stream. It matches dispatch.Dialer.
func (s *Server) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("mastertest: server closed")
	}
	s.conns[server] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.serve(server)
	return client, nil
}

// SetVersions changes the versions accepted by later handshakes.
func (s *Server) SetVersions(vs ...protocol.Version) {
	s.mu.Lock()
	s.versions = vs
	s.mu.Unlock()
}

// Put stores row directly, without an invalidation.
func (s *Server) Put(row schema.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(row)
}

func (s *Server) putLocked(row schema.Row) {
	t, ok := s.tables[row.Table()]
	if !ok {
		t = make(map[string]schema.Row)
		s.tables[row.Table()] = t
	}
	t[row.Key()] = row
}

// Delete removes a row directly, without an invalidation.
func (s *Server) Delete(table types.TableID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[table], key)
}

// Row returns the stored row.
func (s *Server) Row(table types.TableID, key string) (schema.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tables[table][key]
	return r, ok
}

// SetFile stores a file served by CmdGetFile.
func (s *Server) SetFile(path string, data []byte) {
	s.mu.Lock()
	s.files[path] = append([]byte{}, data...)
	s.mu.Unlock()
}

// SetFetchDelay delays every row and table fetch.
func (s *Server) SetFetchDelay(d time.Duration) {
	s.mu.Lock()
	s.fetchDelay = d
	s.mu.Unlock()
}

// FailNext makes the next request, whatever its command, answer with ERROR.
func (s *Server) FailNext(code int64, message string) {
	s.mu.Lock()
	s.failNext = &protocol.RemoteError{Code: code, Message: message}
	s.mu.Unlock()
}

// HoldInvalidations queues invalidations until ReleaseInvalidations.
func (s *Server) HoldInvalidations() {
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
}

// ReleaseInvalidations delivers queued invalidations and stops holding.
func (s *Server) ReleaseInvalidations() {
	s.mu.Lock()
	s.held = false
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()
	for _, inv := range queued {
		s.Invalidate(inv)
	}
}

// Invalidate pushes inv to every listening client. The table is not checked,
// so tests can send ids the client does not know.
func (s *Server) Invalidate(inv types.Invalidation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.queued = append(s.queued, inv)
		return
	}
	for l := range s.listeners {
		l.push(inv)
	}
}

// Listeners returns the number of open invalidation streams.
func (s *Server) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// RowFetches counts CmdGetRow requests for (table, key).
func (s *Server) RowFetches(table types.TableID, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowFetches[rowKey{table, key}]
}

// TableFetches counts CmdGetTable requests for table.
func (s *Server) TableFetches(table types.TableID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableFetches[table]
}

// Commands counts the requests received for cmd.
func (s *Server) Commands(cmd protocol.CommandID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[cmd]
}

// EndStreams finishes every open invalidation stream with DONE. The
// connections stay up.
func (s *Server) EndStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners {
		l.stop()
	}
}

// DropConnections closes every server side pipe.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close drops every connection and waits for their handlers.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for l := range s.listeners {
		l.stop()
	}
	s.mu.Unlock()
	s.DropConnections()
	s.wg.Wait()
}

// session is the server half of one connection.
type session struct {
	srv  *Server
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
	v    protocol.Version
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	bw := bufio.NewWriter(conn)
	br := bufio.NewReader(conn)
	offered, err := protocol.ReadHello(protocol.NewDecoder(br, protocol.Version{}, protocol.DefaultLimits()))
	if err != nil {
		return
	}
	s.mu.Lock()
	accepted := s.versions
	s.mu.Unlock()

	hello := protocol.NewEncoder(bw, protocol.Version{})
	v, ok := protocol.Choose(offered, accepted)
	if !ok {
		protocol.WriteHelloReject(hello, "no common protocol version")
		return
	}
	if err := protocol.WriteHelloReply(hello, v); err != nil {
		return
	}

	ss := &session{
		srv:  s,
		conn: conn,
		enc:  protocol.NewEncoder(bw, v),
		dec:  protocol.NewDecoder(br, v, protocol.DefaultLimits()),
		v:    v,
	}
	for ss.dec.More() {
		if err := ss.handle(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Warn("mastertest: connection ended", "error", err)
			}
			return
		}
	}
}

// handle answers one request. An error ends the connection.
func (ss *session) handle() error {
	cmd, err := protocol.ReadCommand(ss.dec)
	if err != nil {
		ss.fail(protocol.CodeProtocol, err.Error())
		return err
	}

	s := ss.srv
	s.mu.Lock()
	s.commands[cmd]++
	s.mu.Unlock()

	switch cmd {
	case protocol.CmdPing:
		return ss.done()
	case protocol.CmdGetRow:
		return ss.getRow()
	case protocol.CmdGetTable:
		return ss.getTable()
	case protocol.CmdUpdate:
		return ss.update()
	case protocol.CmdInvalidate:
		return ss.invalidate()
	case protocol.CmdListenCaches:
		return ss.listen()
	case protocol.CmdGetFile:
		return ss.getFile()
	}
	return fmt.Errorf("unhandled command %s", cmd)
}

// injected reports and consumes a pending FailNext.
func (ss *session) injected() (bool, error) {
	s := ss.srv
	s.mu.Lock()
	f := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if f == nil {
		return false, nil
	}
	return true, ss.fail(f.Code, f.Message)
}

func (ss *session) done() error {
	if err := protocol.WriteDone(ss.enc); err != nil {
		return err
	}
	return ss.enc.Flush()
}

func (ss *session) fail(code int64, msg string) error {
	if err := protocol.WriteError(ss.enc, code, msg); err != nil {
		return err
	}
	return ss.enc.Flush()
}

// payload encodes one chunk at the session version.
func (ss *session) payload(write func(e *protocol.Encoder) error) ([]byte, error) {
	var buf bytes.Buffer
	e := protocol.NewEncoder(&buf, ss.v)
	if err := write(e); err != nil {
		return nil, err
	}
	if err := e.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ss *session) delay() {
	ss.srv.mu.Lock()
	d := ss.srv.fetchDelay
	ss.srv.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (ss *session) getRow() error {
	id, err := ss.dec.ReadCompactInt()
	if err != nil {
		return err
	}
	key, err := ss.dec.ReadString()
	if err != nil {
		return err
	}
	if failed, err := ss.injected(); failed {
		return err
	}
	table := types.TableID(id)
	if !ss.srv.reg.Known(table) {
		return ss.fail(protocol.CodeProtocol, fmt.Sprintf("unknown table %d", id))
	}

	s := ss.srv
	s.mu.Lock()
	s.rowFetches[rowKey{table, key}]++
	s.mu.Unlock()
	ss.delay()

	row, found := s.Row(table, key)
	p, err := ss.payload(func(e *protocol.Encoder) error {
		return schema.WriteOptionalRow(e, row, found)
	})
	if err != nil {
		return err
	}
	if err := protocol.WriteChunk(ss.enc, p); err != nil {
		return err
	}
	return ss.done()
}

func (ss *session) getTable() error {
	id, err := ss.dec.ReadCompactInt()
	if err != nil {
		return err
	}
	if failed, err := ss.injected(); failed {
		return err
	}
	table := types.TableID(id)
	if !ss.srv.reg.Known(table) {
		return ss.fail(protocol.CodeProtocol, fmt.Sprintf("unknown table %d", id))
	}

	s := ss.srv
	s.mu.Lock()
	s.tableFetches[table]++
	rows := make([]schema.Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		rows = append(rows, r)
	}
	s.mu.Unlock()
	ss.delay()

	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	for _, r := range rows {
		p, err := ss.payload(func(e *protocol.Encoder) error { return schema.WriteRow(e, r) })
		if err != nil {
			return err
		}
		if err := protocol.WriteChunk(ss.enc, p); err != nil {
			return err
		}
	}
	return ss.done()
}

// update stores the row and announces it. Columns the client's version does
// not carry keep their stored values.
func (ss *session) update() error {
	sch, err := schema.ReadTableID(ss.dec, ss.srv.reg)
	if err != nil {
		// the row that follows cannot be parsed
		ss.fail(protocol.CodeProtocol, err.Error())
		return err
	}
	row, err := schema.ReadRow(ss.dec, sch)
	if err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			ss.fail(protocol.CodeValidation, verr.Error())
		}
		return err
	}
	if failed, err := ss.injected(); failed {
		return err
	}

	s := ss.srv
	s.mu.Lock()
	if old, ok := s.tables[sch.Table][row.Key()]; ok {
		values := row.Values()
		for _, c := range sch.Columns {
			step := protocol.Step[schema.Row]{Since: c.Since, Until: c.Until}
			switch {
			case step.ActiveAt(ss.v):
			case old.Has(c.Name):
				values[c.Name] = old.Value(c.Name)
			default:
				delete(values, c.Name)
			}
		}
		merged, err := schema.NewRow(sch, values)
		if err != nil {
			s.mu.Unlock()
			return ss.fail(protocol.CodeValidation, err.Error())
		}
		row = merged
	}
	s.putLocked(row)
	s.mu.Unlock()

	if err := ss.done(); err != nil {
		return err
	}
	s.Invalidate(types.KeyInvalidation(sch.Table, row.Key()))
	return nil
}

func (ss *session) invalidate() error {
	id, err := ss.dec.ReadCompactInt()
	if err != nil {
		return err
	}
	key, err := ss.dec.ReadNullString()
	if err != nil {
		return err
	}
	if failed, err := ss.injected(); failed {
		return err
	}
	table := types.TableID(id)
	if !ss.srv.reg.Known(table) {
		return ss.fail(protocol.CodeProtocol, fmt.Sprintf("unknown table %d", id))
	}
	if err := ss.done(); err != nil {
		return err
	}
	if key == nil {
		ss.srv.Invalidate(types.TableInvalidation(table))
	} else {
		ss.srv.Invalidate(types.KeyInvalidation(table, *key))
	}
	return nil
}

func (ss *session) getFile() error {
	path, err := ss.dec.ReadString()
	if err != nil {
		return err
	}
	if failed, err := ss.injected(); failed {
		return err
	}
	ss.srv.mu.Lock()
	data, ok := ss.srv.files[path]
	size := ss.srv.chunkSize
	ss.srv.mu.Unlock()
	if !ok {
		return ss.fail(protocol.CodeNotFound, "no such file: "+path)
	}
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		if err := protocol.WriteChunk(ss.enc, data[off:end]); err != nil {
			return err
		}
	}
	return ss.done()
}

// listen streams invalidations until the server closes, then ends the stream
// with DONE.
func (ss *session) listen() error {
	if failed, err := ss.injected(); failed {
		return err
	}
	l := &listener{wake: make(chan struct{}, 1), quit: make(chan struct{})}
	s := ss.srv
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-l.wake:
		case <-l.quit:
			return ss.done()
		}
		for _, inv := range l.drain() {
			p, err := ss.payload(func(e *protocol.Encoder) error { return schema.WriteInvalidation(e, inv) })
			if err != nil {
				return err
			}
			if err := protocol.WriteChunk(ss.enc, p); err != nil {
				return err
			}
			if err := ss.enc.Flush(); err != nil {
				return err
			}
		}
	}
}

// listener buffers invalidations for one stream without blocking senders.
type listener struct {
	mu       sync.Mutex
	queue    []types.Invalidation
	wake     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

func (l *listener) push(inv types.Invalidation) {
	l.mu.Lock()
	l.queue = append(l.queue, inv)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) drain() []types.Invalidation {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (l *listener) stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}
