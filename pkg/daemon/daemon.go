// Package daemon wires together the connection registry, the worker
// pool, the SAP table, and the SIS<->DTS bridge into the running
// service: the top-level orchestrator cmd/stanag5066d drives.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/hfradio/stanag5066d/internal/config"
	"github.com/hfradio/stanag5066d/internal/httpaux"
	"github.com/hfradio/stanag5066d/internal/ioloop"
	"github.com/hfradio/stanag5066d/internal/metrics"
	"github.com/hfradio/stanag5066d/internal/pdu"
	"github.com/hfradio/stanag5066d/pkg/bridge"
	"github.com/hfradio/stanag5066d/pkg/dts"
	"github.com/hfradio/stanag5066d/pkg/pidfile"
	"github.com/hfradio/stanag5066d/pkg/sap"
	"github.com/hfradio/stanag5066d/pkg/sis"
	"github.com/hfradio/stanag5066d/pkg/transport"
)

// defaultDestSAP is the SAP index a reassembled C_PDU is delivered to
// when a DTS session carries no more specific routing hint. The wire
// protocol's C_PDU payload names no destination SAP of its own (SAP
// multiplexing is a SIS-side, not a DTS-side, concept) so a single
// daemon-wide default is this implementation's deliberate simplification
// of that boundary; a deployment that needs per-peer SAP routing can
// extend peerSession.destSAP via a future config field.
const defaultDestSAP = 0

// peerSession bundles one DTS session with the connection it rides on
// and the SAP index reassembled C_PDUs from it are delivered to.
type peerSession struct {
	sess    *dts.Session
	conn    *transport.Connection
	destSAP int
}

// Daemon is the running service: one SAP table, one connection registry,
// one worker pool, and the bridge tying SIS client connections to DTS
// peer sessions.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	saps    *sap.Table
	conns   *transport.ConnRegistry
	pool    *ioloop.Pool
	br      *bridge.Bridge
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	pduPool *pdu.Pool

	mu       sync.Mutex
	sessions map[int]*peerSession // keyed by the DTS connection's fd

	httpSrv   *http.Server
	listeners []*ioloop.Listener
}

// New constructs a Daemon from a parsed Config. It does not bind any
// sockets yet; call Run to do that and block until ctx is cancelled.
func New(cfg *config.Config, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	saps := sap.NewTable()
	return &Daemon{
		cfg:      cfg,
		log:      log,
		saps:     saps,
		conns:    transport.NewConnRegistry(),
		br:       bridge.New(saps, log.With("component", "bridge")),
		metrics:  metrics.New(reg),
		reg:      reg,
		pduPool:  pdu.NewPool(4096),
		sessions: map[int]*peerSession{},
	}
}

// Run binds every configured listener, starts the worker pool, dials any
// configured outbound peers, and blocks until ctx is cancelled — at which
// point it drains connections and returns.
func (d *Daemon) Run(ctx context.Context) error {
	transport.RegisterProtocol(transport.ProtoSIS, func(p *pdu.PDU, log *slog.Logger) (any, pdu.Result) {
		return sis.Decode(p, log)
	}, 5)
	transport.RegisterProtocol(transport.ProtoDTS, func(p *pdu.PDU, log *slog.Logger) (any, pdu.Result) {
		return dts.Decode(p, log)
	}, 5)

	pool, err := ioloop.NewPool(numWorkers(), d.log.With("component", "ioloop"), d.onRead)
	if err != nil {
		return fmt.Errorf("daemon: starting worker pool: %w", err)
	}
	d.pool = pool

	for _, spec := range d.cfg.Listeners {
		if err := d.bindListener(spec); err != nil {
			return fmt.Errorf("daemon: bind %s:%s:%d: %w", spec.Proto, spec.Iface, spec.Port, err)
		}
	}

	d.pool.Start(ctx)

	for _, peer := range d.cfg.Peers {
		if err := d.dialPeer(peer); err != nil {
			d.log.Error("failed to dial configured peer", "host", peer.Host, "port", peer.Port, "err", err)
		}
	}
	for name, peer := range d.cfg.NamedPeers {
		if err := d.dialPeer(peer); err != nil {
			d.log.Error("failed to dial named peer", "name", name, "host", peer.Host, "port", peer.Port, "err", err)
		}
	}

	if d.cfg.PIDFile != "" {
		if err := pidfile.Write(d.cfg.PIDFile); err != nil {
			return fmt.Errorf("daemon: writing pidfile: %w", err)
		}
		defer pidfile.Remove(d.cfg.PIDFile)
	}

	<-ctx.Done()
	d.log.Info("shutdown requested, draining connections")
	d.shutdown()
	return nil
}

func (d *Daemon) bindListener(spec config.ListenerSpec) error {
	if spec.Proto == transport.ProtoHTTP {
		return d.startHTTPAux(spec)
	}

	ln, err := ioloop.ListenTCP(spec.Iface, spec.Port, spec.Proto)
	if err != nil {
		return err
	}
	d.listeners = append(d.listeners, ln)

	return d.pool.RegisterListener(ln, func(fd int, proto transport.ProtoTag, peerAddr string) {
		d.acceptConnection(fd, proto, peerAddr)
	})
}

func (d *Daemon) startHTTPAux(spec config.ListenerSpec) error {
	addr := fmt.Sprintf("%s:%d", spec.Iface, spec.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	handler := httpaux.NewRouter(d.reg, d.saps, d.conns, d.log.With("component", "httpaux"))
	d.httpSrv = &http.Server{Handler: handler}
	go func() {
		if err := d.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.Error("http aux listener failed", "err", err)
		}
	}()
	return nil
}

func (d *Daemon) acceptConnection(fd int, proto transport.ProtoTag, peerAddr string) {
	cache := pdu.NewWorkerCache(d.pduPool, 8)
	conn := transport.NewConnection(fd, proto, peerAddr, cache, d.log.With("component", "connection", "proto", proto.String()))
	d.conns.Add(conn)

	var timer ioloop.TimerSource
	if proto == transport.ProtoDTS {
		sess := dts.NewSession(nil, nil, d.log.With("component", "dts-session", "peer", peerAddr))
		ps := &peerSession{sess: sess, conn: conn, destSAP: defaultDestSAP}
		sess.SetCallbacks(
			func(payload []byte, expedited bool) { d.deliverReassembled(ps, payload, expedited) },
			func(frame []byte) { conn.EnqueueBytes(frame); d.pool.ArmWriteByFd(conn.Fd) },
		)
		d.mu.Lock()
		d.sessions[fd] = ps
		d.mu.Unlock()
		timer = sess
	}

	if err := d.pool.Assign(conn, timer); err != nil {
		d.log.Error("failed to assign accepted connection to a worker", "err", err)
		d.conns.Remove(conn)
		conn.Close()
	}
}

// dialPeer initiates an outbound DTS connection to peer, using a
// blocking net.Dial and then duplicating its file descriptor into a
// non-blocking raw fd so the accepted path and the dialed path converge
// on the same Connection/Session wiring.
func (d *Daemon) dialPeer(peer config.PeerDirective) error {
	addr := fmt.Sprintf("%s:%d", peer.Host, peer.Port)
	nc, err := net.Dial("tcp4", addr)
	if err != nil {
		return err
	}
	tcpConn, ok := nc.(*net.TCPConn)
	if !ok {
		nc.Close()
		return fmt.Errorf("daemon: dial %s: not a TCP connection", addr)
	}
	file, err := tcpConn.File()
	nc.Close()
	if err != nil {
		return fmt.Errorf("daemon: dial %s: %w", addr, err)
	}
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		return fmt.Errorf("daemon: dial %s: set nonblocking: %w", addr, err)
	}

	d.acceptConnection(fd, peer.Proto, addr)
	return nil
}

// onRead is the Worker ReadHandler shared by every connection: it routes
// each decoded event by the connection's protocol.
func (d *Daemon) onRead(conn *transport.Connection, events []any) {
	switch conn.Proto {
	case transport.ProtoSIS:
		for _, ev := range events {
			evt, ok := ev.(*sis.Event)
			if !ok {
				continue
			}
			d.handleSISEvent(conn, evt)
		}
	case transport.ProtoDTS:
		d.mu.Lock()
		ps := d.sessions[conn.Fd]
		d.mu.Unlock()
		if ps == nil {
			return
		}
		for _, ev := range events {
			frame, ok := ev.(*dts.Frame)
			if !ok {
				continue
			}
			ps.sess.HandleFrame(frame)
		}
	}
}

func (d *Daemon) handleSISEvent(conn *transport.Connection, evt *sis.Event) {
	switch evt.Type {
	case sis.BindRequest:
		d.handleBindRequest(conn, evt.Bind)
	case sis.UnidataRequest:
		d.handleUnidataRequest(conn, evt.Unidata)
	}
}

func (d *Daemon) handleBindRequest(conn *transport.Connection, req *sis.BindRequestBody) {
	rank, serviceType := req.Rank, req.ServiceType
	if rank == 0 && serviceType == 0 {
		if def, ok := d.cfg.SAPDefaults[req.SAP]; ok {
			rank, serviceType = def.Rank, def.ServiceType
		}
	}
	mtu, err := d.saps.Bind(req.SAP, conn.ID, rank, serviceType)
	if err != nil {
		d.metrics.RecordSAPBindAttempt("rejected")
		conn.EnqueueBytes(sis.EncodeBindRejected())
		d.pool.ArmWriteByFd(conn.Fd)
		return
	}
	d.metrics.RecordSAPBindAttempt("ok")
	d.metrics.SetSAPBindsActive(len(d.saps.Snapshot()))
	conn.EnqueueBytes(sis.EncodeBindAccepted(req.SAP, rank, mtu))
	d.pool.ArmWriteByFd(conn.Fd)
}

// handleUnidataRequest routes a client's U_PDU onto the DTS session bound
// to the request's destination address. Deliberate simplification: the
// daemon looks up the destination peer by matching the low 4 bytes of
// every live DTS session's PeerAddr against req.DestAddress, since a SIS
// client names a destination by address rather than by session handle.
func (d *Daemon) handleUnidataRequest(conn *transport.Connection, req *sis.UnidataRequestBody) {
	ps := d.sessionForAddress(req.DestAddress)
	if ps == nil {
		d.log.Warn("unidata request names an address with no live DTS session", "dest_addr", req.DestAddress)
		return
	}
	if err := d.br.HandleUnidataRequest(req, ps.sess); err != nil {
		d.log.Warn("unidata request rejected by bridge", "err", err)
	}
}

func (d *Daemon) sessionForAddress(addr [4]byte) *peerSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ps := range d.sessions {
		if bridge.AddressFromSlice(ps.sess.PeerAddr) == addr {
			return ps
		}
	}
	return nil
}

func (d *Daemon) deliverReassembled(ps *peerSession, payload []byte, expedited bool) {
	deliveryMode := byte(0)
	if expedited {
		deliveryMode = 1
	}
	src := bridge.AddressFromSlice(ps.sess.LocalAddr)
	dst := bridge.AddressFromSlice(ps.sess.PeerAddr)
	deliverer := armingDeliverer{conns: d.conns, pool: d.pool}
	if err := d.br.DeliverCPDU(ps.destSAP, src, dst, deliveryMode, sis.ModeARQ, payload, deliverer); err != nil {
		d.log.Warn("reassembled C_PDU could not be delivered", "sap", ps.destSAP, "err", err)
	}
}

// armingDeliverer wraps the connection registry's Deliver with the
// write-arming step a cross-worker delivery needs: enqueueing bytes on a
// connection this goroutine doesn't own doesn't by itself wake that
// connection's owning worker out of epoll_wait.
type armingDeliverer struct {
	conns *transport.ConnRegistry
	pool  *ioloop.Pool
}

func (a armingDeliverer) Deliver(owner any, wire []byte) {
	id, ok := owner.(xid.ID)
	if !ok {
		return
	}
	c, found := a.conns.Lookup(id)
	if !found {
		return
	}
	c.EnqueueBytes(wire)
	a.pool.ArmWriteByFd(c.Fd)
}

func (d *Daemon) shutdown() {
	if d.pool != nil {
		d.pool.Stop()
		d.pool.Wait()
	}
	if d.httpSrv != nil {
		d.httpSrv.Close()
	}
	for _, ln := range d.listeners {
		ln.Close()
	}
	for _, conn := range d.conns.Snapshot() {
		conn.Close()
	}
}

func numWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
