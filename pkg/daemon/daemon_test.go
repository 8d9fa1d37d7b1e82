package daemon

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfradio/stanag5066d/internal/config"
	"github.com/hfradio/stanag5066d/internal/ioloop"
	"github.com/hfradio/stanag5066d/internal/pdu"
	"github.com/hfradio/stanag5066d/pkg/dts"
	"github.com/hfradio/stanag5066d/pkg/sis"
	"github.com/hfradio/stanag5066d/pkg/transport"
)

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pool, err := ioloop.NewPool(1, slog.New(slog.NewTextHandler(io.Discard, nil)), d.onRead)
	require.NoError(t, err)
	d.pool = pool
	return d
}

func newTestConnection(proto transport.ProtoTag) *transport.Connection {
	pool := pdu.NewPool(64)
	cache := pdu.NewWorkerCache(pool, 4)
	return transport.NewConnection(0, proto, "127.0.0.1:0", cache, nil)
}

func TestNewBuildsEmptyBindTableAndRegistry(t *testing.T) {
	d := New(&config.Config{}, nil)
	assert.NotNil(t, d.saps)
	assert.NotNil(t, d.conns)
	assert.NotNil(t, d.br)
	assert.NotNil(t, d.metrics)
	assert.Empty(t, d.saps.Snapshot())
}

func TestHandleBindRequestAcceptsAndRejectsDuplicate(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	conn := newTestConnection(transport.ProtoSIS)

	d.handleBindRequest(conn, &sis.BindRequestBody{SAP: 2, Rank: 1, ServiceType: 7})

	bindings := d.saps.Snapshot()
	require.Len(t, bindings, 1)
	assert.Equal(t, 2, bindings[0].SAP)
	assert.Equal(t, byte(1), bindings[0].Rank)
	assert.Equal(t, uint16(7), bindings[0].ServiceType)

	other := newTestConnection(transport.ProtoSIS)
	d.handleBindRequest(other, &sis.BindRequestBody{SAP: 2, Rank: 2, ServiceType: 9})
	bindings = d.saps.Snapshot()
	require.Len(t, bindings, 1)
	assert.Equal(t, byte(1), bindings[0].Rank, "rejected rebind must not overwrite the existing binding")
}

func TestHandleBindRequestAppliesConfiguredSAPDefaultsWhenUnset(t *testing.T) {
	cfg := &config.Config{
		SAPDefaults: map[int]config.SAPDefault{
			3: {Rank: 5, ServiceType: 42},
		},
	}
	d := newTestDaemon(t, cfg)
	conn := newTestConnection(transport.ProtoSIS)

	d.handleBindRequest(conn, &sis.BindRequestBody{SAP: 3})

	bindings := d.saps.Snapshot()
	require.Len(t, bindings, 1)
	assert.Equal(t, byte(5), bindings[0].Rank)
	assert.Equal(t, uint16(42), bindings[0].ServiceType)
}

func TestHandleBindRequestHonorsExplicitRankOverConfiguredDefault(t *testing.T) {
	cfg := &config.Config{
		SAPDefaults: map[int]config.SAPDefault{
			3: {Rank: 5, ServiceType: 42},
		},
	}
	d := newTestDaemon(t, cfg)
	conn := newTestConnection(transport.ProtoSIS)

	d.handleBindRequest(conn, &sis.BindRequestBody{SAP: 3, Rank: 1, ServiceType: 1})

	bindings := d.saps.Snapshot()
	require.Len(t, bindings, 1)
	assert.Equal(t, byte(1), bindings[0].Rank)
	assert.Equal(t, uint16(1), bindings[0].ServiceType)
}

func TestSessionForAddressFindsLiveSessionByPeerAddress(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	sess := dts.NewSession([]byte{10, 0, 0, 1}, []byte{10, 0, 0, 2}, nil)
	sess.SetCallbacks(func([]byte, bool) {}, func([]byte) {})
	ps := &peerSession{sess: sess, destSAP: defaultDestSAP}
	d.sessions[7] = ps

	found := d.sessionForAddress([4]byte{10, 0, 0, 2})
	require.NotNil(t, found)
	assert.Same(t, ps, found)

	assert.Nil(t, d.sessionForAddress([4]byte{1, 2, 3, 4}))
}

func TestHandleUnidataRequestWithNoMatchingSessionDoesNotPanic(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	conn := newTestConnection(transport.ProtoSIS)

	assert.NotPanics(t, func() {
		d.handleUnidataRequest(conn, &sis.UnidataRequestBody{
			DestSAP:     1,
			DestAddress: [4]byte{9, 9, 9, 9},
			Payload:     []byte("hello"),
		})
	})
}

func TestHandleUnidataRequestRoutesToMatchingSession(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	_, err := d.saps.Bind(4, "conn-a", 0, 0)
	require.NoError(t, err)

	sess := dts.NewSession([]byte{1, 1, 1, 1}, []byte{2, 2, 2, 2}, nil)
	var sent [][]byte
	sess.SetCallbacks(func([]byte, bool) {}, func(frame []byte) { sent = append(sent, frame) })
	d.sessions[11] = &peerSession{sess: sess, destSAP: defaultDestSAP}

	conn := newTestConnection(transport.ProtoSIS)
	d.handleUnidataRequest(conn, &sis.UnidataRequestBody{
		DestSAP:          4,
		DestAddress:      [4]byte{2, 2, 2, 2},
		TransmissionMode: sis.ModeNonARQ,
		Payload:          []byte("hello"),
	})

	assert.NotEmpty(t, sent, "matching session should have been asked to transmit")
}

func TestDeliverReassembledRoutesToBoundSAPOwner(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	conn := newTestConnection(transport.ProtoSIS)
	d.conns.Add(conn)
	_, err := d.saps.Bind(defaultDestSAP, conn.ID, 0, 0)
	require.NoError(t, err)

	sess := dts.NewSession([]byte{1, 1, 1, 1}, []byte{2, 2, 2, 2}, nil)
	sess.SetCallbacks(func([]byte, bool) {}, func([]byte) {})
	ps := &peerSession{sess: sess, destSAP: defaultDestSAP}

	assert.NotPanics(t, func() {
		d.deliverReassembled(ps, []byte("payload"), false)
	})
}

func TestArmingDelivererIgnoresNonXIDOwner(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	deliverer := armingDeliverer{conns: d.conns, pool: d.pool}

	assert.NotPanics(t, func() {
		deliverer.Deliver("not-an-xid", []byte("wire"))
	})
}

func TestArmingDelivererIgnoresUnknownConnection(t *testing.T) {
	d := newTestDaemon(t, &config.Config{})
	conn := newTestConnection(transport.ProtoSIS)
	deliverer := armingDeliverer{conns: d.conns, pool: d.pool}

	assert.NotPanics(t, func() {
		deliverer.Deliver(conn.ID, []byte("wire"))
	})
}

func TestNumWorkersIsClampedBetweenOneAndEight(t *testing.T) {
	n := numWorkers()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 8)
}
