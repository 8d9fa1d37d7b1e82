package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfradio/stanag5066d/pkg/sap"
	"github.com/hfradio/stanag5066d/pkg/sis"
)

type fakePeer struct {
	arqCalls    [][]byte
	nonARQCalls [][]byte
	err         error
}

func (f *fakePeer) TransmitARQ(payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.arqCalls = append(f.arqCalls, payload)
	return nil
}

func (f *fakePeer) TransmitNonARQ(payload []byte, expedited bool) error {
	if f.err != nil {
		return f.err
	}
	f.nonARQCalls = append(f.nonARQCalls, payload)
	return nil
}

type fakeDeliverer struct {
	delivered map[any][]byte
}

func (f *fakeDeliverer) Deliver(owner any, wire []byte) {
	if f.delivered == nil {
		f.delivered = map[any][]byte{}
	}
	f.delivered[owner] = wire
}

func TestHandleUnidataRequestRejectsUnboundSAP(t *testing.T) {
	b := New(sap.NewTable(), nil)
	peer := &fakePeer{}
	err := b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: []byte("x")}, peer)
	assert.ErrorIs(t, err, ErrSAPNotBound)
}

func TestHandleUnidataRequestRejectsOversizePayload(t *testing.T) {
	table := sap.NewTable()
	_, err := table.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)

	b := New(table, nil)
	peer := &fakePeer{}
	big := make([]byte, sap.DefaultMTU+1)
	err = b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: big, TransmissionMode: sis.ModeARQ}, peer)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestHandleUnidataRequestRoutesARQAndNonARQ(t *testing.T) {
	table := sap.NewTable()
	_, err := table.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)
	b := New(table, nil)

	peer := &fakePeer{}
	require.NoError(t, b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: []byte("arq"), TransmissionMode: sis.ModeARQ}, peer))
	assert.Len(t, peer.arqCalls, 1)

	require.NoError(t, b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: []byte("nonarq"), TransmissionMode: sis.ModeNonARQ}, peer))
	assert.Len(t, peer.nonARQCalls, 1)

	require.NoError(t, b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: []byte("bcast"), TransmissionMode: sis.ModeBroadcast}, peer))
	assert.Len(t, peer.nonARQCalls, 2)
}

func TestHandleUnidataRequestRejectsUnsupportedMode(t *testing.T) {
	table := sap.NewTable()
	_, err := table.Bind(3, "conn-a", 0, 0)
	require.NoError(t, err)
	b := New(table, nil)

	err = b.HandleUnidataRequest(&sis.UnidataRequestBody{DestSAP: 3, Payload: []byte("x"), TransmissionMode: 0x7F}, &fakePeer{})
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestDeliverCPDUReachesBoundOwner(t *testing.T) {
	table := sap.NewTable()
	_, err := table.Bind(5, "conn-b", 0, 0)
	require.NoError(t, err)
	b := New(table, nil)

	out := &fakeDeliverer{}
	var src, dst [4]byte
	require.NoError(t, b.DeliverCPDU(5, src, dst, 0, sis.ModeARQ, []byte("payload"), out))

	wire, ok := out.delivered["conn-b"]
	require.True(t, ok)
	assert.Equal(t, sis.UnidataIndication, sis.PrimitiveType(wire[5]))
}

func TestDeliverCPDURejectsUnboundSAP(t *testing.T) {
	b := New(sap.NewTable(), nil)
	var src, dst [4]byte
	err := b.DeliverCPDU(9, src, dst, 0, sis.ModeARQ, []byte("x"), &fakeDeliverer{})
	assert.ErrorIs(t, err, ErrSAPNotBound)
}

func TestAddressFromSliceZeroExtendsShortAddress(t *testing.T) {
	got := AddressFromSlice([]byte{1, 2})
	assert.Equal(t, [4]byte{0, 0, 1, 2}, got)
}

func TestAddressFromSliceTruncatesLongAddress(t *testing.T) {
	got := AddressFromSlice([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, [4]byte{2, 3, 4, 5}, got)
}
