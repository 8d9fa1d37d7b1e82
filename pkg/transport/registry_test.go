package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hfradio/stanag5066d/internal/pdu"
)

func TestRegisterProtocolPanicsOnNonPositiveMinLen(t *testing.T) {
	defer unregisterAllForTest()
	assert.Panics(t, func() {
		RegisterProtocol(ProtoTestPing, testDecode, 0)
	})
}

func TestRegisterAndLookupProtocol(t *testing.T) {
	defer unregisterAllForTest()
	RegisterProtocol(ProtoTestPing, testDecode, 1)
	entry, ok := lookupProtocol(ProtoTestPing)
	assert.True(t, ok)
	assert.Equal(t, 1, entry.minLen)
}

func TestProtoTagString(t *testing.T) {
	assert.Equal(t, "sis", ProtoSIS.String())
	assert.Equal(t, "dts", ProtoDTS.String())
	assert.Equal(t, "unknown", ProtoTag(99).String())
}
