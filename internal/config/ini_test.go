package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfradio/stanag5066d/pkg/transport"
)

func writeTempIni(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stanag5066d.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadSAPDefaults(t *testing.T) {
	path := writeTempIni(t, `
[sap.0]
Rank = 1
ServiceType = 1

[sap.3]
Rank = 2
ServiceType = 0
`)
	cfg := &Config{SAPDefaults: map[int]SAPDefault{}, NamedPeers: map[string]PeerDirective{}}
	require.NoError(t, Load(cfg, path))

	require.Contains(t, cfg.SAPDefaults, 0)
	assert.Equal(t, SAPDefault{Rank: 1, ServiceType: 1}, cfg.SAPDefaults[0])
	require.Contains(t, cfg.SAPDefaults, 3)
	assert.Equal(t, SAPDefault{Rank: 2, ServiceType: 0}, cfg.SAPDefaults[3])
}

func TestLoadNamedPeers(t *testing.T) {
	path := writeTempIni(t, `
[peer.coastguard]
Host = 10.1.1.1
Port = 5067

[peer.ship_alpha]
Proto = dts
Host = 10.1.1.2
Port = 5067
`)
	cfg := &Config{SAPDefaults: map[int]SAPDefault{}, NamedPeers: map[string]PeerDirective{}}
	require.NoError(t, Load(cfg, path))

	require.Contains(t, cfg.NamedPeers, "coastguard")
	assert.Equal(t, PeerDirective{Proto: transport.ProtoDTS, Host: "10.1.1.1", Port: 5067}, cfg.NamedPeers["coastguard"])
	require.Contains(t, cfg.NamedPeers, "ship_alpha")
	assert.Equal(t, PeerDirective{Proto: transport.ProtoDTS, Host: "10.1.1.2", Port: 5067}, cfg.NamedPeers["ship_alpha"])
}

func TestLoadIgnoresUnrelatedSections(t *testing.T) {
	path := writeTempIni(t, `
[unrelated]
Foo = bar
`)
	cfg := &Config{SAPDefaults: map[int]SAPDefault{}, NamedPeers: map[string]PeerDirective{}}
	require.NoError(t, Load(cfg, path))
	assert.Empty(t, cfg.SAPDefaults)
	assert.Empty(t, cfg.NamedPeers)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	cfg := &Config{SAPDefaults: map[int]SAPDefault{}, NamedPeers: map[string]PeerDirective{}}
	assert.Error(t, Load(cfg, filepath.Join(t.TempDir(), "does-not-exist.ini")))
}
