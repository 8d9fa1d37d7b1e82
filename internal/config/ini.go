package config

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

var (
	sapSectionRE  = regexp.MustCompile(`^sap\.(\d+)$`)
	peerSectionRE = regexp.MustCompile(`^peer\.(.+)$`)
)

// Load reads path (an .ini file) and merges [sap.N] rank/service-type
// defaults and [peer.name] directives into cfg. Sections that match
// neither pattern are ignored, so a single file can carry unrelated
// sections without tripping this parser.
func Load(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}

	for _, section := range f.Sections() {
		name := section.Name()

		if m := sapSectionRE.FindStringSubmatch(name); m != nil {
			sapIdx, err := strconv.Atoi(m[1])
			if err != nil {
				return fmt.Errorf("config: section [%s]: %w", name, err)
			}
			rank, err := strconv.ParseUint(section.Key("Rank").Value(), 0, 8)
			if err != nil {
				return fmt.Errorf("config: section [%s]: Rank: %w", name, err)
			}
			serviceType, err := strconv.ParseUint(section.Key("ServiceType").Value(), 0, 16)
			if err != nil {
				return fmt.Errorf("config: section [%s]: ServiceType: %w", name, err)
			}
			cfg.SAPDefaults[sapIdx] = SAPDefault{Rank: byte(rank), ServiceType: uint16(serviceType)}
			continue
		}

		if m := peerSectionRE.FindStringSubmatch(name); m != nil {
			peerName := m[1]
			protoTok := section.Key("Proto").String()
			if protoTok == "" {
				protoTok = "dts"
			}
			proto, err := protoFromToken(protoTok)
			if err != nil {
				return fmt.Errorf("config: section [%s]: %w", name, err)
			}
			port, err := strconv.Atoi(section.Key("Port").Value())
			if err != nil {
				return fmt.Errorf("config: section [%s]: Port: %w", name, err)
			}
			cfg.NamedPeers[peerName] = PeerDirective{
				Proto: proto,
				Host:  section.Key("Host").String(),
				Port:  port,
			}
			continue
		}
	}

	return nil
}
