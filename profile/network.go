package profile

import (
	"encoding/binary"
)

const (
	networkVersionMajor = 1
	networkVersionMinor = 0

	networkHeaderBodySize = 12 // flags(4) + ruleCount(4) + stringsSize(4)
	networkRuleSize       = 16
)

// AnyProtocol and AnyFamily are the sentinel byte values meaning "no
// restriction on this field".
const (
	AnyProtocol uint8 = 0xFF
	AnyFamily   uint8 = 0xFF
)

// Action is the disposition a matched rule carries.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
)

// NetworkRule is one entry of a compiled network profile.
type NetworkRule struct {
	Action      Action
	Protocol    uint8 // AnyProtocol for unrestricted
	Family      uint8 // AnyFamily for unrestricted
	PortFrom    uint16
	PortTo      uint16
	IPPattern   string // "" means match any
	UnixPattern string // "" means match any
}

// EncodeNetwork serializes rules into the "PRNT" v1.0 format.
func EncodeNetwork(rules []NetworkRule) []byte {
	strings := newStringTable()
	ruleBuf := make([]byte, len(rules)*networkRuleSize)
	for i, r := range rules {
		rec := ruleBuf[i*networkRuleSize:]
		rec[0] = uint8(r.Action)
		rec[1] = r.Protocol
		rec[2] = r.Family
		binary.LittleEndian.PutUint16(rec[4:6], r.PortFrom)
		binary.LittleEndian.PutUint16(rec[6:8], r.PortTo)
		binary.LittleEndian.PutUint32(rec[8:12], strings.put(r.IPPattern))
		binary.LittleEndian.PutUint32(rec[12:16], strings.put(r.UnixPattern))
	}

	header := make([]byte, headerPreambleSize+networkHeaderBodySize)
	putPreamble(header, MagicNetwork, networkVersionMajor, networkVersionMinor)
	body := header[headerPreambleSize:]
	binary.LittleEndian.PutUint32(body[0:4], 0)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(rules)))
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(strings.blob)))

	out := append(header, ruleBuf...)
	out = append(out, strings.blob...)
	return out
}

// DecodeNetwork parses a "PRNT" buffer back into its rule set.
func DecodeNetwork(data []byte) ([]NetworkRule, error) {
	_, rest, err := readPreamble(data, MagicNetwork, networkVersionMajor)
	if err != nil {
		return nil, err
	}
	if err := need(rest, networkHeaderBodySize); err != nil {
		return nil, err
	}
	ruleCount := binary.LittleEndian.Uint32(rest[4:8])
	stringsSize := binary.LittleEndian.Uint32(rest[8:12])
	rest = rest[networkHeaderBodySize:]

	if err := need(rest, int(ruleCount)*networkRuleSize); err != nil {
		return nil, err
	}
	ruleRecs := rest[:int(ruleCount)*networkRuleSize]
	rest = rest[int(ruleCount)*networkRuleSize:]

	if err := need(rest, int(stringsSize)); err != nil {
		return nil, err
	}
	blob := rest[:stringsSize]

	rules := make([]NetworkRule, ruleCount)
	for i := range rules {
		rec := ruleRecs[i*networkRuleSize:]
		ipOff := binary.LittleEndian.Uint32(rec[8:12])
		unixOff := binary.LittleEndian.Uint32(rec[12:16])
		ip, err := readString(blob, ipOff)
		if err != nil {
			return nil, err
		}
		unixPath, err := readString(blob, unixOff)
		if err != nil {
			return nil, err
		}
		rules[i] = NetworkRule{
			Action:      Action(rec[0]),
			Protocol:    rec[1],
			Family:      rec[2],
			PortFrom:    binary.LittleEndian.Uint16(rec[4:6]),
			PortTo:      binary.LittleEndian.Uint16(rec[6:8]),
			IPPattern:   ip,
			UnixPattern: unixPath,
		}
	}
	return rules, nil
}
