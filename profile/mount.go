package profile

import "encoding/binary"

const (
	mountVersionMajor = 1
	mountVersionMinor = 0

	mountHeaderBodySize = 12 // flags(4) + ruleCount(4) + stringsSize(4)
	mountRuleSize       = 24
)

// MountRule is one entry of a compiled mount profile: action plus
// mount-flags plus glob patterns for source, target, fstype and options.
type MountRule struct {
	Action     Action
	Flags      uint32
	Source     string // "" means match any
	Target     string
	FSType     string
	Options    string
}

// EncodeMount serializes rules into the "PRMT" v1.0 format.
func EncodeMount(rules []MountRule) []byte {
	strings := newStringTable()
	ruleBuf := make([]byte, len(rules)*mountRuleSize)
	for i, r := range rules {
		rec := ruleBuf[i*mountRuleSize:]
		rec[0] = uint8(r.Action)
		binary.LittleEndian.PutUint32(rec[4:8], r.Flags)
		binary.LittleEndian.PutUint32(rec[8:12], strings.put(r.Source))
		binary.LittleEndian.PutUint32(rec[12:16], strings.put(r.Target))
		binary.LittleEndian.PutUint32(rec[16:20], strings.put(r.FSType))
		binary.LittleEndian.PutUint32(rec[20:24], strings.put(r.Options))
	}

	header := make([]byte, headerPreambleSize+mountHeaderBodySize)
	putPreamble(header, MagicMount, mountVersionMajor, mountVersionMinor)
	body := header[headerPreambleSize:]
	binary.LittleEndian.PutUint32(body[0:4], 0)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(rules)))
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(strings.blob)))

	out := append(header, ruleBuf...)
	out = append(out, strings.blob...)
	return out
}

// DecodeMount parses a "PRMT" buffer back into its rule set.
func DecodeMount(data []byte) ([]MountRule, error) {
	_, rest, err := readPreamble(data, MagicMount, mountVersionMajor)
	if err != nil {
		return nil, err
	}
	if err := need(rest, mountHeaderBodySize); err != nil {
		return nil, err
	}
	ruleCount := binary.LittleEndian.Uint32(rest[4:8])
	stringsSize := binary.LittleEndian.Uint32(rest[8:12])
	rest = rest[mountHeaderBodySize:]

	if err := need(rest, int(ruleCount)*mountRuleSize); err != nil {
		return nil, err
	}
	ruleRecs := rest[:int(ruleCount)*mountRuleSize]
	rest = rest[int(ruleCount)*mountRuleSize:]

	if err := need(rest, int(stringsSize)); err != nil {
		return nil, err
	}
	blob := rest[:stringsSize]

	rules := make([]MountRule, ruleCount)
	for i := range rules {
		rec := ruleRecs[i*mountRuleSize:]
		source, err := readString(blob, binary.LittleEndian.Uint32(rec[8:12]))
		if err != nil {
			return nil, err
		}
		target, err := readString(blob, binary.LittleEndian.Uint32(rec[12:16]))
		if err != nil {
			return nil, err
		}
		fstype, err := readString(blob, binary.LittleEndian.Uint32(rec[16:20]))
		if err != nil {
			return nil, err
		}
		options, err := readString(blob, binary.LittleEndian.Uint32(rec[20:24]))
		if err != nil {
			return nil, err
		}
		rules[i] = MountRule{
			Action:  Action(rec[0]),
			Flags:   binary.LittleEndian.Uint32(rec[4:8]),
			Source:  source,
			Target:  target,
			FSType:  fstype,
			Options: options,
		}
	}
	return rules, nil
}
