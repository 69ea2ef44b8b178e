package profile

import (
	"encoding/binary"

	cerrors "github.com/chef-project/containerv/errors"
	"github.com/chef-project/containerv/pattern"
)

const (
	pathVersionMajor = 1
	pathVersionMinor = 1

	flagDenyPrecedence   = 1 << 0
	flagCaseInsensitive  = 1 << 1
	pathHeaderBodySize   = 24 // flags(4) + numNodes(4) + numEdges(4) + rootIndex(4) + numBitmaps(4) + reserved(4)
	nodeRecordSize       = 20
	bitmapRecordSize     = 32
)

// node kind codes, stable across the format's lifetime.
const (
	kindRoot uint8 = iota
	kindLiteral
	kindWildcardSingle
	kindWildcardMulti
	kindWildcardRecursive
	kindCharset
	kindRange
)

// PathHeader carries the flags outside the node/edge payload.
type PathHeader struct {
	DenyPrecedence  bool
	CaseInsensitive bool
}

// EncodePath serializes a compiled path profile into the "PROT" v1.1
// format: header, node array, edge array, bitmap array. Only the trie
// representation is serialized; a DFA-mode Profile is re-derived from its
// Root on encode, since the trie is always built regardless of Mode.
func EncodePath(p *pattern.Profile, hdr PathHeader) ([]byte, error) {
	if p == nil || p.Root == nil {
		return nil, cerrors.New(cerrors.InvalidArgument, "encode", "nil path profile")
	}

	type walkNode struct {
		node      pattern.Node
		firstEdge uint32
		edgeCount uint32
	}
	var nodes []walkNode
	var edges []uint32
	var bitmaps [][4]uint64
	index := make(map[pattern.Node]uint32)

	var visit func(n pattern.Node) uint32
	visit = func(n pattern.Node) uint32 {
		if idx, ok := index[n]; ok {
			return idx
		}
		idx := uint32(len(nodes))
		index[n] = idx
		nodes = append(nodes, walkNode{node: n})

		children := pattern.NodeChildren(n)
		first := uint32(len(edges))
		childIdx := make([]uint32, len(children))
		for i := range children {
			edges = append(edges, 0) // placeholder, filled after recursing
			childIdx[i] = uint32(len(edges) - 1)
		}
		nodes[idx].firstEdge = first
		nodes[idx].edgeCount = uint32(len(children))
		for i, c := range children {
			edges[childIdx[i]] = visit(c)
		}
		return idx
	}
	rootIdx := visit(p.Root)

	// Classify every node first so the header's bitmap count is known
	// before it is written.
	type classified struct {
		kind              uint8
		byteVal, rangeEnd byte
		bitmapIdx         uint32
	}
	classes := make([]classified, len(nodes))
	for i, wn := range nodes {
		kind, byteVal, rangeEnd, bitmapIdx := classify(wn.node, &bitmaps)
		classes[i] = classified{kind, byteVal, rangeEnd, bitmapIdx}
	}

	header := make([]byte, headerPreambleSize+pathHeaderBodySize)
	putPreamble(header, MagicPath, pathVersionMajor, pathVersionMinor)

	var flags uint32
	if hdr.DenyPrecedence {
		flags |= flagDenyPrecedence
	}
	if hdr.CaseInsensitive {
		flags |= flagCaseInsensitive
	}
	body := header[headerPreambleSize:]
	binary.LittleEndian.PutUint32(body[0:4], flags)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(nodes)))
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(edges)))
	binary.LittleEndian.PutUint32(body[12:16], rootIdx)
	binary.LittleEndian.PutUint32(body[16:20], uint32(len(bitmaps)))
	binary.LittleEndian.PutUint32(body[20:24], 0)

	nodeBuf := make([]byte, len(nodes)*nodeRecordSize)
	for i, wn := range nodes {
		rec := nodeBuf[i*nodeRecordSize:]
		c := classes[i]
		rec[0] = c.kind
		rec[1] = uint8(pattern.NodeModifier(wn.node))
		if pattern.NodeTerminal(wn.node) {
			rec[2] = 1
		}
		rec[3] = uint8(pattern.NodePerms(wn.node))
		rec[4] = c.byteVal
		rec[5] = c.rangeEnd
		binary.LittleEndian.PutUint32(rec[8:12], c.bitmapIdx)
		binary.LittleEndian.PutUint32(rec[12:16], wn.firstEdge)
		binary.LittleEndian.PutUint32(rec[16:20], wn.edgeCount)
	}

	edgeBuf := make([]byte, len(edges)*4)
	for i, e := range edges {
		binary.LittleEndian.PutUint32(edgeBuf[i*4:], e)
	}

	bitmapBuf := make([]byte, len(bitmaps)*bitmapRecordSize)
	for i, bm := range bitmaps {
		for w := 0; w < 4; w++ {
			binary.LittleEndian.PutUint64(bitmapBuf[i*bitmapRecordSize+w*8:], bm[w])
		}
	}

	out := append(header, nodeBuf...)
	out = append(out, edgeBuf...)
	out = append(out, bitmapBuf...)
	return out, nil
}

// classify maps a node to its on-disk kind and payload, appending to
// bitmaps when the node carries a charset.
func classify(n pattern.Node, bitmaps *[][4]uint64) (kind uint8, byteVal, rangeEnd byte, bitmapIdx uint32) {
	bitmapIdx = OffsetAny
	switch t := n.(type) {
	case *pattern.RootNode:
		kind = kindRoot
	case *pattern.LiteralNode:
		kind, byteVal = kindLiteral, t.Byte
	case *pattern.WildcardSingleNode:
		kind = kindWildcardSingle
	case *pattern.WildcardMultiNode:
		kind = kindWildcardMulti
	case *pattern.WildcardRecursiveNode:
		kind = kindWildcardRecursive
	case *pattern.CharsetNode:
		kind = kindCharset
		bitmapIdx = uint32(len(*bitmaps))
		*bitmaps = append(*bitmaps, t.Bitmap)
	case *pattern.RangeNode:
		kind, byteVal, rangeEnd = kindRange, t.Start, t.End
	}
	return
}

// DecodePath parses a "PROT" buffer back into a *pattern.Profile and the
// header flags that accompanied it.
func DecodePath(data []byte) (*pattern.Profile, PathHeader, error) {
	_, rest, err := readPreamble(data, MagicPath, pathVersionMajor)
	if err != nil {
		return nil, PathHeader{}, err
	}
	if err := need(rest, pathHeaderBodySize); err != nil {
		return nil, PathHeader{}, err
	}
	flags := binary.LittleEndian.Uint32(rest[0:4])
	numNodes := binary.LittleEndian.Uint32(rest[4:8])
	numEdges := binary.LittleEndian.Uint32(rest[8:12])
	rootIdx := binary.LittleEndian.Uint32(rest[12:16])
	numBitmaps := binary.LittleEndian.Uint32(rest[16:20])
	rest = rest[pathHeaderBodySize:]

	hdr := PathHeader{
		DenyPrecedence:  flags&flagDenyPrecedence != 0,
		CaseInsensitive: flags&flagCaseInsensitive != 0,
	}

	if err := need(rest, int(numNodes)*nodeRecordSize); err != nil {
		return nil, PathHeader{}, err
	}
	nodeRecs := rest[:int(numNodes)*nodeRecordSize]
	rest = rest[int(numNodes)*nodeRecordSize:]

	if err := need(rest, int(numEdges)*4); err != nil {
		return nil, PathHeader{}, err
	}
	edgeRecs := rest[:int(numEdges)*4]
	rest = rest[int(numEdges)*4:]

	if err := need(rest, int(numBitmaps)*bitmapRecordSize); err != nil {
		return nil, PathHeader{}, err
	}
	bitmapRecs := rest[:int(numBitmaps)*bitmapRecordSize]

	bitmaps := make([][4]uint64, numBitmaps)
	for i := range bitmaps {
		for w := 0; w < 4; w++ {
			bitmaps[i][w] = binary.LittleEndian.Uint64(bitmapRecs[i*bitmapRecordSize+w*8:])
		}
	}

	if rootIdx >= numNodes {
		return nil, PathHeader{}, cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
	}

	nodes := make([]pattern.Node, numNodes)
	firstEdges := make([]uint32, numNodes)
	edgeCounts := make([]uint32, numNodes)

	for i := uint32(0); i < numNodes; i++ {
		rec := nodeRecs[i*nodeRecordSize:]
		kind := rec[0]
		mod := pattern.Modifier(rec[1])
		terminal := rec[2] != 0
		perms := pattern.Perms(rec[3])
		byteVal := rec[4]
		rangeEnd := rec[5]
		bitmapIdx := binary.LittleEndian.Uint32(rec[8:12])
		firstEdges[i] = binary.LittleEndian.Uint32(rec[12:16])
		edgeCounts[i] = binary.LittleEndian.Uint32(rec[16:20])

		var n pattern.Node
		switch kind {
		case kindRoot:
			n = pattern.NewRoot()
		case kindLiteral:
			n = pattern.NewLiteral(byteVal, mod)
		case kindWildcardSingle:
			n = pattern.NewWildcardSingle(mod)
		case kindWildcardMulti:
			n = pattern.NewWildcardMulti(mod)
		case kindWildcardRecursive:
			n = pattern.NewWildcardRecursive(mod)
		case kindCharset:
			if bitmapIdx >= uint32(len(bitmaps)) {
				return nil, PathHeader{}, cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
			}
			n = pattern.NewCharset(bitmaps[bitmapIdx], mod)
		case kindRange:
			n = pattern.NewRange(byteVal, rangeEnd, mod)
		default:
			return nil, PathHeader{}, cerrors.Wrap(cerrors.ErrBadMagic, cerrors.InvalidProfile, "decode")
		}
		if terminal {
			pattern.MarkTerminal(n, perms)
		}
		nodes[i] = n
	}

	for i := uint32(0); i < numNodes; i++ {
		for e := uint32(0); e < edgeCounts[i]; e++ {
			edgeOff := firstEdges[i] + e
			if edgeOff >= numEdges {
				return nil, PathHeader{}, cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
			}
			childIdx := binary.LittleEndian.Uint32(edgeRecs[edgeOff*4:])
			if childIdx >= numNodes {
				return nil, PathHeader{}, cerrors.Wrap(cerrors.ErrOffsetOutOfBounds, cerrors.InvalidProfile, "decode")
			}
			pattern.LinkChild(nodes[i], nodes[childIdx])
		}
	}

	return pattern.NewProfile(nodes[rootIdx], hdr.CaseInsensitive), hdr, nil
}
