package pattern

import (
	"fmt"
	"sort"

	cerrors "github.com/chef-project/containerv/errors"
)

const invalidState int32 = -1

// DFA is a determinized pattern profile: a byte-class transition table over
// states, with an accept bitmap and a permission vector per accepting
// state. It never shares structure with the trie it was derived from.
type DFA struct {
	ClassOf    [256]uint16
	NumClasses int
	Trans      [][]int32
	Accept     []bool
	Perms      []Perms
	Start      int32
}

// matchDFA walks the transition table byte by byte; any byte without a
// valid transition means immediate rejection.
func matchDFA(dfa *DFA, path string, required Perms) bool {
	state := dfa.Start
	for i := 0; i < len(path); i++ {
		class := dfa.ClassOf[path[i]]
		next := dfa.Trans[state][class]
		if next == invalidState {
			return false
		}
		state = next
	}
	return dfa.Accept[state] && dfa.Perms[state].Superset(required)
}

// dfaPos is one element of an NFA subset: a trie node together with
// whether its minimum occurrence count has already been satisfied.
type dfaPos struct {
	node  Node
	stage stage
}

type stage int8

const (
	awaitStage stage = iota // minimum occurrence not yet consumed
	doneStage               // minimum satisfied; may loop or epsilon to children
)

// determinize builds a DFA from root via subset construction over an NFA
// whose positions are trie nodes. Byte equivalence classes collapse the
// 256-byte alphabet down to the distinctions the node set actually makes,
// bounded by cfg.MaxClasses; the resulting state count is bounded by
// cfg.MaxStates.
func determinize(root Node, cfg Config) (*DFA, error) {
	classOf, numClasses, err := buildClasses(root, cfg.MaxClasses)
	if err != nil {
		return nil, err
	}
	representative := make([]byte, numClasses)
	seen := make([]bool, numClasses)
	for b := 0; b < 256; b++ {
		c := classOf[b]
		if !seen[c] {
			seen[c] = true
			representative[c] = byte(b)
		}
	}

	type stateInfo struct {
		pending map[dfaPos]bool
		accept  bool
		perms   Perms
	}

	start := closeFrom([]Node{root})
	states := []stateInfo{start}
	// A state's identity includes whether it accepts: a terminal node with
	// no children and no self-loop leaves no trace in the pending set.
	stateKey := func(s stateInfo) string {
		return fmt.Sprintf("%s#%t:%d", canonKey(s.pending), s.accept, s.perms)
	}
	index := map[string]int{stateKey(start): 0}
	trans := [][]int32{}

	for i := 0; i < len(states); i++ {
		row := make([]int32, numClasses)
		for c := 0; c < numClasses; c++ {
			b := representative[c]
			seeds := stepByte(states[i].pending, b)
			if len(seeds) == 0 {
				row[c] = invalidState
				continue
			}
			next := closeFrom(seeds)
			key := stateKey(next)
			id, ok := index[key]
			if !ok {
				if len(states) >= cfg.MaxStates {
					return nil, cerrors.WrapWithDetail(cerrors.ErrStateCapExceeded, cerrors.CompileFailed,
						"compile", fmt.Sprintf("exceeded max_states=%d", cfg.MaxStates))
				}
				id = len(states)
				states = append(states, next)
				index[key] = id
			}
			row[c] = int32(id)
		}
		trans = append(trans, row)
	}

	dfa := &DFA{
		ClassOf:    classOf,
		NumClasses: numClasses,
		Trans:      trans,
		Accept:     make([]bool, len(states)),
		Perms:      make([]Perms, len(states)),
		Start:      0,
	}
	for i, s := range states {
		dfa.Accept[i] = s.accept
		dfa.Perms[i] = s.perms
	}
	return dfa, nil
}

// closeFrom computes the epsilon closure reachable by treating every node
// in roots as already having satisfied its minimum occurrence count (true
// for RootNode, and for a node just landed on after consuming a byte).
func closeFrom(roots []Node) struct {
	pending map[dfaPos]bool
	accept  bool
	perms   Perms
} {
	result := struct {
		pending map[dfaPos]bool
		accept  bool
		perms   Perms
	}{pending: make(map[dfaPos]bool)}

	var processDone func(n Node)
	var processAwait func(n Node)

	processDone = func(n Node) {
		if n.isTerminal() {
			result.accept = true
			result.perms |= n.perms()
		}
		if repeatable(n) {
			result.pending[dfaPos{n, doneStage}] = true
		}
		for _, c := range n.children() {
			processAwait(c)
		}
	}

	processAwait = func(n Node) {
		if minimum(n) == 0 {
			processDone(n)
			return
		}
		result.pending[dfaPos{n, awaitStage}] = true
	}

	for _, n := range roots {
		processDone(n)
	}
	return result
}

// stepByte advances every pending position on byte b, returning the set of
// nodes that just became "done" (satisfied one more occurrence).
func stepByte(pending map[dfaPos]bool, b byte) []Node {
	seen := make(map[Node]bool)
	var out []Node
	for p := range pending {
		if !matches(p.node, b) {
			continue
		}
		if !seen[p.node] {
			seen[p.node] = true
			out = append(out, p.node)
		}
	}
	return out
}

func matches(n Node, b byte) bool {
	switch t := n.(type) {
	case *LiteralNode:
		return b == t.Byte
	case *WildcardSingleNode:
		return true
	case *CharsetNode:
		return t.Contains(b)
	case *RangeNode:
		return t.Contains(b)
	case *WildcardMultiNode:
		return b != '/'
	case *WildcardRecursiveNode:
		return true
	}
	return false
}

// minimum is the number of occurrences a node's modifier requires before
// it may epsilon through to its children. Single-byte tokens require one
// occurrence unless explicitly optional/repeatable from zero; the multi
// and recursive wildcards are inherently zero-or-more unless marked "+".
func minimum(n Node) int {
	switch n.(type) {
	case *WildcardMultiNode, *WildcardRecursiveNode:
		if n.modifier() == ModOneOrMore {
			return 1
		}
		return 0
	default:
		switch n.modifier() {
		case ModOptional, ModZeroOrMore:
			return 0
		default:
			return 1
		}
	}
}

// repeatable reports whether a node, once its minimum is satisfied, may
// consume further matching bytes in place (a DFA self-loop).
func repeatable(n Node) bool {
	switch n.(type) {
	case *WildcardMultiNode, *WildcardRecursiveNode:
		return true
	default:
		mod := n.modifier()
		return mod == ModOneOrMore || mod == ModZeroOrMore
	}
}

func canonKey(pending map[dfaPos]bool) string {
	keys := make([]string, 0, len(pending))
	for p := range pending {
		keys = append(keys, fmt.Sprintf("%p:%d", p.node, p.stage))
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		key += k + "|"
	}
	return key
}

// buildClasses partitions the byte alphabet into equivalence classes: two
// bytes share a class iff every discriminating predicate in the pattern
// set (literal bytes, charset/range membership, and the '/' boundary used
// by the multi wildcard) agrees on both.
func buildClasses(root Node, maxClasses int) ([256]uint16, int, error) {
	discriminators := collectDiscriminators(root)

	signatures := make([]string, 256)
	for b := 0; b < 256; b++ {
		sig := make([]byte, len(discriminators))
		for i, d := range discriminators {
			if d(byte(b)) {
				sig[i] = '1'
			} else {
				sig[i] = '0'
			}
		}
		signatures[b] = string(sig)
	}

	var classOf [256]uint16
	classIDs := map[string]uint16{}
	for b := 0; b < 256; b++ {
		sig := signatures[b]
		id, ok := classIDs[sig]
		if !ok {
			if len(classIDs) >= maxClasses {
				return classOf, 0, cerrors.WrapWithDetail(cerrors.ErrTooManyEquivalenceClasses, cerrors.CompileFailed,
					"compile", fmt.Sprintf("exceeded max_classes=%d", maxClasses))
			}
			id = uint16(len(classIDs))
			classIDs[sig] = id
		}
		classOf[b] = id
	}
	return classOf, len(classIDs), nil
}

// collectDiscriminators walks every node and emits one predicate per
// distinction the pattern set can make, plus the fixed '/' boundary.
func collectDiscriminators(root Node) []func(byte) bool {
	var out []func(byte) bool
	seenLiteral := map[byte]bool{}

	var walk func(n Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *LiteralNode:
			if !seenLiteral[t.Byte] {
				seenLiteral[t.Byte] = true
				v := t.Byte
				out = append(out, func(b byte) bool { return b == v })
			}
		case *CharsetNode:
			bitmap := t.Bitmap
			out = append(out, func(b byte) bool { return bitmap[b/64]&(1<<(b%64)) != 0 })
		case *RangeNode:
			start, end := t.Start, t.End
			out = append(out, func(b byte) bool { return b >= start && b <= end })
		}
		for _, c := range n.children() {
			walk(c)
		}
	}
	walk(root)
	out = append(out, func(b byte) bool { return b == '/' })
	return out
}
