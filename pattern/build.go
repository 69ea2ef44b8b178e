package pattern

// This file exposes the minimal surface the profile package needs to walk
// a compiled trie for binary encoding, and to reconstruct one on decode,
// without handing out the unexported Node method set itself.

// NodeModifier returns n's post-quantifier.
func NodeModifier(n Node) Modifier { return n.modifier() }

// NodeTerminal reports whether a match may end at n.
func NodeTerminal(n Node) bool { return n.isTerminal() }

// NodePerms returns n's permission mask.
func NodePerms(n Node) Perms { return n.perms() }

// NodeChildren returns n's ordered child list.
func NodeChildren(n Node) []Node { return n.children() }

// NewRoot constructs an empty root anchor for a decoded trie.
func NewRoot() *RootNode { return &RootNode{} }

// NewLiteral constructs a literal-byte node with no children.
func NewLiteral(b byte, mod Modifier) *LiteralNode {
	return &LiteralNode{base: base{Modifier: mod}, Byte: b}
}

// NewWildcardSingle constructs a "?" node.
func NewWildcardSingle(mod Modifier) *WildcardSingleNode {
	return &WildcardSingleNode{base: base{Modifier: mod}}
}

// NewWildcardMulti constructs a "*" node.
func NewWildcardMulti(mod Modifier) *WildcardMultiNode {
	return &WildcardMultiNode{base: base{Modifier: mod}}
}

// NewWildcardRecursive constructs a "**" node.
func NewWildcardRecursive(mod Modifier) *WildcardRecursiveNode {
	return &WildcardRecursiveNode{base: base{Modifier: mod}}
}

// NewCharset constructs a charset node from a prebuilt membership bitmap.
func NewCharset(bitmap [4]uint64, mod Modifier) *CharsetNode {
	return &CharsetNode{base: base{Modifier: mod}, Bitmap: bitmap}
}

// NewRange constructs a contiguous byte-range node.
func NewRange(start, end byte, mod Modifier) *RangeNode {
	return &RangeNode{base: base{Modifier: mod}, Start: start, End: end}
}

// LinkChild appends child to parent's ordered child list.
func LinkChild(parent, child Node) {
	appendChild(parent, child)
}

// MarkTerminal marks n as an accepting node carrying perms.
func MarkTerminal(n Node, perms Perms) {
	markTerminal(n, perms)
}

// NewProfile wraps a reconstructed trie root as a Profile. Used by decoders
// that rebuild a trie from a binary buffer rather than from Compile.
func NewProfile(root Node, caseInsensitive bool) *Profile {
	return &Profile{Root: root, CaseInsensitive: caseInsensitive}
}
