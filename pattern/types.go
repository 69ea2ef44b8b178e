// Package pattern implements protecc's glob pattern compiler: parsing glob
// patterns into a trie, optional DFA determinization, and backtracking/DFA
// matching against candidate paths.
package pattern

import cerrors "github.com/chef-project/containerv/errors"

// Perms is a permission bitmask attached to terminal trie nodes and to
// accepting DFA states.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermExec
)

// Superset reports whether p contains every bit set in required.
func (p Perms) Superset(required Perms) bool {
	return p&required == required
}

// Modifier is a post-quantifier attached to the token that precedes it.
type Modifier int

const (
	// ModNone is the absence of a quantifier: the token matches exactly once.
	ModNone Modifier = iota
	// ModOptional is "?": the token matches zero or one times.
	ModOptional
	// ModOneOrMore is "+": the token matches one or more times.
	ModOneOrMore
	// ModZeroOrMore is "*" applied to a token (not the bare wildcard): zero or more times.
	ModZeroOrMore
)

// Node is a trie node. The concrete implementations below form a sealed
// variant set; callers dispatch on concrete type via a type switch rather
// than virtual methods beyond the shared accessors.
type Node interface {
	// modifier returns the post-quantifier attached to this node.
	modifier() Modifier
	// isTerminal reports whether a match may end at this node.
	isTerminal() bool
	// perms returns the permission mask; only meaningful when isTerminal().
	perms() Perms
	// children returns the node's ordered child list.
	children() []Node
}

// base carries the fields shared by every node variant. Only terminal
// nodes carry permissions, by invariant: a non-terminal node's perms field
// is never read.
type base struct {
	Modifier    Modifier
	Terminal    bool
	Permissions Perms
	Kids        []Node
}

func (b *base) modifier() Modifier  { return b.Modifier }
func (b *base) isTerminal() bool    { return b.Terminal }
func (b *base) perms() Perms        { return b.Permissions }
func (b *base) children() []Node    { return b.Kids }
func (b *base) addChild(n Node)     { b.Kids = append(b.Kids, n) }

// LiteralNode matches exactly one byte value.
type LiteralNode struct {
	base
	Byte byte
}

// WildcardSingleNode matches "?": any one byte.
type WildcardSingleNode struct {
	base
}

// WildcardMultiNode matches "*": any run of bytes not containing '/'.
type WildcardMultiNode struct {
	base
}

// WildcardRecursiveNode matches "**": any run of bytes, '/' included.
// Per the data model, a recursive wildcard may have zero or more children.
type WildcardRecursiveNode struct {
	base
}

// CharsetNode matches any byte present in a 256-bit membership bitmap,
// e.g. "[abc]". It never carries literal data of its own.
type CharsetNode struct {
	base
	Bitmap [4]uint64
}

// Set marks b as a member of the charset.
func (c *CharsetNode) Set(b byte) {
	c.Bitmap[b/64] |= 1 << (b % 64)
}

// Contains reports whether b is a member of the charset.
func (c *CharsetNode) Contains(b byte) bool {
	return c.Bitmap[b/64]&(1<<(b%64)) != 0
}

// RangeNode matches a contiguous byte range, e.g. "[a-z]". Invariant:
// Start <= End, enforced by the parser.
type RangeNode struct {
	base
	Start, End byte
}

// Contains reports whether b falls within [Start, End].
func (r *RangeNode) Contains(b byte) bool {
	return b >= r.Start && b <= r.End
}

// RootNode anchors a compiled trie. It never itself consumes a byte; it
// exists only so Compile has somewhere to hang the first real token of
// every merged rule, and so the empty-glob rule ("" matches the empty
// path) has a terminal to mark.
type RootNode struct {
	base
}

// CompileMode selects the output representation.
type CompileMode int

const (
	// ModeTrie keeps the parsed trie and matches via backtracking.
	ModeTrie CompileMode = iota
	// ModeDFA determinizes the trie into a transition table.
	ModeDFA
)

// Config controls compilation.
type Config struct {
	Mode            CompileMode
	CaseInsensitive bool
	// MaxClasses caps the number of byte equivalence classes produced
	// during DFA determinization.
	MaxClasses int
	// MaxStates caps the number of DFA states; exceeding it fails compile
	// with CompileFailed rather than growing unbounded.
	MaxStates int
}

// DefaultConfig returns the compiler's default tuning.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeTrie,
		MaxClasses: 32,
		MaxStates:  4096,
	}
}

// Rule is one (glob, permission mask) input to Compile.
type Rule struct {
	Glob  string
	Perms Perms
}

// Profile is a compiled pattern set: always the trie, plus its DFA when
// compiled with ModeDFA. Match uses the DFA whenever it is present.
type Profile struct {
	Root            Node
	DFA             *DFA
	CaseInsensitive bool
}

// validateRules rejects the one error the compiler must recognize before
// doing any parsing work.
func validateRules(rules []Rule) error {
	if len(rules) == 0 {
		return cerrors.Wrap(cerrors.ErrEmptyPatternSet, cerrors.InvalidArgument, "compile")
	}
	return nil
}
