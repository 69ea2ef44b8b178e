package pattern

// Compile parses every rule's glob into a token chain and merges the
// chains into a single shared trie, reusing identical prefixes across
// rules. When cfg.Mode is ModeDFA the trie is additionally determinized.
func Compile(rules []Rule, cfg Config) (*Profile, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if cfg.MaxClasses <= 0 {
		cfg.MaxClasses = DefaultConfig().MaxClasses
	}
	if cfg.MaxStates <= 0 {
		cfg.MaxStates = DefaultConfig().MaxStates
	}

	root := &RootNode{}
	for _, rule := range rules {
		specs, err := parseGlob(rule.Glob, cfg.CaseInsensitive)
		if err != nil {
			return nil, err
		}
		if len(specs) == 0 {
			// An empty glob string is a zero-length match at the root.
			root.Terminal = true
			root.Permissions |= rule.Perms
			continue
		}
		insertChain(root, specs, rule.Perms)
	}

	profile := &Profile{Root: root, CaseInsensitive: cfg.CaseInsensitive}

	if cfg.Mode == ModeDFA {
		dfa, err := determinize(root, cfg)
		if err != nil {
			return nil, err
		}
		profile.DFA = dfa
	}

	return profile, nil
}

// insertChain walks cur's children looking for a structural match at each
// step, reusing shared prefixes; it appends new nodes where none match.
func insertChain(root *RootNode, specs []tokenSpec, perms Perms) {
	var cur Node = root
	for _, spec := range specs {
		if existing := findChild(cur, spec); existing != nil {
			cur = existing
			continue
		}
		next := buildNode(spec)
		appendChild(cur, next)
		cur = next
	}
	markTerminal(cur, perms)
}

func findChild(n Node, spec tokenSpec) Node {
	for _, child := range n.children() {
		if nodeMatchesSpec(child, spec) {
			return child
		}
	}
	return nil
}

func nodeMatchesSpec(n Node, spec tokenSpec) bool {
	if n.modifier() != spec.modifier {
		return false
	}
	switch t := n.(type) {
	case *LiteralNode:
		return spec.kind == literalKind && t.Byte == spec.b
	case *WildcardSingleNode:
		return spec.kind == wildcardSingleKind
	case *WildcardMultiNode:
		return spec.kind == wildcardMultiKind
	case *WildcardRecursiveNode:
		return spec.kind == wildcardRecursiveKind
	case *CharsetNode:
		return spec.kind == charsetKind && t.Bitmap == spec.bitmap
	case *RangeNode:
		return spec.kind == rangeKind && t.Start == spec.start && t.End == spec.end
	}
	return false
}

func buildNode(spec tokenSpec) Node {
	b := base{Modifier: spec.modifier}
	switch spec.kind {
	case literalKind:
		return &LiteralNode{base: b, Byte: spec.b}
	case wildcardSingleKind:
		return &WildcardSingleNode{base: b}
	case wildcardMultiKind:
		return &WildcardMultiNode{base: b}
	case wildcardRecursiveKind:
		return &WildcardRecursiveNode{base: b}
	case charsetKind:
		return &CharsetNode{base: b, Bitmap: spec.bitmap}
	case rangeKind:
		return &RangeNode{base: b, Start: spec.start, End: spec.end}
	}
	panic("pattern: unreachable token kind")
}

// childAdder is satisfied by every node variant via the embedded base;
// it is kept unexported since only the compiler mutates trie shape.
type childAdder interface {
	addChild(Node)
}

// terminalSetter is satisfied by every node variant via the embedded base.
type terminalSetter interface {
	setTerminal(Perms)
}

func (b *base) setTerminal(perms Perms) {
	b.Terminal = true
	b.Permissions |= perms
}

func appendChild(parent Node, child Node) {
	parent.(childAdder).addChild(child)
}

func markTerminal(n Node, perms Perms) {
	n.(terminalSetter).setTerminal(perms)
}

// Match reports whether path is accepted by profile with at least the
// given required permissions.
func Match(profile *Profile, path string, required Perms) bool {
	if profile.CaseInsensitive {
		path = lowerString(path)
	}
	if profile.DFA != nil {
		return matchDFA(profile.DFA, path, required)
	}
	return matchTrie(profile.Root, path, required)
}
