// Package astinject inserts the auto-protect call into every compiled
// program unit before it runs.
package astinject

// Kind tags an AST node.
type Kind int

const (
	KindStmtList Kind = iota
	KindDeclare
	KindNamespace
	KindStmt
	KindCall
	KindName
	KindArgList
)

func (k Kind) String() string {
	switch k {
	case KindStmtList:
		return "stmt_list"
	case KindDeclare:
		return "declare"
	case KindNamespace:
		return "namespace"
	case KindCall:
		return "call"
	case KindName:
		return "name"
	case KindArgList:
		return "arg_list"
	default:
		return "stmt"
	}
}

// Node is a generic AST node. Children of a nil entry are skipped.
type Node struct {
	Kind     Kind
	Value    string
	Line     int
	Children []*Node
}

// Arena tracks nodes allocated on behalf of one unit so they can be
// released together when the unit is discarded.
type Arena struct {
	nodes []*Node
}

// New allocates a tracked node.
func (a *Arena) New(kind Kind, value string, children ...*Node) *Node {
	n := &Node{Kind: kind, Value: value, Children: children}
	a.nodes = append(a.nodes, n)
	return n
}

// Len returns the number of live tracked nodes.
func (a *Arena) Len() int { return len(a.nodes) }

// Owns reports whether n was allocated by a.
func (a *Arena) Owns(n *Node) bool {
	for _, m := range a.nodes {
		if m == n {
			return true
		}
	}
	return false
}

// Release drops every tracked node. Released nodes are emptied so stale
// references cannot reach the rest of the tree.
func (a *Arena) Release() {
	for _, n := range a.nodes {
		n.Children = nil
		n.Value = ""
	}
	a.nodes = nil
}

// Unit is one compiled program unit.
type Unit struct {
	Name  string
	Root  *Node
	arena Arena
}

// NewUnit wraps root.
func NewUnit(name string, root *Node) *Unit {
	return &Unit{Name: name, Root: root}
}

// Arena returns the unit's allocation arena.
func (u *Unit) Arena() *Arena { return &u.arena }

// Discard releases every node injected into the unit.
func (u *Unit) Discard() {
	u.arena.Release()
	u.Root = nil
}

// Stmt builds an untracked statement node, for hosts and tests.
func Stmt(kind Kind, value string, children ...*Node) *Node {
	return &Node{Kind: kind, Value: value, Children: children}
}

// List builds an untracked statement list.
func List(stmts ...*Node) *Node {
	return &Node{Kind: KindStmtList, Children: stmts}
}
