package mcts

// Table is the node arena and the transposition table over it. Nodes are never
// evicted except by an explicit compaction (Agent.Prune).
//
// Pointers returned by Node stay valid only until the next insert.
type Table struct {
	nodes []Node
	index map[string]NodeID
}

func NewTable() *Table {
	return &Table{index: make(map[string]NodeID)}
}

// Len returns the number of nodes.
func (t *Table) Len() int { return len(t.nodes) }

// Node returns the node for id.
func (t *Table) Node(id NodeID) *Node { return &t.nodes[id] }

// Lookup finds the node for a state key.
func (t *Table) Lookup(key []byte) (NodeID, bool) {
	id, ok := t.index[string(key)]
	return id, ok
}

func (t *Table) insert(n Node) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.index[n.Key] = id
	return id
}

// Clone deep-copies the statistics of every node. States are shared since
// they are immutable. Use it to start several agents from one prebuilt table.
func (t *Table) Clone() *Table {
	out := &Table{
		nodes: make([]Node, len(t.nodes)),
		index: make(map[string]NodeID, len(t.index)),
	}
	for i := range t.nodes {
		out.nodes[i] = t.nodes[i].clone()
	}
	for k, v := range t.index {
		out.index[k] = v
	}
	return out
}

// compact keeps only the nodes reachable from root through resolved child
// links. Surviving nodes are renumbered in breadth-first order starting with
// root at 0. It returns the new root handle and the number of dropped nodes.
func (t *Table) compact(root NodeID) (NodeID, int) {
	remap := make(map[NodeID]NodeID, len(t.nodes))
	order := []NodeID{root}
	remap[root] = 0
	for i := 0; i < len(order); i++ {
		for _, c := range t.nodes[order[i]].Children {
			if c == NoNode {
				continue
			}
			if _, ok := remap[c]; !ok {
				remap[c] = NodeID(len(order))
				order = append(order, c)
			}
		}
	}

	nodes := make([]Node, len(order))
	index := make(map[string]NodeID, len(order))
	for newID, oldID := range order {
		n := t.nodes[oldID]
		for a, c := range n.Children {
			if c != NoNode {
				n.Children[a] = remap[c]
			}
		}
		nodes[newID] = n
		index[n.Key] = NodeID(newID)
	}

	dropped := len(t.nodes) - len(nodes)
	t.nodes = nodes
	t.index = index
	return 0, dropped
}
