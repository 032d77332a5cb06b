package blockchain

// Chain is the dense height-indexed view of the currently active branch. It
// shares nodes with the index graph.
type Chain struct {
	nodes []*BlockIndex
}

// Genesis returns the chain's first entry, or nil.
func (c *Chain) Genesis() *BlockIndex {
	if len(c.nodes) == 0 {
		return nil
	}

	return c.nodes[0]
}

// Tip returns the chain's last entry, or nil.
func (c *Chain) Tip() *BlockIndex {
	if len(c.nodes) == 0 {
		return nil
	}

	return c.nodes[len(c.nodes)-1]
}

// ByHeight returns the entry at the given height, or nil.
func (c *Chain) ByHeight(height int32) *BlockIndex {
	if height < 0 || height >= int32(len(c.nodes)) {
		return nil
	}

	return c.nodes[height]
}

// Height is the tip height, or -1 for an empty chain.
func (c *Chain) Height() int32 {
	return int32(len(c.nodes)) - 1
}

// Contains reports whether the node is on the active branch.
func (c *Chain) Contains(node *BlockIndex) bool {
	return node != nil && c.ByHeight(node.Height) == node
}

// Next returns the active-chain successor of the node, or nil.
func (c *Chain) Next(node *BlockIndex) *BlockIndex {
	if !c.Contains(node) {
		return nil
	}

	return c.ByHeight(node.Height + 1)
}

// SetTip rebuilds the dense array so that the given node is the tip. Passing
// nil empties the chain.
func (c *Chain) SetTip(node *BlockIndex) {
	if node == nil {
		c.nodes = nil
		return
	}

	if cap(c.nodes) < int(node.Height)+1 {
		grown := make([]*BlockIndex, node.Height+1)
		copy(grown, c.nodes)
		c.nodes = grown
	} else {
		c.nodes = c.nodes[:node.Height+1]
	}

	for node != nil && (int32(len(c.nodes)) <= node.Height || c.nodes[node.Height] != node) {
		c.nodes[node.Height] = node
		node = node.Parent
	}
}

// FindFork returns the last common block between the chain and the given
// node's branch.
func (c *Chain) FindFork(node *BlockIndex) *BlockIndex {
	if node == nil {
		return nil
	}

	if node.Height > c.Height() {
		node = node.Ancestor(c.Height())
	}

	for node != nil && !c.Contains(node) {
		node = node.Parent
	}

	return node
}
