package content

// Tree owns the canonical node tree for one document. Mutations validate
// against the current snapshot, update it, and return intents describing the
// change for the persistence layer. The tree a caller trusts is always the
// one rebuilt from the next document fetch, not the locally updated copy.
//
// All traversals use an explicit work stack. Document trees are
// user-authored and not guaranteed shallow.
type Tree struct {
	root           *Node
	nodes          map[string]*Node
	datatypeLabels map[string]string
}

// NewTree indexes a document tree rooted at root. datatypeLabels maps
// datatype ids to human-readable labels for FindLabel.
func NewTree(root *Node, datatypeLabels map[string]string) (*Tree, error) {
	if root == nil {
		return nil, structural("build", "", "root is nil")
	}
	if root.ParentID != nil {
		return nil, structural("build", root.ID, "root must have no parent")
	}

	nodes := make(map[string]*Node)
	stack := []*Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, exists := nodes[node.ID]; exists {
			return nil, structural("build", node.ID, "duplicate node id")
		}
		nodes[node.ID] = node
		for i := len(node.Children) - 1; i >= 0; i-- {
			child := node.Children[i]
			id := node.ID
			child.ParentID = &id
			stack = append(stack, child)
		}
	}

	return &Tree{root: root, nodes: nodes, datatypeLabels: datatypeLabels}, nil
}

// Root returns the document root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	node, ok := t.nodes[id]
	return node, ok
}

// ChildIDs returns the ordered child ids of parentID. An unknown parent
// yields an empty slice; callers treat "not found" and "no children"
// identically.
func (t *Tree) ChildIDs(parentID string) []string {
	parent, ok := t.nodes[parentID]
	if !ok {
		return []string{}
	}
	ids := make([]string, 0, len(parent.Children))
	for _, child := range parent.Children {
		ids = append(ids, child.ID)
	}
	return ids
}

// ReorderSiblings replaces parentID's child ordering wholesale. newOrder must
// be a permutation of the current child id set; anything else is a caller
// bug and raises a StructuralError rather than silently dropping or adding
// nodes.
func (t *Tree) ReorderSiblings(parentID string, newOrder []string) (ReorderIntent, error) {
	parent, ok := t.nodes[parentID]
	if !ok {
		return ReorderIntent{}, notFound(parentID)
	}
	if len(newOrder) != len(parent.Children) {
		return ReorderIntent{}, structural("reorder", parentID, "new order is not a permutation of current children")
	}
	byID := make(map[string]*Node, len(parent.Children))
	for _, child := range parent.Children {
		byID[child.ID] = child
	}
	reordered := make([]*Node, 0, len(newOrder))
	for _, id := range newOrder {
		child, exists := byID[id]
		if !exists {
			return ReorderIntent{}, structural("reorder", parentID, "new order is not a permutation of current children")
		}
		delete(byID, id)
		reordered = append(reordered, child)
	}
	parent.Children = reordered

	return ReorderIntent{ParentID: parentID, OrderedIDs: append([]string(nil), newOrder...)}, nil
}

// MoveNode removes nodeID from its current parent and inserts it into
// newParentID's children at position, clamped to [0, len]. Moving a node
// into itself or its own subtree is rejected before any intent is emitted.
func (t *Tree) MoveNode(nodeID, newParentID string, position int) (MoveIntent, error) {
	node, ok := t.nodes[nodeID]
	if !ok {
		return MoveIntent{}, notFound(nodeID)
	}
	newParent, ok := t.nodes[newParentID]
	if !ok {
		return MoveIntent{}, notFound(newParentID)
	}
	if node.ParentID == nil {
		return MoveIntent{}, structural("move", nodeID, "document root cannot be moved")
	}
	if newParentID == nodeID || t.isDescendant(nodeID, newParentID) {
		return MoveIntent{}, structural("move", nodeID, "cannot move a node into its own subtree")
	}

	oldParent := t.nodes[*node.ParentID]
	oldParent.Children = removeChild(oldParent.Children, nodeID)

	if position < 0 {
		position = 0
	}
	if position > len(newParent.Children) {
		position = len(newParent.Children)
	}
	newParent.Children = append(newParent.Children, nil)
	copy(newParent.Children[position+1:], newParent.Children[position:])
	newParent.Children[position] = node
	parentID := newParentID
	node.ParentID = &parentID

	return MoveIntent{NodeID: nodeID, NewParentID: newParentID, Position: position}, nil
}

// MoveForDrop translates a drag-end drop target into a MoveNode call. A drop
// onto a sibling inserts before that sibling; a drop into a container
// appends.
func (t *Tree) MoveForDrop(nodeID string, target DropTarget) (MoveIntent, error) {
	if target.SiblingID != "" {
		sibling, ok := t.nodes[target.SiblingID]
		if !ok {
			return MoveIntent{}, notFound(target.SiblingID)
		}
		if sibling.ParentID == nil {
			return MoveIntent{}, structural("move", nodeID, "cannot drop beside the document root")
		}
		parent := t.nodes[*sibling.ParentID]
		position := indexOfChild(parent.Children, target.SiblingID)
		// Removing the node from earlier in the same sibling list shifts the
		// target index left by one.
		if node, exists := t.nodes[nodeID]; exists && node.ParentID != nil && *node.ParentID == parent.ID {
			if own := indexOfChild(parent.Children, nodeID); own >= 0 && own < position {
				position--
			}
		}
		return t.MoveNode(nodeID, parent.ID, position)
	}
	container, ok := t.nodes[target.ContainerID]
	if !ok {
		return MoveIntent{}, notFound(target.ContainerID)
	}
	return t.MoveNode(nodeID, container.ID, len(container.Children))
}

// InsertChild describes a new block under parentID. The node id is assigned
// by the server, so nothing is committed locally; the tree picks up the new
// node on the next document fetch.
func (t *Tree) InsertChild(parentID, datatypeID string) (CreateIntent, error) {
	if _, ok := t.nodes[parentID]; !ok {
		return CreateIntent{}, notFound(parentID)
	}
	return CreateIntent{ParentID: parentID, DatatypeID: datatypeID}, nil
}

// DeleteSubtree removes nodeID and every descendant, returning delete
// intents deepest-first: within each node its field values precede the node,
// and children precede parents throughout.
func (t *Tree) DeleteSubtree(nodeID string) ([]DeleteIntent, error) {
	node, ok := t.nodes[nodeID]
	if !ok {
		return nil, notFound(nodeID)
	}
	if node.ParentID == nil {
		return nil, structural("delete", nodeID, "document root cannot be deleted")
	}

	ordered := postOrder(node)
	intents := make([]DeleteIntent, 0, len(ordered))
	for _, current := range ordered {
		for _, field := range current.Fields {
			if field.ID == "" {
				continue
			}
			intents = append(intents, DeleteIntent{FieldValueID: field.ID})
		}
		intents = append(intents, DeleteIntent{NodeID: current.ID})
	}

	parent := t.nodes[*node.ParentID]
	parent.Children = removeChild(parent.Children, nodeID)
	for _, current := range ordered {
		delete(t.nodes, current.ID)
	}
	return intents, nil
}

// CollectSubtree returns nodeID's subtree in pre-order: the node itself
// first, then each child's subtree in child order.
func (t *Tree) CollectSubtree(nodeID string) ([]*Node, error) {
	node, ok := t.nodes[nodeID]
	if !ok {
		return nil, notFound(nodeID)
	}
	collected := make([]*Node, 0)
	stack := []*Node{node}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		collected = append(collected, current)
		for i := len(current.Children) - 1; i >= 0; i-- {
			stack = append(stack, current.Children[i])
		}
	}
	return collected, nil
}

// CountDescendants reports how many nodes live below nodeID.
func (t *Tree) CountDescendants(nodeID string) (int, error) {
	subtree, err := t.CollectSubtree(nodeID)
	if err != nil {
		return 0, err
	}
	return len(subtree) - 1, nil
}

// FindLabel resolves the human-readable datatype label for a node. Absence
// is a normal transient state during drag preview, so it reports ok=false
// instead of raising an error.
func (t *Tree) FindLabel(nodeID string) (string, bool) {
	node, ok := t.nodes[nodeID]
	if !ok {
		return "", false
	}
	if label, exists := t.datatypeLabels[node.DatatypeID]; exists && label != "" {
		return label, true
	}
	return node.DatatypeID, true
}

// isDescendant reports whether id sits inside ancestorID's subtree, walking
// parent pointers so the cost is bounded by depth, not tree size.
func (t *Tree) isDescendant(ancestorID, id string) bool {
	node, ok := t.nodes[id]
	if !ok {
		return false
	}
	for node.ParentID != nil {
		if *node.ParentID == ancestorID {
			return true
		}
		node = t.nodes[*node.ParentID]
	}
	return false
}

func postOrder(root *Node) []*Node {
	type frame struct {
		node *Node
		next int
	}
	ordered := make([]*Node, 0)
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.node.Children) {
			child := top.node.Children[top.next]
			top.next++
			stack = append(stack, frame{node: child})
			continue
		}
		ordered = append(ordered, top.node)
		stack = stack[:len(stack)-1]
	}
	return ordered
}

func removeChild(children []*Node, id string) []*Node {
	for i, child := range children {
		if child.ID == id {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

func indexOfChild(children []*Node, id string) int {
	for i, child := range children {
		if child.ID == id {
			return i
		}
	}
	return -1
}
