package conversation

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("node not found")
	ErrCorruptState = errors.New("corrupt conversation state")
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = NodeID(uuid)
	return nil
}

// MarshalText lets NodeID be used as a JSON object key.
func (id NodeID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *NodeID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NullNode, errors.Wrapf(ErrNotFound, "invalid node id %q", s)
	}
	return NodeID(u), nil
}

var NullNode NodeID = NodeID(uuid.Nil)

// Node is shared between tree versions and must never be modified once it is
// registered in a Tree. Open marks the assistant node that is currently being
// streamed into.
type Node struct {
	ID       NodeID   `json:"id"`
	ParentID NodeID   `json:"parentId"`
	Children []NodeID `json:"children"`
	Message  Message  `json:"message"`
	Open     bool     `json:"-"`
}

func (n *Node) clone() *Node {
	ret := *n
	ret.Children = append([]NodeID(nil), n.Children...)
	return &ret
}

// Tree is an immutable conversation tree. Every operation that changes the
// tree returns a new *Tree and leaves the receiver untouched, so a *Tree can be
// handed to concurrent readers without locking.
//
// A nil *Tree behaves like an empty tree.
type Tree struct {
	nodes       map[NodeID]*Node
	rootID      NodeID
	currentPath []NodeID
	// lastActive remembers, for each parent, which child was on the active
	// path the last time the path went through it.
	lastActive map[NodeID]NodeID
}

func New() *Tree {
	return &Tree{
		nodes:      map[NodeID]*Node{},
		lastActive: map[NodeID]NodeID{},
	}
}

func (t *Tree) orEmpty() *Tree {
	if t == nil {
		return New()
	}
	return t
}

// derive returns a shallow copy whose maps and path can be modified freely.
// Node pointers are shared and must be replaced, not mutated.
func (t *Tree) derive() *Tree {
	t = t.orEmpty()
	ret := &Tree{
		nodes:       make(map[NodeID]*Node, len(t.nodes)+1),
		rootID:      t.rootID,
		currentPath: append([]NodeID(nil), t.currentPath...),
		lastActive:  make(map[NodeID]NodeID, len(t.lastActive)+1),
	}
	for k, v := range t.nodes {
		ret.nodes[k] = v
	}
	for k, v := range t.lastActive {
		ret.lastActive[k] = v
	}
	return ret
}

func (t *Tree) IsEmpty() bool {
	return t == nil || len(t.nodes) == 0
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

func (t *Tree) RootID() NodeID {
	if t == nil {
		return NullNode
	}
	return t.rootID
}

// Leaf returns the last node of the active path.
func (t *Tree) Leaf() (NodeID, bool) {
	if t == nil || len(t.currentPath) == 0 {
		return NullNode, false
	}
	return t.currentPath[len(t.currentPath)-1], true
}

func (t *Tree) CurrentPath() []NodeID {
	if t == nil {
		return nil
	}
	return append([]NodeID(nil), t.currentPath...)
}

// Node returns a copy of the node with the given id.
func (t *Tree) Node(id NodeID) (Node, bool) {
	if t == nil {
		return Node{}, false
	}
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

func (t *Tree) Children(id NodeID) []NodeID {
	if t == nil {
		return nil
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return append([]NodeID(nil), n.Children...)
}

// Siblings returns the children of id's parent, id included, in creation order.
func (t *Tree) Siblings(id NodeID) []NodeID {
	if t == nil {
		return nil
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	parent, ok := t.nodes[n.ParentID]
	if !ok {
		return []NodeID{id}
	}
	return append([]NodeID(nil), parent.Children...)
}

// AppendMessage attaches msg as a new child of the current leaf and makes it
// the new leaf. On an empty tree the new node becomes the root.
func (t *Tree) AppendMessage(msg Message) *Tree {
	ret, _ := t.appendNode(msg, false)
	return ret
}

func (t *Tree) appendNode(msg Message, open bool) (*Tree, NodeID) {
	ret := t.derive()
	id := NewNodeID()
	node := &Node{
		ID:       id,
		ParentID: NullNode,
		Message:  msg,
		Open:     open,
	}

	if leafID, ok := ret.Leaf(); ok {
		node.ParentID = leafID
		parent := ret.nodes[leafID].clone()
		parent.Children = append(parent.Children, id)
		ret.nodes[leafID] = parent
		ret.lastActive[leafID] = id
	} else {
		ret.rootID = id
	}

	ret.nodes[id] = node
	ret.currentPath = append(ret.currentPath, id)
	return ret, id
}

// CurrentMessages returns the messages along the active path, root first.
func (t *Tree) CurrentMessages() []Message {
	if t == nil {
		return nil
	}
	ret := make([]Message, 0, len(t.currentPath))
	for _, id := range t.currentPath {
		ret = append(ret, t.nodes[id].Message)
	}
	return ret
}

// AppendStreamedChunk extends the open assistant leaf with chunk, or starts a
// new assistant node holding chunk if the leaf is not an open assistant
// message. Empty chunks are ignored.
func (t *Tree) AppendStreamedChunk(chunk string) *Tree {
	if chunk == "" {
		return t.orEmpty()
	}

	if leafID, ok := t.Leaf(); ok {
		leaf := t.nodes[leafID]
		if leaf.Open && leaf.Message.Role == RoleAssistant {
			ret := t.derive()
			n := leaf.clone()
			n.Message.Content += chunk
			ret.nodes[leafID] = n
			return ret
		}
	}

	ret, _ := t.appendNode(NewAssistantMessage(chunk), true)
	return ret
}

// IsStreaming reports whether the leaf is an assistant message still open for
// streamed chunks.
func (t *Tree) IsStreaming() bool {
	leafID, ok := t.Leaf()
	if !ok {
		return false
	}
	return t.nodes[leafID].Open
}

// CloseStream finalizes the open assistant leaf, attaching the reasoning
// trace if one is given. Trees without an open leaf are returned unchanged.
func (t *Tree) CloseStream(reasoning string, reasoningTokens int) *Tree {
	if !t.IsStreaming() {
		return t.orEmpty()
	}
	leafID, _ := t.Leaf()
	ret := t.derive()
	n := t.nodes[leafID].clone()
	n.Open = false
	if reasoning != "" || reasoningTokens > 0 {
		n.Message.Reasoning = reasoning
		n.Message.ReasoningTokens = reasoningTokens
	}
	ret.nodes[leafID] = n
	return ret
}

// pathTo returns the ids from the root down to id.
func (t *Tree) pathTo(id NodeID) ([]NodeID, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "node %s", id)
	}
	var path []NodeID
	for cur := id; cur != NullNode; {
		n, ok := t.nodes[cur]
		if !ok {
			return nil, errors.Wrapf(ErrCorruptState, "dangling parent %s", cur)
		}
		path = append(path, cur)
		if len(path) > len(t.nodes) {
			return nil, errors.Wrap(ErrCorruptState, "cycle in parent links")
		}
		cur = n.ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// SwitchBranch makes nodeID part of the active path. Below nodeID the path
// follows the child that was last active at each level, or the first child,
// down to a leaf. Switching to the current leaf leaves the tree unchanged,
// also after a Rewind.
func (t *Tree) SwitchBranch(nodeID NodeID) (*Tree, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}
	if leaf, ok := t.Leaf(); ok && leaf == nodeID {
		return t, nil
	}
	path, err := t.pathTo(nodeID)
	if err != nil {
		return nil, err
	}

	cur := t.nodes[nodeID]
	for len(cur.Children) > 0 {
		next := cur.Children[0]
		if last, ok := t.lastActive[cur.ID]; ok && containsID(cur.Children, last) {
			next = last
		}
		path = append(path, next)
		cur = t.nodes[next]
	}

	ret := t.derive()
	ret.currentPath = path
	for i := 1; i < len(path); i++ {
		ret.lastActive[path[i-1]] = path[i]
	}
	return ret, nil
}

// Rewind truncates the active path so that nodeID becomes the leaf. Nothing
// is deleted; the next AppendMessage forks a new branch under nodeID.
func (t *Tree) Rewind(nodeID NodeID) (*Tree, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}
	path, err := t.pathTo(nodeID)
	if err != nil {
		return nil, err
	}
	ret := t.derive()
	ret.currentPath = path
	for i := 1; i < len(path); i++ {
		ret.lastActive[path[i-1]] = path[i]
	}
	return ret, nil
}

// FromMessages builds a linear tree from a flat message list.
func FromMessages(msgs []Message) *Tree {
	ret := New()
	for _, m := range msgs {
		ret = ret.AppendMessage(m)
	}
	return ret
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
