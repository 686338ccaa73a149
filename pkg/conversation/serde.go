package conversation

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const serializationVersion = 1

type serializedTree struct {
	Version        int               `json:"version"`
	RootID         NodeID            `json:"rootId"`
	CurrentPath    []NodeID          `json:"currentPath"`
	Nodes          map[NodeID]*Node  `json:"nodes"`
	ActiveChildren map[NodeID]NodeID `json:"activeChildren,omitempty"`
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	t = t.orEmpty()
	path := t.currentPath
	if path == nil {
		path = []NodeID{}
	}
	return json.Marshal(serializedTree{
		Version:        serializationVersion,
		RootID:         t.rootID,
		CurrentPath:    path,
		Nodes:          t.nodes,
		ActiveChildren: t.lastActive,
	})
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var s serializedTree
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(ErrCorruptState, err.Error())
	}
	ret, err := fromSerialized(s)
	if err != nil {
		return err
	}
	*t = *ret
	return nil
}

// Serialize encodes the full tree (nodes, root, active path) as JSON.
func Serialize(t *Tree) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "could not serialize conversation tree")
	}
	return string(b), nil
}

// Deserialize decodes a tree produced by Serialize. Any malformed or
// inconsistent input yields ErrCorruptState.
func Deserialize(text string) (*Tree, error) {
	ret := New()
	if err := json.Unmarshal([]byte(text), ret); err != nil {
		if errors.Is(err, ErrCorruptState) {
			return nil, err
		}
		return nil, errors.Wrap(ErrCorruptState, err.Error())
	}
	return ret, nil
}

// DeserializeOrEmpty is Deserialize with the empty tree as fallback.
func DeserializeOrEmpty(text string) (*Tree, error) {
	ret, err := Deserialize(text)
	if err != nil {
		return New(), err
	}
	return ret, nil
}

func fromSerialized(s serializedTree) (*Tree, error) {
	if s.Version > serializationVersion {
		return nil, errors.Wrapf(ErrCorruptState, "unsupported version %d", s.Version)
	}
	ret := New()
	if len(s.Nodes) == 0 {
		if len(s.CurrentPath) > 0 || s.RootID != NullNode {
			return nil, errors.Wrap(ErrCorruptState, "path or root without nodes")
		}
		return ret, nil
	}

	for id, n := range s.Nodes {
		if id == NullNode {
			return nil, errors.Wrap(ErrCorruptState, "node with nil id")
		}
		if n == nil || n.ID != id {
			return nil, errors.Wrapf(ErrCorruptState, "node key %s does not match node", id)
		}
		if !n.Message.Role.IsValid() {
			return nil, errors.Wrapf(ErrCorruptState, "node %s has invalid role %q", id, n.Message.Role)
		}
		ret.nodes[id] = n.clone()
	}

	root, ok := ret.nodes[s.RootID]
	if !ok || root.ParentID != NullNode {
		return nil, errors.Wrapf(ErrCorruptState, "invalid root %s", s.RootID)
	}
	ret.rootID = s.RootID

	for id, n := range ret.nodes {
		if id != ret.rootID {
			parent, ok := ret.nodes[n.ParentID]
			if !ok || !containsID(parent.Children, id) {
				return nil, errors.Wrapf(ErrCorruptState, "node %s is not linked to its parent", id)
			}
		}
		seen := map[NodeID]bool{}
		for _, c := range n.Children {
			child, ok := ret.nodes[c]
			if !ok || child.ParentID != id || seen[c] {
				return nil, errors.Wrapf(ErrCorruptState, "node %s has invalid child %s", id, c)
			}
			seen[c] = true
		}
	}

	reachable := 0
	for queue := []NodeID{ret.rootID}; len(queue) > 0; queue = queue[1:] {
		reachable++
		if reachable > len(ret.nodes) {
			break
		}
		queue = append(queue, ret.nodes[queue[0]].Children...)
	}
	if reachable != len(ret.nodes) {
		return nil, errors.Wrap(ErrCorruptState, "nodes not reachable from the root")
	}

	if len(s.CurrentPath) == 0 || s.CurrentPath[0] != ret.rootID {
		return nil, errors.Wrap(ErrCorruptState, "active path does not start at the root")
	}
	for i, id := range s.CurrentPath {
		n, ok := ret.nodes[id]
		if !ok {
			return nil, errors.Wrapf(ErrCorruptState, "active path references unknown node %s", id)
		}
		if i > 0 && n.ParentID != s.CurrentPath[i-1] {
			return nil, errors.Wrapf(ErrCorruptState, "active path is broken at %s", id)
		}
	}
	ret.currentPath = append([]NodeID(nil), s.CurrentPath...)

	for parent, child := range s.ActiveChildren {
		if p, ok := ret.nodes[parent]; ok && containsID(p.Children, child) {
			ret.lastActive[parent] = child
		}
	}
	for i := 1; i < len(ret.currentPath); i++ {
		ret.lastActive[ret.currentPath[i-1]] = ret.currentPath[i]
	}

	return ret, nil
}

// EncodeMessages encodes a flat message list, the format used before
// conversations were stored as trees.
func EncodeMessages(msgs []Message) (string, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", errors.Wrap(err, "could not encode messages")
	}
	return string(b), nil
}

func DecodeMessages(text string) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		return nil, errors.Wrap(ErrCorruptState, err.Error())
	}
	for i, m := range msgs {
		if !m.Role.IsValid() {
			return nil, errors.Wrapf(ErrCorruptState, "message %d has invalid role %q", i, m.Role)
		}
	}
	return msgs, nil
}
