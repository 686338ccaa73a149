package conversation

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const PreviewWidth = 50

// Branch is an alternative continuation at some point of the active path.
type Branch struct {
	NodeID    NodeID    `json:"nodeId"`
	ParentID  NodeID    `json:"parentId"`
	Depth     int       `json:"depth"`
	Role      Role      `json:"role"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// ListBranches returns, for every node of the active path below the root, the
// siblings of that node that are not on the active path. Results are ordered
// by depth, then by creation order among siblings.
func (t *Tree) ListBranches() []Branch {
	if t == nil {
		return nil
	}
	var ret []Branch
	for depth := 1; depth < len(t.currentPath); depth++ {
		parent := t.nodes[t.currentPath[depth-1]]
		active := t.currentPath[depth]
		for _, id := range parent.Children {
			if id == active {
				continue
			}
			n := t.nodes[id]
			ret = append(ret, Branch{
				NodeID:    id,
				ParentID:  parent.ID,
				Depth:     depth,
				Role:      n.Message.Role,
				Preview:   Preview(n.Message.Content, PreviewWidth),
				Timestamp: n.Message.Timestamp,
			})
		}
	}
	return ret
}

// BranchPosition returns the index of id among its siblings and the number of
// siblings, id included.
func (t *Tree) BranchPosition(id NodeID) (int, int) {
	siblings := t.Siblings(id)
	for i, s := range siblings {
		if s == id {
			return i, len(siblings)
		}
	}
	return 0, 0
}

// Preview collapses whitespace and truncates s to width display cells.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}
