package collection

import "sort"

// buildTree assembles parent/child adjacency from a workspace's flat
// collection list. Two passes keep it O(n): the first maps every id to its
// node, the second attaches each node to its parent's children or to the root
// list when the parent is absent or unknown. Children and roots are sorted by
// SortOrder ascending.
func buildTree(flat []Collection) []*TreeNode {
	nodes := make(map[string]*TreeNode, len(flat))
	for i := range flat {
		nodes[flat[i].ID] = &TreeNode{Collection: flat[i]}
	}

	roots := make([]*TreeNode, 0, len(flat))
	for i := range flat {
		node := nodes[flat[i].ID]
		if node.ParentID != nil {
			if parent, ok := nodes[*node.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortSiblings(roots)
	for _, node := range nodes {
		sortSiblings(node.Children)
	}
	return roots
}

func sortSiblings(siblings []*TreeNode) {
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].SortOrder < siblings[j].SortOrder
	})
}
