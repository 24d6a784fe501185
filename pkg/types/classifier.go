package types

import (
	"encoding/json"
	"fmt"
)

type classifierData struct {
	UID      string `json:"_uid"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// Classifier is one node of the ticket routing tree. The tree is stored flat;
// parent/child relations are derived by scanning the full set, which is small
// (at most a few hundred nodes) and always fetched atomically.
type Classifier struct {
	UID      string
	Name     string
	ParentID string // empty for root nodes
}

// IsRoot reports whether the node has no parent.
func (c *Classifier) IsRoot() bool { return c.ParentID == "" }

// ClassifierSet is the flat cached classifier list, the forest the ticket
// routing tree is derived from.
type ClassifierSet []*Classifier

// NewClassifierSet decodes a classifier listing. A node whose parent id
// points at itself is normalized to a root node.
func NewClassifierSet(raw json.RawMessage) (ClassifierSet, error) {
	var list []classifierData
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding classifiers: %w", err)
	}
	set := make(ClassifierSet, 0, len(list))
	for _, d := range list {
		parentID := d.ParentID
		if parentID == d.UID {
			parentID = ""
		}
		set = append(set, &Classifier{
			UID:      d.UID,
			Name:     d.Name,
			ParentID: parentID,
		})
	}
	return set, nil
}

// Get returns the classifier with the given uid, nil when absent.
func (s ClassifierSet) Get(uid string) *Classifier {
	for _, c := range s {
		if c.UID == uid {
			return c
		}
	}
	return nil
}

// Parent returns the parent node, nil for roots and for dangling parent ids.
func (s ClassifierSet) Parent(node *Classifier) *Classifier {
	if node.ParentID == "" {
		return nil
	}
	return s.Get(node.ParentID)
}

// Children returns every node whose parent is the given node.
func (s ClassifierSet) Children(node *Classifier) []*Classifier {
	var children []*Classifier
	for _, c := range s {
		if c.ParentID == node.UID {
			children = append(children, c)
		}
	}
	return children
}

// HasChildren reports whether any node names this one as its parent.
// Only childless (leaf) classifiers accept new tickets.
func (s ClassifierSet) HasChildren(node *Classifier) bool {
	for _, c := range s {
		if c.ParentID == node.UID {
			return true
		}
	}
	return false
}

// PathFromRoot walks parent links upward from the node and returns the path
// ordered root first. A node revisited during the walk means the stored
// forest has a cycle; that fails with an IntegrityError instead of looping.
func (s ClassifierSet) PathFromRoot(node *Classifier) ([]*Classifier, error) {
	var path []*Classifier
	visited := make(map[string]struct{})

	for cur := node; cur != nil; cur = s.Parent(cur) {
		if _, ok := visited[cur.UID]; ok {
			return nil, integrityErrorf("classifier cycle through %s (%s)", cur.UID, cur.Name)
		}
		visited[cur.UID] = struct{}{}
		path = append(path, cur)
	}

	// reverse node-first into root-first
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
