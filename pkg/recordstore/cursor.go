package recordstore

import "github.com/hivellm/nexus/pkg/types"

// RelCursor walks a node's relationship rings (§4.1's doubly-linked
// adjacency lists: every relationship links into its source's ring via
// NextSrcPtr and its destination's ring via NextDstPtr).
type RelCursor struct {
	store *Store
}

// NewRelCursor returns a cursor bound to store.
func (s *Store) NewRelCursor() *RelCursor {
	return &RelCursor{store: s}
}

// FirstRel returns the first relationship id in nodeID's ring, or ok=false
// if the node has none.
func (c *RelCursor) FirstRel(nodeID uint64) (relID uint64, ok bool, err error) {
	n, err := c.store.ReadNode(nodeID)
	if err != nil {
		return 0, false, err
	}
	if n.FirstRelPtr == types.NoPtr {
		return 0, false, nil
	}
	return n.FirstRelPtr, true, nil
}

// NextForSrc returns the next relationship id in the ring of relID's source
// node, or ok=false if relID is the last entry.
func (c *RelCursor) NextForSrc(relID uint64) (nextID uint64, ok bool, err error) {
	r, err := c.store.ReadRel(relID)
	if err != nil {
		return 0, false, err
	}
	if r.NextSrcPtr == types.NoPtr {
		return 0, false, nil
	}
	return r.NextSrcPtr, true, nil
}

// NextForDst returns the next relationship id in the ring of relID's
// destination node, or ok=false if relID is the last entry.
func (c *RelCursor) NextForDst(relID uint64) (nextID uint64, ok bool, err error) {
	r, err := c.store.ReadRel(relID)
	if err != nil {
		return 0, false, err
	}
	if r.NextDstPtr == types.NoPtr {
		return 0, false, nil
	}
	return r.NextDstPtr, true, nil
}

// WalkFromSrc returns every relationship id in nodeID's ring, starting from
// its FirstRelPtr and following NextSrcPtr until NoPtr. It assumes nodeID is
// the source endpoint of every relationship in its own ring; it follows
// NextSrcPtr at every hop, and only NextForDst steps the destination ring.
func (c *RelCursor) WalkFromSrc(nodeID uint64) ([]uint64, error) {
	var ids []uint64
	id, ok, err := c.FirstRel(nodeID)
	if err != nil || !ok {
		return ids, err
	}
	for {
		ids = append(ids, id)
		next, ok, err := c.NextForSrc(id)
		if err != nil {
			return ids, err
		}
		if !ok {
			return ids, nil
		}
		id = next
	}
}
