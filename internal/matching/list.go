// Package matching provides the ordered-by-balance selection structure used
// by the engine to pick counterparties. One instance exists per
// (market, side, location) — pool suppliers, p2p suppliers, pool borrowers,
// p2p borrowers.
//
// The structure is an insertion-sorted intrusive doubly-linked list:
// O(n) insert, O(1) extract-max and remove-by-key. Chosen over a balanced
// tree because expected counterparty counts per market are small and the
// hot operation is "repeatedly extract largest".
package matching

import (
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrZeroWeight    = errors.New("matching: weight must be positive")
	ErrAlreadyExists = errors.New("matching: user already present")
)

// Entry is one (user, weight) pair.
type Entry struct {
	User   uuid.UUID
	Weight *uint256.Int
}

type node struct {
	user   uuid.UUID
	weight *uint256.Int
	prev   *node
	next   *node
}

// List keeps entries sorted by weight, largest first. Equal weights keep
// insertion order (FIFO): a new entry goes after all existing entries of
// the same weight, so iteration order is reproducible.
type List struct {
	head  *node
	tail  *node
	nodes map[uuid.UUID]*node
}

func New() *List {
	return &List{nodes: make(map[uuid.UUID]*node)}
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.nodes)
}

// Insert adds a user with the given weight. The weight is cloned; callers
// may reuse the argument.
func (l *List) Insert(user uuid.UUID, weight *uint256.Int) error {
	if weight == nil || weight.IsZero() {
		return ErrZeroWeight
	}
	if _, ok := l.nodes[user]; ok {
		return ErrAlreadyExists
	}

	n := &node{user: user, weight: weight.Clone()}
	l.nodes[user] = n

	// Walk from the head to the first strictly-smaller entry; inserting
	// before it lands the node after all equal weights (FIFO tie-break).
	cur := l.head
	for cur != nil && !cur.weight.Lt(n.weight) {
		cur = cur.next
	}

	switch {
	case cur == l.head: // empty list or new largest
		n.next = l.head
		if l.head != nil {
			l.head.prev = n
		}
		l.head = n
		if l.tail == nil {
			l.tail = n
		}
	case cur == nil: // smallest, append at tail
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	default:
		n.prev = cur.prev
		n.next = cur
		cur.prev.next = n
		cur.prev = n
	}
	return nil
}

// Remove deletes a user. Idempotent: returns false if absent.
func (l *List) Remove(user uuid.UUID) bool {
	n, ok := l.nodes[user]
	if !ok {
		return false
	}
	delete(l.nodes, user)

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	return true
}

// Update sets a user's weight: removes any existing entry and reinserts if
// the new weight is positive. A user with weight zero is never present.
func (l *List) Update(user uuid.UUID, weight *uint256.Int) {
	l.Remove(user)
	if weight != nil && !weight.IsZero() {
		// Insert cannot fail after the Remove above.
		if err := l.Insert(user, weight); err != nil {
			panic("FATAL: matching list reinsert failed: " + err.Error())
		}
	}
}

// PeekLargest returns the entry with the greatest weight without removing
// it. The second return is false when the list is empty.
func (l *List) PeekLargest() (Entry, bool) {
	if l.head == nil {
		return Entry{}, false
	}
	return Entry{User: l.head.user, Weight: l.head.weight.Clone()}, true
}

// WeightOf returns the user's weight, or zero if absent.
func (l *List) WeightOf(user uuid.UUID) *uint256.Int {
	if n, ok := l.nodes[user]; ok {
		return n.weight.Clone()
	}
	return new(uint256.Int)
}

// Head returns the first user in descending order, false if empty.
func (l *List) Head() (uuid.UUID, bool) {
	if l.head == nil {
		return uuid.Nil, false
	}
	return l.head.user, true
}

// Next returns the user after the given one in descending order.
// Returns false if the user is absent or last.
func (l *List) Next(user uuid.UUID) (uuid.UUID, bool) {
	n, ok := l.nodes[user]
	if !ok || n.next == nil {
		return uuid.Nil, false
	}
	return n.next.user, true
}

// IterateDescending visits entries largest-to-smallest, consuming one unit
// of budget per entry visited, and stops when the budget is exhausted, the
// list ends, or fn returns false. It returns how much budget was consumed.
// Budget exhaustion is a valid termination, not an error. The list must not
// be mutated during iteration.
func (l *List) IterateDescending(budget uint64, fn func(user uuid.UUID, weight *uint256.Int) bool) uint64 {
	var visited uint64
	for n := l.head; n != nil && visited < budget; n = n.next {
		visited++
		if !fn(n.user, n.weight.Clone()) {
			break
		}
	}
	return visited
}
