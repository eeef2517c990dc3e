// Package llist implements an intrusive doubly-linked list whose nodes are
// carved out of the shared heap rather than managed by the Go garbage
// collector: callers get a stable address for each node's payload, and the
// list owns and frees that memory itself.
package llist

import (
	"unsafe"

	"github.com/AquaEngineering/os/heap"
)

// node is the bookkeeping header prefixing every node's payload. Payload
// bytes immediately follow this struct, matching the teacher's
// header-before-payload layout for pointer-backed records.
type node struct {
	prev *node
	next *node
}

const nodeOverhead = unsafe.Sizeof(node{})

// List is a doubly-linked list of nodeSize-byte payloads.
type List struct {
	nodeSize uintptr
	head     *node
	tail     *node
	length   uint32
}

// Init returns a new, empty list whose nodes each carry nodeSize bytes of
// caller payload.
func Init(nodeSize uintptr) *List {
	return &List{nodeSize: nodeSize}
}

func nodeToPayload(n *node) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(n), nodeOverhead)
}

func payloadToNode(p unsafe.Pointer) *node {
	return (*node)(unsafe.Add(p, -int64(nodeOverhead)))
}

func (l *List) allocNode() *node {
	p := heap.Alloc(uint32(nodeOverhead + l.nodeSize))
	if p == nil {
		return nil
	}
	return (*node)(p)
}

// InsHead allocates a new node, makes it the list's head, and returns a
// pointer to its payload, or nil if the heap is out of memory.
func (l *List) InsHead() unsafe.Pointer {
	n := l.allocNode()
	if n == nil {
		return nil
	}
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.length++
	return nodeToPayload(n)
}

// InsTail allocates a new node, makes it the list's tail, and returns a
// pointer to its payload, or nil if the heap is out of memory.
func (l *List) InsTail() unsafe.Pointer {
	n := l.allocNode()
	if n == nil {
		return nil
	}
	n.next = nil
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.length++
	return nodeToPayload(n)
}

// InsPrev allocates a new node and inserts it immediately before cur
// (which must belong to l), returning a pointer to the new node's payload.
func (l *List) InsPrev(cur unsafe.Pointer) unsafe.Pointer {
	if cur == nil {
		return l.InsTail()
	}
	curNode := payloadToNode(cur)
	if curNode == l.head {
		return l.InsHead()
	}

	n := l.allocNode()
	if n == nil {
		return nil
	}
	prevNode := curNode.prev
	n.prev = prevNode
	n.next = curNode
	prevNode.next = n
	curNode.prev = n
	l.length++
	return nodeToPayload(n)
}

// unlink splices n out of its list's chain without freeing it.
func (l *List) unlink(n *node) {
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
	l.length--
}

// Remove unlinks the node holding p and frees its storage.
func (l *List) Remove(p unsafe.Pointer) {
	if p == nil {
		return
	}
	n := payloadToNode(p)
	l.unlink(n)
	heap.Free(unsafe.Pointer(n))
}

// Clear removes and frees every node, leaving l empty.
func (l *List) Clear() {
	n := l.head
	for n != nil {
		next := n.next
		heap.Free(unsafe.Pointer(n))
		n = next
	}
	l.head = nil
	l.tail = nil
	l.length = 0
}

// ChgList moves the node holding p out of l and into dst, as its new head
// or tail.
func (l *List) ChgList(dst *List, p unsafe.Pointer, head bool) {
	n := payloadToNode(p)
	l.unlink(n)

	if head {
		n.prev = nil
		n.next = dst.head
		if dst.head != nil {
			dst.head.prev = n
		} else {
			dst.tail = n
		}
		dst.head = n
	} else {
		n.next = nil
		n.prev = dst.tail
		if dst.tail != nil {
			dst.tail.next = n
		} else {
			dst.head = n
		}
		dst.tail = n
	}
	dst.length++
}

// GetHead returns a pointer to the head node's payload, or nil if l is
// empty.
func (l *List) GetHead() unsafe.Pointer {
	if l.head == nil {
		return nil
	}
	return nodeToPayload(l.head)
}

// GetTail returns a pointer to the tail node's payload, or nil if l is
// empty.
func (l *List) GetTail() unsafe.Pointer {
	if l.tail == nil {
		return nil
	}
	return nodeToPayload(l.tail)
}

// GetNext returns a pointer to the payload following cur's, or nil at the
// end of the list.
func (l *List) GetNext(cur unsafe.Pointer) unsafe.Pointer {
	n := payloadToNode(cur).next
	if n == nil {
		return nil
	}
	return nodeToPayload(n)
}

// GetPrev returns a pointer to the payload preceding cur's, or nil at the
// start of the list.
func (l *List) GetPrev(cur unsafe.Pointer) unsafe.Pointer {
	n := payloadToNode(cur).prev
	if n == nil {
		return nil
	}
	return nodeToPayload(n)
}

// GetLen returns the number of nodes currently in l.
func (l *List) GetLen() uint32 { return l.length }

// IsEmpty reports whether l currently has no nodes.
func (l *List) IsEmpty() bool { return l.length == 0 }

// MoveBefore moves the node holding act so that it immediately precedes
// the node holding after, both of which must already belong to l.
func (l *List) MoveBefore(act, after unsafe.Pointer) {
	actNode := payloadToNode(act)
	afterNode := payloadToNode(after)
	if actNode == afterNode {
		return
	}

	l.unlink(actNode)
	l.length++ // unlink decremented; this move doesn't change occupancy

	actNode.next = afterNode
	actNode.prev = afterNode.prev
	if afterNode.prev != nil {
		afterNode.prev.next = actNode
	} else {
		l.head = actNode
	}
	afterNode.prev = actNode
}
