package eventloop

import "sync/atomic"

// mpscNode is a link in the queue. next is published with release
// ordering after the node has been swapped into head.
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// mpscQueue is an unbounded multi-producer, single-consumer queue.
//
// Enqueue is wait-free: the new node is exchanged into head
// (acquire-release) and then linked from the previous head (release).
// Dequeue is only safe from a single consumer; it may spuriously report
// empty in the window between a producer's head exchange and its next
// publication, which callers must tolerate.
type mpscQueue[T any] struct {
	head atomic.Pointer[mpscNode[T]]
	tail *mpscNode[T] // consumer-owned; always the stub preceding the next value
}

func newMPSCQueue[T any]() *mpscQueue[T] {
	stub := new(mpscNode[T])
	q := &mpscQueue[T]{tail: stub}
	q.head.Store(stub)
	return q
}

// enqueue publishes v. Safe from any goroutine.
func (q *mpscQueue[T]) enqueue(v T) {
	n := &mpscNode[T]{value: v}
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// dequeue removes the oldest published value. Single consumer only.
func (q *mpscQueue[T]) dequeue() (v T, ok bool) {
	next := q.tail.next.Load()
	if next == nil {
		return v, false
	}
	v = next.value
	var zero T
	next.value = zero // release the payload for GC; the node becomes the new stub
	q.tail = next
	return v, true
}

// empty reports whether a dequeue would currently fail.
func (q *mpscQueue[T]) empty() bool {
	return q.tail.next.Load() == nil
}
