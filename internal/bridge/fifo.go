package bridge

import "container/list"

// invocationQueue is the FIFO of unclaimed invocations. The index allows a
// cancelled caller to pull its invocation out before anyone claims it.
// Callers hold the bridge mutex.
type invocationQueue struct {
	order *list.List
	index map[string]*list.Element
}

func newInvocationQueue() *invocationQueue {
	return &invocationQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (q *invocationQueue) push(inv *Invocation) {
	q.index[inv.ID] = q.order.PushBack(inv)
}

// pushFront puts a previously claimed invocation back at the head.
func (q *invocationQueue) pushFront(inv *Invocation) {
	q.index[inv.ID] = q.order.PushFront(inv)
}

func (q *invocationQueue) pop() (*Invocation, bool) {
	el := q.order.Front()
	if el == nil {
		return nil, false
	}
	inv := q.order.Remove(el).(*Invocation)
	delete(q.index, inv.ID)
	return inv, true
}

func (q *invocationQueue) remove(id string) bool {
	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, id)
	return true
}

func (q *invocationQueue) len() int {
	return q.order.Len()
}

func (q *invocationQueue) clear() {
	q.order.Init()
	q.index = make(map[string]*list.Element)
}
