package process

import "container/heap"

// RunQueue is the FIFO of Ready processes at one priority level, ordered by
// the time they became Ready.
type RunQueue struct {
	items []*PCB
}

// NewRunQueue creates an empty run queue.
func NewRunQueue() *RunQueue {
	return &RunQueue{items: make([]*PCB, 0)}
}

// Len returns the number of items in the queue.
func (q *RunQueue) Len() int { return len(q.items) }

// Push appends p at the tail.
func (q *RunQueue) Push(p *PCB) {
	q.items = append(q.items, p)
}

// next returns the index Pop would take. Among the processes at the head
// that became Ready on the same tick, the one with the smallest last CPU
// burst wins.
func (q *RunQueue) next() int {
	best := 0
	head := q.items[0].readyTick
	for i := 1; i < len(q.items) && q.items[i].readyTick == head; i++ {
		if q.items[i].burstCPU < q.items[best].burstCPU {
			best = i
		}
	}
	return best
}

// Pop removes and returns the next process.
func (q *RunQueue) Pop() *PCB {
	if len(q.items) == 0 {
		return nil
	}
	i := q.next()
	p := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return p
}

// Peek returns the process Pop would return without removing it.
func (q *RunQueue) Peek() *PCB {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[q.next()]
}

// Contains checks if a process is in the queue.
func (q *RunQueue) Contains(pid PID) bool {
	for _, p := range q.items {
		if p.PID == pid {
			return true
		}
	}
	return false
}

// Remove removes a process from the queue.
func (q *RunQueue) Remove(pid PID) bool {
	for i, p := range q.items {
		if p.PID == pid {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// PIDs returns the queued PIDs in order.
func (q *RunQueue) PIDs() []PID {
	pids := make([]PID, len(q.items))
	for i, p := range q.items {
		pids[i] = p.PID
	}
	return pids
}

// sleepQueue is a min-heap of sleeping processes keyed by wake-up deadline.
type sleepQueue []*PCB

func (q sleepQueue) Len() int { return len(q) }

func (q sleepQueue) Less(i, j int) bool {
	if q[i].wakeAt == q[j].wakeAt {
		return q[i].PID < q[j].PID
	}
	return q[i].wakeAt < q[j].wakeAt
}

func (q sleepQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].sleepIndex = i
	q[j].sleepIndex = j
}

func (q *sleepQueue) Push(x interface{}) {
	p := x.(*PCB)
	p.sleepIndex = len(*q)
	*q = append(*q, p)
}

func (q *sleepQueue) Pop() interface{} {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.sleepIndex = -1
	*q = old[:n-1]
	return p
}

var _ heap.Interface = (*sleepQueue)(nil)
