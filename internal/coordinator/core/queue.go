package core

import "container/heap"

// TaskPriority orders queued tasks. Lower values are dispatched first.
type TaskPriority int

const (
	TaskPriorityHigh TaskPriority = iota
	TaskPriorityMedium
	TaskPriorityLow
)

// PriorityFor ranks a queued task: fresh map tasks first, then map retries,
// then reduce tasks. Reduce retries stay at the lowest priority.
func PriorityFor(task *Task) TaskPriority {
	switch {
	case task.Type == TaskTypeReduce:
		return TaskPriorityLow
	case task.Attempt > 0:
		return TaskPriorityMedium
	default:
		return TaskPriorityHigh
	}
}

// TaskQueue holds pending tasks ordered by PriorityFor, FIFO within one
// priority. It is not safe for concurrent use; the coordinator loop owns it.
type TaskQueue struct {
	entries queueEntries
	seq     uint64
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push ranks task at its current attempt and enqueues it.
func (q *TaskQueue) Push(task *Task) {
	heap.Push(&q.entries, queueEntry{task: task, priority: PriorityFor(task), seq: q.seq})
	q.seq++
}

// Peek returns the next task without removing it.
func (q *TaskQueue) Peek() (*Task, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0].task, true
}

func (q *TaskQueue) Pop() (*Task, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return heap.Pop(&q.entries).(queueEntry).task, true
}

func (q *TaskQueue) Len() int {
	return len(q.entries)
}

type queueEntry struct {
	task     *Task
	priority TaskPriority
	seq      uint64
}

type queueEntries []queueEntry

func (e queueEntries) Len() int { return len(e) }

func (e queueEntries) Less(i, j int) bool {
	if e[i].priority != e[j].priority {
		return e[i].priority < e[j].priority
	}
	return e[i].seq < e[j].seq
}

func (e queueEntries) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *queueEntries) Push(x any) { *e = append(*e, x.(queueEntry)) }

func (e *queueEntries) Pop() any {
	old := *e
	n := len(old)
	last := old[n-1]
	old[n-1] = queueEntry{}
	*e = old[:n-1]
	return last
}
