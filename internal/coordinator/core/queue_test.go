package core

import (
	"testing"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name string
		task *Task
		want TaskPriority
	}{
		{"fresh map task", &Task{Type: TaskTypeMap}, TaskPriorityHigh},
		{"retried map task", &Task{Type: TaskTypeMap, Attempt: 1}, TaskPriorityMedium},
		{"fresh reduce task", &Task{Type: TaskTypeReduce}, TaskPriorityLow},
		{"retried reduce task", &Task{Type: TaskTypeReduce, Attempt: 2}, TaskPriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityFor(tt.task); got != tt.want {
				t.Errorf("PriorityFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskQueue_Empty(t *testing.T) {
	q := NewTaskQueue()
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if task, ok := q.Peek(); ok || task != nil {
		t.Errorf("Peek() = %v, %v on empty queue", task, ok)
	}
	if task, ok := q.Pop(); ok || task != nil {
		t.Errorf("Pop() = %v, %v on empty queue", task, ok)
	}
}

func TestTaskQueue_Order(t *testing.T) {
	reduce0 := &Task{Type: TaskTypeReduce, Index: 0}
	map0 := &Task{Type: TaskTypeMap, Index: 0}
	map1 := &Task{Type: TaskTypeMap, Index: 1}
	retry := &Task{Type: TaskTypeMap, Index: 2, Attempt: 1}
	reduce1 := &Task{Type: TaskTypeReduce, Index: 1, Attempt: 1}
	map3 := &Task{Type: TaskTypeMap, Index: 3}

	q := NewTaskQueue()
	for _, task := range []*Task{reduce0, map0, retry, map1, reduce1, map3} {
		q.Push(task)
	}
	if q.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", q.Len())
	}

	want := []*Task{map0, map1, map3, retry, reduce0, reduce1}
	for i, w := range want {
		peeked, ok := q.Peek()
		if !ok || peeked != w {
			t.Errorf("Peek() #%d = %+v, want %+v", i, peeked, w)
		}
		got, ok := q.Pop()
		if !ok || got != w {
			t.Errorf("Pop() #%d = %+v, want %+v", i, got, w)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining", q.Len())
	}
}

func TestTaskQueue_RequeueAfterAttempt(t *testing.T) {
	q := NewTaskQueue()
	first := &Task{Type: TaskTypeMap, Index: 0}
	second := &Task{Type: TaskTypeMap, Index: 1}
	q.Push(first)
	q.Push(second)

	task, _ := q.Pop()
	task.Attempt++
	q.Push(task)

	if next, _ := q.Pop(); next != second {
		t.Errorf("fresh map task should run before a retry, got index %d", next.Index)
	}
	if next, _ := q.Pop(); next != first {
		t.Errorf("retry should follow, got index %d", next.Index)
	}
}

func TestTaskQueue_FIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue()
	var tasks []*Task
	for i := range 50 {
		task := &Task{Type: TaskTypeReduce, Index: i}
		tasks = append(tasks, task)
		q.Push(task)
	}

	for i := range 50 {
		got, ok := q.Pop()
		if !ok || got != tasks[i] {
			t.Fatalf("Pop() #%d returned index %d", i, got.Index)
		}
	}
}
