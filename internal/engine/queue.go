package engine

import "sync"

// inputOp separates engine-level roster changes from script-bound
// commands so the external kind namespace stays untouched. Externally
// submitted inputs always carry opDeliver (the zero value).
type inputOp int

const (
	opDeliver inputOp = iota
	opJoin
	opLeave
)

// Input is one externally submitted agent command awaiting delivery.
// The kind tag is opaque to the engine; its vocabulary belongs to the
// game's script.
type Input struct {
	Op      inputOp
	UserID  uint64
	Kind    string
	Payload map[string]any
}

// InputQueue stores staged inputs in a fixed-size ring. It is safe for
// concurrent producers and a single consumer (the scheduler goroutine).
type InputQueue struct {
	mu    sync.Mutex
	data  []Input
	head  int
	tail  int
	count int
}

// NewInputQueue constructs a ring buffer with the provided capacity.
func NewInputQueue(capacity int) *InputQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &InputQueue{data: make([]Input, capacity)}
}

// Push stages an input, returning false if the buffer is full.
func (q *InputQueue) Push(in Input) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.data) {
		return false
	}
	q.data[q.tail] = in
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	return true
}

// Drain returns all staged inputs in FIFO order and clears the buffer.
func (q *InputQueue) Drain() []Input {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	inputs := make([]Input, q.count)
	for i := 0; i < q.count; i++ {
		inputs[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	return inputs
}

// Len reports the number of staged inputs.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
