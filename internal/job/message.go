package job

import (
	"sync"

	"github.com/sells-group/data-mapper/internal/extract"
	"github.com/sells-group/data-mapper/internal/model"
)

// Message is a worker-to-controller event. The set of implementations is
// closed; the controller switches over all of them.
type Message interface {
	message()
}

// Result carries the extracted record for a row.
type Result struct {
	Index  int
	Record extract.Record
}

// AutosaveTick asks the controller to checkpoint with Index as the cursor.
type AutosaveTick struct {
	Index   int
	Mapping model.FieldMapping
}

// NetworkError reports a recoverable failure. The worker is parked until the
// controller resolves it.
type NetworkError struct {
	Index    int
	Location string
	Query    string
	Err      error
}

// Cancelled is the worker's last message after a cancel or a stop decision.
type Cancelled struct{}

// SaveAndQuit is the worker's last message after a save-and-quit request.
// Index is the first row not yet processed.
type SaveAndQuit struct {
	Index   int
	Mapping model.FieldMapping
}

// FatalError means the extractor could not be started.
type FatalError struct {
	Err error
}

// Done is the worker's last message after processing every row.
type Done struct{}

func (Result) message()       {}
func (AutosaveTick) message() {}
func (NetworkError) message() {}
func (Cancelled) message()    {}
func (SaveAndQuit) message()  {}
func (FatalError) message()   {}
func (Done) message()         {}

// Queue is an unbounded FIFO of messages with one producer and one consumer.
type Queue struct {
	mu    sync.Mutex
	items []Message
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

// Push appends m. It never blocks on the consumer.
func (q *Queue) Push(m Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

// Drain removes and returns every queued message in order. It returns nil
// when the queue is empty.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
