package chat

import "sync"

// emitter is a minimal synchronous observer list. Handlers run on the
// goroutine that fires the event.
type emitter[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
}

// listen registers a handler and returns its unsubscribe function.
func (e *emitter[T]) listen(handler func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = map[int]func(T){}
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

func (e *emitter[T]) fire(event T) {
	e.mu.Lock()
	handlers := make([]func(T), 0, len(e.handlers))
	for _, handler := range e.handlers {
		handlers = append(handlers, handler)
	}
	e.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
