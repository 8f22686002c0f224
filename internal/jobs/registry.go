package jobs

import "fmt"

// Registry holds every queue by name so components that only know a queue
// name (the DLQ retry path) can reach the right producer.
type Registry struct {
	queues map[string]*Queue
}

// NewRegistry builds a registry from the given queues
func NewRegistry(queues ...*Queue) (*Registry, error) {
	r := &Registry{queues: make(map[string]*Queue, len(queues))}
	for _, q := range queues {
		if _, dup := r.queues[q.Name()]; dup {
			return nil, fmt.Errorf("duplicate queue %q", q.Name())
		}
		r.queues[q.Name()] = q
	}
	return r, nil
}

// Queue returns the queue with the given name
func (r *Registry) Queue(name string) (*Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, nil
}

// Names returns the registered queue names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// All returns every registered queue
func (r *Registry) All() []*Queue {
	all := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		all = append(all, q)
	}
	return all
}
