package application

import (
	"context"
	"sync"

	"bus-booking/booking/domain"
)

type fakeCounters struct {
	mu         sync.Mutex
	c          domain.Counters
	increments int
	reads      int
	incErr     error
	readErr    error
}

func (f *fakeCounters) Increment(_ context.Context, delta domain.Counters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
	if f.incErr != nil {
		return f.incErr
	}
	f.c = f.c.Add(delta)
	return nil
}

func (f *fakeCounters) Read(context.Context) (domain.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return domain.Counters{}, f.readErr
	}
	return f.c, nil
}

func (f *fakeCounters) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.increments + f.reads
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []domain.QueueMessage
	seen map[string]bool
	err  error
}

func (q *fakeQueue) Submit(_ context.Context, msg domain.QueueMessage) (domain.SubmitAck, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return domain.SubmitAck{}, q.err
	}
	if q.seen == nil {
		q.seen = make(map[string]bool)
	}
	if q.seen[msg.DedupKey] {
		return domain.SubmitAck{Duplicate: true}, nil
	}
	q.seen[msg.DedupKey] = true
	q.msgs = append(q.msgs, msg)
	return domain.SubmitAck{MessageID: msg.DedupKey}, nil
}

type fakeObjects struct {
	mu   sync.Mutex
	puts []domain.Object
	err  error
}

func (o *fakeObjects) Put(_ context.Context, obj domain.Object) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.puts = append(o.puts, obj)
	return nil
}

type immediatePool struct {
	mu       sync.Mutex
	acquired int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return func() {}, true
}
