package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs the dev profile and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	subs    map[string]map[*memorySubscription]struct{}
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		subs:    make(map[string]map[*memorySubscription]struct{}),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateRecord(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	rec.Version = max(rec.Version, 1)
	s.records[rec.ID] = *rec
	s.broadcastLocked(rec.ID)
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) IncrementPoints(ctx context.Context, id string, delta int) error {
	_, err := s.IncrementPointsReturning(ctx, id, delta)
	return err
}

func (s *MemoryStore) IncrementPointsReturning(_ context.Context, id string, delta int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Points += delta
	rec.Version++
	s.records[id] = rec
	s.broadcastLocked(id)
	return &rec, nil
}

func (s *MemoryStore) SetVerified(ctx context.Context, id string) error {
	_, err := s.SetVerifiedReturning(ctx, id)
	return err
}

// SetVerifiedReturning leaves an already verified record and its version alone
func (s *MemoryStore) SetVerifiedReturning(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.IsEmailVerified {
		return &rec, nil
	}
	rec.IsEmailVerified = true
	rec.Version++
	s.records[id] = rec
	s.broadcastLocked(id)
	return &rec, nil
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := s.DeleteRecordReturning(ctx, id)
	return err
}

func (s *MemoryStore) DeleteRecordReturning(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.records, id)
	s.broadcastLocked(id)
	return &rec, nil
}

// Subscribe registers a subscription and queues the current state as its first snapshot
func (s *MemoryStore) Subscribe(ctx context.Context, id string) (Subscription, error) {
	sub := &memorySubscription{
		id:     id,
		store:  s,
		out:    make(chan Snapshot),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = make(map[*memorySubscription]struct{})
	}
	s.subs[id][sub] = struct{}{}
	sub.push(s.snapshotLocked(id))
	s.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (s *MemoryStore) snapshotLocked(id string) Snapshot {
	snap := Snapshot{At: s.now()}
	if rec, ok := s.records[id]; ok {
		snap.Record = &rec
	}
	return snap
}

func (s *MemoryStore) broadcastLocked(id string) {
	if len(s.subs[id]) == 0 {
		return
	}
	snap := s.snapshotLocked(id)
	for sub := range s.subs[id] {
		// each subscriber gets its own copy
		cp := snap
		if snap.Record != nil {
			rec := *snap.Record
			cp.Record = &rec
		}
		sub.push(cp)
	}
}

func (s *MemoryStore) unsubscribe(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs[sub.id], sub)
	if len(s.subs[sub.id]) == 0 {
		delete(s.subs, sub.id)
	}
}

// memorySubscription queues snapshots without bound so a slow reader never
// blocks a writer and never loses an update.
type memorySubscription struct {
	id    string
	store *MemoryStore

	mu     sync.Mutex
	queue  []Snapshot
	out    chan Snapshot
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Updates() <-chan Snapshot {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.unsubscribe(s)
		close(s.done)
	})
	return nil
}

func (s *memorySubscription) push(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}
