package ivr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Per-call serialization is a mutex per call id, mirroring the row lock
// the Postgres store takes.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call
	locks map[string]*sync.Mutex
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls: make(map[string]Call),
		locks: make(map[string]*sync.Mutex),
		clock: time.Now,
	}
}

// SetClock overrides the store clock for deterministic tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Create(ctx context.Context, c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.calls[c.ID] = *c
	s.locks[c.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(c *Call) error) (Call, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return Call{}, ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	c, ok := s.calls[id]
	s.mu.Unlock()
	if !ok {
		// deleted between lookup and lock
		return Call{}, ErrNotFound
	}

	if err := fn(&c); err != nil {
		return Call{}, err
	}
	c.UpdatedAt = s.clock().UTC()

	s.mu.Lock()
	s.calls[id] = c
	s.mu.Unlock()
	return c, nil
}

func (s *MemoryStore) FindActiveTestCall(ctx context.Context, flowID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.FlowID == flowID && c.ContactIsTest && !c.IsDone() {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[id]; !ok {
		return ErrNotFound
	}
	delete(s.calls, id)
	delete(s.locks, id)
	return nil
}

func (s *MemoryStore) ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.OrgID != orgID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// MemoryChannelStore holds channels keyed by id.
type MemoryChannelStore struct {
	mu       sync.Mutex
	channels map[string]Channel
}

func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{channels: make(map[string]Channel)}
}

func (s *MemoryChannelStore) Put(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

func (s *MemoryChannelStore) Get(ctx context.Context, id string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch, nil
}

// MemoryContactResolver resolves inbound caller numbers, creating a
// contact on first sight the way the real contact service does.
type MemoryContactResolver struct {
	mu       sync.Mutex
	contacts map[string]Contact // keyed by org_id + "\x00" + phone
}

func NewMemoryContactResolver() *MemoryContactResolver {
	return &MemoryContactResolver{contacts: make(map[string]Contact)}
}

func (r *MemoryContactResolver) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.OrgID+"\x00"+c.Phone] = c
}

func (r *MemoryContactResolver) Resolve(ctx context.Context, orgID, phone string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := orgID + "\x00" + phone
	if c, ok := r.contacts[key]; ok {
		return c, nil
	}
	c := Contact{ID: uuid.NewString(), OrgID: orgID, Phone: phone}
	r.contacts[key] = c
	return c, nil
}
