package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"claimflow/internal/domain"
)

// Thread is an append-only conversation history tied to one topic/claim.
// The local copy is authoritative for the fallback path and serves as the
// audit trace for both paths; BackendID binds the thread to a managed
// backend thread once one exists.
type Thread struct {
	mu        sync.Mutex
	busy      bool
	ID        string
	BackendID string
	Agent     string
	msgs      []domain.Message
	mirrored  int // count of msgs already present on the backend thread
	CreatedAt time.Time
	UpdatedAt time.Time
}

// append adds a message, stamping it if needed. Callers hold the busy lease.
func (t *Thread) append(msg domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	t.msgs = append(t.msgs, msg)
	t.UpdatedAt = time.Now()
}

// messages returns a copy of the history; safe to re-read, never mutated.
func (t *Thread) messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]domain.Message, len(t.msgs))
	copy(cp, t.msgs)
	return cp
}

// unmirrored returns the local messages the backend thread has not seen
// yet: the full history on first managed use, or the turns accumulated
// while the conversation ran on the fallback engine.
func (t *Thread) unmirrored() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]domain.Message, len(t.msgs)-t.mirrored)
	copy(cp, t.msgs[t.mirrored:])
	return cp
}

// markMirrored advances the watermark to the current history length.
// Called after the backend thread has been brought up to date.
func (t *Thread) markMirrored() {
	t.mu.Lock()
	t.mirrored = len(t.msgs)
	t.mu.Unlock()
}

// Threads creates and extends conversation threads. Each thread is owned by
// the request that created or resumed it; a continuation racing an in-flight
// run on the same thread is rejected with ErrThreadBusy, never interleaved.
type Threads struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewThreads creates an empty thread manager.
func NewThreads() *Threads {
	return &Threads{threads: make(map[string]*Thread)}
}

func newThreadID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Open creates a new empty thread and returns its id. Ids are never reused.
func (m *Threads) Open() string {
	now := time.Now()
	t := &Thread{
		ID:        newThreadID(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.threads[t.ID] = t
	m.mu.Unlock()
	return t.ID
}

// get returns the thread for id.
func (m *Threads) get(id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, domain.NewDomainError("Threads.get", domain.ErrThreadNotFound, id)
	}
	return t, nil
}

// Acquire takes the exclusive mutation lease on a thread. It fails
// immediately with ErrThreadBusy when a run is already in flight; the
// returned release function must be called when the operation completes.
func (m *Threads) Acquire(id string) (*Thread, func(), error) {
	t, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return nil, nil, domain.NewDomainError("Threads.Acquire", domain.ErrThreadBusy, id)
	}
	t.busy = true
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		t.busy = false
		t.mu.Unlock()
	}
	return t, release, nil
}

// Append adds a message to a thread outside of a run. History is
// append-only; prior messages are never updated or deleted.
func (m *Threads) Append(id string, msg domain.Message) error {
	t, release, err := m.Acquire(id)
	if err != nil {
		return err
	}
	defer release()
	t.append(msg)
	return nil
}

// History returns the ordered message history of a thread. The returned
// slice is a copy; callers may re-read it without side effects.
func (m *Threads) History(id string) ([]domain.Message, error) {
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return t.messages(), nil
}

// BindAgent records which agent owns a thread so continuations resume with
// the same specialist.
func (m *Threads) BindAgent(id, agentName string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.Agent = agentName
	t.mu.Unlock()
	return nil
}

// AgentFor returns the agent bound to a thread, if any.
func (m *Threads) AgentFor(id string) (string, error) {
	t, err := m.get(id)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Agent, nil
}

// BindBackend records the managed backend thread id for a local thread.
func (m *Threads) BindBackend(id, backendID string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.BackendID = backendID
	t.mu.Unlock()
	return nil
}

// Len reports the number of open threads. Intended for testing.
func (m *Threads) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}
