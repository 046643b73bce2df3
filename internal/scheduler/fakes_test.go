package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"questbot/internal/storage"
	"questbot/pkg/logx"
)

// In-memory doubles for the store and sender interfaces. They mimic the real
// SQLite semantics closely enough for runner tests: id-ordered due scans,
// mark-sent skipping already-sent rows, preference recipient lists.

type fakeQueue struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*storage.Notification

	dueErr     error
	enqueueErr error
	markErr    error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{rows: make(map[int64]*storage.Notification)}
}

func (q *fakeQueue) Enqueue(_ context.Context, userID int64, kind storage.Kind, title, body string, dueAt time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return 0, q.enqueueErr
	}
	q.nextID++
	q.rows[q.nextID] = &storage.Notification{
		ID:        q.nextID,
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		DueAt:     dueAt,
		CreatedAt: dueAt,
	}
	return q.nextID, nil
}

func (q *fakeQueue) Due(_ context.Context, now time.Time, limit int) ([]storage.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dueErr != nil {
		return nil, q.dueErr
	}
	var out []storage.Notification
	for _, n := range q.rows {
		if !n.Sent && !n.Failed && !n.DueAt.After(now) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeQueue) MarkSentBatch(_ context.Context, ids []int64, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.markErr != nil {
		return 0, q.markErr
	}
	marked := 0
	for _, id := range ids {
		n, ok := q.rows[id]
		if !ok || n.Sent {
			continue
		}
		n.Sent = true
		n.SentAt = at
		marked++
	}
	return marked, nil
}

func (q *fakeQueue) RecordAttempt(_ context.Context, id int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.rows[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	n.Attempts++
	return n.Attempts, nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	n.Failed = true
	return nil
}

func (q *fakeQueue) row(id int64) storage.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.rows[id]
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

func (q *fakeQueue) byKind(kind storage.Kind) []storage.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []storage.Notification
	for _, n := range q.rows {
		if n.Kind == kind {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeResources struct {
	mu         sync.Mutex
	resetCalls int
	recipients map[storage.Preference][]int64
	digests    map[int64]storage.DigestStats

	resetErr      error
	recipientsErr error
	digestErr     map[int64]error
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		recipients: make(map[storage.Preference][]int64),
		digests:    make(map[int64]storage.DigestStats),
	}
}

func (r *fakeResources) ResetCharges(_ context.Context, _ time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resetErr != nil {
		return 0, r.resetErr
	}
	r.resetCalls++
	return int64(len(r.recipients[storage.PrefEnabled])), nil
}

func (r *fakeResources) Recipients(_ context.Context, pref storage.Preference) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recipientsErr != nil {
		return nil, r.recipientsErr
	}
	return append([]int64(nil), r.recipients[pref]...), nil
}

func (r *fakeResources) WeeklyDigest(_ context.Context, userID int64, _ time.Time) (storage.DigestStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.digestErr[userID]; err != nil {
		return storage.DigestStats{}, err
	}
	return r.digests[userID], nil
}

func (r *fakeResources) resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetCalls
}

type fakeCampaigns struct {
	mu       sync.Mutex
	campaign *storage.Campaign
	err      error
}

func (c *fakeCampaigns) ActiveCampaign(_ context.Context, _ time.Time) (*storage.Campaign, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.campaign == nil {
		return nil, nil
	}
	cp := *c.campaign
	return &cp, nil
}

type fakeMarkers struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{values: make(map[string]string)}
}

func (m *fakeMarkers) Marker(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *fakeMarkers) PutMarker(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[name] = value
	return nil
}

func (m *fakeMarkers) PruneMarkers(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *fakeMarkers) get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *fakeMarkers) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type fakeCleanup struct {
	mu               sync.Mutex
	pairRequestCalls int
	pairCalls        int
	purgeCalls       int
	lastPurgeCutoff  time.Time
	pairRequestErr   error
	purgeErr         error
}

func (c *fakeCleanup) DeleteExpiredPairRequests(_ context.Context, _ time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairRequestErr != nil {
		return 0, c.pairRequestErr
	}
	c.pairRequestCalls++
	return 1, nil
}

func (c *fakeCleanup) DeleteExpiredPairs(_ context.Context, _ time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairCalls++
	return 0, nil
}

func (c *fakeCleanup) PurgeNotifications(_ context.Context, olderThan time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgeErr != nil {
		return 0, c.purgeErr
	}
	c.purgeCalls++
	c.lastPurgeCutoff = olderThan
	return 2, nil
}

type sentMsg struct {
	Recipient int64
	Text      string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMsg
	failFor map[int64]error // per-recipient failures
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: make(map[int64]error)}
}

func (s *fakeSender) Send(_ context.Context, recipient int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[recipient]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentMsg{Recipient: recipient, Text: text})
	return nil
}

func (s *fakeSender) messages() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMsg(nil), s.sent...)
}

type testEnv struct {
	sched     *Scheduler
	queue     *fakeQueue
	resources *fakeResources
	campaigns *fakeCampaigns
	markers   *fakeMarkers
	cleanup   *fakeCleanup
	sender    *fakeSender
}

func newTestEnv(cfg Config, at time.Time) *testEnv {
	env := &testEnv{
		queue:     newFakeQueue(),
		resources: newFakeResources(),
		campaigns: &fakeCampaigns{},
		markers:   newFakeMarkers(),
		cleanup:   &fakeCleanup{},
		sender:    newFakeSender(),
	}
	env.sched = New(cfg, Deps{
		Notifications: env.queue,
		Resources:     env.resources,
		Campaigns:     env.campaigns,
		Markers:       env.markers,
		Cleanup:       env.cleanup,
		Sender:        env.sender,
	}, logx.Nop())
	env.sched.now = func() time.Time { return at }
	return env
}

// setNow is only safe between synchronous *Once calls; the runner tests never
// drive the scheduler concurrently with a clock change.
func (e *testEnv) setNow(at time.Time) {
	e.sched.now = func() time.Time { return at }
}
