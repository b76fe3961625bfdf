package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/shorturl/internal/app/model"
)

// Memory is an in-process store implementing LinkRepository,
// ClickEventRepository and ClickRecorder. It is meant for local development
// and tests; nothing survives a restart.
type Memory struct {
	mu          sync.RWMutex
	links       map[int64]*model.Link
	codes       map[string]int64
	events      map[int64][]model.ClickEvent
	nextLinkID  int64
	nextEventID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		links:  make(map[int64]*model.Link),
		codes:  make(map[string]int64),
		events: make(map[int64][]model.ClickEvent),
	}
}

// Store returns m wrapped as a Store.
func (m *Memory) Store() Store {
	return Store{Links: m, Clicks: m, Recorder: m}
}

func (m *Memory) Insert(ctx context.Context, link *model.Link) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLinkID++
	stored := *link
	stored.ID = m.nextLinkID
	stored.ShortCode = nil
	m.links[stored.ID] = &stored

	link.ID = stored.ID
	return stored.ID, nil
}

func (m *Memory) UpdateCode(ctx context.Context, id int64, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return ErrLinkNotFound
	}
	if owner, taken := m.codes[code]; taken && owner != id {
		return ErrDuplicateCode
	}

	c := code
	link.ShortCode = &c
	m.codes[code] = id
	return nil
}

func (m *Memory) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[code]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return copyLink(m.links[id]), nil
}

func (m *Memory) FindByOwner(ctx context.Context, ownerID int64) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []model.Link
	for _, link := range m.links {
		if link.OwnerID == ownerID && link.ShortCode != nil {
			result = append(result, *copyLink(link))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) IncrementClickCount(ctx context.Context, id int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return 0, ErrLinkNotFound
	}
	link.ClickCount++
	return link.ClickCount, nil
}

func (m *Memory) Append(ctx context.Context, event *model.ClickEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[event.LinkID]; !ok {
		return ErrLinkNotFound
	}
	m.appendLocked(event)
	return nil
}

func (m *Memory) RecordClick(ctx context.Context, event *model.ClickEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[event.LinkID]
	if !ok {
		return 0, ErrLinkNotFound
	}
	link.ClickCount++
	m.appendLocked(event)
	return link.ClickCount, nil
}

func (m *Memory) appendLocked(event *model.ClickEvent) {
	m.nextEventID++
	event.ID = m.nextEventID
	m.events[event.LinkID] = append(m.events[event.LinkID], *event)
}

func (m *Memory) FindByLinkAndRange(ctx context.Context, linkID int64, start, end time.Time) ([]model.ClickEvent, error) {
	return m.FindByLinksAndRange(ctx, []int64{linkID}, start, end)
}

func (m *Memory) FindByLinksAndRange(ctx context.Context, linkIDs []int64, start, end time.Time) ([]model.ClickEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []model.ClickEvent
	for _, id := range linkIDs {
		for _, e := range m.events[id] {
			if inRange(e.OccurredAt, start, end) {
				result = append(result, e)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result, nil
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func copyLink(link *model.Link) *model.Link {
	cp := *link
	if link.ShortCode != nil {
		code := *link.ShortCode
		cp.ShortCode = &code
	}
	return &cp
}
