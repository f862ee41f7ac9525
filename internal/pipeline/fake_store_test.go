package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"accordo/internal/negotiation"
)

// fakeStore is an in-memory Store for pipeline tests. Values are deep
// copied through JSON on the way in and out so tests never alias pipeline
// internals.
type fakeStore struct {
	mu           sync.Mutex
	deals        map[string]*negotiation.Deal
	requisitions map[string]*negotiation.Requisition
	messages     map[string][]*negotiation.Message // by deal
	mesoRounds   map[string][]*negotiation.MesoRound
	profiles     map[string]*negotiation.VendorProfile
	profileData  map[string]struct {
		accepted int
		sum      float64
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deals:        map[string]*negotiation.Deal{},
		requisitions: map[string]*negotiation.Requisition{},
		messages:     map[string][]*negotiation.Message{},
		mesoRounds:   map[string][]*negotiation.MesoRound{},
		profiles:     map[string]*negotiation.VendorProfile{},
		profileData: map[string]struct {
			accepted int
			sum      float64
		}{},
	}
}

func deepCopy[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func (f *fakeStore) CreateDeal(ctx context.Context, deal *negotiation.Deal, req *negotiation.Requisition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deals[deal.ID] = deepCopy(deal)
	f.requisitions[deal.ID] = deepCopy(req)
	return nil
}

func (f *fakeStore) GetDeal(ctx context.Context, id string) (*negotiation.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[id]
	if !ok || deal.DeletedAt != nil {
		return nil, negotiation.ErrNotFound
	}
	return deepCopy(deal), nil
}

func (f *fakeStore) GetRequisition(ctx context.Context, dealID string) (*negotiation.Requisition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requisitions[dealID]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return deepCopy(req), nil
}

func (f *fakeStore) UpdateDeal(ctx context.Context, deal *negotiation.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deals[deal.ID]; !ok {
		return negotiation.ErrNotFound
	}
	f.deals[deal.ID] = deepCopy(deal)
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, msg *negotiation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[msg.DealID] {
		if m.ID == msg.ID {
			return nil // idempotent on id
		}
		if m.Round == msg.Round && m.Role == msg.Role {
			return fmt.Errorf("%w: duplicate (deal, round, role)", negotiation.ErrConflict)
		}
	}
	f.messages[msg.DealID] = append(f.messages[msg.DealID], deepCopy(msg))
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, dealID string) ([]negotiation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]*negotiation.Message(nil), f.messages[dealID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Round != msgs[j].Round {
			return msgs[i].Round < msgs[j].Round
		}
		return roleRank(msgs[i].Role) < roleRank(msgs[j].Role)
	})
	out := make([]negotiation.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *deepCopy(m))
	}
	return out, nil
}

func roleRank(r negotiation.Role) int {
	switch r {
	case negotiation.RoleVendor:
		return 0
	case negotiation.RoleAccordo:
		return 1
	default:
		return 2
	}
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*negotiation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == id {
				return deepCopy(m), nil
			}
		}
	}
	return nil, negotiation.ErrNotFound
}

func (f *fakeStore) GetLastMessage(ctx context.Context, dealID string, role negotiation.Role, withOffer bool) (*negotiation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *negotiation.Message
	for _, m := range f.messages[dealID] {
		if m.Role != role {
			continue
		}
		if withOffer && m.Offer == nil {
			continue
		}
		if best == nil || m.Round > best.Round {
			best = m
		}
	}
	if best == nil {
		return nil, negotiation.ErrNotFound
	}
	return deepCopy(best), nil
}

func (f *fakeStore) CreateMesoRound(ctx context.Context, mr *negotiation.MesoRound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mesoRounds[mr.DealID] = append(f.mesoRounds[mr.DealID], deepCopy(mr))
	return nil
}

func (f *fakeStore) RecordMesoSelection(ctx context.Context, mesoRoundID, optionID string, prefs *negotiation.MesoInference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rounds := range f.mesoRounds {
		for _, mr := range rounds {
			if mr.ID == mesoRoundID {
				mr.SelectedOptionID = optionID
				mr.InferredPreferences = deepCopy(prefs)
				return nil
			}
		}
	}
	return negotiation.ErrNotFound
}

func (f *fakeStore) ListMesoRounds(ctx context.Context, dealID string) ([]negotiation.MesoRound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]negotiation.MesoRound, 0, len(f.mesoRounds[dealID]))
	for _, mr := range f.mesoRounds[dealID] {
		out = append(out, *deepCopy(mr))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out, nil
}

func (f *fakeStore) GetVendorProfile(ctx context.Context, vendorID string) (*negotiation.VendorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[vendorID]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return deepCopy(p), nil
}

func (f *fakeStore) UpsertVendorProfile(ctx context.Context, vendorID string, accepted bool, finalDiscount float64, behaviorTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.profileData[vendorID]
	if accepted {
		data.accepted++
	}
	data.sum += finalDiscount
	f.profileData[vendorID] = data

	p := f.profiles[vendorID]
	if p == nil {
		p = &negotiation.VendorProfile{VendorID: vendorID}
		f.profiles[vendorID] = p
	}
	p.DealCount++
	p.AcceptedCount = data.accepted
	p.MeanFinalDiscount = data.sum / float64(p.DealCount)
	p.BehaviorTag = behaviorTag
	p.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(f)
}
