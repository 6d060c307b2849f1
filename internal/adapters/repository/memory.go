package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
)

// MemoryScoreStore is an in-process ScoreStore for tests and single-node runs.
type MemoryScoreStore struct {
	mu   sync.Mutex
	rows map[int64]model.ScoreRecord
	ops  map[int64]map[string]struct{}
	now  func() time.Time
}

// NewMemoryScoreStore creates an empty store.
func NewMemoryScoreStore(opts ...Option) *MemoryScoreStore {
	o := applyOptions(opts)
	return &MemoryScoreStore{
		rows: make(map[int64]model.ScoreRecord),
		ops:  make(map[int64]map[string]struct{}),
		now:  o.now,
	}
}

func (s *MemoryScoreStore) Get(_ context.Context, teamID int64) (model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[teamID]
	if !ok {
		return model.ScoreRecord{}, fault.NotFound("score for team", teamID)
	}
	return rec, nil
}

func (s *MemoryScoreStore) GetMany(_ context.Context, teamIDs []int64) (map[int64]model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]model.ScoreRecord, len(teamIDs))
	for _, id := range teamIDs {
		if rec, ok := s.rows[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *MemoryScoreStore) Upsert(_ context.Context, teamID int64, score float64, opID string) (model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := model.ScoreRecord{TeamID: teamID, Score: score, UpdatedAt: s.now().UTC(), LastOpID: opID}
	s.rows[teamID] = rec
	return rec, nil
}

// Apply holds the store lock while fn runs, so fn must not call back into s.
func (s *MemoryScoreStore) Apply(ctx context.Context, teamID int64, opID string, fn ApplyFunc) (model.ScoreRecord, bool, error) {
	if fn == nil {
		return model.ScoreRecord{}, false, fault.Logic(ErrNilApplyFunc)
	}
	if err := ctx.Err(); err != nil {
		return model.ScoreRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[teamID]
	if !ok {
		rec = model.ScoreRecord{TeamID: teamID}
	}
	if _, done := s.ops[teamID][opID]; opID != "" && done {
		return rec, false, nil
	}
	next, err := fn(rec.Score)
	if err != nil {
		return model.ScoreRecord{}, false, err
	}
	rec.Score = next
	rec.UpdatedAt = s.now().UTC()
	rec.LastOpID = opID
	s.rows[teamID] = rec
	if opID != "" {
		if s.ops[teamID] == nil {
			s.ops[teamID] = make(map[string]struct{})
		}
		s.ops[teamID][opID] = struct{}{}
	}
	return rec, true, nil
}

type membershipKey struct {
	userID int64
	teamID int64
}

// MemoryCampaignRepository is an in-process CampaignRepository.
type MemoryCampaignRepository struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextID      int64
	events      map[int64]model.Event
	teams       map[int64]model.Team
	users       map[int64]model.User
	memberships map[membershipKey]time.Time
	checkins    map[int64][]model.Checkin
	requestKeys map[string]struct{}
}

// NewMemoryCampaignRepository creates an empty repository.
func NewMemoryCampaignRepository(opts ...Option) *MemoryCampaignRepository {
	o := applyOptions(opts)
	return &MemoryCampaignRepository{
		now:         o.now,
		events:      make(map[int64]model.Event),
		teams:       make(map[int64]model.Team),
		users:       make(map[int64]model.User),
		memberships: make(map[membershipKey]time.Time),
		checkins:    make(map[int64][]model.Checkin),
		requestKeys: make(map[string]struct{}),
	}
}

// id hands out ids from a single sequence. Callers hold mu.
func (r *MemoryCampaignRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryCampaignRepository) Event(_ context.Context, id int64) (model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return model.Event{}, fault.NotFound("event", id)
	}
	return e, nil
}

func (r *MemoryCampaignRepository) CreateEvent(_ context.Context, e model.Event) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.id()
	r.events[e.ID] = e
	return e, nil
}

func (r *MemoryCampaignRepository) Team(_ context.Context, id int64) (model.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	if !ok {
		return model.Team{}, fault.NotFound("team", id)
	}
	return t, nil
}

func (r *MemoryCampaignRepository) TeamsByEvent(_ context.Context, eventID int64) ([]model.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Team
	for _, t := range r.teams {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sortTeams(out)
	return out, nil
}

func (r *MemoryCampaignRepository) TeamsForUserInEvent(_ context.Context, userID, eventID int64) ([]model.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Team
	for key := range r.memberships {
		if key.userID != userID {
			continue
		}
		if t, ok := r.teams[key.teamID]; ok && t.EventID == eventID {
			out = append(out, t)
		}
	}
	sortTeams(out)
	return out, nil
}

func (r *MemoryCampaignRepository) CreateTeam(_ context.Context, t model.Team) (model.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.teams {
		if existing.EventID == t.EventID && existing.Name == t.Name {
			return model.Team{}, fault.Conflict("team %q already exists in event %d", t.Name, t.EventID)
		}
	}
	t.ID = r.id()
	t.CreatedAt = r.now().UTC()
	r.teams[t.ID] = t
	return t, nil
}

func (r *MemoryCampaignRepository) User(_ context.Context, id int64) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, fault.NotFound("user", id)
	}
	return u, nil
}

// CreateUser keeps a caller supplied CreatedAt so tests can place accounts
// inside or outside the new-member window.
func (r *MemoryCampaignRepository) CreateUser(_ context.Context, u model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return model.User{}, fault.Conflict("username or email already registered")
		}
	}
	u.ID = r.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now().UTC()
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *MemoryCampaignRepository) IsMember(_ context.Context, userID, teamID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.memberships[membershipKey{userID, teamID}]
	return ok, nil
}

func (r *MemoryCampaignRepository) AddMembership(_ context.Context, userID, teamID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := membershipKey{userID, teamID}
	if _, ok := r.memberships[key]; ok {
		return fault.Conflict("user %d already in team %d", userID, teamID)
	}
	r.memberships[key] = r.now().UTC()
	return nil
}

func (r *MemoryCampaignRepository) TeamMembers(_ context.Context, teamID int64) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.User
	for key := range r.memberships {
		if key.teamID != teamID {
			continue
		}
		if u, ok := r.users[key.userID]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryCampaignRepository) MembershipCounts(_ context.Context, userIDs []int64) (map[int64]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	out := make(map[int64]int, len(userIDs))
	for key := range r.memberships {
		if _, ok := want[key.userID]; ok {
			out[key.userID]++
		}
	}
	return out, nil
}

func (r *MemoryCampaignRepository) CheckinsByTeam(_ context.Context, teamID int64) ([]model.Checkin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.checkins[teamID]
	out := make([]model.Checkin, len(src))
	copy(out, src)
	return out, nil
}

func (r *MemoryCampaignRepository) CreateCheckins(_ context.Context, checkins []model.Checkin) ([]model.Checkin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted []model.Checkin
	for _, c := range checkins {
		if c.RequestKey != "" {
			if _, dup := r.requestKeys[c.RequestKey]; dup {
				continue
			}
			r.requestKeys[c.RequestKey] = struct{}{}
		}
		c.ID = r.id()
		r.checkins[c.TeamID] = append(r.checkins[c.TeamID], c)
		inserted = append(inserted, c)
	}
	return inserted, nil
}

func sortTeams(teams []model.Team) {
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
}
