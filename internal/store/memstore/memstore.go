// Package memstore is an in-memory store.Store used by engine, scheduler and
// API tests. It mirrors the uniqueness rules the Postgres schema enforces.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"bourse/internal/store"
)

type Store struct {
	mu sync.Mutex

	nextID       int64
	games        map[int64]store.GameRecord
	companies    map[int64]store.CompanyRecord
	users        map[int64]store.GameUserRecord
	shares       map[int64]store.ShareRecord
	transactions []store.TransactionRecord
	history      []historyRow
	identities   map[int64]store.IdentityRecord
}

type historyRow struct {
	CompanyID int64
	Day       time.Time
	Price     float64
}

func New() *Store {
	return &Store{
		games:      make(map[int64]store.GameRecord),
		companies:  make(map[int64]store.CompanyRecord),
		users:      make(map[int64]store.GameUserRecord),
		shares:     make(map[int64]store.ShareRecord),
		identities: make(map[int64]store.IdentityRecord),
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateGame(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	s.games[id] = store.GameRecord{ID: id, RegistrationOpen: true}
	return id, nil
}

func (s *Store) Game(ctx context.Context, id int64) (store.GameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[id]
	if !ok {
		return store.GameRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GameIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GameIDByJoinKey(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.games {
		if rec.JoinKey != "" && rec.JoinKey == key {
			return id, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) UpdateGame(ctx context.Context, rec store.GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[rec.ID]; !ok {
		return store.ErrNotFound
	}
	if rec.JoinKey != "" {
		for id, other := range s.games {
			if id != rec.ID && other.JoinKey == rec.JoinKey {
				return store.ErrDuplicateJoinKey
			}
		}
	}
	s.games[rec.ID] = rec
	return nil
}

func (s *Store) CreateCompany(ctx context.Context, rec store.CompanyRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextIDLocked()
	s.companies[rec.ID] = rec
	return rec.ID, nil
}

func (s *Store) Company(ctx context.Context, id int64) (store.CompanyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.companies[id]
	if !ok {
		return store.CompanyRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) CompanyIDs(ctx context.Context, gameID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, rec := range s.companies {
		if rec.GameID == gameID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) UpdateCompany(ctx context.Context, rec store.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[rec.ID]; !ok {
		return store.ErrNotFound
	}
	s.companies[rec.ID] = rec
	return nil
}

func (s *Store) CreateGameUser(ctx context.Context, rec store.GameUserRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Nickname != "" && s.nicknameTakenLocked(rec.Nickname, 0) {
		return 0, store.ErrDuplicateNickname
	}
	rec.ID = s.nextIDLocked()
	s.users[rec.ID] = rec
	return rec.ID, nil
}

func (s *Store) GameUser(ctx context.Context, id int64) (store.GameUserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return store.GameUserRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GameUserIDs(ctx context.Context, gameID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, rec := range s.users {
		if rec.GameID == gameID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GameUserIDByIdentity(ctx context.Context, identityID, gameID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.users {
		if rec.IdentityID == identityID && rec.GameID == gameID {
			return id, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) ActiveGameUserID(ctx context.Context, identityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.users {
		if rec.IdentityID == identityID && rec.Active {
			return id, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *Store) UpdateGameUser(ctx context.Context, rec store.GameUserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.ID]; !ok {
		return store.ErrNotFound
	}
	if rec.Nickname != "" && s.nicknameTakenLocked(rec.Nickname, rec.ID) {
		return store.ErrDuplicateNickname
	}
	s.users[rec.ID] = rec
	return nil
}

func (s *Store) ActivateGameUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	for otherID, rec := range s.users {
		if rec.IdentityID == target.IdentityID && rec.Active && otherID != id {
			rec.Active = false
			s.users[otherID] = rec
		}
	}
	target.Active = true
	s.users[id] = target
	return nil
}

func (s *Store) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nicknameTakenLocked(nickname, 0), nil
}

func (s *Store) nicknameTakenLocked(nickname string, exceptID int64) bool {
	for id, rec := range s.users {
		if id != exceptID && rec.Nickname == nickname {
			return true
		}
	}
	return false
}

func (s *Store) CreateShare(ctx context.Context, companyID, ownerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	s.shares[id] = store.ShareRecord{ID: id, CompanyID: companyID, OwnerID: ownerID}
	return id, nil
}

func (s *Store) Share(ctx context.Context, id int64) (store.ShareRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.shares[id]
	if !ok {
		return store.ShareRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ShareIDs(ctx context.Context, ownerID, companyID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, rec := range s.shares {
		if rec.OwnerID != ownerID {
			continue
		}
		if companyID != 0 && rec.CompanyID != companyID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) DeleteShare(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.shares, id)
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, rec store.TransactionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextIDLocked()
	rec.Day = store.Day(rec.Day)
	s.transactions = append(s.transactions, rec)
	return rec.ID, nil
}

func (s *Store) SharesTraded(ctx context.Context, companyID int64, day time.Time, deal store.DealType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = store.Day(day)
	total := 0
	for _, rec := range s.transactions {
		if rec.CompanyID == companyID && rec.Type == deal && rec.Day.Equal(day) {
			total += rec.Quantity
		}
	}
	return total, nil
}

func (s *Store) AppendCompanyHistory(ctx context.Context, companyID int64, day time.Time, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyRow{CompanyID: companyID, Day: store.Day(day), Price: price})
	return nil
}

func (s *Store) UpsertIdentity(ctx context.Context, id int64, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		rec = store.IdentityRecord{ID: id}
	}
	if displayName != "" {
		rec.DisplayName = displayName
	}
	s.identities[id] = rec
	return nil
}

func (s *Store) Identity(ctx context.Context, id int64) (store.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.IdentityRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) SetSuperadmin(ctx context.Context, id int64, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Superadmin = v
	s.identities[id] = rec
	return nil
}

func (s *Store) SetBlocked(ctx context.Context, id int64, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Blocked = v
	s.identities[id] = rec
	return nil
}

func (s *Store) SuperadminIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, rec := range s.identities {
		if rec.Superadmin {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// HistoryCount reports appended history rows for a company; test helper.
func (s *Store) HistoryCount(companyID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.history {
		if row.CompanyID == companyID {
			n++
		}
	}
	return n
}

// TransactionCount reports appended transactions for an actor; test helper.
func (s *Store) TransactionCount(actorID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.transactions {
		if rec.ActorID == actorID {
			n++
		}
	}
	return n
}
