package game

import (
	"context"
	"sync"

	"bourse/internal/store"
)

// Share is one indivisible unit of ownership. Shares of the same company are
// fungible: selling N deletes any N of the owner's shares.
type Share struct {
	reg *Registry
	mu  sync.Mutex
	rec store.ShareRecord
}

func (s *Share) snapshot() store.ShareRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *Share) ID() int64        { return s.snapshot().ID }
func (s *Share) CompanyID() int64 { return s.snapshot().CompanyID }
func (s *Share) OwnerID() int64   { return s.snapshot().OwnerID }

func (s *Share) Company(ctx context.Context) (*Company, error) {
	return s.reg.Company(ctx, s.CompanyID())
}

// Price is always the current price of the owning company.
func (s *Share) Price(ctx context.Context) (float64, error) {
	company, err := s.Company(ctx)
	if err != nil {
		return 0, err
	}
	return company.Price(), nil
}
