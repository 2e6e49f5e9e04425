package game

import (
	"context"
	"sync"

	"bourse/internal/store"
)

// Identity is a chat-platform account. Roles are capability flags, not
// subtypes: superadmins can create games and promote admins, blocked
// identities are denied all engine interaction by the calling layer.
type Identity struct {
	reg *Registry
	mu  sync.Mutex
	rec store.IdentityRecord
}

func (i *Identity) snapshot() store.IdentityRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rec
}

func (i *Identity) ID() int64           { return i.snapshot().ID }
func (i *Identity) DisplayName() string { return i.snapshot().DisplayName }
func (i *Identity) IsSuperadmin() bool  { return i.snapshot().Superadmin }
func (i *Identity) IsBlocked() bool     { return i.snapshot().Blocked }

func (i *Identity) reload(ctx context.Context) error {
	rec, err := i.reg.store.Identity(ctx, i.ID())
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.rec = rec
	i.mu.Unlock()
	return nil
}

func (i *Identity) SetSuperadmin(ctx context.Context, v bool) error {
	if err := i.reg.store.SetSuperadmin(ctx, i.ID(), v); err != nil {
		return err
	}
	return i.reload(ctx)
}

func (i *Identity) SetBlocked(ctx context.Context, v bool) error {
	if err := i.reg.store.SetBlocked(ctx, i.ID(), v); err != nil {
		return err
	}
	return i.reload(ctx)
}
