package market

import (
	"errors"
	"fmt"
	"io"
)

// InitRegistry creates the marketplace registry. It may run once; later calls
// fail with ErrAlreadyInitialized. Passing nil royalty selects the default of
// five percent.
func (e *Engine) InitRegistry(authority [20]byte, royaltyPercent *uint8) (*Registry, error) {
	pct := DefaultRoyaltyPercent
	if royaltyPercent != nil {
		pct = *royaltyPercent
	}
	if pct > 100 {
		return nil, ErrInvalidRoyalty
	}
	if authority == ([20]byte{}) {
		return nil, fmt.Errorf("%w: authority required", ErrUnauthorized)
	}
	var key [32]byte
	if _, err := io.ReadFull(e.entropy, key[:]); err != nil {
		return nil, fmt.Errorf("market: generate capability key: %w", err)
	}
	var out *Registry
	err := e.update(func(t *txn) error {
		if _, err := t.store.registry(); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, ErrUninitialized) {
			return err
		}
		reg := &Registry{
			Authority:      authority,
			RoyaltyPercent: pct,
			CapabilityKey:  key,
			CreatedAt:      t.timestamp(),
			UpdatedAt:      t.timestamp(),
		}
		if err := t.store.putRegistry(reg); err != nil {
			return err
		}
		t.emit(RegistryInitialized{Authority: authority, RoyaltyPercent: pct})
		out = reg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Registry returns the current registry with the capability key scrubbed.
func (e *Engine) Registry() (*Registry, error) {
	var out *Registry
	err := e.view(func(s *marketStore) error {
		reg, err := s.registry()
		if err != nil {
			return err
		}
		out = reg.Clone()
		return nil
	})
	return out, err
}

// UpdateRoyalty changes the royalty percent applied to future resales.
func (e *Engine) UpdateRoyalty(caller [20]byte, percent uint8) (*Registry, error) {
	if percent > 100 {
		return nil, ErrInvalidRoyalty
	}
	return e.mutateRegistry(caller, func(reg *Registry) { reg.RoyaltyPercent = percent })
}

// SetPaused toggles the marketplace pause switch. While paused, listing
// creation, purchase, resale and withdrawal are rejected.
func (e *Engine) SetPaused(caller [20]byte, paused bool) (*Registry, error) {
	return e.mutateRegistry(caller, func(reg *Registry) { reg.Paused = paused })
}

func (e *Engine) mutateRegistry(caller [20]byte, apply func(*Registry)) (*Registry, error) {
	var out *Registry
	err := e.update(func(t *txn) error {
		reg, err := t.store.registry()
		if err != nil {
			return err
		}
		if caller != reg.Authority {
			return ErrUnauthorized
		}
		apply(reg)
		reg.UpdatedAt = t.timestamp()
		if err := t.store.putRegistry(reg); err != nil {
			return err
		}
		t.emit(RegistryUpdated{Authority: reg.Authority, RoyaltyPercent: reg.RoyaltyPercent, Paused: reg.Paused})
		out = reg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// incrementServiceCount bumps the registry counter. It must run inside the
// same transaction that records the listing so a failed creation never
// counts.
func incrementServiceCount(t *txn, reg *Registry) error {
	next, err := checkedAdd(reg.TotalServices, 1)
	if err != nil {
		return err
	}
	reg.TotalServices = next
	reg.UpdatedAt = t.timestamp()
	return t.store.putRegistry(reg)
}
