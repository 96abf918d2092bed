// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps contract addresses to the pool they belong to and owns the
// protocol and pool singletons.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// RegisterContract maps address to poolID. An existing mapping is left alone.
func (r *Registry) RegisterContract(ctx context.Context, address common.Address, poolID string) error {
	id := AddressID(address)
	exists, err := r.store.Has(ctx, KindContractToPool, id)
	if err != nil {
		return fmt.Errorf("lookup mapping %s: %w", id, err)
	}
	if exists {
		return nil
	}
	return save(ctx, r.store, KindContractToPool, id, &ContractToPoolMapping{ID: id, Pool: poolID})
}

// ResolvePool returns the pool id an address was registered under.
func (r *Registry) ResolvePool(ctx context.Context, address common.Address) (string, error) {
	m, err := load[ContractToPoolMapping](ctx, r.store, KindContractToPool, AddressID(address))
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredContract, AddressID(address))
	}
	return m.Pool, nil
}

// GetOrCreateProtocol returns the protocol singleton, saving it on first use.
func (r *Registry) GetOrCreateProtocol(ctx context.Context) (*Protocol, error) {
	p, err := load[Protocol](ctx, r.store, KindProtocol, ProtocolID)
	if err != nil || p != nil {
		return p, err
	}
	p = &Protocol{ID: ProtocolID}
	if err := save(ctx, r.store, KindProtocol, p.ID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetOrCreatePool returns the pool with the given id. New pools are active,
// unpaused, attached to the protocol, and not yet saved.
func (r *Registry) GetOrCreatePool(ctx context.Context, id string) (*Pool, bool, error) {
	p, err := load[Pool](ctx, r.store, KindPool, id)
	if err != nil {
		return nil, false, err
	}
	if p != nil {
		return p, false, nil
	}
	protocol, err := r.GetOrCreateProtocol(ctx)
	if err != nil {
		return nil, false, err
	}
	return &Pool{ID: id, Protocol: protocol.ID, Active: true}, true, nil
}

// SavePool persists a pool.
func (r *Registry) SavePool(ctx context.Context, p *Pool) error {
	return save(ctx, r.store, KindPool, p.ID, p)
}

// SubToken resolves the token's pool and returns its SubToken entity.
func (r *Registry) SubToken(ctx context.Context, token common.Address) (*SubToken, error) {
	if _, err := r.ResolvePool(ctx, token); err != nil {
		return nil, err
	}
	st, err := load[SubToken](ctx, r.store, KindSubToken, AddressID(token))
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubToken, AddressID(token))
	}
	return st, nil
}

// RegisterSubToken maps token to poolID and stores its SubToken entity.
func (r *Registry) RegisterSubToken(ctx context.Context, token common.Address, kind Instrument, reserve *Reserve) (*SubToken, error) {
	if err := r.RegisterContract(ctx, token, reserve.Pool); err != nil {
		return nil, err
	}
	st := &SubToken{
		ID:                      AddressID(token),
		Instrument:              kind,
		Pool:                    reserve.Pool,
		UnderlyingAssetAddress:  reserve.UnderlyingAsset,
		UnderlyingAssetDecimals: reserve.Decimals,
	}
	if err := save(ctx, r.store, KindSubToken, st.ID, st); err != nil {
		return nil, err
	}
	return st, nil
}
