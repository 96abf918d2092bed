// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import "errors"

var (
	// ErrUnregisteredContract means an event came from an address with no pool
	// mapping. Replay cannot continue past it.
	ErrUnregisteredContract = errors.New("ledger: unregistered contract")
	ErrUnknownSubToken      = errors.New("ledger: unknown sub token")
	ErrUnknownEvent         = errors.New("ledger: no handler for event kind")
	ErrInvalidEvent         = errors.New("ledger: invalid event")
	ErrDuplicateHistory     = errors.New("ledger: history item already recorded")
	ErrNilStore             = errors.New("ledger: store is required")
)
