// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import "context"

// PMI is the process-manager bulletin board collaborator described in
// spec.md §4.3: a key-value put/get plus a collective barrier. It is the
// contract-level external collaborator; internal/testsupport/pmiserver
// provides a mock implementation for tests. bootstrap.iam/whois are
// implemented in terms of Put/Get and bootstrap.barrier as Barrier, rather
// than as separate RPC topics, since the message bus itself is out of scope
// (spec.md §1). Finalize makes no Put/Get call: Session.Run waits on a
// second Barrier and computes the critical-rank set locally.
type PMI interface {
	// Put stores value under key on the shared bulletin board.
	Put(ctx context.Context, key, value string) error
	// Get fetches the value stored under key.
	Get(ctx context.Context, key string) (string, error)
	// Barrier blocks until every rank in the instance has called Barrier.
	Barrier(ctx context.Context) error
}
