// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobstate

import "context"

// RestartStore is the external collaborator the restart path walks
// (spec.md §4.4 "Restart recovery"): discover every job directory under
// job/ and read back each job's full eventlog in order. The actual KVS
// directory is bucketed three levels deep by the FLUID encoding of the
// job id (pkg/jobid); that bucketing is a storage-layout detail this
// interface intentionally hides behind a flat id list.
type RestartStore interface {
	// ListJobs returns every job id discovered under the job/ directory.
	ListJobs(ctx context.Context) ([]uint64, error)
	// ReadEventlog returns the full ordered eventlog for id, including
	// each entry's original eventlog_seq.
	ReadEventlog(ctx context.Context, id uint64) ([]JournalEvent, error)
}
