// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap implements the overlay bootstrap protocol (spec.md
// §4.3): five phases, with two barriers, that take N independently
// launched broker instances sharing a process-manager bulletin board and
// wire them into a connected tree, exchanging business cards and public
// keys along the way.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fluxrm/flux-core/pkg/bizcard"
	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
	"github.com/fluxrm/flux-core/pkg/idset"
	"github.com/fluxrm/flux-core/pkg/logging"
	"github.com/fluxrm/flux-core/pkg/retry"
)

// Wireup is the result of a successful bootstrap session: everything the
// broker needs to know about its place in the tree.
type Wireup struct {
	Rank   int
	Size   int
	Parent int
	HasParent bool

	ParentURI    string
	ParentPubkey string

	ChildPubkeys map[int]string

	CriticalRanks *idset.Set
}

// Options configures a Session's optional collaborators; zero values pick
// production defaults.
type Options struct {
	// IPAddrResolver resolves "tbon.interface-hint" to a bind address.
	// Defaults to DefaultIPAddrResolver.
	IPAddrResolver IPAddrResolver
	// Logger receives phase-progress and non-fatal warnings.
	Logger logging.Logger
	// RetryPolicy governs retries of the PMI put/get/barrier calls in
	// Phase 3/4 when they fail with an Again-classified error (spec.md
	// §7). Defaults to retry.NewRPCExponentialBackoff().
	RetryPolicy retry.Policy
}

// Session drives one broker's bootstrap: the collection of values that are
// constant for one instance plus the collaborators it talks to.
type Session struct {
	rank int
	size int

	pmi PMI

	topoURI       string
	interfaceHint string
	preferTCP     bool
	taskMap       TaskMap
	recoveryMode  bool
	ipv6          bool
	rundir        string
	selfPubkey    string
	hostname      string

	resolveIPAddr IPAddrResolver
	log           logging.Logger
	retryPolicy   retry.Policy
}

// Config is the subset of overlay attributes (spec.md §6) Session needs.
type Config struct {
	Rank                int
	Size                int
	TBONTopo            string
	TBONInterfaceHint   string
	TBONPreferTCP       bool
	BrokerMapping       string
	BrokerRecoveryMode  bool
	Rundir              string
	SelfPubkey          string
	// Hostname overrides os.Hostname(), mainly for tests.
	Hostname string
}

// NewSession constructs a Session from cfg and pmi, applying any Options.
func NewSession(cfg Config, pmi PMI, opts Options) (*Session, error) {
	if cfg.Size <= 0 {
		return nil, fluxerrors.Invalidf("bootstrap: size must be positive, got %d", cfg.Size)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fluxerrors.Invalidf("bootstrap: rank %d out of range [0,%d)", cfg.Rank, cfg.Size)
	}

	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fluxerrors.Wrap(fluxerrors.IO, "bootstrap: determine hostname", err)
		}
		hostname = h
	}

	resolver := opts.IPAddrResolver
	if resolver == nil {
		resolver = DefaultIPAddrResolver
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewLogger(nil)
	}

	policy := opts.RetryPolicy
	if policy == nil {
		policy = retry.NewRPCExponentialBackoff()
	}

	ipv6 := os.Getenv("FLUX_IPADDR_V6") != "" || cfg.BrokerRecoveryMode

	return &Session{
		rank:          cfg.Rank,
		size:          cfg.Size,
		pmi:           pmi,
		topoURI:       cfg.TBONTopo,
		interfaceHint: cfg.TBONInterfaceHint,
		preferTCP:     cfg.TBONPreferTCP,
		taskMap:       ParseTaskMap(cfg.BrokerMapping),
		recoveryMode:  cfg.BrokerRecoveryMode,
		ipv6:          ipv6,
		rundir:        cfg.Rundir,
		selfPubkey:    cfg.SelfPubkey,
		hostname:      hostname,
		resolveIPAddr: resolver,
		log:           log.With("component", "bootstrap", "rank", cfg.Rank),
		retryPolicy:   policy,
	}, nil
}

// rpc retries fn against s.retryPolicy, the shared wrapper every PMI call in
// Run makes so a transient Again-classified failure (spec.md §7) from the
// bulletin board doesn't abort the whole bootstrap session on the first
// hiccup.
func (s *Session) rpc(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, s.retryPolicy, fn)
}

// Run drives the five phases to completion, returning the instance's
// Wireup or an error. Any failure before Phase 5 (Finalize) is treated as
// fatal per spec.md §4.3's "partial wireup is not recoverable" invariant —
// the caller must abort the whole broker, not retry piecemeal.
func (s *Session) Run(ctx context.Context) (*Wireup, error) {
	// Phase 1 — topology selection.
	topo, err := ParseTopology(s.topoURI, s.size)
	if err != nil {
		return nil, fmt.Errorf("bootstrap phase 1 (topology): %w", err)
	}
	parent, hasParent := topo.Parent(s.rank)
	children := topo.Children(s.rank)

	// Phase 2 — local bind.
	card, err := bizcard.New(s.hostname)
	if err != nil {
		return nil, fmt.Errorf("bootstrap phase 2 (bind): %w", err)
	}
	if s.selfPubkey != "" {
		card.SetPubkey(s.selfPubkey)
	}

	if !s.recoveryMode && len(children) > 0 {
		plan := decideBindPlan(s.rank, children, s.taskMap, s.preferTCP)
		if plan.IPC {
			if err := card.AddURI(ipcURI(s.rundir, s.rank)); err != nil {
				return nil, fmt.Errorf("bootstrap phase 2 (bind): %w", err)
			}
		}
		if plan.TCP {
			ipaddr, err := s.resolveIPAddr(s.interfaceHint, s.ipv6)
			if err != nil {
				return nil, fmt.Errorf("bootstrap phase 2 (bind): resolve ipaddr: %w", err)
			}
			if err := card.AddURI(tcpWildcardURI(ipaddr)); err != nil {
				return nil, fmt.Errorf("bootstrap phase 2 (bind): %w", err)
			}
		}
	}

	// Phase 3 — publish business card, then barrier.
	data, err := card.Marshal()
	if err != nil {
		return nil, fmt.Errorf("bootstrap phase 3 (publish): %w", err)
	}
	if err := s.rpc(ctx, func() error { return s.pmi.Put(ctx, rankKey(s.rank), string(data)) }); err != nil {
		return nil, fmt.Errorf("bootstrap phase 3 (publish): %w", err)
	}
	if err := s.rpc(ctx, func() error { return s.pmi.Barrier(ctx) }); err != nil {
		return nil, fmt.Errorf("bootstrap phase 3 (barrier): %w", err)
	}

	// Phase 4 — resolve neighbors.
	wireup := &Wireup{
		Rank:         s.rank,
		Size:         s.size,
		Parent:       parent,
		HasParent:    hasParent,
		ChildPubkeys: make(map[int]string),
	}

	if hasParent {
		parentCard, err := s.fetchCard(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("bootstrap phase 4 (resolve parent): %w", err)
		}
		wireup.ParentURI = pickParentURI(parentCard, s.taskMap.SameNode(s.rank, parent), s.preferTCP)
		wireup.ParentPubkey = parentCard.Pubkey
	}

	for _, child := range children {
		childCard, err := s.fetchCard(ctx, child)
		if err != nil {
			return nil, fmt.Errorf("bootstrap phase 4 (resolve child %d): %w", child, err)
		}
		wireup.ChildPubkeys[child] = childCard.Pubkey
	}

	// Phase 5 — finalize. The second barrier holds every rank until all
	// ranks have fetched the cards they need in Phase 4.
	if err := s.rpc(ctx, func() error { return s.pmi.Barrier(ctx) }); err != nil {
		return nil, fmt.Errorf("bootstrap phase 5 (barrier): %w", err)
	}
	critical, err := topo.CriticalRanks(s.size)
	if err != nil {
		return nil, fmt.Errorf("bootstrap phase 5 (finalize): %w", err)
	}
	wireup.CriticalRanks = critical

	return wireup, nil
}

func rankKey(rank int) string {
	return strconv.Itoa(rank)
}

func (s *Session) fetchCard(ctx context.Context, rank int) (*bizcard.Card, error) {
	raw, err := retry.DoWithResult(ctx, s.retryPolicy, func() (string, error) {
		return s.pmi.Get(ctx, rankKey(rank))
	})
	if err != nil {
		return nil, fluxerrors.Wrap(fluxerrors.IO, fmt.Sprintf("bootstrap: fetch card for rank %d", rank), err)
	}
	card, err := bizcard.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if len(card.URI) > 0 {
		if err := checkResolvableURIs(card.URI); err != nil {
			// Unresolvable hostnames are logged but not fatal (spec.md §4.3):
			// the transport, not bootstrap, is responsible for retrying.
			s.log.Warn("business card has unresolvable URI", "rank", rank, "error", err.Error())
		}
	}
	return card, nil
}

// pickParentURI implements Phase 4's parent-URI selection rule: prefer an
// ipc:// URI when the parent is on-node and tcp isn't preferred, else the
// card's first URI.
func pickParentURI(card *bizcard.Card, onNode, preferTCP bool) string {
	if onNode && !preferTCP {
		for _, u := range card.URI {
			if hasScheme(u, "ipc") {
				return u
			}
		}
	}
	if len(card.URI) > 0 {
		return card.URI[0]
	}
	return ""
}

func hasScheme(uri, scheme string) bool {
	return len(uri) > len(scheme)+2 && uri[:len(scheme)+3] == scheme+"://"
}
