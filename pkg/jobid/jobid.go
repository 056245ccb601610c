// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jobid implements the three textual encodings of a 64-bit job id
// described in spec.md §6: plain decimal, "fluid" (a time-bucketed
// dot-separated hex form, the FLUID scheme used to namespace the KVS job
// directory), and "idf58" (a compact base58 form for log lines). All three
// must round-trip through Parse.
//
// No repo in the retrieval pack implements FLUID or base58 encodings, so
// this package is written directly against encoding/hex and strconv; see
// DESIGN.md for the stdlib-only justification.
package jobid

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// FormatDecimal renders id in plain decimal.
func FormatDecimal(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseDecimal parses a plain-decimal job id.
func ParseDecimal(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fluxerrors.Wrap(fluxerrors.Invalid, "jobid: malformed decimal id "+s, err)
	}
	return v, nil
}

// FormatFluid renders id as four dot-separated 16-bit hex groups (high to
// low), the "time-bucketed" form used to shard the KVS job directory three
// levels deep (spec.md §4.4 restart recovery).
func FormatFluid(id uint64) string {
	groups := make([]string, 4)
	for i := 0; i < 4; i++ {
		shift := uint(48 - 16*i)
		groups[i] = fmt.Sprintf("%04x", uint16(id>>shift))
	}
	return strings.Join(groups, ".")
}

// ParseFluid parses the dot-hex FLUID form.
func ParseFluid(s string) (uint64, error) {
	groups := strings.Split(s, ".")
	if len(groups) != 4 {
		return 0, fluxerrors.Invalidf("jobid: fluid id %q must have 4 dot-separated groups", s)
	}
	var id uint64
	for _, g := range groups {
		if len(g) != 4 {
			return 0, fluxerrors.Invalidf("jobid: fluid group %q must be 4 hex digits", g)
		}
		b, err := hex.DecodeString(g)
		if err != nil {
			return 0, fluxerrors.Wrap(fluxerrors.Invalid, "jobid: malformed fluid group "+g, err)
		}
		id = id<<16 | uint64(b[0])<<8 | uint64(b[1])
	}
	return id, nil
}

const f58Prefix = "f"
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// FormatF58 renders id as a compact base58 form prefixed with "f", the
// idf58 logging representation.
func FormatF58(id uint64) string {
	if id == 0 {
		return f58Prefix + string(base58Alphabet[0])
	}
	var digits []byte
	for id > 0 {
		digits = append([]byte{base58Alphabet[id%58]}, digits...)
		id /= 58
	}
	return f58Prefix + string(digits)
}

// ParseF58 parses the idf58 compact base58 form.
func ParseF58(s string) (uint64, error) {
	if !strings.HasPrefix(s, f58Prefix) {
		return 0, fluxerrors.Invalidf("jobid: idf58 value %q missing %q prefix", s, f58Prefix)
	}
	body := s[len(f58Prefix):]
	if body == "" {
		return 0, fluxerrors.Invalidf("jobid: idf58 value %q has no digits", s)
	}

	var id uint64
	for _, r := range body {
		idx := strings.IndexRune(base58Alphabet, r)
		if idx < 0 {
			return 0, fluxerrors.Invalidf("jobid: idf58 value %q has invalid digit %q", s, r)
		}
		id = id*58 + uint64(idx)
	}
	return id, nil
}

// Parse auto-detects the encoding (fluid contains dots, idf58 starts with
// the "f" prefix, otherwise decimal) and decodes it.
func Parse(s string) (uint64, error) {
	switch {
	case strings.Contains(s, "."):
		return ParseFluid(s)
	case strings.HasPrefix(s, f58Prefix):
		return ParseF58(s)
	default:
		return ParseDecimal(s)
	}
}
