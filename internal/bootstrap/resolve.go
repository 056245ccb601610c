// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"net"
	"net/url"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// checkResolvableURIs does a best-effort forward DNS check on every tcp://
// URI's host component. A failure here is reported to the caller so it can
// log-and-continue (spec.md §4.3): the transport, not bootstrap, retries
// connection attempts in the background.
func checkResolvableURIs(uris []string) error {
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "tcp" {
			continue
		}
		host := u.Hostname()
		if host == "" || net.ParseIP(host) != nil {
			continue // literal IP, or wildcard bind with no host component
		}
		if _, err := net.LookupHost(host); err != nil {
			return fluxerrors.Wrap(fluxerrors.IO, "bootstrap: unresolvable host "+host, err)
		}
	}
	return nil
}
