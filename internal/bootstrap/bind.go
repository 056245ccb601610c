// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"fmt"
	"net"
	"os"

	fluxerrors "github.com/fluxrm/flux-core/pkg/errors"
)

// IPAddrResolver resolves an ipaddr per the "tbon.interface-hint" attribute:
// a literal interface name, "default-route", or "hostname". Session takes
// one as a collaborator so tests can substitute a fixed address instead of
// touching the real network stack.
type IPAddrResolver func(hint string, ipv6 bool) (string, error)

// DefaultIPAddrResolver implements IPAddrResolver against the real network
// stack: "default-route" dials a UDP socket to discover the primary route's
// source address; "hostname" does a forward DNS lookup of os.Hostname();
// anything else is treated as a literal interface name.
func DefaultIPAddrResolver(hint string, ipv6 bool) (string, error) {
	switch hint {
	case "default-route":
		return defaultRouteAddr(ipv6)
	case "hostname":
		return hostnameAddr(ipv6)
	default:
		return interfaceAddr(hint, ipv6)
	}
}

func defaultRouteAddr(ipv6 bool) (string, error) {
	network, target := "udp4", "8.8.8.8:80"
	if ipv6 {
		network, target = "udp6", "[2001:4860:4860::8888]:80"
	}
	conn, err := net.Dial(network, target)
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.IO, "bootstrap: resolve default-route address", err)
	}
	defer func() { _ = conn.Close() }()

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.IO, "bootstrap: split default-route local addr", err)
	}
	return host, nil
}

func hostnameAddr(ipv6 bool) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.IO, "bootstrap: lookup hostname", err)
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.IO, fmt.Sprintf("bootstrap: resolve hostname %q", hostname), err)
	}
	for _, ip := range ips {
		if isV4 := ip.To4() != nil; isV4 == !ipv6 {
			return ip.String(), nil
		}
	}
	if len(ips) > 0 {
		return ips[0].String(), nil
	}
	return "", fluxerrors.NotFoundf("bootstrap: no address found for hostname %q", hostname)
}

func interfaceAddr(name string, ipv6 bool) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.NotFound, fmt.Sprintf("bootstrap: interface %q", name), err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fluxerrors.Wrap(fluxerrors.IO, fmt.Sprintf("bootstrap: addrs of interface %q", name), err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if isV4 := ipNet.IP.To4() != nil; isV4 == !ipv6 {
			return ipNet.IP.String(), nil
		}
	}
	return "", fluxerrors.NotFoundf("bootstrap: interface %q has no usable address", name)
}

// BindPlan is the decided set of bind URIs for a rank with children, per
// spec.md §4.3 Phase 2.
type BindPlan struct {
	IPC bool
	TCP bool
}

// decideBindPlan implements the Phase 2 bind rule as a pure function of the
// node-placement relationship between rank and its children, so it is
// testable without touching sockets or DNS.
func decideBindPlan(rank int, children []int, taskMap TaskMap, preferTCP bool) BindPlan {
	if len(children) == 0 {
		return BindPlan{}
	}

	allSameNode := true
	noneSameNode := true
	for _, c := range children {
		if taskMap.SameNode(rank, c) {
			noneSameNode = false
		} else {
			allSameNode = false
		}
	}

	switch {
	case allSameNode && !preferTCP:
		return BindPlan{IPC: true}
	case noneSameNode:
		return BindPlan{TCP: true}
	default:
		return BindPlan{IPC: true, TCP: true}
	}
}

func ipcURI(rundir string, rank int) string {
	return fmt.Sprintf("ipc://%s/tbon-%d", rundir, rank)
}

func tcpWildcardURI(ipaddr string) string {
	return fmt.Sprintf("tcp://%s:*", ipaddr)
}
