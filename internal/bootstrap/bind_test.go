// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideBindPlanNoChildren(t *testing.T) {
	plan := decideBindPlan(0, nil, TaskMap{}, false)
	assert.False(t, plan.IPC)
	assert.False(t, plan.TCP)
}

func TestDecideBindPlanAllChildrenSameNode(t *testing.T) {
	tm := NewTaskMap(map[int]string{0: "nodeA", 1: "nodeA", 2: "nodeA"})
	plan := decideBindPlan(0, []int{1, 2}, tm, false)
	assert.True(t, plan.IPC)
	assert.False(t, plan.TCP)
}

func TestDecideBindPlanAllSameNodeButPreferTCP(t *testing.T) {
	tm := NewTaskMap(map[int]string{0: "nodeA", 1: "nodeA"})
	plan := decideBindPlan(0, []int{1}, tm, true)
	assert.True(t, plan.IPC)
	assert.True(t, plan.TCP)
}

func TestDecideBindPlanNoChildrenShareNode(t *testing.T) {
	tm := NewTaskMap(map[int]string{0: "nodeA", 1: "nodeB", 2: "nodeC"})
	plan := decideBindPlan(0, []int{1, 2}, tm, false)
	assert.False(t, plan.IPC)
	assert.True(t, plan.TCP)
}

func TestDecideBindPlanMixed(t *testing.T) {
	tm := NewTaskMap(map[int]string{0: "nodeA", 1: "nodeA", 2: "nodeB"})
	plan := decideBindPlan(0, []int{1, 2}, tm, false)
	assert.True(t, plan.IPC)
	assert.True(t, plan.TCP)
}

func TestParseTaskMap(t *testing.T) {
	tm := ParseTaskMap("0:nodeA,1:nodeA,2:nodeB")
	assert.True(t, tm.SameNode(0, 1))
	assert.False(t, tm.SameNode(0, 2))
}

func TestParseTaskMapEmpty(t *testing.T) {
	tm := ParseTaskMap("")
	assert.False(t, tm.SameNode(0, 1))
}

func TestIpcURIFormat(t *testing.T) {
	assert.Equal(t, "ipc:///run/flux/tbon-3", ipcURI("/run/flux", 3))
}

func TestTcpWildcardURIFormat(t *testing.T) {
	assert.Equal(t, "tcp://10.0.0.1:*", tcpWildcardURI("10.0.0.1"))
}
