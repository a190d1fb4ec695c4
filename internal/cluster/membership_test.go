package cluster

import (
	"testing"

	"github.com/aerolithdb/aerolithdb/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMembership() *Membership {
	return NewMembership([]Node{
		{ID: "n1", Address: "localhost:1"},
		{ID: "n2", Address: "localhost:2"},
		{ID: "n3", Address: "localhost:3"},
	}, 32)
}

func TestMembershipJoinAndLeave(t *testing.T) {
	m := seedMembership()

	require.NoError(t, m.Join(Node{ID: "n4", Address: "localhost:4"}))
	_, ok := m.GetNode("n4")
	assert.True(t, ok)
	assert.Equal(t, 4, m.Ring().NodeCount())

	require.NoError(t, m.Leave("n4"))
	_, ok = m.GetNode("n4")
	assert.False(t, ok)
	assert.Equal(t, 3, m.Ring().NodeCount())
}

func TestMembershipJoinDuplicateFails(t *testing.T) {
	m := seedMembership()
	err := m.Join(Node{ID: "n1"})
	assert.Error(t, err)
}

func TestMembershipLeaveUnknownFails(t *testing.T) {
	m := seedMembership()
	err := m.Leave("ghost")
	assert.Error(t, err)
}

func TestMembershipQuarantineExcludesFromReplicaSelection(t *testing.T) {
	m := seedMembership()
	m.Quarantine("n1")

	set := m.QuarantinedSet()
	assert.True(t, set["n1"])

	active := m.ActiveNodeIDs()
	assert.NotContains(t, active, "n1")
	assert.Len(t, active, 2)
}

func TestMembershipUnquarantineRestores(t *testing.T) {
	m := seedMembership()
	m.Quarantine("n1")
	m.Unquarantine("n1")

	assert.False(t, m.QuarantinedSet()["n1"])
	assert.Contains(t, m.ActiveNodeIDs(), "n1")
}

func TestMembershipReplicaNodesSkipsQuarantined(t *testing.T) {
	m := seedMembership()
	all := m.ReplicaNodes("key", 3)
	require.Len(t, all, 3)

	m.Quarantine(all[0].ID)
	remaining := m.ReplicaNodes("key", 2)
	for _, n := range remaining {
		assert.NotEqual(t, all[0].ID, n.ID)
	}
}

func TestMembershipAllReflectsRole(t *testing.T) {
	m := NewMembership([]Node{{ID: "n1", Role: document.RoleBootstrap}}, 32)
	nodes := m.All()
	require.Len(t, nodes, 1)
	assert.Equal(t, document.RoleBootstrap, nodes[0].Role)
}
