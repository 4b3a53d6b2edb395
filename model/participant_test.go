package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChildAccount(t *testing.T) {
	cases := []struct {
		child, parent string
		want          bool
	}{
		{"deployer.node0", "node0", true},
		{"v1.signer.node0", "node0", true},
		{"v1.signer.node0", "signer.node0", true},
		{"v1.signer.node0", "deployer.node0", false},
		{"node0", "node0", false},
		{"anode0", "node0", false},
		{"other.node1", "node0", false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, IsChildAccount(tc.child, tc.parent),
			"IsChildAccount(%q, %q)", tc.child, tc.parent)
	}
}

func TestIsValidAccountID(t *testing.T) {
	assert.True(t, IsValidAccountID("mpc-node-0.node0"))
	assert.True(t, IsValidAccountID("v1.signer.node0"))
	assert.False(t, IsValidAccountID(""))
	assert.False(t, IsValidAccountID("UPPER.node0"))
	assert.False(t, IsValidAccountID(".node0"))
}

func TestParticipantListSortAndLookup(t *testing.T) {
	list := ParticipantList{
		{AccountID: "mpc-node-2.node0", Index: 2},
		{AccountID: "mpc-node-0.node0", Index: 0},
		{AccountID: "mpc-node-1.node0", Index: 1},
	}
	list.Sort()
	assert.Equal(t, []string{"mpc-node-0.node0", "mpc-node-1.node0", "mpc-node-2.node0"}, list.AccountIDs())

	p, ok := list.ByAccountID("mpc-node-1.node0")
	assert.True(t, ok)
	assert.Equal(t, 1, p.Index)

	_, ok = list.ByAccountID("stranger.node0")
	assert.False(t, ok)
}
