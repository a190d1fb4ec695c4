package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardStartsUnpartitionedAndAllowsWrites(t *testing.T) {
	g := NewGuard()
	assert.Equal(t, SideUnpartitioned, g.Side())
	assert.NoError(t, g.AllowWrite(context.Background()))
}

func TestGuardMinoritySideRefusesWrites(t *testing.T) {
	g := NewGuard()
	g.SetSide(SideMinority)
	require.Error(t, g.AllowWrite(context.Background()))
}

func TestGuardMajoritySideAllowsWrites(t *testing.T) {
	g := NewGuard()
	g.SetSide(SideMajority)
	assert.NoError(t, g.AllowWrite(context.Background()))
}

func TestGuardAlwaysAllowsReads(t *testing.T) {
	g := NewGuard()
	g.SetSide(SideMinority)
	assert.NoError(t, g.AllowRead(context.Background()))
}
