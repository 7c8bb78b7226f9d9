package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   Role
		wantOK bool
	}{
		{"AGENT", RoleAgent, true},
		{"manager", RoleManager, true},
		{" Admin ", RoleAdmin, true},
		{"superuser", Role("SUPERUSER"), false},
		{"", Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRole(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleManager))
	assert.True(t, RoleManager.AtLeast(RoleManager))
	assert.False(t, RoleAgent.AtLeast(RoleManager))
	assert.False(t, Role("GUEST").AtLeast(RoleAgent))
	assert.False(t, RoleAdmin.AtLeast(Role("GUEST")))
}

func TestRoles_AreTotallyOrdered(t *testing.T) {
	roles := Roles()
	for i := 1; i < len(roles); i++ {
		assert.Less(t, roles[i-1].Rank(), roles[i].Rank())
	}
}
