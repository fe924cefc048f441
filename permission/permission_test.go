package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmrs/ocl-concepts-api/auth"
)

func TestCanModifyContainer(t *testing.T) {
	admin := &auth.Profile{Username: "admin"}
	orgs := []auth.Org{{ID: "CIEL"}, {ID: "MOH"}}

	tests := []struct {
		name       string
		ownerType  string
		owner      string
		profile    *auth.Profile
		orgs       []auth.Org
		authorized bool
		reasons    []string
	}{
		{
			name:       "own user container",
			ownerType:  "users",
			owner:      "admin",
			profile:    admin,
			authorized: true,
		},
		{
			name:      "someone else's user container",
			ownerType: "users",
			owner:     "jdoe",
			profile:   admin,
			orgs:      orgs,
			reasons:   []string{"user admin is not the owner jdoe"},
		},
		{
			name:       "member of owning org",
			ownerType:  "orgs",
			owner:      "MOH",
			profile:    admin,
			orgs:       orgs,
			authorized: true,
		},
		{
			name:      "not a member of owning org",
			ownerType: "orgs",
			owner:     "PIH",
			profile:   admin,
			orgs:      orgs,
			reasons:   []string{"user admin is not a member of org PIH"},
		},
		{
			name:      "org named like the user",
			ownerType: "orgs",
			owner:     "admin",
			profile:   admin,
			reasons:   []string{"user admin is not a member of org admin"},
		},
		{
			name:      "anonymous",
			ownerType: "orgs",
			owner:     "CIEL",
			orgs:      orgs,
			reasons:   []string{"anonymous user"},
		},
		{
			name:      "unknown owner type",
			ownerType: "groups",
			owner:     "admin",
			profile:   admin,
			reasons:   []string{"unknown owner type groups"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := CanModifyContainer(test.ownerType, test.owner, test.profile, test.orgs)
			assert.Equal(t, test.authorized, d.IsAuthorized)
			assert.Equal(t, test.reasons, d.Reasons)
		})
	}
}
