package permission

import (
	"fmt"

	"github.com/openmrs/ocl-concepts-api/auth"
)

const (
	usersOwnerType = "users"
	orgsOwnerType  = "orgs"
)

// Decision is the outcome of a permission check. Reasons explain a refusal
// and are meant for logging.
type Decision struct {
	IsAuthorized bool     `json:"is_authorized"`
	Reasons      []string `json:"reasons"`
}

// CanModifyContainer reports whether the user may edit a source or collection
// owned by owner. A user owns their own containers; an organisation's
// containers can be edited by its members.
func CanModifyContainer(ownerType string, owner string, profile *auth.Profile, orgs []auth.Org) Decision {
	if profile == nil {
		return refuse("anonymous user")
	}
	switch ownerType {
	case usersOwnerType:
		if profile.Username == owner {
			return Decision{IsAuthorized: true}
		}
		return refuse(fmt.Sprintf("user %s is not the owner %s", profile.Username, owner))
	case orgsOwnerType:
		for _, org := range orgs {
			if org.ID == owner {
				return Decision{IsAuthorized: true}
			}
		}
		return refuse(fmt.Sprintf("user %s is not a member of org %s", profile.Username, owner))
	}
	return refuse(fmt.Sprintf("unknown owner type %s", ownerType))
}

func refuse(reason string) Decision {
	return Decision{Reasons: []string{reason}}
}
