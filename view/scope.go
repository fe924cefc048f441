package view

import (
	"errors"
	"fmt"
	"strings"
)

const (
	UsersOwnerType = "users"
	OrgsOwnerType  = "orgs"

	SourceContainer     = "sources"
	CollectionContainer = "collections"

	conceptsSegment = "concepts"
	anonymousUser   = "anonymous"
)

var ErrInvalidScope = errors.New("path is not a concepts listing of a source or collection")

// Location is the navigation state of a list view: the scope path and the raw query string.
type Location struct {
	Path     string
	RawQuery string
}

// Scope identifies the container whose concepts are listed.
type Scope struct {
	OwnerType     string
	Owner         string
	ContainerType string
	Container     string
}

// ParseScope reads /{ownerType}/{owner}/{containerType}/{container}/concepts/.
func ParseScope(path string) (Scope, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != 5 || segments[4] != conceptsSegment {
		return Scope{}, fmt.Errorf("%q: %w", path, ErrInvalidScope)
	}
	s := Scope{
		OwnerType:     segments[0],
		Owner:         segments[1],
		ContainerType: segments[2],
		Container:     segments[3],
	}
	if s.OwnerType != UsersOwnerType && s.OwnerType != OrgsOwnerType {
		return Scope{}, fmt.Errorf("%q: unknown owner type %q: %w", path, s.OwnerType, ErrInvalidScope)
	}
	if s.ContainerType != SourceContainer && s.ContainerType != CollectionContainer {
		return Scope{}, fmt.Errorf("%q: unknown container type %q: %w", path, s.ContainerType, ErrInvalidScope)
	}
	for _, segment := range segments {
		if segment == "" {
			return Scope{}, fmt.Errorf("%q: %w", path, ErrInvalidScope)
		}
	}
	return s, nil
}

// Path is the canonical concepts listing path of the scope, with trailing slash.
func (s Scope) Path() string {
	return "/" + strings.Join([]string{s.OwnerType, s.Owner, s.ContainerType, s.Container, conceptsSegment}, "/") + "/"
}

// Key identifies the view state of one user on one scope. Results can differ
// per user, since private containers are only visible to their members.
func Key(scopePath string, username string) string {
	if username == "" {
		username = anonymousUser
	}
	return scopePath + "|" + username
}
