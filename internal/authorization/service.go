package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether an actor may perform an action on an object.
// Actors are "system" or "user:<username>".
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}

// UserActor formats the actor string for a registered user.
func UserActor(username string) string {
	return "user:" + username
}
