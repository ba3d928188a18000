package repository

import "errors"

var (
	ErrGameNotFound          = errors.New("game not found")
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrParticipationNotFound = errors.New("participation not found")
	ErrInstanceNotFound      = errors.New("instance not found")
)
