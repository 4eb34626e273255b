package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrIllegalMove   = errors.New("illegal move")
	ErrNotInProgress = errors.New("game not in progress")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
)

var (
	ErrInvalidSquare      = fmt.Errorf("%w: malformed square", ErrInvalidInput)
	ErrInvalidPromotion   = fmt.Errorf("%w: malformed promotion piece", ErrInvalidInput)
	ErrInvalidTimeControl = fmt.Errorf("%w: unknown time control", ErrInvalidInput)
	ErrInvalidDifficulty  = fmt.Errorf("%w: unknown difficulty", ErrInvalidInput)
	ErrInvalidPlayer      = fmt.Errorf("%w: player id required", ErrInvalidInput)
	ErrNotParticipant     = fmt.Errorf("%w: player is not seated in this game", ErrInvalidInput)
	ErrNotYourTurn        = fmt.Errorf("%w: not your turn", ErrIllegalMove)
	ErrGameNotFound       = fmt.Errorf("%w: game", ErrNotFound)
	ErrClockNotFound      = fmt.Errorf("%w: clock", ErrNotFound)
	ErrPlayerNotFound     = fmt.Errorf("%w: player", ErrNotFound)
	ErrInvitationNotFound = fmt.Errorf("%w: invitation", ErrNotFound)
	ErrRatingApplied      = fmt.Errorf("%w: ratings already recorded for game", ErrConflict)
	ErrGameExists         = fmt.Errorf("%w: game already registered", ErrConflict)
	ErrInvitationUsed     = fmt.Errorf("%w: invitation already used", ErrConflict)
	ErrInconsistentGame   = errors.New("game status, result and end reason disagree")
)
