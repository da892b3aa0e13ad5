package game

import "errors"

// Sentinel errors, one per rejection the API can surface. The HTTP layer
// maps these onto status codes; everything else is an internal error.
var (
	// not found
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")

	// forbidden
	ErrNotMember   = errors.New("you are not in this room")
	ErrNotYourTurn = errors.New("not your turn")
	ErrBanned      = errors.New("temporarily banned")

	// conflict
	ErrTurnExpired      = errors.New("turn expired")
	ErrAlreadySubmitted = errors.New("turn already submitted")
	ErrTurnChanged      = errors.New("turn changed, retry with fresh state")
	ErrNicknameTaken    = errors.New("nickname already taken")

	// capacity
	ErrNoRoomCodes = errors.New("could not allocate unique room code")
	ErrNoWords     = errors.New("no words available")

	// validation
	ErrNicknameTooShort = errors.New("nickname too short")
	ErrInvalidMode      = errors.New("invalid game mode")
	ErrInvalidTarget    = errors.New("invalid target score")
	ErrEmptyAnswer      = errors.New("answer is required")

	// state
	ErrRoomFull       = errors.New("room is full")
	ErrRoomFinished   = errors.New("room already finished")
	ErrMatchNotActive = errors.New("match is not active")

	// admission
	ErrRateLimited = errors.New("too many requests")
)
