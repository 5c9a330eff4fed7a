package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Engine error taxonomy. Validation errors reject bad input, conflict errors
// make duplicate/racing calls idempotent no-ops, state errors reject operations
// invalid for the room's current status. None are retried by the engine.
var (
	// Validation
	ErrInvalidRoomCode      = errors.New("invalid room code")
	ErrInvalidGameMode      = errors.New("invalid game mode")
	ErrInvalidMaxPlayers    = errors.New("max players must be between 2 and 10")
	ErrInvalidOption        = errors.New("selected option must be A, B, C or D")
	ErrInvalidPowerUp       = errors.New("unknown power-up")
	ErrInvalidQuestionOrder = errors.New("question order out of range")
	ErrRoomFull             = errors.New("room is full")
	ErrRoomLocked           = errors.New("room is locked")
	ErrEmptyQuestionSet     = errors.New("question set is empty")
	ErrUnknownQuestion      = errors.New("question not found in catalog")

	// Conflict
	ErrDuplicateAnswer       = errors.New("answer already submitted for this question")
	ErrQuestionsAlreadyBound = errors.New("questions already bound to this room")
	ErrAlreadyFinalized      = errors.New("room already finalized")

	// Not found
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUserNotFound        = errors.New("user not found")

	// State
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrGameNotActive      = errors.New("game is not active")
	ErrGameFinished       = errors.New("game already finished")
	ErrNotEnoughPlayers   = errors.New("not enough players to start")
	ErrQuestionsNotBound  = errors.New("no question set bound to this room")
	ErrNotHost            = errors.New("only the host may perform this action")
)

// HTTPStatus maps an engine error to the status code handlers return.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrDuplicateAnswer),
		errors.Is(err, ErrQuestionsAlreadyBound),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrGameAlreadyStarted):
		return fiber.StatusConflict
	case errors.Is(err, ErrGameNotActive),
		errors.Is(err, ErrGameFinished),
		errors.Is(err, ErrNotEnoughPlayers),
		errors.Is(err, ErrQuestionsNotBound),
		errors.Is(err, ErrNotHost):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidRoomCode),
		errors.Is(err, ErrInvalidGameMode),
		errors.Is(err, ErrInvalidMaxPlayers),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrInvalidPowerUp),
		errors.Is(err, ErrInvalidQuestionOrder),
		errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrRoomLocked),
		errors.Is(err, ErrEmptyQuestionSet),
		errors.Is(err, ErrUnknownQuestion):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
