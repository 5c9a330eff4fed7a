package models

import (
	"encoding/json"
	"time"
)

// BattleEventKind tags the event payload shape.
type BattleEventKind string

const (
	EventJoin     BattleEventKind = "join"
	EventLeave    BattleEventKind = "leave"
	EventAnswer   BattleEventKind = "answer"
	EventPowerUp  BattleEventKind = "power_up"
	EventConcede  BattleEventKind = "concede"
	EventChat     BattleEventKind = "chat"
	EventReaction BattleEventKind = "reaction"
)

// BattleEvent is one append-only entry in a room's event stream.
// Within a room, insertion order is the only ordering contract; consumers
// must tolerate gaps and duplicate delivery.
type BattleEvent struct {
	ID            string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	RoomID        string          `gorm:"index;not null;type:uuid" json:"room_id"`
	ParticipantID *string         `gorm:"type:uuid" json:"participant_id,omitempty"`
	Kind          BattleEventKind `gorm:"type:varchar(16);not null" json:"kind"`
	Payload       json.RawMessage `gorm:"type:jsonb" json:"payload"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// Typed payloads, one per event kind. Stored as JSON in BattleEvent.Payload.

type JoinPayload struct {
	Username string `json:"username"`
	Rejoined bool   `json:"rejoined,omitempty"`
}

type LeavePayload struct {
	Username string `json:"username"`
}

type AnswerPayload struct {
	QuestionOrder int   `json:"question_order"`
	IsCorrect     bool  `json:"is_correct"`
	PointsEarned  int64 `json:"points_earned"`
	Streak        int   `json:"streak"`
}

type PowerUpPayload struct {
	PowerUp       string `json:"power_up"`
	QuestionOrder int    `json:"question_order"`
}

type ConcedePayload struct {
	Username      string `json:"username"`
	QuestionOrder int    `json:"question_order"`
}

type ChatPayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type ReactionPayload struct {
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}
