package models

import (
	"time"

	"gorm.io/gorm"
)

// Room lifecycle states. Transitions are one-directional:
// lobby → waiting → active → finished | abandoned.
const (
	RoomStatusLobby     = "lobby"
	RoomStatusWaiting   = "waiting"
	RoomStatusActive    = "active"
	RoomStatusFinished  = "finished"
	RoomStatusAbandoned = "abandoned"
)

// Game modes
const (
	GameModeClassic     = "classic"
	GameModeSuddenDeath = "sudden_death"
	GameModeTeam        = "team"
)

// BattleRoom is one multiplayer quiz session, identified by a short shareable code.
type BattleRoom struct {
	ID   string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Code string `gorm:"uniqueIndex;not null;type:varchar(6)" json:"code"`

	HostUserID string `gorm:"index;not null" json:"host_user_id"`
	GameMode   string `gorm:"type:varchar(16);default:'classic';check:game_mode IN ('classic','sudden_death','team')" json:"game_mode"`

	// Optional category context, denormalized from the content service for display
	CategoryID   *string `gorm:"index" json:"category_id,omitempty"`
	CategoryName string  `json:"category_name,omitempty"`

	QuestionCount   int `json:"question_count" gorm:"default:10"`
	MaxPlayers      int `json:"max_players" gorm:"default:4"`
	CurrentPlayers  int `json:"current_players" gorm:"default:0"` // always recomputed from active participant rows
	CurrentQuestion int `json:"current_question" gorm:"default:1"`

	Status   string `json:"status" gorm:"type:varchar(16);default:'lobby';index"`
	IsLocked bool   `json:"is_locked" gorm:"default:false"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" gorm:"index"`

	// Calculated / preloaded, not stored
	Participants []BattleParticipant `json:"participants,omitempty" gorm:"foreignKey:RoomID"`

	Timestamps
}

// BattleParticipant is a user's membership record within a specific room.
// One row per (room, user); leaving marks the row inactive, never deletes it.
type BattleParticipant struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	RoomID         string `gorm:"uniqueIndex:idx_room_user;not null;type:uuid" json:"room_id"`
	ExternalUserID string `gorm:"uniqueIndex:idx_room_user;index;not null" json:"external_user_id"`

	// Denormalized from the user snapshot at join time
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`

	Score          int64 `json:"score" gorm:"default:0"`
	Rank           int   `json:"rank" gorm:"default:0"` // 0 = not ranked (assigned once at finalize)
	IsWinner       bool  `json:"is_winner" gorm:"default:false"`
	CorrectAnswers int   `json:"correct_answers" gorm:"default:0"`
	TotalAnswered  int   `json:"total_answered" gorm:"default:0"`
	CurrentStreak  int   `json:"current_streak" gorm:"default:0"`
	BestStreak     int   `json:"best_streak" gorm:"default:0"`
	PowerUpsUsed   int   `json:"power_ups_used" gorm:"default:0"`

	// Timing aggregates, fed from client-reported answer times (untrusted, display only)
	FastestAnswerMs int64   `json:"fastest_answer_ms" gorm:"default:0"`
	AvgAnswerMs     float64 `json:"avg_answer_ms" gorm:"default:0"`

	IsReady  bool `json:"is_ready" gorm:"default:false"`
	IsHost   bool `json:"is_host" gorm:"default:false"`
	IsActive bool `json:"is_active" gorm:"default:true;index"`

	JoinedAt time.Time  `json:"joined_at" gorm:"autoCreateTime"`
	LeftAt   *time.Time `json:"left_at,omitempty"`

	Timestamps
}

// BattleQuestion binds a catalog question to a room at a fixed 1-based position.
// Bindings are created once at game setup and never mutated.
type BattleQuestion struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	RoomID        string `gorm:"uniqueIndex:idx_room_order;not null;type:uuid" json:"room_id"`
	QuestionID    string `gorm:"not null" json:"question_id"`
	QuestionOrder int    `gorm:"uniqueIndex:idx_room_order;not null" json:"question_order"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BattleAnswer is the append-only ledger row for one submission.
// The composite unique index is the at-most-once guarantee: a concurrent
// duplicate submit hits the index, not the application.
type BattleAnswer struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	RoomID        string `gorm:"uniqueIndex:idx_answer_slot;not null;type:uuid" json:"room_id"`
	ParticipantID string `gorm:"uniqueIndex:idx_answer_slot;not null;type:uuid" json:"participant_id"`
	QuestionOrder int    `gorm:"uniqueIndex:idx_answer_slot;not null" json:"question_order"`

	QuestionID     string `gorm:"not null" json:"question_id"` // denormalized audit copy
	SelectedOption string `gorm:"type:varchar(1)" json:"selected_option"`
	IsCorrect      bool   `json:"is_correct"`
	TimeSpentMs    int64  `json:"time_spent_ms"` // client-reported, clamped
	PointsEarned   int64  `json:"points_earned"`
	PowerUpUsed    string `gorm:"type:varchar(24)" json:"power_up_used,omitempty"`
	StreakAtAnswer int    `json:"streak_at_answer"`

	AnsweredAt time.Time `json:"answered_at" gorm:"autoCreateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
