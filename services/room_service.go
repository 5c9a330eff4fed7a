package services

import (
	"crypto/rand"
	"errors"
	"log"
	"math/big"
	"strings"
	"time"

	"battle-arena-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// roomCodeAlphabet omits 0/O/1/I/L to keep codes readable over voice/screenshare.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const roomCodeLength = 6

type RoomService struct {
	DB          *gorm.DB
	Events      *EventService
	Leaderboard *LeaderboardService
	MinPlayers  int
}

func NewRoomService(db *gorm.DB, events *EventService, leaderboard *LeaderboardService, minPlayers int) *RoomService {
	if minPlayers < 2 {
		minPlayers = 2
	}
	return &RoomService{DB: db, Events: events, Leaderboard: leaderboard, MinPlayers: minPlayers}
}

// CreateRoom creates a room and its host participant atomically.
// The code is retried on a uniqueness conflict rather than failing outright.
func (s *RoomService) CreateRoom(hostUserID, gameMode string, categoryID *string, questionCount, maxPlayers int) (*models.BattleRoom, error) {
	switch gameMode {
	case models.GameModeClassic, models.GameModeSuddenDeath, models.GameModeTeam:
	default:
		return nil, ErrInvalidGameMode
	}
	if maxPlayers < 2 || maxPlayers > 10 {
		return nil, ErrInvalidMaxPlayers
	}
	if questionCount < 1 {
		questionCount = 10
	}

	host, err := s.lookupUser(hostUserID)
	if err != nil {
		return nil, err
	}

	var room *models.BattleRoom
	var hostParticipantID string
	for attempt := 0; attempt < 5; attempt++ {
		candidate := &models.BattleRoom{
			Code:            generateRoomCode(),
			HostUserID:      hostUserID,
			GameMode:        gameMode,
			CategoryID:      categoryID,
			QuestionCount:   questionCount,
			MaxPlayers:      maxPlayers,
			CurrentPlayers:  1,
			CurrentQuestion: 1,
			Status:          models.RoomStatusLobby,
		}
		err = s.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(candidate).Error; err != nil {
				return err
			}
			participant := &models.BattleParticipant{
				RoomID:         candidate.ID,
				ExternalUserID: hostUserID,
				Username:       host.Username,
				AvatarURL:      host.ProfilePictureURL,
				IsHost:         true,
				IsActive:       true,
			}
			if err := tx.Create(participant).Error; err != nil {
				return err
			}
			hostParticipantID = participant.ID
			return nil
		})
		if err == nil {
			room = candidate
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		log.Printf("[ROOM] code collision on %s, regenerating", candidate.Code)
	}
	if room == nil {
		return nil, err
	}

	s.Events.Record(room.ID, &hostParticipantID, models.EventJoin, models.JoinPayload{Username: host.Username})
	log.Printf("[ROOM] created %s (mode=%s, host=%s)", room.Code, gameMode, host.Username)
	return room, nil
}

// GetRoom returns a room with its full roster (active and historical rows).
func (s *RoomService) GetRoom(roomID string) (*models.BattleRoom, error) {
	var room models.BattleRoom
	err := s.DB.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC")
	}).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinRoom adds the user to the room identified by code. Re-joining an
// existing membership reactivates it; joining twice while active is a no-op.
// The room row is locked for the duration so capacity checks and the live
// player count cannot interleave with a concurrent join/leave.
func (s *RoomService) JoinRoom(code, userID string) (*models.BattleRoom, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != roomCodeLength {
		return nil, ErrInvalidRoomCode
	}

	user, err := s.lookupUser(userID)
	if err != nil {
		return nil, err
	}

	var room models.BattleRoom
	rejoined := false
	alreadyIn := false
	joinedID := ""
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "code = ?", code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}

		switch room.Status {
		case models.RoomStatusLobby, models.RoomStatusWaiting:
		case models.RoomStatusActive:
			return ErrGameAlreadyStarted
		default:
			return ErrGameFinished
		}

		var existing models.BattleParticipant
		err := tx.First(&existing, "room_id = ? AND external_user_id = ?", room.ID, userID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		hasMembership := err == nil
		if hasMembership && existing.IsActive {
			alreadyIn = true
			return nil // already in, idempotent
		}

		// Lock and capacity gate everyone who would occupy a new slot,
		// rejoining members included: their old seat may have been taken.
		if room.IsLocked {
			return ErrRoomLocked
		}
		if room.CurrentPlayers >= room.MaxPlayers {
			return ErrRoomFull
		}

		if hasMembership {
			rejoined = true
			joinedID = existing.ID
			updates := map[string]interface{}{
				"is_active": true,
				"is_ready":  false,
				"left_at":   nil,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			return s.syncPlayerCount(tx, &room)
		}

		participant := &models.BattleParticipant{
			RoomID:         room.ID,
			ExternalUserID: userID,
			Username:       user.Username,
			AvatarURL:      user.ProfilePictureURL,
			IsActive:       true,
		}
		if err := tx.Create(participant).Error; err != nil {
			return err
		}
		joinedID = participant.ID
		if room.Status == models.RoomStatusLobby {
			if err := tx.Model(&room).UpdateColumn("status", models.RoomStatusWaiting).Error; err != nil {
				return err
			}
			room.Status = models.RoomStatusWaiting
		}
		return s.syncPlayerCount(tx, &room)
	})
	if err != nil {
		return nil, err
	}

	if !alreadyIn {
		s.Events.Record(room.ID, &joinedID, models.EventJoin, models.JoinPayload{Username: user.Username, Rejoined: rejoined})
	}
	return &room, nil
}

// LeaveRoom marks the participant inactive and stamps leftAt. The row is
// never deleted; historical answers and statistics survive the departure.
// A host leaving before the game starts abandons the room.
func (s *RoomService) LeaveRoom(roomID, userID string) error {
	return s.departRoom(roomID, userID, false)
}

// Concede is a voluntary departure from an in-progress game. It behaves like
// leave but requires the room to be active and is recorded distinctly.
func (s *RoomService) Concede(roomID, userID string) error {
	return s.departRoom(roomID, userID, true)
}

func (s *RoomService) departRoom(roomID, userID string, concede bool) error {
	var room models.BattleRoom
	var participant models.BattleParticipant
	departed := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if concede && room.Status != models.RoomStatusActive {
			return ErrGameNotActive
		}
		if room.Status == models.RoomStatusFinished || room.Status == models.RoomStatusAbandoned {
			return ErrGameFinished
		}

		if err := tx.First(&participant, "room_id = ? AND external_user_id = ?", roomID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParticipantNotFound
			}
			return err
		}
		if !participant.IsActive {
			return nil // already departed, idempotent
		}

		now := time.Now()
		// Guarded transition: only one depart flips the row.
		res := tx.Model(&models.BattleParticipant{}).
			Where("id = ? AND is_active", participant.ID).
			Updates(map[string]interface{}{"is_active": false, "left_at": &now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		departed = true
		if err := s.syncPlayerCount(tx, &room); err != nil {
			return err
		}

		// Host departure before the game starts abandons the room outright.
		if participant.IsHost && (room.Status == models.RoomStatusLobby || room.Status == models.RoomStatusWaiting) {
			if err := tx.Model(&room).UpdateColumn("status", models.RoomStatusAbandoned).Error; err != nil {
				return err
			}
			room.Status = models.RoomStatusAbandoned
			log.Printf("[ROOM] %s abandoned (host left before start)", room.Code)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !departed {
		return nil
	}

	if concede {
		s.Events.Record(roomID, &participant.ID, models.EventConcede, models.ConcedePayload{
			Username:      participant.Username,
			QuestionOrder: room.CurrentQuestion,
		})
	} else {
		s.Events.Record(roomID, &participant.ID, models.EventLeave, models.LeavePayload{Username: participant.Username})
	}

	// A departure mid-game can be the last thing the room was waiting on.
	if room.Status == models.RoomStatusActive {
		if _, _, err := s.Leaderboard.FinalizeIfComplete(roomID); err != nil {
			log.Printf("[ROOM] end-of-game check after departure failed for %s: %v", roomID, err)
		}
	}
	return nil
}

// ToggleReady flips the participant's ready flag while the room is still open.
func (s *RoomService) ToggleReady(roomID, userID string, ready bool) error {
	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	if room.Status != models.RoomStatusLobby && room.Status != models.RoomStatusWaiting {
		return ErrGameAlreadyStarted
	}
	res := s.DB.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND external_user_id = ? AND is_active", roomID, userID).
		UpdateColumn("is_ready", ready)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// StartGame transitions lobby/waiting → active. Requires the caller to be the
// host, an assigned question binding, an unlocked room, and enough players.
// startedAt is stamped exactly once here.
func (s *RoomService) StartGame(roomID, callerID string) (*models.BattleRoom, error) {
	var room models.BattleRoom
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if room.HostUserID != callerID {
			return ErrNotHost
		}
		switch room.Status {
		case models.RoomStatusLobby, models.RoomStatusWaiting:
		case models.RoomStatusActive:
			return ErrGameAlreadyStarted
		default:
			return ErrGameFinished
		}
		if room.IsLocked {
			return ErrRoomLocked
		}

		var bound int64
		if err := tx.Model(&models.BattleQuestion{}).Where("room_id = ?", roomID).Count(&bound).Error; err != nil {
			return err
		}
		if bound == 0 || int(bound) != room.QuestionCount {
			return ErrQuestionsNotBound
		}

		var active int64
		if err := tx.Model(&models.BattleParticipant{}).
			Where("room_id = ? AND is_active", roomID).Count(&active).Error; err != nil {
			return err
		}
		if int(active) < s.MinPlayers {
			return ErrNotEnoughPlayers
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":           models.RoomStatusActive,
			"started_at":       &now,
			"is_locked":        true, // membership closes once the game starts
			"current_question": 1,
		}
		if err := tx.Model(&room).Updates(updates).Error; err != nil {
			return err
		}
		room.Status = models.RoomStatusActive
		room.StartedAt = &now
		room.IsLocked = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("✅ [ROOM] %s started (%d questions)", room.Code, room.QuestionCount)
	return &room, nil
}

// FinishRoom is the explicit host-triggered end-game action.
func (s *RoomService) FinishRoom(roomID, callerID string) ([]models.BattleParticipant, error) {
	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if room.HostUserID != callerID {
		return nil, ErrNotHost
	}
	_, standing, err := s.Leaderboard.Finalize(roomID)
	return standing, err
}

// syncPlayerCount recomputes current_players from the live count of active
// rows. Callers hold the room row lock, so the count cannot go stale between
// the membership write and this update.
func (s *RoomService) syncPlayerCount(tx *gorm.DB, room *models.BattleRoom) error {
	var active int64
	if err := tx.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND is_active", room.ID).Count(&active).Error; err != nil {
		return err
	}
	room.CurrentPlayers = int(active)
	return tx.Model(room).UpdateColumn("current_players", active).Error
}

func (s *RoomService) lookupUser(externalUserID string) (*models.BattleUser, error) {
	var user models.BattleUser
	err := s.DB.First(&user, "external_user_id = ?", externalUserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic(err)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code)
}
