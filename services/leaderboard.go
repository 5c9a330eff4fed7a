package services

import (
	"errors"
	"log"
	"time"

	"battle-arena-service/models"

	"gorm.io/gorm"
)

// standingOrder is the deterministic ranking: score, then correct answers,
// then join order (earlier joiner wins the tie), then id as a last resort.
const standingOrder = "score DESC, correct_answers DESC, joined_at ASC, id ASC"

type LeaderboardService struct {
	DB *gorm.DB
}

func NewLeaderboardService(db *gorm.DB) *LeaderboardService {
	return &LeaderboardService{DB: db}
}

// ComputeStanding returns the live ordering of active participants. For a
// finished room it returns the frozen finalized ranks instead; finalization
// is a one-shot snapshot and is never recomputed.
func (s *LeaderboardService) ComputeStanding(roomID string) ([]models.BattleParticipant, error) {
	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	var standing []models.BattleParticipant
	q := s.DB.Where("room_id = ? AND is_active", roomID)
	if room.Status == models.RoomStatusFinished {
		q = s.DB.Where("room_id = ? AND rank > 0", roomID).Order("rank ASC")
	} else {
		q = q.Order(standingOrder)
	}
	if err := q.Find(&standing).Error; err != nil {
		return nil, err
	}
	return standing, nil
}

// Finalize performs the one-time active → finished transition and rank
// assignment as a single atomic step. Of two concurrent callers exactly one
// wins the conditional status update; the loser observes the room already
// finished and returns the existing standing without touching ranks.
func (s *LeaderboardService) Finalize(roomID string) (bool, []models.BattleParticipant, error) {
	var standing []models.BattleParticipant
	finalized := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.BattleRoom{}).
			Where("id = ? AND status = ?", roomID, models.RoomStatusActive).
			Updates(map[string]interface{}{
				"status":      models.RoomStatusFinished,
				"finished_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var room models.BattleRoom
			if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrRoomNotFound
				}
				return err
			}
			if room.Status == models.RoomStatusFinished {
				// Lost the race (or a later redundant call): read, don't write.
				return tx.Where("room_id = ? AND rank > 0", roomID).
					Order("rank ASC").Find(&standing).Error
			}
			return ErrGameNotActive
		}

		finalized = true
		if err := tx.Where("room_id = ? AND is_active", roomID).
			Order(standingOrder).Find(&standing).Error; err != nil {
			return err
		}
		for i := range standing {
			standing[i].Rank = i + 1
			standing[i].IsWinner = i == 0
			if err := tx.Model(&standing[i]).Updates(map[string]interface{}{
				"rank":      standing[i].Rank,
				"is_winner": standing[i].IsWinner,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if finalized {
		log.Printf("🏆 [LEADERBOARD] room %s finalized with %d ranked players", roomID, len(standing))
	}
	return finalized, standing, nil
}

// FinalizeIfComplete finalizes the room iff every active participant has
// answered the final question. Safe to call repeatedly; the finalize guard
// makes redundant calls no-ops.
func (s *LeaderboardService) FinalizeIfComplete(roomID string) (bool, []models.BattleParticipant, error) {
	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, ErrRoomNotFound
		}
		return false, nil, err
	}
	if room.Status != models.RoomStatusActive {
		return false, nil, nil
	}

	var active int64
	if err := s.DB.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND is_active", roomID).Count(&active).Error; err != nil {
		return false, nil, err
	}
	if active == 0 {
		// Nothing left to wait on; the maintenance sweeper abandons these.
		return false, nil, nil
	}

	var answered int64
	err := s.DB.Model(&models.BattleAnswer{}).
		Joins("JOIN battle_participants p ON p.id = battle_answers.participant_id").
		Where("battle_answers.room_id = ? AND battle_answers.question_order = ? AND p.is_active", roomID, room.QuestionCount).
		Count(&answered).Error
	if err != nil {
		return false, nil, err
	}
	if answered < active {
		return false, nil, nil
	}
	return s.Finalize(roomID)
}
