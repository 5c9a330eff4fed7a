package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"battle-arena-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnswerService struct {
	DB          *gorm.DB
	Questions   *QuestionService
	Leaderboard *LeaderboardService
	Events      *EventService
}

func NewAnswerService(db *gorm.DB, questions *QuestionService, leaderboard *LeaderboardService, events *EventService) *AnswerService {
	return &AnswerService{DB: db, Questions: questions, Leaderboard: leaderboard, Events: events}
}

// SubmitResult is what the caller gets back from one accepted submission.
type SubmitResult struct {
	IsCorrect    bool   `json:"is_correct"`
	PointsEarned int64  `json:"points_earned"`
	Score        int64  `json:"score"`
	Streak       int    `json:"streak"`
	Explanation  string `json:"explanation,omitempty"`
}

// Submit records one answer and updates the participant's running totals in a
// single transaction. At-most-once per (room, participant, ordinal) is
// enforced by the ledger's unique index: a concurrent duplicate inserts
// nothing and is rejected as a conflict, never double-scored.
//
// A submission for an ordinal the room has already moved past is still scored;
// the global pointer only ever advances. A submission to a finished room is
// rejected.
func (s *AnswerService) Submit(roomID, userID string, questionOrder int, selectedOption string, timeSpentMs int64, powerUp string) (*SubmitResult, error) {
	selectedOption = strings.ToUpper(strings.TrimSpace(selectedOption))
	if len(selectedOption) != 1 || selectedOption < "A" || selectedOption > "D" {
		return nil, ErrInvalidOption
	}
	if !validPowerUp(powerUp) {
		return nil, ErrInvalidPowerUp
	}
	timeSpentMs = clampTimeSpent(timeSpentMs)

	var result SubmitResult
	var participant models.BattleParticipant
	var room models.BattleRoom
	eliminated := false

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Room lock first, participant second — same order as join/leave,
		// so submits cannot deadlock against membership changes.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		switch room.Status {
		case models.RoomStatusActive:
		case models.RoomStatusLobby, models.RoomStatusWaiting:
			return ErrGameNotActive
		default:
			return ErrGameFinished
		}
		if questionOrder < 1 || questionOrder > room.QuestionCount {
			return ErrInvalidQuestionOrder
		}

		if err := tx.First(&participant, "room_id = ? AND external_user_id = ?", roomID, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrParticipantNotFound
			}
			return err
		}
		if !participant.IsActive {
			return ErrParticipantNotFound
		}

		var binding models.BattleQuestion
		if err := tx.First(&binding, "room_id = ? AND question_order = ?", roomID, questionOrder).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionsNotBound
			}
			return err
		}
		var question models.QuizQuestion
		if err := tx.First(&question, "id = ?", binding.QuestionID).Error; err != nil {
			return err
		}

		correct := selectedOption == question.CorrectOption
		points := scoreAnswer(correct, timeSpentMs, participant.CurrentStreak, powerUp)

		answer := models.BattleAnswer{
			RoomID:         roomID,
			ParticipantID:  participant.ID,
			QuestionOrder:  questionOrder,
			QuestionID:     question.ID,
			SelectedOption: selectedOption,
			IsCorrect:      correct,
			TimeSpentMs:    timeSpentMs,
			PointsEarned:   points,
			PowerUpUsed:    powerUp,
			StreakAtAnswer: participant.CurrentStreak,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "participant_id"}, {Name: "question_order"}},
			DoNothing: true,
		}).Create(&answer)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateAnswer
		}

		// Participant aggregates, applied in the same transaction as the
		// ledger insert so the cached score can never drift from the rows.
		streak := 0
		if correct {
			streak = participant.CurrentStreak + 1
		}
		best := participant.BestStreak
		if streak > best {
			best = streak
		}
		fastest := participant.FastestAnswerMs
		if fastest == 0 || (timeSpentMs > 0 && timeSpentMs < fastest) {
			fastest = timeSpentMs
		}
		total := participant.TotalAnswered + 1
		avg := (participant.AvgAnswerMs*float64(participant.TotalAnswered) + float64(timeSpentMs)) / float64(total)

		updates := map[string]interface{}{
			"score":             gorm.Expr("score + ?", points),
			"total_answered":    total,
			"current_streak":    streak,
			"best_streak":       best,
			"fastest_answer_ms": fastest,
			"avg_answer_ms":     avg,
		}
		if correct {
			updates["correct_answers"] = gorm.Expr("correct_answers + 1")
		}
		if powerUp != "" {
			updates["power_ups_used"] = gorm.Expr("power_ups_used + 1")
		}
		if err := tx.Model(&participant).Updates(updates).Error; err != nil {
			return err
		}

		// Sudden death: one miss and you're out.
		if !correct && room.GameMode == models.GameModeSuddenDeath {
			now := time.Now()
			if err := tx.Model(&participant).
				Updates(map[string]interface{}{"is_active": false, "left_at": &now}).Error; err != nil {
				return err
			}
			var active int64
			if err := tx.Model(&models.BattleParticipant{}).
				Where("room_id = ? AND is_active", roomID).Count(&active).Error; err != nil {
				return err
			}
			if err := tx.Model(&room).UpdateColumn("current_players", active).Error; err != nil {
				return err
			}
			eliminated = true
		}

		// Advance the room pointer once everyone still playing has answered
		// the current question. Late answers to passed ordinals skip this.
		if questionOrder == room.CurrentQuestion && questionOrder < room.QuestionCount {
			done, err := s.allActiveAnswered(tx, roomID, questionOrder)
			if err != nil {
				return err
			}
			if done {
				if err := tx.Model(&models.BattleRoom{}).
					Where("id = ? AND current_question = ?", roomID, questionOrder).
					UpdateColumn("current_question", questionOrder+1).Error; err != nil {
					return err
				}
			}
		}

		result = SubmitResult{
			IsCorrect:    correct,
			PointsEarned: points,
			Score:        participant.Score + points,
			Streak:       streak,
			Explanation:  question.Explanation,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Events.Record(roomID, &participant.ID, models.EventAnswer, models.AnswerPayload{
		QuestionOrder: questionOrder,
		IsCorrect:     result.IsCorrect,
		PointsEarned:  result.PointsEarned,
		Streak:        result.Streak,
	})
	if powerUp != "" {
		s.Events.Record(roomID, &participant.ID, models.EventPowerUp, models.PowerUpPayload{
			PowerUp:       powerUp,
			QuestionOrder: questionOrder,
		})
	}
	if eliminated {
		s.Events.Record(roomID, &participant.ID, models.EventLeave, models.LeavePayload{Username: participant.Username})
	}

	// The final answer (or an elimination) can end the game.
	if questionOrder == room.QuestionCount || eliminated {
		if finalized, _, err := s.Leaderboard.FinalizeIfComplete(roomID); err != nil {
			log.Printf("[ANSWER] end-of-game check failed for room %s: %v", roomID, err)
		} else if finalized {
			log.Printf("🏁 [ANSWER] room %s finished", room.Code)
		}
	}
	return &result, nil
}

// allActiveAnswered reports whether every active participant has a ledger row
// for the given ordinal.
func (s *AnswerService) allActiveAnswered(tx *gorm.DB, roomID string, questionOrder int) (bool, error) {
	var active int64
	if err := tx.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND is_active", roomID).Count(&active).Error; err != nil {
		return false, err
	}
	if active == 0 {
		return false, nil
	}
	var answered int64
	err := tx.Model(&models.BattleAnswer{}).
		Joins("JOIN battle_participants p ON p.id = battle_answers.participant_id").
		Where("battle_answers.room_id = ? AND battle_answers.question_order = ? AND p.is_active", roomID, questionOrder).
		Count(&answered).Error
	if err != nil {
		return false, err
	}
	return answered >= active, nil
}
