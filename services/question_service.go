package services

import (
	"errors"
	"log"

	"battle-arena-service/models"

	"gorm.io/gorm"
)

// QuestionService owns the room's question binding and the catalog snapshot
// lookups. The binding is a pure lookup table once assigned; the room's
// current-question pointer is advanced by the scoring flow, not here.
type QuestionService struct {
	DB *gorm.DB
}

func NewQuestionService(db *gorm.DB) *QuestionService {
	return &QuestionService{DB: db}
}

// BindQuestions assigns the ordered question set to a room exactly once.
// Positions are the contiguous 1..N order of the given slice. A second call
// for the same room is rejected; the binding is immutable.
func (s *QuestionService) BindQuestions(roomID, callerID string, orderedQuestionIDs []string) error {
	if len(orderedQuestionIDs) == 0 {
		return ErrEmptyQuestionSet
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var room models.BattleRoom
		if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if room.HostUserID != callerID {
			return ErrNotHost
		}
		if room.Status != models.RoomStatusLobby && room.Status != models.RoomStatusWaiting {
			return ErrGameAlreadyStarted
		}

		var existing int64
		if err := tx.Model(&models.BattleQuestion{}).Where("room_id = ?", roomID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrQuestionsAlreadyBound
		}

		// Every id must exist in the catalog snapshot before anything is written.
		var known int64
		if err := tx.Model(&models.QuizQuestion{}).Where("id IN ?", orderedQuestionIDs).Count(&known).Error; err != nil {
			return err
		}
		if int(known) != len(orderedQuestionIDs) {
			return ErrUnknownQuestion
		}

		bindings := make([]models.BattleQuestion, 0, len(orderedQuestionIDs))
		for i, qid := range orderedQuestionIDs {
			bindings = append(bindings, models.BattleQuestion{
				RoomID:        roomID,
				QuestionID:    qid,
				QuestionOrder: i + 1,
			})
		}
		if err := tx.Create(&bindings).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"question_count": len(orderedQuestionIDs)}
		// Denormalize category display data from the first bound question.
		var first models.QuizQuestion
		if err := tx.First(&first, "id = ?", orderedQuestionIDs[0]).Error; err == nil && first.CategoryID != nil {
			updates["category_id"] = first.CategoryID
			updates["category_name"] = first.CategoryName
		}
		if err := tx.Model(&room).Updates(updates).Error; err != nil {
			return err
		}

		log.Printf("[QUESTIONS] bound %d questions to room %s", len(bindings), room.Code)
		return nil
	})
}

// QuestionAt returns the catalog question bound to the room at the given
// 1-based position.
func (s *QuestionService) QuestionAt(roomID string, position int) (*models.QuizQuestion, error) {
	var binding models.BattleQuestion
	err := s.DB.First(&binding, "room_id = ? AND question_order = ?", roomID, position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestionsNotBound
	}
	if err != nil {
		return nil, err
	}
	return s.GetQuestion(binding.QuestionID)
}

// CurrentQuestion returns the question at the room's current pointer.
func (s *QuestionService) CurrentQuestion(roomID string) (*models.QuizQuestion, error) {
	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return s.QuestionAt(roomID, room.CurrentQuestion)
}

// GetQuestion looks a question up in the catalog snapshot.
func (s *QuestionService) GetQuestion(questionID string) (*models.QuizQuestion, error) {
	var q models.QuizQuestion
	err := s.DB.First(&q, "id = ?", questionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownQuestion
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
