package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"battle-arena-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxChatMessageLen = 500

// EventService owns the append-only per-room event stream. Within a room,
// insertion order is the only ordering contract; consumers must tolerate gaps
// and duplicate delivery.
type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// Record appends one event. Event writes are best-effort observers of state
// that has already been committed, so failures are logged, not propagated.
func (s *EventService) Record(roomID string, participantID *string, kind models.BattleEventKind, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EVENTS] marshal failed for %s/%s: %v", roomID, kind, err)
		return
	}
	event := models.BattleEvent{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		ParticipantID: participantID,
		Kind:          kind,
		Payload:       raw,
	}
	if err := s.DB.Create(&event).Error; err != nil {
		log.Printf("[EVENTS] append failed for %s/%s: %v", roomID, kind, err)
	}
}

// Recent returns the newest events for a room, oldest first.
func (s *EventService) Recent(roomID string, limit int) ([]models.BattleEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []models.BattleEvent
	err := s.DB.Where("room_id = ?", roomID).
		Order("created_at DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	// reverse into insertion order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Chat appends a chat message from an active participant.
func (s *EventService) Chat(roomID, userID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	if len(message) > maxChatMessageLen {
		message = message[:maxChatMessageLen]
	}
	participant, err := s.activeParticipant(roomID, userID)
	if err != nil {
		return err
	}
	s.Record(roomID, &participant.ID, models.EventChat, models.ChatPayload{
		Username: participant.Username,
		Message:  message,
	})
	return nil
}

// React appends an emoji reaction from an active participant.
func (s *EventService) React(roomID, userID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil
	}
	participant, err := s.activeParticipant(roomID, userID)
	if err != nil {
		return err
	}
	s.Record(roomID, &participant.ID, models.EventReaction, models.ReactionPayload{
		Username: participant.Username,
		Emoji:    emoji,
	})
	return nil
}

func (s *EventService) activeParticipant(roomID, userID string) (*models.BattleParticipant, error) {
	var participant models.BattleParticipant
	err := s.DB.First(&participant, "room_id = ? AND external_user_id = ? AND is_active", roomID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// StreamRoomEventsSSE streams new room events over SSE with a created-at
// cursor. The poll loop can redeliver an event whose timestamp ties the
// cursor; consumers already tolerate duplicates.
func (s *EventService) StreamRoomEventsSSE(c *fiber.Ctx) error {
	roomID := c.Params("id")

	var room models.BattleRoom
	if err := s.DB.First(&room, "id = ?", roomID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrRoomNotFound.Error()})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		var cursor time.Time
		var latest models.BattleEvent
		if err := s.DB.Where("room_id = ?", roomID).
			Order("created_at DESC").First(&latest).Error; err == nil {
			cursor = latest.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[EVENTS] SSE init error for room %s: %v", roomID, err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var fresh []models.BattleEvent
				err := s.DB.Where("room_id = ? AND created_at > ?", roomID, cursor).
					Order("created_at ASC").Find(&fresh).Error
				if err != nil {
					log.Printf("[EVENTS] SSE query error for room %s: %v", roomID, err)
					continue
				}
				if len(fresh) == 0 {
					continue
				}
				cursor = fresh[len(fresh)-1].CreatedAt

				for _, ev := range fresh {
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}
