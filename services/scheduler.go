// services/scheduler.go
package services

import (
	"fmt"
	"log"
	"time"

	"battle-arena-service/models"
	"battle-arena-service/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/gosimple/slug"
)

// Rooms nobody touched for this long without starting are considered dead.
const staleLobbyAfter = 24 * time.Hour

func (s *RoomService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 10 minutes: abandon dead rooms.
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(s.sweepStaleRooms),
	)

	// Every 15 minutes: archive finalized battles to R2 for cold history.
	_, _ = sched.NewJob(
		gocron.DurationJob(15*time.Minute),
		gocron.NewTask(s.archiveFinishedRooms),
	)
}

// sweepStaleRooms is the explicit teardown path for abandoned sessions:
// pre-active rooms idle past the threshold, and any non-terminal room whose
// last active participant is gone.
func (s *RoomService) sweepStaleRooms() {
	cutoff := time.Now().Add(-staleLobbyAfter)

	res := s.DB.Model(&models.BattleRoom{}).
		Where("status IN ? AND updated_at < ?",
			[]string{models.RoomStatusLobby, models.RoomStatusWaiting}, cutoff).
		UpdateColumn("status", models.RoomStatusAbandoned)
	if res.Error != nil {
		log.Printf("[Scheduler] stale lobby sweep failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("[Scheduler] abandoned %d stale lobbies", res.RowsAffected)
	}

	res = s.DB.Model(&models.BattleRoom{}).
		Where("status NOT IN ? AND current_players = 0",
			[]string{models.RoomStatusFinished, models.RoomStatusAbandoned}).
		UpdateColumn("status", models.RoomStatusAbandoned)
	if res.Error != nil {
		log.Printf("[Scheduler] empty room sweep failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("[Scheduler] abandoned %d emptied rooms", res.RowsAffected)
	}
}

// battleArchive is the cold-storage record uploaded per finished room.
type battleArchive struct {
	Room       models.BattleRoom          `json:"room"`
	Standing   []models.BattleParticipant `json:"standing"`
	Events     []models.BattleEvent       `json:"events"`
	ArchivedAt time.Time                  `json:"archived_at"`
}

func (s *RoomService) archiveFinishedRooms() {
	var rooms []models.BattleRoom
	err := s.DB.Where("status = ? AND archived_at IS NULL", models.RoomStatusFinished).
		Limit(20).Find(&rooms).Error
	if err != nil {
		log.Printf("[Scheduler] archive scan failed: %v", err)
		return
	}

	for _, room := range rooms {
		var standing []models.BattleParticipant
		if err := s.DB.Where("room_id = ? AND rank > 0", room.ID).
			Order("rank ASC").Find(&standing).Error; err != nil {
			log.Printf("[Scheduler] archive standing load failed for %s: %v", room.Code, err)
			continue
		}
		var events []models.BattleEvent
		if err := s.DB.Where("room_id = ?", room.ID).
			Order("created_at ASC").Find(&events).Error; err != nil {
			log.Printf("[Scheduler] archive events load failed for %s: %v", room.Code, err)
			continue
		}

		now := time.Now()
		key := fmt.Sprintf("battles/%s.json", room.Code)
		if room.CategoryName != "" {
			key = fmt.Sprintf("battles/%s-%s.json", room.Code, slug.Make(room.CategoryName))
		}
		archive := battleArchive{Room: room, Standing: standing, Events: events, ArchivedAt: now}

		url, err := utils.ArchiveBattleToR2(key, archive)
		if err != nil {
			log.Printf("[Scheduler] archive upload failed for %s: %v", room.Code, err)
			continue
		}
		if err := s.DB.Model(&room).UpdateColumn("archived_at", &now).Error; err != nil {
			log.Printf("[Scheduler] archive stamp failed for %s: %v", room.Code, err)
			continue
		}
		log.Printf("✅ Archived battle %s → %s", room.Code, url)
	}
}
