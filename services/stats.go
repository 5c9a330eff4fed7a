package services

import (
	"time"

	"battle-arena-service/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

type StatsService struct {
	DB *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// BattleStats is the per-user rollup over finished rooms. It is derived on
// read, never stored incrementally, so it can't drift from the ledger.
type BattleStats struct {
	TotalBattles int64   `json:"total_battles"`
	BattlesWon   int64   `json:"battles_won"`
	WinRate      float64 `json:"win_rate"`
	PowerUpsUsed int64   `json:"power_ups_used"`
}

// BattleHistoryEntry summarizes one finished battle for the history screen.
type BattleHistoryEntry struct {
	RoomID         string     `json:"room_id"`
	RoomCode       string     `json:"room_code"`
	GameMode       string     `json:"game_mode"`
	CategoryName   string     `json:"category_name,omitempty"`
	CategorySlug   string     `json:"category_slug,omitempty"`
	Score          int64      `json:"score"`
	Rank           int        `json:"rank"`
	IsWinner       bool       `json:"is_winner"`
	CorrectAnswers int        `json:"correct_answers"`
	TotalAnswered  int        `json:"total_answered"`
	DurationSec    *int64     `json:"duration_sec,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

var titleCaser = cases.Title(language.English)

// GetStatistics rolls up the user's participant rows across finished rooms.
// A user with zero finished battles gets a zero win rate, never a division
// fault.
func (s *StatsService) GetStatistics(userID string) (*BattleStats, error) {
	base := s.DB.Model(&models.BattleParticipant{}).
		Joins("JOIN battle_rooms r ON r.id = battle_participants.room_id").
		Where("battle_participants.external_user_id = ? AND r.status = ?", userID, models.RoomStatusFinished)

	var stats BattleStats
	if err := base.Session(&gorm.Session{}).Count(&stats.TotalBattles).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("battle_participants.rank = 1").Count(&stats.BattlesWon).Error; err != nil {
		return nil, err
	}

	type sums struct{ PowerUps int64 }
	var agg sums
	if err := base.Session(&gorm.Session{}).
		Select("COALESCE(SUM(battle_participants.power_ups_used), 0) AS power_ups").
		Scan(&agg).Error; err != nil {
		return nil, err
	}
	stats.PowerUpsUsed = agg.PowerUps

	if stats.TotalBattles > 0 {
		stats.WinRate = float64(stats.BattlesWon) / float64(stats.TotalBattles)
	}
	return &stats, nil
}

// GetHistory returns the user's finished battles, newest first.
func (s *StatsService) GetHistory(userID string, limit int) ([]BattleHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	type row struct {
		RoomID         string
		Score          int64
		Rank           int
		IsWinner       bool
		CorrectAnswers int
		TotalAnswered  int
		RoomCode       string
		GameMode       string
		CategoryName   string
		StartedAt      *time.Time
		FinishedAt     *time.Time
	}
	var rows []row
	err := s.DB.Model(&models.BattleParticipant{}).
		Select("battle_participants.room_id, battle_participants.score, battle_participants.rank, battle_participants.is_winner, battle_participants.correct_answers, battle_participants.total_answered, r.code AS room_code, r.game_mode, r.category_name, r.started_at, r.finished_at").
		Joins("JOIN battle_rooms r ON r.id = battle_participants.room_id").
		Where("battle_participants.external_user_id = ? AND r.status = ?", userID, models.RoomStatusFinished).
		Order("r.finished_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	history := make([]BattleHistoryEntry, 0, len(rows))
	for _, r := range rows {
		entry := BattleHistoryEntry{
			RoomID:         r.RoomID,
			RoomCode:       r.RoomCode,
			GameMode:       r.GameMode,
			Score:          r.Score,
			Rank:           r.Rank,
			IsWinner:       r.IsWinner,
			CorrectAnswers: r.CorrectAnswers,
			TotalAnswered:  r.TotalAnswered,
			FinishedAt:     r.FinishedAt,
		}
		if r.CategoryName != "" {
			entry.CategoryName = titleCaser.String(r.CategoryName)
			entry.CategorySlug = slug.Make(r.CategoryName)
		}
		if r.StartedAt != nil && r.FinishedAt != nil {
			d := int64(r.FinishedAt.Sub(*r.StartedAt).Seconds())
			entry.DurationSec = &d
		}
		history = append(history, entry)
	}
	return history, nil
}
