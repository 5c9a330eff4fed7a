package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"battle-arena-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("battles_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		panic(err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	if err := testDB.AutoMigrate(
		&models.BattleRoom{},
		&models.BattleParticipant{},
		&models.BattleQuestion{},
		&models.BattleAnswer{},
		&models.BattleEvent{},
		&models.BattleUser{},
		&models.QuizQuestion{},
	); err != nil {
		panic(err)
	}

	code := m.Run()

	pgContainer.Terminate(ctx)
	os.Exit(code)
}

func newBattleServices() (*RoomService, *QuestionService, *AnswerService, *LeaderboardService, *EventService, *StatsService) {
	events := NewEventService(testDB)
	leaderboard := NewLeaderboardService(testDB)
	rooms := NewRoomService(testDB, events, leaderboard, 2)
	questions := NewQuestionService(testDB)
	answers := NewAnswerService(testDB, questions, leaderboard, events)
	stats := NewStatsService(testDB)
	return rooms, questions, answers, leaderboard, events, stats
}

func seedUser(t *testing.T, username string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, testDB.Create(&models.BattleUser{
		ExternalUserID: id,
		Username:       username,
	}).Error)
	return id
}

// seedQuestions creates n catalog questions whose correct option is always B.
func seedQuestions(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		q := models.QuizQuestion{
			ID:            uuid.NewString(),
			Prompt:        fmt.Sprintf("Which answer is B? (%d)", i+1),
			OptionA:       "not this one",
			OptionB:       "this one",
			OptionC:       "nope",
			OptionD:       "definitely not",
			CorrectOption: "B",
			Explanation:   "B was the right call.",
		}
		require.NoError(t, testDB.Create(&q).Error)
		ids = append(ids, q.ID)
	}
	return ids
}

// startedBattle spins up an active room with the given players and question count.
func startedBattle(t *testing.T, rooms *RoomService, questions *QuestionService, questionCount int, usernames ...string) (*models.BattleRoom, []string) {
	t.Helper()
	userIDs := make([]string, 0, len(usernames))
	for _, name := range usernames {
		userIDs = append(userIDs, seedUser(t, name))
	}
	room, err := rooms.CreateRoom(userIDs[0], models.GameModeClassic, nil, questionCount, 10)
	require.NoError(t, err)
	for _, uid := range userIDs[1:] {
		_, err := rooms.JoinRoom(room.Code, uid)
		require.NoError(t, err)
	}
	require.NoError(t, questions.BindQuestions(room.ID, userIDs[0], seedQuestions(t, questionCount)))
	room, err = rooms.StartGame(room.ID, userIDs[0])
	require.NoError(t, err)
	return room, userIDs
}

func TestCreateRoom_SeedsHostAtomically(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "alice")

	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 4)
	require.NoError(t, err)
	assert.Len(t, room.Code, 6)
	assert.Equal(t, models.RoomStatusLobby, room.Status)
	assert.Equal(t, 1, room.CurrentPlayers)

	loaded, err := rooms.GetRoom(room.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Participants, 1)
	assert.True(t, loaded.Participants[0].IsHost)
	assert.Equal(t, "alice", loaded.Participants[0].Username)
}

func TestCreateRoom_Validation(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "bob")

	_, err := rooms.CreateRoom(host, "speedrun", nil, 5, 4)
	assert.ErrorIs(t, err, ErrInvalidGameMode)
	_, err = rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 1)
	assert.ErrorIs(t, err, ErrInvalidMaxPlayers)
	_, err = rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 11)
	assert.ErrorIs(t, err, ErrInvalidMaxPlayers)
	_, err = rooms.CreateRoom(uuid.NewString(), models.GameModeClassic, nil, 5, 4)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestJoinRoom_CapacityUnderConcurrency(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "host")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 2) // one free slot
	require.NoError(t, err)

	const contenders = 4
	userIDs := make([]string, contenders)
	for i := range userIDs {
		userIDs[i] = seedUser(t, fmt.Sprintf("contender-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rooms.JoinRoom(room.Code, userIDs[i])
		}(i)
	}
	wg.Wait()

	var joined, full int
	for _, err := range errs {
		switch {
		case err == nil:
			joined++
		case assert.ErrorIs(t, err, ErrRoomFull):
			full++
		}
	}
	assert.Equal(t, 1, joined)
	assert.Equal(t, contenders-1, full)

	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, 2, fresh.CurrentPlayers)

	var active int64
	require.NoError(t, testDB.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND is_active", room.ID).Count(&active).Error)
	assert.EqualValues(t, fresh.CurrentPlayers, active)
}

func TestJoinRoom_RejoinRejectedWhenSeatTaken(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "host")
	guest := seedUser(t, "guest")
	usurper := seedUser(t, "usurper")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 2)
	require.NoError(t, err)

	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)
	require.NoError(t, rooms.LeaveRoom(room.ID, guest))

	// The freed slot goes to someone else before the guest comes back.
	_, err = rooms.JoinRoom(room.Code, usurper)
	require.NoError(t, err)

	_, err = rooms.JoinRoom(room.Code, guest)
	assert.ErrorIs(t, err, ErrRoomFull)

	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.LessOrEqual(t, fresh.CurrentPlayers, fresh.MaxPlayers)

	var participant models.BattleParticipant
	require.NoError(t, testDB.First(&participant, "room_id = ? AND external_user_id = ?", room.ID, guest).Error)
	assert.False(t, participant.IsActive, "rejected rejoin must not reactivate the row")
}

func TestJoinRoom_RejoinReactivates(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "host")
	guest := seedUser(t, "guest")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 4)
	require.NoError(t, err)

	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)
	require.NoError(t, rooms.LeaveRoom(room.ID, guest))
	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)

	var rowCount int64
	require.NoError(t, testDB.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND external_user_id = ?", room.ID, guest).Count(&rowCount).Error)
	assert.EqualValues(t, 1, rowCount, "rejoin must reactivate, not duplicate")

	var participant models.BattleParticipant
	require.NoError(t, testDB.First(&participant, "room_id = ? AND external_user_id = ?", room.ID, guest).Error)
	assert.True(t, participant.IsActive)
	assert.Nil(t, participant.LeftAt)

	// Every join event names the participant, so consumers can correlate it
	// with the later answer/leave events for the same row.
	var joinEvents []models.BattleEvent
	require.NoError(t, testDB.Where("room_id = ? AND kind = ?", room.ID, models.EventJoin).Find(&joinEvents).Error)
	require.NotEmpty(t, joinEvents)
	for _, ev := range joinEvents {
		require.NotNil(t, ev.ParticipantID)
		assert.NotEmpty(t, *ev.ParticipantID)
	}
}

func TestHostLeavesLobby_AbandonsRoom(t *testing.T) {
	rooms, _, _, _, _, _ := newBattleServices()
	host := seedUser(t, "loner")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 5, 4)
	require.NoError(t, err)

	require.NoError(t, rooms.LeaveRoom(room.ID, host))

	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, models.RoomStatusAbandoned, fresh.Status)

	var ranked int64
	require.NoError(t, testDB.Model(&models.BattleParticipant{}).
		Where("room_id = ? AND rank > 0", room.ID).Count(&ranked).Error)
	assert.EqualValues(t, 0, ranked, "abandoned rooms never get a leaderboard")
}

func TestBindQuestions_Immutable(t *testing.T) {
	rooms, questions, _, _, _, _ := newBattleServices()
	host := seedUser(t, "host")
	guest := seedUser(t, "guest")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 3, 4)
	require.NoError(t, err)
	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)

	qids := seedQuestions(t, 3)
	require.NoError(t, questions.BindQuestions(room.ID, host, qids))
	assert.ErrorIs(t, questions.BindQuestions(room.ID, host, qids), ErrQuestionsAlreadyBound)

	err = questions.BindQuestions(uuid.NewString(), host, qids)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	q, err := questions.QuestionAt(room.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, qids[1], q.ID)
}

func TestStartGame_Preconditions(t *testing.T) {
	rooms, questions, _, _, _, _ := newBattleServices()
	host := seedUser(t, "host")
	guest := seedUser(t, "guest")
	room, err := rooms.CreateRoom(host, models.GameModeClassic, nil, 3, 4)
	require.NoError(t, err)

	// No questions bound yet.
	_, err = rooms.StartGame(room.ID, host)
	assert.ErrorIs(t, err, ErrQuestionsNotBound)

	require.NoError(t, questions.BindQuestions(room.ID, host, seedQuestions(t, 3)))

	// Still alone in the room.
	_, err = rooms.StartGame(room.ID, host)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)

	// Only the host may start.
	_, err = rooms.StartGame(room.ID, guest)
	assert.ErrorIs(t, err, ErrNotHost)

	started, err := rooms.StartGame(room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusActive, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.True(t, started.IsLocked)

	// Starting twice is a conflict, and membership is closed.
	_, err = rooms.StartGame(room.ID, host)
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)
	late := seedUser(t, "latecomer")
	_, err = rooms.JoinRoom(room.Code, late)
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)
}

func TestSubmit_ConcurrentDuplicateScoredOnce(t *testing.T) {
	rooms, questions, answers, _, _, _ := newBattleServices()
	room, users := startedBattle(t, rooms, questions, 5, "u1", "u2", "u3")
	u2 := users[1]

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = answers.Submit(room.ID, u2, 1, "B", 5000, "")
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if assert.ErrorIs(t, err, ErrDuplicateAnswer) {
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)

	var answerRows []models.BattleAnswer
	require.NoError(t, testDB.Where("room_id = ?", room.ID).Find(&answerRows).Error)
	require.Len(t, answerRows, 1)

	var participant models.BattleParticipant
	require.NoError(t, testDB.First(&participant, "room_id = ? AND external_user_id = ?", room.ID, u2).Error)
	assert.Equal(t, answerRows[0].PointsEarned, participant.Score, "score credited exactly once")
	assert.Equal(t, 1, participant.TotalAnswered)
	assert.Equal(t, 1, participant.CorrectAnswers)
}

func TestFullBattle_FinishesAndRanksDeterministically(t *testing.T) {
	rooms, questions, answers, leaderboard, _, stats := newBattleServices()
	room, users := startedBattle(t, rooms, questions, 5, "u1", "u2", "u3")

	// Everyone answers everything correctly with identical timing, so scores
	// and correct counts tie and rank falls back to join order.
	for order := 1; order <= 5; order++ {
		for _, uid := range users {
			res, err := answers.Submit(room.ID, uid, order, "B", 10_000, "")
			require.NoError(t, err)
			assert.True(t, res.IsCorrect)
			assert.Equal(t, order, res.Streak)
		}
	}

	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, models.RoomStatusFinished, fresh.Status)
	require.NotNil(t, fresh.FinishedAt)

	standing, err := leaderboard.ComputeStanding(room.ID)
	require.NoError(t, err)
	require.Len(t, standing, 3)
	for i, p := range standing {
		assert.Equal(t, i+1, p.Rank)
		assert.Equal(t, users[i], p.ExternalUserID, "ties break by join order")
		assert.Equal(t, i == 0, p.IsWinner)
	}

	// Ledger and cached totals agree.
	for _, p := range standing {
		var sum int64
		require.NoError(t, testDB.Model(&models.BattleAnswer{}).
			Where("room_id = ? AND participant_id = ?", room.ID, p.ID).
			Select("COALESCE(SUM(points_earned), 0)").Scan(&sum).Error)
		assert.Equal(t, sum, p.Score)
	}

	// A late submission to the finished room is rejected.
	_, err = answers.Submit(room.ID, users[0], 5, "B", 1000, "")
	assert.ErrorIs(t, err, ErrGameFinished)

	// A redundant finalize after the fact is a no-op with the same standing.
	finalized, again, err := leaderboard.Finalize(room.ID)
	require.NoError(t, err)
	assert.False(t, finalized)
	require.Len(t, again, 3)
	assert.Equal(t, standing[0].ID, again[0].ID)

	// Winner statistics come straight from the finished room.
	winnerStats, err := stats.GetStatistics(users[0])
	require.NoError(t, err)
	assert.EqualValues(t, 1, winnerStats.TotalBattles)
	assert.EqualValues(t, 1, winnerStats.BattlesWon)
	assert.Equal(t, 1.0, winnerStats.WinRate)

	history, err := stats.GetHistory(users[0], 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, room.Code, history[0].RoomCode)
	assert.Equal(t, 1, history[0].Rank)
	require.NotNil(t, history[0].DurationSec)
}

func TestFinalize_ConcurrentCallersAssignRanksOnce(t *testing.T) {
	rooms, questions, _, leaderboard, _, _ := newBattleServices()
	room, _ := startedBattle(t, rooms, questions, 3, "p1", "p2")

	var wg sync.WaitGroup
	finalizedFlags := make([]bool, 2)
	finalizeErrs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			finalizedFlags[i], _, finalizeErrs[i] = leaderboard.Finalize(room.ID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, finalizeErrs[0])
	require.NoError(t, finalizeErrs[1])

	assert.NotEqual(t, finalizedFlags[0], finalizedFlags[1], "exactly one caller wins the finalize")

	var ranks []int
	require.NoError(t, testDB.Model(&models.BattleParticipant{}).
		Where("room_id = ?", room.ID).Order("rank ASC").Pluck("rank", &ranks).Error)
	assert.Equal(t, []int{1, 2}, ranks)
}

func TestConcede_MidGameKeepsHistory(t *testing.T) {
	rooms, questions, answers, _, events, _ := newBattleServices()
	room, users := startedBattle(t, rooms, questions, 5, "u1", "u2", "u3")
	u2 := users[1]

	_, err := answers.Submit(room.ID, u2, 1, "B", 3000, PowerUpDoublePoints)
	require.NoError(t, err)

	require.NoError(t, rooms.Concede(room.ID, u2))

	var participant models.BattleParticipant
	require.NoError(t, testDB.First(&participant, "room_id = ? AND external_user_id = ?", room.ID, u2).Error)
	assert.False(t, participant.IsActive)
	require.NotNil(t, participant.LeftAt)
	assert.Equal(t, 1, participant.PowerUpsUsed)

	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, 2, fresh.CurrentPlayers)
	assert.Equal(t, models.RoomStatusActive, fresh.Status, "two players remain mid-game")

	// The ledger survives the departure.
	var answerRows int64
	require.NoError(t, testDB.Model(&models.BattleAnswer{}).
		Where("room_id = ? AND participant_id = ?", room.ID, participant.ID).Count(&answerRows).Error)
	assert.EqualValues(t, 1, answerRows)

	recent, err := events.Recent(room.ID, 50)
	require.NoError(t, err)
	var sawConcede bool
	for _, ev := range recent {
		if ev.Kind == models.EventConcede {
			sawConcede = true
		}
	}
	assert.True(t, sawConcede, "concede must be distinguishable in the event log")

	// Conceding again is a no-op; a plain leave on a lobby-only member still errors.
	require.NoError(t, rooms.Concede(room.ID, u2))
	assert.ErrorIs(t, rooms.Concede(room.ID, uuid.NewString()), ErrParticipantNotFound)
}

func TestSuddenDeath_MissEliminates(t *testing.T) {
	rooms, questions, answers, _, _, _ := newBattleServices()
	host := seedUser(t, "sd-host")
	guest := seedUser(t, "sd-guest")
	room, err := rooms.CreateRoom(host, models.GameModeSuddenDeath, nil, 3, 4)
	require.NoError(t, err)
	_, err = rooms.JoinRoom(room.Code, guest)
	require.NoError(t, err)
	require.NoError(t, questions.BindQuestions(room.ID, host, seedQuestions(t, 3)))
	_, err = rooms.StartGame(room.ID, host)
	require.NoError(t, err)

	res, err := answers.Submit(room.ID, guest, 1, "A", 2000, "")
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.EqualValues(t, 0, res.PointsEarned)
	assert.Equal(t, 0, res.Streak)

	var participant models.BattleParticipant
	require.NoError(t, testDB.First(&participant, "room_id = ? AND external_user_id = ?", room.ID, guest).Error)
	assert.False(t, participant.IsActive, "a miss in sudden death eliminates")

	// The eliminated player can no longer submit.
	_, err = answers.Submit(room.ID, guest, 2, "B", 2000, "")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestStatistics_ZeroBattlesZeroWinRate(t *testing.T) {
	_, _, _, _, _, stats := newBattleServices()
	newcomer := seedUser(t, "newcomer")

	s, err := stats.GetStatistics(newcomer)
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.TotalBattles)
	assert.EqualValues(t, 0, s.BattlesWon)
	assert.Equal(t, 0.0, s.WinRate)
	assert.EqualValues(t, 0, s.PowerUpsUsed)

	history, err := stats.GetHistory(newcomer, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmit_InputValidation(t *testing.T) {
	rooms, questions, answers, _, _, _ := newBattleServices()
	room, users := startedBattle(t, rooms, questions, 3, "v1", "v2")

	_, err := answers.Submit(room.ID, users[0], 1, "E", 1000, "")
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = answers.Submit(room.ID, users[0], 1, "B", 1000, "wallhack")
	assert.ErrorIs(t, err, ErrInvalidPowerUp)
	_, err = answers.Submit(room.ID, users[0], 9, "B", 1000, "")
	assert.ErrorIs(t, err, ErrInvalidQuestionOrder)
	_, err = answers.Submit(room.ID, uuid.NewString(), 1, "B", 1000, "")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestPointerAdvancesAndNeverMovesBack(t *testing.T) {
	rooms, questions, answers, _, _, _ := newBattleServices()
	room, users := startedBattle(t, rooms, questions, 3, "q1", "q2")

	// Both answer question 1: pointer moves to 2.
	for _, uid := range users {
		_, err := answers.Submit(room.ID, uid, 1, "B", 1000, "")
		require.NoError(t, err)
	}
	var fresh models.BattleRoom
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, 2, fresh.CurrentQuestion)

	// One player races ahead to question 3; the pointer stays at 2 until
	// question 2 is fully answered.
	_, err := answers.Submit(room.ID, users[0], 3, "B", 1000, "")
	require.NoError(t, err)
	require.NoError(t, testDB.First(&fresh, "id = ?", room.ID).Error)
	assert.Equal(t, 2, fresh.CurrentQuestion)

	// The laggard's late answer to question 2 still scores.
	res, err := answers.Submit(room.ID, users[1], 2, "B", 1000, "")
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
}
