package handlers

import (
	"battle-arena-service/middleware"
	"battle-arena-service/services"

	"github.com/gofiber/fiber/v2"
)

type BattleHandlers struct {
	Rooms       *services.RoomService
	Questions   *services.QuestionService
	Answers     *services.AnswerService
	Leaderboard *services.LeaderboardService
	Events      *services.EventService
	Stats       *services.StatsService
	Users       *services.UserService
}

func SetupBattleRoutes(app *fiber.App, h *BattleHandlers) {
	// 🔓 Gateway-authenticated but no user context required
	app.Get("/battle/users/search", h.searchUsers)

	// SSE stream: auth context arrives via query params (EventSource can't set headers)
	app.Get("/s/battle/rooms/:id/events/stream", middleware.SSEAuthMiddleware(), h.Events.StreamRoomEventsSSE)

	// 🔐 Authenticated routes
	secured := app.Group("/s/battle", middleware.UserContextMiddleware())

	secured.Post("/rooms", h.createRoom)
	secured.Get("/rooms/:id", h.getRoom)
	secured.Post("/rooms/join", h.joinRoom)
	secured.Post("/rooms/:id/leave", h.leaveRoom)
	secured.Post("/rooms/:id/ready", h.toggleReady)
	secured.Post("/rooms/:id/questions", h.bindQuestions)
	secured.Post("/rooms/:id/start", h.startGame)
	secured.Post("/rooms/:id/answers", h.submitAnswer)
	secured.Get("/rooms/:id/standing", h.getStanding)
	secured.Post("/rooms/:id/finish", h.finishRoom)
	secured.Post("/rooms/:id/concede", h.concede)
	secured.Post("/rooms/:id/chat", h.chat)
	secured.Post("/rooms/:id/reactions", h.react)
	secured.Get("/rooms/:id/events", h.recentEvents)
	secured.Get("/rooms/:id/question", h.currentQuestion)

	secured.Get("/users/me/battle-stats", h.myStats)
	secured.Get("/users/me/battle-history", h.myHistory)
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(services.HTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func (h *BattleHandlers) createRoom(c *fiber.Ctx) error {
	var req struct {
		GameMode      string  `json:"game_mode"`
		CategoryID    *string `json:"category_id"`
		QuestionCount int     `json:"question_count"`
		MaxPlayers    int     `json:"max_players"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.GameMode == "" {
		req.GameMode = "classic"
	}
	room, err := h.Rooms.CreateRoom(callerID(c), req.GameMode, req.CategoryID, req.QuestionCount, req.MaxPlayers)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(room)
}

func (h *BattleHandlers) getRoom(c *fiber.Ctx) error {
	room, err := h.Rooms.GetRoom(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(room)
}

func (h *BattleHandlers) joinRoom(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	room, err := h.Rooms.JoinRoom(req.Code, callerID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(room)
}

func (h *BattleHandlers) leaveRoom(c *fiber.Ctx) error {
	if err := h.Rooms.LeaveRoom(c.Params("id"), callerID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "left"})
}

func (h *BattleHandlers) toggleReady(c *fiber.Ctx) error {
	var req struct {
		Ready bool `json:"ready"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.Rooms.ToggleReady(c.Params("id"), callerID(c), req.Ready); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ready": req.Ready})
}

func (h *BattleHandlers) bindQuestions(c *fiber.Ctx) error {
	var req struct {
		QuestionIDs []string `json:"question_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.Questions.BindQuestions(c.Params("id"), callerID(c), req.QuestionIDs); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"bound": len(req.QuestionIDs)})
}

func (h *BattleHandlers) startGame(c *fiber.Ctx) error {
	room, err := h.Rooms.StartGame(c.Params("id"), callerID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(room)
}

func (h *BattleHandlers) submitAnswer(c *fiber.Ctx) error {
	var req struct {
		QuestionOrder  int    `json:"question_order"`
		SelectedOption string `json:"selected_option"`
		TimeSpentMs    int64  `json:"time_spent_ms"`
		PowerUp        string `json:"power_up"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	result, err := h.Answers.Submit(c.Params("id"), callerID(c), req.QuestionOrder, req.SelectedOption, req.TimeSpentMs, req.PowerUp)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (h *BattleHandlers) getStanding(c *fiber.Ctx) error {
	standing, err := h.Leaderboard.ComputeStanding(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"standing": standing})
}

func (h *BattleHandlers) finishRoom(c *fiber.Ctx) error {
	standing, err := h.Rooms.FinishRoom(c.Params("id"), callerID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"standing": standing})
}

func (h *BattleHandlers) concede(c *fiber.Ctx) error {
	if err := h.Rooms.Concede(c.Params("id"), callerID(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "conceded"})
}

func (h *BattleHandlers) chat(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.Events.Chat(c.Params("id"), callerID(c), req.Message); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *BattleHandlers) react(c *fiber.Ctx) error {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.Events.React(c.Params("id"), callerID(c), req.Emoji); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *BattleHandlers) recentEvents(c *fiber.Ctx) error {
	events, err := h.Events.Recent(c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *BattleHandlers) currentQuestion(c *fiber.Ctx) error {
	question, err := h.Questions.CurrentQuestion(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(question)
}

func (h *BattleHandlers) myStats(c *fiber.Ctx) error {
	stats, err := h.Stats.GetStatistics(callerID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(stats)
}

func (h *BattleHandlers) myHistory(c *fiber.Ctx) error {
	history, err := h.Stats.GetHistory(callerID(c), c.QueryInt("limit", 20))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"history": history})
}

func (h *BattleHandlers) searchUsers(c *fiber.Ctx) error {
	users, err := h.Users.SearchUsers(c.Query("q", ""), c.QueryInt("limit", 50))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}
