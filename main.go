package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"battle-arena-service/handlers"
	"battle-arena-service/middleware"
	"battle-arena-service/models"
	"battle-arena-service/services"
	"battle-arena-service/utils"
	"battle-arena-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — this service only moves JSON
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError lets the room code generator detect uniqueness conflicts
	// as gorm.ErrDuplicatedKey instead of driver-specific errors.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.BattleRoom{},
		&models.BattleParticipant{},
		&models.BattleQuestion{},
		&models.BattleAnswer{},
		&models.BattleEvent{},
		&models.BattleUser{},
		&models.QuizQuestion{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	minPlayers := 2
	if v := os.Getenv("BATTLE_MIN_PLAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			minPlayers = n
		}
	}

	eventService := services.NewEventService(db)
	leaderboardService := services.NewLeaderboardService(db)
	roomService := services.NewRoomService(db, eventService, leaderboardService, minPlayers)
	questionService := services.NewQuestionService(db)
	answerService := services.NewAnswerService(db, questionService, leaderboardService, eventService)
	statsService := services.NewStatsService(db)
	userService := services.NewUserService(db)

	syncServiceURL := os.Getenv("SYNC_SERVICE_URL")
	if syncServiceURL == "" {
		log.Fatal("SYNC_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("BATTLE_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("BATTLE_SERVICE_TOKEN environment variable not set")
	}

	userSyncWorker := workers.NewBattleUserSyncWorker(db, syncServiceURL, "/api/v1/public/profiles", serviceToken)
	questionSyncClient := workers.NewQuestionSyncClient(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.PollQuestions(ctx, questionSyncClient, 1*time.Minute)

	go func() {
		log.Println("Starting Battle User Sync Worker...")
		userSyncWorker.Start(ctx)
	}()

	roomService.StartMaintenanceScheduler()

	handlers.SetupBattleRoutes(app, &handlers.BattleHandlers{
		Rooms:       roomService,
		Questions:   questionService,
		Answers:     answerService,
		Leaderboard: leaderboardService,
		Events:      eventService,
		Stats:       statsService,
		Users:       userService,
	})

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Battle User Sync Worker running")
	log.Println("✅ Question catalog polling running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
