// workers/question_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"battle-arena-service/models"
	"battle-arena-service/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuestionSyncClient mirrors the content service's question catalog into the
// local quiz_questions snapshot table.
type QuestionSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewQuestionSyncClient(db *gorm.DB) *QuestionSyncClient {
	baseURL := os.Getenv("CONTENT_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("CONTENT_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("BATTLE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("BATTLE_SERVICE_TOKEN environment variable is required for question sync")
	}

	return &QuestionSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *QuestionSyncClient) GetChangedQuestions(ctx context.Context, since time.Time) ([]models.QuizQuestion, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/questions", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call content service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("content service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Questions []models.QuizQuestion `json:"questions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode content service response: %w", err)
	}
	return response.Questions, nil
}

func (c *QuestionSyncClient) upsertQuestions(questions []models.QuizQuestion) {
	var upserted int
	for _, question := range questions {
		if err := c.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"prompt", "option_a", "option_b", "option_c", "option_d",
				"correct_option", "explanation", "category_id", "category_name", "updated_at",
			}),
		}).Create(&question).Error; err != nil {
			log.Printf("[QSYNC] ⚠️ Failed to upsert question %s: %v", question.ID, err)
			continue
		}
		upserted++
	}
	if upserted > 0 {
		log.Printf("[QSYNC] ✅ Upserted %d question(s)", upserted)
	}
}

func (c *QuestionSyncClient) lastSyncTime() time.Time {
	var lastTime time.Time
	err := c.DB.Raw("SELECT MAX(updated_at) FROM quiz_questions").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// PollQuestions runs the catalog sync loop until ctx is canceled.
func PollQuestions(ctx context.Context, client *QuestionSyncClient, interval time.Duration) {
	log.Println("🔁 Starting question catalog polling (content service → quiz_questions)…")

	// Backfill on boot.
	if questions, err := client.GetChangedQuestions(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial question sync failed: %v", err)
	} else {
		client.upsertQuestions(questions)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			questions, err := client.GetChangedQuestions(ctx, client.lastSyncTime())
			if err != nil {
				log.Printf("❌ Question sync failed: %v", err)
				continue
			}
			client.upsertQuestions(questions)
		case <-ctx.Done():
			log.Println("⏹️ Question catalog polling stopped")
			return
		}
	}
}
