package models

import "time"

// QuizQuestion is a local snapshot of the content service's question catalog.
// Read-only for the engine: bind validates against it, scoring reads the
// correct option from it. Populated via sync worker.
type QuizQuestion struct {
	ID            string `gorm:"primaryKey" json:"id"` // content service's question id
	Prompt        string `gorm:"type:text;not null" json:"prompt"`
	OptionA       string `gorm:"type:text" json:"option_a"`
	OptionB       string `gorm:"type:text" json:"option_b"`
	OptionC       string `gorm:"type:text" json:"option_c"`
	OptionD       string `gorm:"type:text" json:"option_d"`
	CorrectOption string `gorm:"type:varchar(1);not null" json:"-"` // "A".."D", never exposed pre-answer
	Explanation   string `gorm:"type:text" json:"explanation,omitempty"`

	CategoryID   *string `gorm:"index" json:"category_id,omitempty"`
	CategoryName string  `json:"category_name,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
