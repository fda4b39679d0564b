package database

import "time"

type Colorization struct {
	ID             string    `json:"id" bson:"id" db:"id"`
	UserID         string    `json:"user_id" bson:"user_id" db:"user_id"`
	OriginalImage  string    `json:"original_image" bson:"original_image" db:"original_image"`    // PNG data URI
	ColorizedImage string    `json:"colorized_image" bson:"colorized_image" db:"colorized_image"` // PNG data URI
	ModelID        string    `json:"model_id" bson:"model_id" db:"model_id"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

type UserProfile struct {
	ID                string    `json:"id" bson:"id" db:"id"`
	ColorizationCount int64     `json:"colorization_count" bson:"colorization_count" db:"colorization_count"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// NewColorization assembles a record with a fresh ID. It has no side effects.
func NewColorization(userID, originalImage, colorizedImage, modelID string, now time.Time) *Colorization {
	return &Colorization{
		ID:             generateID(),
		UserID:         userID,
		OriginalImage:  originalImage,
		ColorizedImage: colorizedImage,
		ModelID:        modelID,
		CreatedAt:      now.UTC(),
	}
}
