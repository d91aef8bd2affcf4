package domain

import "time"

type WindowPosition struct {
	UserID    string    `json:"user_id"`
	X         int       `json:"x_position"`
	Y         int       `json:"y_position"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UpdateWindowPositionRequest struct {
	X      int `json:"x_position" validate:"gte=0"`
	Y      int `json:"y_position" validate:"gte=0"`
	Width  int `json:"width" validate:"required,gt=0"`
	Height int `json:"height" validate:"required,gt=0"`
}
