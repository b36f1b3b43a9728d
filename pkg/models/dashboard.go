package models

import (
	"time"

	"github.com/google/uuid"
)

// Dashboard groups widgets, each of which renders a saved query.
// Widget layout and rendering live outside the engine; only the widget to
// query association is read here.
type Dashboard struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
