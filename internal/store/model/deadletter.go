package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeadLetter struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	JobID     uuid.UUID `gorm:"not null;index"`
	Task      string    `gorm:"not null"`
	Reason    string    `gorm:"not null"`
	Attempts  int
	CreatedAt time.Time `gorm:"index"`
}

type DeadLetterList []DeadLetter

func (d DeadLetter) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}
