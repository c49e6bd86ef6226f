package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string          `gorm:"primaryKey"`
	Email     string          `gorm:"uniqueIndex;not null"`
	Username  string          `gorm:"not null"`
	Balance   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	Role      string          `gorm:"not null"`
	Status    string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	OwnerID      string `gorm:"not null;index"`
	Filename     string `gorm:"not null"`
	StorageKey   string
	Status       string `gorm:"not null;index"`
	ErrorMessage string
	SizeBytes    int64     `gorm:"not null"`
	PageCount    int       `gorm:"not null;default:0"`
	ChunkCount   int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type QueryModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index"`
	DocumentID    string `gorm:"not null;index"`
	Question      string `gorm:"type:text;not null"`
	Answer        *string
	Cost          decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	InputTokens   int             `gorm:"not null;default:0"`
	OutputTokens  int             `gorm:"not null;default:0"`
	TotalTokens   int             `gorm:"not null;default:0"`
	Status        string          `gorm:"not null;index"`
	FailureKind   string
	FailureReason string
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type TransactionModel struct {
	ID          string          `gorm:"primaryKey"`
	UserID      string          `gorm:"not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Type        string          `gorm:"not null"`
	Status      string          `gorm:"not null"`
	Description string
	QueryID     *string   `gorm:"index"`
	AdminID     *string
	CreatedAt   time.Time `gorm:"not null;index"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	DocumentID string           `gorm:"not null;index"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(3072)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}
