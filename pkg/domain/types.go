package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleRegular UserRole = "regular"
	RoleAdmin   UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

type QueryStatus string

const (
	QueryPending    QueryStatus = "pending"
	QueryProcessing QueryStatus = "processing"
	QueryCompleted  QueryStatus = "completed"
	QueryFailed     QueryStatus = "failed"
)

type TransactionType string

const (
	TxTopUp       TransactionType = "top_up"
	TxQueryCharge TransactionType = "query_charge"
	TxRefund      TransactionType = "refund"
	TxAdminTopUp  TransactionType = "admin_top_up"
	TxTransferOut TransactionType = "transfer_out"
	TxTransferIn  TransactionType = "transfer_in"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRejected  TransactionStatus = "rejected"
)

type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	Role      UserRole        `json:"role"`
	Status    UserStatus      `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Active reports whether the account may spend.
func (u User) Active() bool {
	return u.Status == "" || u.Status == StatusActive
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Document struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"ownerId"`
	Filename     string         `json:"filename"`
	StorageKey   string         `json:"-"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	SizeBytes    int64          `json:"sizeBytes"`
	PageCount    int            `json:"pageCount"`
	ChunkCount   int            `json:"chunkCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (d Document) ReadyForQueries() bool {
	return d.Status == DocumentReady
}

// CanTransition reports whether the document may move to the given status.
// Documents only move forward: uploaded, processing, then ready or failed.
func (d Document) CanTransition(to DocumentStatus) bool {
	switch d.Status {
	case DocumentUploaded:
		return to == DocumentProcessing || to == DocumentFailed
	case DocumentProcessing:
		return to == DocumentReady || to == DocumentFailed
	default:
		return false
	}
}

type Query struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	DocumentID    string          `json:"documentId"`
	Question      string          `json:"question"`
	Answer        *string         `json:"answer,omitempty"`
	Cost          decimal.Decimal `json:"cost"`
	InputTokens   int             `json:"inputTokens"`
	OutputTokens  int             `json:"outputTokens"`
	TotalTokens   int             `json:"totalTokens"`
	Status        QueryStatus     `json:"status"`
	FailureKind   string          `json:"failureKind,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (q Query) Terminal() bool {
	return q.Status == QueryCompleted || q.Status == QueryFailed
}

// CanTransition encodes pending -> processing -> completed|failed.
// A pending query may also fail directly when its preconditions do not hold.
func (q Query) CanTransition(to QueryStatus) bool {
	switch q.Status {
	case QueryPending:
		return to == QueryProcessing || to == QueryFailed
	case QueryProcessing:
		return to == QueryCompleted || to == QueryFailed
	default:
		return false
	}
}

type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Amount      decimal.Decimal   `json:"amount"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	QueryID     *string           `json:"queryId,omitempty"`
	AdminID     *string           `json:"adminId,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"createdAt"`
	// Score is the cosine similarity to the search embedding. Only search
	// results carry it.
	Score float64 `json:"score,omitempty"`
}
