package store

import (
	"context"
	"errors"

	"docqa/pkg/domain"
)

var (
	// ErrStaleQuery means the query was no longer in the expected status.
	ErrStaleQuery = errors.New("query status changed concurrently")
	// ErrStaleDocument means the document was no longer in the expected status.
	ErrStaleDocument = errors.New("document status changed concurrently")
	// ErrInvalidTransition rejects a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUserNotFound      = errors.New("user not found")
)

// Store defines persistence operations for users, documents, queries and
// the balance ledger.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// documents
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
	// AdvanceDocument writes d only if the stored status still equals from.
	AdvanceDocument(ctx context.Context, d domain.Document, from domain.DocumentStatus) error

	// chunks
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	SetChunkEmbedding(ctx context.Context, id string, embedding []float32) error
	SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int) ([]domain.Chunk, error)

	// queries
	CreateQuery(ctx context.Context, q domain.Query) error
	GetQuery(ctx context.Context, id string) (domain.Query, bool, error)
	ListQueriesByUser(ctx context.Context, userID string, limit int) ([]domain.Query, error)
	// TransitionQuery writes status, answer, tokens, cost and failure of q
	// in one statement, only if the stored status still equals from.
	TransitionQuery(ctx context.Context, q domain.Query, from domain.QueryStatus) error

	// ledger
	Ledger
}

// Ledger applies balance changes. Each call updates the balance and inserts
// its transaction record atomically and returns the resulting balance.
type Ledger interface {
	// ApplyDebit subtracts txn.Amount from txn.UserID only while the balance
	// covers it; otherwise it fails with ledger.ErrInsufficientFunds.
	ApplyDebit(ctx context.Context, txn domain.Transaction) (domain.User, error)
	ApplyCredit(ctx context.Context, txn domain.Transaction) (domain.User, error)
	// ApplyTransfer debits out.UserID and credits in.UserID together.
	ApplyTransfer(ctx context.Context, out, in domain.Transaction) error
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}
