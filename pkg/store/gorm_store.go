package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docqa/pkg/domain"
	"docqa/pkg/ledger"
)

const migrateLockID int64 = 51937204

const (
	defaultEmbeddingDim      = 3072
	canonicalEmbeddingDimEnv = "DOCQA_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &QueryModel{}, &TransactionModel{}, &ChunkModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(
			"ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d)", embeddingDim,
		)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'document_models' AND constraint_name = 'document_models_owner_id_fkey') THEN
					ALTER TABLE document_models ADD CONSTRAINT document_models_owner_id_fkey
					FOREIGN KEY (owner_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'chunk_models' AND constraint_name = 'chunk_models_document_id_fkey') THEN
					ALTER TABLE chunk_models ADD CONSTRAINT chunk_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'query_models' AND constraint_name = 'query_models_user_id_fkey') THEN
					ALTER TABLE query_models ADD CONSTRAINT query_models_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'query_models' AND constraint_name = 'query_models_document_id_fkey') THEN
					ALTER TABLE query_models ADD CONSTRAINT query_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'transaction_models' AND constraint_name = 'transaction_models_user_id_fkey') THEN
					ALTER TABLE transaction_models ADD CONSTRAINT transaction_models_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (SELECT 1 FROM information_schema.table_constraints
					WHERE table_name = 'transaction_models' AND constraint_name = 'transaction_models_query_id_fkey') THEN
					ALTER TABLE transaction_models ADD CONSTRAINT transaction_models_query_id_fkey
					FOREIGN KEY (query_id) REFERENCES query_models(id) ON DELETE SET NULL;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user profile. The balance column is only
// written on insert; later balance changes go through the ledger methods.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "username", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SaveDocument inserts or replaces a document row.
func (s *GormStore) SaveDocument(ctx context.Context, d domain.Document) error {
	model := documentToModel(d)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename", "storage_key", "status", "error_message", "size_bytes", "page_count", "chunk_count", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

func (s *GormStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// AdvanceDocument moves a document forward, guarded by its previous status.
func (s *GormStore) AdvanceDocument(ctx context.Context, d domain.Document, from domain.DocumentStatus) error {
	if !(domain.Document{Status: from}).CanTransition(d.Status) {
		return fmt.Errorf("%w: document %s -> %s", ErrInvalidTransition, from, d.Status)
	}
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND status = ?", d.ID, string(from)).
		Updates(map[string]any{
			"status":        string(d.Status),
			"error_message": d.ErrorMessage,
			"page_count":    d.PageCount,
			"chunk_count":   d.ChunkCount,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleDocument
	}
	return nil
}

// ReplaceChunks replaces all chunks for a document.
func (s *GormStore) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

func (s *GormStore) ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// SetChunkEmbedding updates the embedding vector for a chunk.
func (s *GormStore) SetChunkEmbedding(ctx context.Context, id string, embedding []float32) error {
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&ChunkModel{}).Where("id = ?", id).
		Update("embedding", pgvector.NewVector(embedding)).Error
}

// SearchChunks finds similar chunks by cosine distance.
func (s *GormStore) SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var hits []scoredChunk
	if err := s.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("chunk_models.*, 1 - (embedding <=> ?) AS score", vec).
		Where("document_id = ? AND embedding IS NOT NULL", documentID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&hits).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(hits))
	for _, hit := range hits {
		c := chunkFromModel(hit.ChunkModel)
		c.Score = hit.Score
		chunks = append(chunks, c)
	}
	return chunks, nil
}

type scoredChunk struct {
	ChunkModel
	Score float64
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func (s *GormStore) CreateQuery(ctx context.Context, q domain.Query) error {
	model := queryToModel(q)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetQuery(ctx context.Context, id string) (domain.Query, bool, error) {
	var model QueryModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Query{}, false, nil
		}
		return domain.Query{}, false, err
	}
	return queryFromModel(model), true, nil
}

// ListQueriesByUser returns the newest queries of a user first.
func (s *GormStore) ListQueriesByUser(ctx context.Context, userID string, limit int) ([]domain.Query, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []QueryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Query, 0, len(models))
	for _, m := range models {
		res = append(res, queryFromModel(m))
	}
	return res, nil
}

// TransitionQuery is the serialization point of query processing: only one
// writer can move a query out of a given status.
func (s *GormStore) TransitionQuery(ctx context.Context, q domain.Query, from domain.QueryStatus) error {
	if !(domain.Query{Status: from}).CanTransition(q.Status) {
		return fmt.Errorf("%w: query %s -> %s", ErrInvalidTransition, from, q.Status)
	}
	res := s.db.WithContext(ctx).Model(&QueryModel{}).
		Where("id = ? AND status = ?", q.ID, string(from)).
		Updates(map[string]any{
			"status":         string(q.Status),
			"answer":         q.Answer,
			"cost":           q.Cost,
			"input_tokens":   q.InputTokens,
			"output_tokens":  q.OutputTokens,
			"total_tokens":   q.TotalTokens,
			"failure_kind":   q.FailureKind,
			"failure_reason": q.FailureReason,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleQuery
	}
	return nil
}

// ApplyDebit subtracts txn.Amount and records txn in one DB transaction.
func (s *GormStore) ApplyDebit(ctx context.Context, txn domain.Transaction) (domain.User, error) {
	if !txn.Amount.IsPositive() {
		return domain.User{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, txn.Amount.StringFixed(2))
	}
	var out domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).
			Where("id = ? AND balance >= ?", txn.UserID, txn.Amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", txn.Amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			user, err := lockedUser(tx, txn.UserID)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: balance %s, required %s", ledger.ErrInsufficientFunds, user.Balance.StringFixed(2), txn.Amount.StringFixed(2))
		}
		model := transactionToModel(txn)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		user, err := lockedUser(tx, txn.UserID)
		if err != nil {
			return err
		}
		out = user
		return nil
	})
	return out, err
}

// ApplyCredit adds txn.Amount and records txn in one DB transaction.
func (s *GormStore) ApplyCredit(ctx context.Context, txn domain.Transaction) (domain.User, error) {
	if !txn.Amount.IsPositive() {
		return domain.User{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, txn.Amount.StringFixed(2))
	}
	var out domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := credit(tx, txn.UserID, txn.Amount); err != nil {
			return err
		}
		model := transactionToModel(txn)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		user, err := lockedUser(tx, txn.UserID)
		if err != nil {
			return err
		}
		out = user
		return nil
	})
	return out, err
}

// ApplyTransfer moves out.Amount between two users atomically.
func (s *GormStore) ApplyTransfer(ctx context.Context, out, in domain.Transaction) error {
	if !out.Amount.IsPositive() || !out.Amount.Equal(in.Amount) {
		return fmt.Errorf("%w: transfer %s/%s", ledger.ErrInvalidAmount, out.Amount.StringFixed(2), in.Amount.StringFixed(2))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).
			Where("id = ? AND balance >= ?", out.UserID, out.Amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", out.Amount),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := lockedUser(tx, out.UserID); err != nil {
				return err
			}
			return fmt.Errorf("%w: transfer of %s", ledger.ErrInsufficientFunds, out.Amount.StringFixed(2))
		}
		if err := credit(tx, in.UserID, in.Amount); err != nil {
			return err
		}
		models := []TransactionModel{transactionToModel(out), transactionToModel(in)}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		return nil
	})
}

func (s *GormStore) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []TransactionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Transaction, 0, len(models))
	for _, m := range models {
		res = append(res, transactionFromModel(m))
	}
	return res, nil
}

func credit(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	res := tx.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

func lockedUser(tx *gorm.DB, id string) (domain.User, error) {
	var model UserModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Balance:   u.Balance,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Username:  m.Username,
		Balance:   m.Balance,
		Role:      domain.UserRole(m.Role),
		Status:    status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Filename:     d.Filename,
		StorageKey:   d.StorageKey,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		SizeBytes:    d.SizeBytes,
		PageCount:    d.PageCount,
		ChunkCount:   d.ChunkCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Filename:     m.Filename,
		StorageKey:   m.StorageKey,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		SizeBytes:    m.SizeBytes,
		PageCount:    m.PageCount,
		ChunkCount:   m.ChunkCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func queryToModel(q domain.Query) QueryModel {
	return QueryModel{
		ID:            q.ID,
		UserID:        q.UserID,
		DocumentID:    q.DocumentID,
		Question:      q.Question,
		Answer:        q.Answer,
		Cost:          q.Cost,
		InputTokens:   q.InputTokens,
		OutputTokens:  q.OutputTokens,
		TotalTokens:   q.TotalTokens,
		Status:        string(q.Status),
		FailureKind:   q.FailureKind,
		FailureReason: q.FailureReason,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

func queryFromModel(m QueryModel) domain.Query {
	return domain.Query{
		ID:            m.ID,
		UserID:        m.UserID,
		DocumentID:    m.DocumentID,
		Question:      m.Question,
		Answer:        m.Answer,
		Cost:          m.Cost,
		InputTokens:   m.InputTokens,
		OutputTokens:  m.OutputTokens,
		TotalTokens:   m.TotalTokens,
		Status:        domain.QueryStatus(m.Status),
		FailureKind:   m.FailureKind,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func transactionToModel(t domain.Transaction) TransactionModel {
	status := t.Status
	if status == "" {
		status = domain.TxCompleted
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return TransactionModel{
		ID:          t.ID,
		UserID:      t.UserID,
		Amount:      t.Amount,
		Type:        string(t.Type),
		Status:      string(status),
		Description: t.Description,
		QueryID:     t.QueryID,
		AdminID:     t.AdminID,
		CreatedAt:   createdAt,
	}
}

func transactionFromModel(m TransactionModel) domain.Transaction {
	return domain.Transaction{
		ID:          m.ID,
		UserID:      m.UserID,
		Amount:      m.Amount,
		Type:        domain.TransactionType(m.Type),
		Status:      domain.TransactionStatus(m.Status),
		Description: m.Description,
		QueryID:     m.QueryID,
		AdminID:     m.AdminID,
		CreatedAt:   m.CreatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	return ChunkModel{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Content:    chunk.Content,
		Metadata:   meta,
		CreatedAt:  chunk.CreatedAt,
	}
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	return domain.Chunk{
		ID:         model.ID,
		DocumentID: model.DocumentID,
		Content:    model.Content,
		Metadata:   meta,
		CreatedAt:  model.CreatedAt,
	}
}
