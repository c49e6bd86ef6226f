package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"docqa/pkg/domain"
	"docqa/pkg/ledger"
)

// MemoryStore keeps everything in-process. It honours the same conditional
// update rules as GormStore and backs tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	documents  map[string]domain.Document
	docOrder   []string
	queries    map[string]domain.Query
	queryOrder []string
	txns       []domain.Transaction
	chunks     map[string][]domain.Chunk // document ID -> chunks
	embeddings map[string][]float32      // chunk ID -> vector
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		documents:  make(map[string]domain.Document),
		queries:    make(map[string]domain.Query),
		chunks:     make(map[string][]domain.Chunk),
		embeddings: make(map[string][]float32),
	}
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		u.Balance = prev.Balance
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SaveDocument(_ context.Context, d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

// ListDocumentsByOwner returns documents newest first.
func (m *MemoryStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if d, ok := m.documents[m.docOrder[i]]; ok && d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) AdvanceDocument(_ context.Context, d domain.Document, from domain.DocumentStatus) error {
	if !(domain.Document{Status: from}).CanTransition(d.Status) {
		return fmt.Errorf("%w: document %s -> %s", ErrInvalidTransition, from, d.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.documents[d.ID]
	if !ok || cur.Status != from {
		return ErrStaleDocument
	}
	cur.Status = d.Status
	cur.ErrorMessage = d.ErrorMessage
	cur.PageCount = d.PageCount
	cur.ChunkCount = d.ChunkCount
	cur.UpdatedAt = time.Now().UTC()
	m.documents[d.ID] = cur
	return nil
}

func (m *MemoryStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.chunks[documentID] {
		delete(m.embeddings, old.ID)
	}
	copied := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = documentID
		copied[i] = c
	}
	m.chunks[documentID] = copied
	return nil
}

func (m *MemoryStore) ListChunksByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Chunk(nil), m.chunks[documentID]...), nil
}

func (m *MemoryStore) SetChunkEmbedding(_ context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[id] = append([]float32(nil), embedding...)
	return nil
}

// SearchChunks ranks embedded chunks by cosine similarity.
func (m *MemoryStore) SearchChunks(_ context.Context, documentID string, embedding []float32, limit int) ([]domain.Chunk, error) {
	if limit <= 0 {
		return []domain.Chunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		chunk domain.Chunk
		score float64
	}
	var hits []scored
	for _, c := range m.chunks[documentID] {
		vec, ok := m.embeddings[c.ID]
		if !ok || len(vec) != len(embedding) {
			continue
		}
		hits = append(hits, scored{chunk: c, score: cosine(vec, embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	res := make([]domain.Chunk, 0, len(hits))
	for _, h := range hits {
		c := h.chunk
		c.Score = h.score
		res = append(res, c)
	}
	return res, nil
}

func (m *MemoryStore) CreateQuery(_ context.Context, q domain.Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queries[q.ID]; exists {
		return fmt.Errorf("query %s already exists", q.ID)
	}
	m.queries[q.ID] = q
	m.queryOrder = append(m.queryOrder, q.ID)
	return nil
}

func (m *MemoryStore) GetQuery(_ context.Context, id string) (domain.Query, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queries[id]
	return q, ok, nil
}

func (m *MemoryStore) ListQueriesByUser(_ context.Context, userID string, limit int) ([]domain.Query, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Query, 0)
	for i := len(m.queryOrder) - 1; i >= 0 && len(res) < limit; i-- {
		if q, ok := m.queries[m.queryOrder[i]]; ok && q.UserID == userID {
			res = append(res, q)
		}
	}
	return res, nil
}

func (m *MemoryStore) TransitionQuery(_ context.Context, q domain.Query, from domain.QueryStatus) error {
	if !(domain.Query{Status: from}).CanTransition(q.Status) {
		return fmt.Errorf("%w: query %s -> %s", ErrInvalidTransition, from, q.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.queries[q.ID]
	if !ok || cur.Status != from {
		return ErrStaleQuery
	}
	cur.Status = q.Status
	cur.Answer = q.Answer
	cur.Cost = q.Cost
	cur.InputTokens = q.InputTokens
	cur.OutputTokens = q.OutputTokens
	cur.TotalTokens = q.TotalTokens
	cur.FailureKind = q.FailureKind
	cur.FailureReason = q.FailureReason
	cur.UpdatedAt = time.Now().UTC()
	m.queries[q.ID] = cur
	return nil
}

func (m *MemoryStore) ApplyDebit(_ context.Context, txn domain.Transaction) (domain.User, error) {
	if !txn.Amount.IsPositive() {
		return domain.User{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, txn.Amount.StringFixed(2))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[txn.UserID]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, txn.UserID)
	}
	if u.Balance.LessThan(txn.Amount) {
		return domain.User{}, fmt.Errorf("%w: balance %s, required %s", ledger.ErrInsufficientFunds, u.Balance.StringFixed(2), txn.Amount.StringFixed(2))
	}
	u.Balance = u.Balance.Sub(txn.Amount)
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	m.appendTxn(txn)
	return u, nil
}

func (m *MemoryStore) ApplyCredit(_ context.Context, txn domain.Transaction) (domain.User, error) {
	if !txn.Amount.IsPositive() {
		return domain.User{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, txn.Amount.StringFixed(2))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[txn.UserID]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, txn.UserID)
	}
	u.Balance = u.Balance.Add(txn.Amount)
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	m.appendTxn(txn)
	return u, nil
}

func (m *MemoryStore) ApplyTransfer(_ context.Context, out, in domain.Transaction) error {
	if !out.Amount.IsPositive() || !out.Amount.Equal(in.Amount) {
		return fmt.Errorf("%w: transfer %s/%s", ledger.ErrInvalidAmount, out.Amount.StringFixed(2), in.Amount.StringFixed(2))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.users[out.UserID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, out.UserID)
	}
	dst, ok := m.users[in.UserID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, in.UserID)
	}
	if src.Balance.LessThan(out.Amount) {
		return fmt.Errorf("%w: transfer of %s", ledger.ErrInsufficientFunds, out.Amount.StringFixed(2))
	}
	now := time.Now().UTC()
	src.Balance = src.Balance.Sub(out.Amount)
	src.UpdatedAt = now
	m.users[src.ID] = src
	dst = m.users[in.UserID]
	dst.Balance = dst.Balance.Add(in.Amount)
	dst.UpdatedAt = now
	m.users[dst.ID] = dst
	m.appendTxn(out)
	m.appendTxn(in)
	return nil
}

// ListTransactionsByUser returns transactions newest first.
func (m *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Transaction, 0)
	for i := len(m.txns) - 1; i >= 0 && len(res) < limit; i-- {
		if m.txns[i].UserID == userID {
			res = append(res, m.txns[i])
		}
	}
	return res, nil
}

func (m *MemoryStore) appendTxn(txn domain.Transaction) {
	if txn.Status == "" {
		txn.Status = domain.TxCompleted
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	m.txns = append(m.txns, txn)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
