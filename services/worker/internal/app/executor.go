package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"docqa/internal/util"
	"docqa/pkg/domain"
	"docqa/pkg/ledger"
	"docqa/pkg/prompt"
	"docqa/pkg/rag"
	"docqa/pkg/store"
)

// FailureKind classifies why a query did not complete.
type FailureKind string

const (
	KindNone              FailureKind = ""
	KindDocumentNotReady  FailureKind = "document_not_ready"
	KindNoRelevantContent FailureKind = "no_relevant_content"
	KindAccountInactive   FailureKind = "account_inactive"
	KindNegativeBalance   FailureKind = "negative_balance"
	KindInsufficientFunds FailureKind = "insufficient_funds"
	KindInfrastructure    FailureKind = "infrastructure"
	// KindStale means another worker already owns the query; nothing was done.
	KindStale FailureKind = "stale"
)

var (
	ErrDocumentNotReady  = errors.New("document not ready for queries")
	ErrNoRelevantContent = errors.New("no relevant content found in the document")
)

// Outcome is the settled result of one execution.
type Outcome struct {
	Query    domain.Query
	Kind     FailureKind
	Err      error
	Charged  decimal.Decimal
	Refunded bool
}

func (o Outcome) Completed() bool {
	return o.Kind == KindNone && o.Query.Status == domain.QueryCompleted
}

// PromptRenderer renders named prompt templates.
type PromptRenderer interface {
	Render(name string, vars map[string]string) (string, error)
}

type ExecutorDeps struct {
	Store     store.Store
	Searcher  rag.Searcher
	Reranker  rag.Reranker
	Completer rag.Completer
	Prompts   PromptRenderer
	Tariff    ledger.Tariff
	Now       func() time.Time
}

// Executor drives one query from pending to a terminal status and settles
// its cost against the owner's balance.
type Executor struct {
	store     store.Store
	searcher  rag.Searcher
	reranker  rag.Reranker
	completer rag.Completer
	prompts   PromptRenderer
	tariff    ledger.Tariff
	now       func() time.Time
}

func NewExecutor(deps ExecutorDeps) (*Executor, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if deps.Searcher == nil || deps.Reranker == nil || deps.Completer == nil {
		return nil, fmt.Errorf("searcher, reranker and completer required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("prompt renderer required")
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tariff := deps.Tariff
	if !tariff.RatePerThousand.IsPositive() {
		tariff = ledger.NewTariff(ledger.DefaultRatePerThousand)
	}
	return &Executor{
		store:     deps.Store,
		searcher:  deps.Searcher,
		reranker:  deps.Reranker,
		completer: deps.Completer,
		prompts:   deps.Prompts,
		tariff:    tariff,
		now:       now,
	}, nil
}

// Execute runs q for user against doc. The returned error is set only when
// the executor could not persist a terminal status; the query may then still
// be pending or processing and the caller should mark it failed.
func (e *Executor) Execute(ctx context.Context, user domain.User, doc domain.Document, q domain.Query) (Outcome, error) {
	if q.Status != domain.QueryPending {
		return Outcome{Query: q, Kind: KindStale}, nil
	}
	if !doc.ReadyForQueries() {
		cause := fmt.Errorf("%w: document %s is %s", ErrDocumentNotReady, doc.ID, doc.Status)
		return e.fail(ctx, q, domain.QueryPending, KindDocumentNotReady, cause)
	}

	claimed := q
	claimed.Status = domain.QueryProcessing
	if err := e.store.TransitionQuery(ctx, claimed, domain.QueryPending); err != nil {
		if errors.Is(err, store.ErrStaleQuery) {
			return Outcome{Query: q, Kind: KindStale}, nil
		}
		return Outcome{Query: q, Kind: KindInfrastructure, Err: err}, fmt.Errorf("claim query: %w", err)
	}
	q = claimed

	// A claimed query must reach a terminal status even when ctx is cancelled
	// mid-run, so every write from here on ignores cancellation.
	settleCtx := context.WithoutCancel(ctx)

	answer, usage, err := e.answer(ctx, doc.ID, q.Question)
	if err != nil {
		kind := KindInfrastructure
		if errors.Is(err, ErrNoRelevantContent) {
			kind = KindNoRelevantContent
		}
		return e.fail(settleCtx, q, domain.QueryProcessing, kind, err)
	}

	q.InputTokens = usage.InputTokens
	q.OutputTokens = usage.OutputTokens
	q.TotalTokens = usage.TotalTokens()
	cost := e.tariff.Cost(q.TotalTokens, user.Role)

	if err := ledger.CheckAffordability(user, cost); err != nil {
		return e.fail(settleCtx, q, domain.QueryProcessing, kindOf(err), err)
	}

	charged, err := e.debit(settleCtx, user, q, cost)
	if err != nil {
		kind := KindInfrastructure
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrNegativeBalance) {
			kind = kindOf(err)
		}
		return e.fail(settleCtx, q, domain.QueryProcessing, kind, err)
	}

	done := q
	done.Status = domain.QueryCompleted
	done.Answer = &answer
	done.Cost = cost
	if err := e.store.TransitionQuery(settleCtx, done, domain.QueryProcessing); err != nil {
		return e.refundAndFail(settleCtx, q, charged, fmt.Errorf("record answer: %w", err))
	}
	return Outcome{Query: done, Charged: charged}, nil
}

// answer runs search, rerank, prompt rendering and completion.
func (e *Executor) answer(ctx context.Context, documentID, question string) (string, rag.Completion, error) {
	passages, err := e.searcher.Search(ctx, documentID, question)
	if err != nil {
		return "", rag.Completion{}, fmt.Errorf("search: %w", err)
	}
	if len(passages) == 0 {
		return "", rag.Completion{}, ErrNoRelevantContent
	}
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	ranked, err := e.reranker.Rerank(ctx, question, texts)
	if err != nil {
		return "", rag.Completion{}, fmt.Errorf("rerank: %w", err)
	}
	if len(ranked) == 0 {
		return "", rag.Completion{}, ErrNoRelevantContent
	}
	rendered, err := e.prompts.Render(prompt.RAGAnswer, map[string]string{
		"data":     rag.BuildContext(ranked),
		"question": question,
	})
	if err != nil {
		return "", rag.Completion{}, fmt.Errorf("render prompt: %w", err)
	}
	completion, err := e.completer.Complete(ctx, rendered)
	if err != nil {
		return "", rag.Completion{}, fmt.Errorf("complete: %w", err)
	}
	return completion.Text, completion, nil
}

// debit applies the charge for q. A zero delta (administrator or free query)
// writes nothing and returns a zero charge.
func (e *Executor) debit(ctx context.Context, user domain.User, q domain.Query, cost decimal.Decimal) (decimal.Decimal, error) {
	wallet := ledger.WalletOf(user)
	next, err := wallet.Deduct(cost, e.now())
	if err != nil {
		return decimal.Zero, err
	}
	delta := wallet.Balance.Sub(next.Balance)
	if !delta.IsPositive() {
		return decimal.Zero, nil
	}
	queryID := q.ID
	_, err = e.store.ApplyDebit(ctx, domain.Transaction{
		ID:          util.NewID(),
		UserID:      user.ID,
		Amount:      delta,
		Type:        domain.TxQueryCharge,
		Status:      domain.TxCompleted,
		Description: chargeDescription(q),
		QueryID:     &queryID,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply debit: %w", err)
	}
	return delta, nil
}

func (e *Executor) refundAndFail(ctx context.Context, q domain.Query, charged decimal.Decimal, cause error) (Outcome, error) {
	refunded := false
	if charged.IsPositive() {
		queryID := q.ID
		_, err := e.store.ApplyCredit(ctx, domain.Transaction{
			ID:          util.NewID(),
			UserID:      q.UserID,
			Amount:      charged,
			Type:        domain.TxRefund,
			Status:      domain.TxCompleted,
			Description: fmt.Sprintf("Refund for query #%s", q.ID),
			QueryID:     &queryID,
			CreatedAt:   e.now(),
		})
		if err != nil {
			util.LoggerFromContext(ctx).Error("refund failed", "user_id", q.UserID, "amount", charged.StringFixed(2), "err", err)
			out, _ := e.fail(ctx, q, domain.QueryProcessing, KindInfrastructure, cause)
			out.Charged = charged
			return out, fmt.Errorf("refund after %v: %w", cause, err)
		}
		refunded = true
	}
	out, err := e.fail(ctx, q, domain.QueryProcessing, KindInfrastructure, cause)
	out.Refunded = refunded
	return out, err
}

// fail moves q from its current status to failed. The answer is discarded
// and nothing is recorded as charged.
func (e *Executor) fail(ctx context.Context, q domain.Query, from domain.QueryStatus, kind FailureKind, cause error) (Outcome, error) {
	failed := q
	failed.Status = domain.QueryFailed
	failed.Answer = nil
	failed.Cost = decimal.Zero
	failed.FailureKind = string(kind)
	failed.FailureReason = cause.Error()
	if err := e.store.TransitionQuery(ctx, failed, from); err != nil {
		return Outcome{Query: q, Kind: kind, Err: cause}, fmt.Errorf("mark query failed: %w", err)
	}
	return Outcome{Query: failed, Kind: kind, Err: cause}, nil
}

func kindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ledger.ErrAccountInactive):
		return KindAccountInactive
	case errors.Is(err, ledger.ErrNegativeBalance):
		return KindNegativeBalance
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	default:
		return KindInfrastructure
	}
}

func chargeDescription(q domain.Query) string {
	question := strings.TrimSpace(q.Question)
	if utf8.RuneCountInString(question) > 50 {
		question = string([]rune(question)[:50]) + "..."
	}
	return fmt.Sprintf("Query #%s: %s", q.ID, question)
}
