package merchant

import (
	"context"

	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/engine"
)

// Methods the gateway calls; each must have a handler
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

var gatewayMethods = []string{
	MethodCheckPerformTransaction,
	MethodCreateTransaction,
	MethodPerformTransaction,
	MethodCancelTransaction,
	MethodCheckTransaction,
	MethodGetStatement,
}

type checkPerformParams struct {
	Amount  int64   `json:"amount"`
	Account account `json:"account"`
}

type createParams struct {
	ID      string  `json:"id" validate:"external_id"`
	Time    int64   `json:"time" validate:"gte=0"`
	Amount  int64   `json:"amount"`
	Account account `json:"account"`
}

type idParams struct {
	ID string `json:"id" validate:"external_id"`
}

type cancelParams struct {
	ID     string `json:"id" validate:"external_id"`
	Reason int    `json:"reason"`
}

type statementParams struct {
	From int64 `json:"from" validate:"gte=0"`
	To   int64 `json:"to" validate:"gtefield=From"`
}

type statementEntry struct {
	ID          string  `json:"id"`
	Time        int64   `json:"time"`
	Amount      int64   `json:"amount"`
	Account     account `json:"account"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time"`
	CancelTime  int64   `json:"cancel_time"`
	Transaction string  `json:"transaction"`
	State       int     `json:"state"`
	Reason      *int    `json:"reason"`
}

func (e *Endpoint) routes() map[string]methodFunc {
	return map[string]methodFunc{
		MethodCheckPerformTransaction: bind(e.checkPerformTransaction),
		MethodCreateTransaction:       bind(e.createTransaction),
		MethodPerformTransaction:      bind(e.performTransaction),
		MethodCancelTransaction:       bind(e.cancelTransaction),
		MethodCheckTransaction:        bind(e.checkTransaction),
		MethodGetStatement:            bind(e.getStatement),
	}
}

func (e *Endpoint) checkPerformTransaction(ctx context.Context, p checkPerformParams) (any, error) {
	if err := e.engine.CheckCanCreate(ctx, int64(p.Account.UserID), p.Amount); err != nil {
		return nil, err
	}

	return map[string]bool{"allow": true}, nil
}

func (e *Endpoint) createTransaction(ctx context.Context, p createParams) (any, error) {
	t, err := e.engine.Create(ctx, engine.CreateParams{
		ExternalID: p.ID,
		UserID:     int64(p.Account.UserID),
		Amount:     p.Amount,
		CreateTime: p.Time,
	})
	if err != nil {
		return nil, err
	}

	return struct {
		CreateTime  int64  `json:"create_time"`
		Transaction string `json:"transaction"`
		State       int    `json:"state"`
	}{t.CreateTime, t.ID.String(), int(t.State)}, nil
}

func (e *Endpoint) performTransaction(ctx context.Context, p idParams) (any, error) {
	t, err := e.engine.Perform(ctx, p.ID, 0)
	if err != nil {
		return nil, err
	}

	return struct {
		Transaction string `json:"transaction"`
		PerformTime int64  `json:"perform_time"`
		State       int    `json:"state"`
	}{t.ID.String(), t.PerformTime, int(t.State)}, nil
}

func (e *Endpoint) cancelTransaction(ctx context.Context, p cancelParams) (any, error) {
	t, err := e.engine.Cancel(ctx, p.ID, p.Reason, 0)
	if err != nil {
		return nil, err
	}

	return struct {
		Transaction string `json:"transaction"`
		CancelTime  int64  `json:"cancel_time"`
		State       int    `json:"state"`
	}{t.ID.String(), t.CancelTime, int(t.State)}, nil
}

func (e *Endpoint) checkTransaction(ctx context.Context, p idParams) (any, error) {
	t, err := e.engine.Status(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	return struct {
		CreateTime  int64  `json:"create_time"`
		PerformTime int64  `json:"perform_time"`
		CancelTime  int64  `json:"cancel_time"`
		Transaction string `json:"transaction"`
		State       int    `json:"state"`
		Reason      *int   `json:"reason"`
	}{t.CreateTime, t.PerformTime, t.CancelTime, t.ID.String(), int(t.State), t.CancelReason}, nil
}

func (e *Endpoint) getStatement(ctx context.Context, p statementParams) (any, error) {
	transactions, err := e.engine.Statement(ctx, p.From, p.To)
	if err != nil {
		return nil, err
	}

	entries := make([]statementEntry, 0, len(transactions))
	for _, t := range transactions {
		entries = append(entries, toStatementEntry(t))
	}

	return map[string][]statementEntry{"transactions": entries}, nil
}

func toStatementEntry(t models.Transaction) statementEntry {
	return statementEntry{
		ID:          t.ExternalID,
		Time:        t.CreateTime,
		Amount:      t.Amount,
		Account:     account{UserID: userID(t.UserID)},
		CreateTime:  t.CreateTime,
		PerformTime: t.PerformTime,
		CancelTime:  t.CancelTime,
		Transaction: t.ID.String(),
		State:       int(t.State),
		Reason:      t.CancelReason,
	}
}
