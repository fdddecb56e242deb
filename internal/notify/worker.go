// Package notify delivers ledger-affecting events to the external notifier.
// Jobs are inserted with river's InsertTx inside the same transaction as the
// ledger mutation they describe, so a notification exists exactly when its
// mutation committed (a transactional outbox).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Event names carried in notification payloads.
const (
	EventTopUpCredited       = "topup_credited"
	EventTopUpFailed         = "topup_failed"
	EventChapterSold         = "chapter_sold"
	EventEscrowReleased      = "escrow_released"
	EventEscrowReturned      = "escrow_returned"
	EventWithdrawalReviewed  = "withdrawal_reviewed"
	EventReconciliationQueue = "reconciliation_failure"
)

type NotificationArgs struct {
	AccountID   uuid.UUID `json:"account_id"`
	Event       string    `json:"event"`
	Credits     int64     `json:"credits"`
	ReferenceID string    `json:"reference_id"`
}

func (NotificationArgs) Kind() string { return "notification" }

// InsertTxFunc enqueues a notification within the given transaction. Provided
// by main using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args NotificationArgs) error

// Worker POSTs each notification to the collaborator webhook. Delivery is
// best-effort from the ledger's point of view; river retries on error.
type Worker struct {
	river.WorkerDefaults[NotificationArgs]
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

func NewWorker(webhookURL string, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	args := job.Args
	if w.webhookURL == "" {
		// No collaborator configured; log and drop.
		w.log.Info("notification", "event", args.Event, "account_id", args.AccountID, "credits", args.Credits, "reference_id", args.ReferenceID)
		return nil
	}

	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notifier webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier webhook returned %d", resp.StatusCode)
	}
	return nil
}
