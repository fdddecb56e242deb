// Package escrow owns the job lifecycle. Credits locked against a job live on
// the system escrow account until the job reaches a terminal state, so the
// lock and its eventual release or return are ordinary ledger transfers and
// per-job conservation is checkable from the entries alone.
package escrow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/notify"
)

var (
	// ErrInvalidStateTransition is returned when an action is attempted from
	// a job status that does not permit it. State is never mutated.
	ErrInvalidStateTransition = errors.New("invalid job state transition")
	// ErrJobNotFound is returned when the job id resolves to nothing.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotParticipant is returned when the caller has no right to act on
	// the job.
	ErrNotParticipant = errors.New("caller is not a participant of this job")
)

// JobStore is the job repository subset the service needs.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	UpdateStateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
}

// Ledger is the ledger subset the service needs.
type Ledger interface {
	TransferTx(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, amount int64, debitKind, creditKind, referenceID string) (*models.LedgerEntry, *models.LedgerEntry, error)
}

type Service struct {
	jobs   JobStore
	ledger Ledger
	notify notify.InsertTxFunc
	log    *slog.Logger
}

func NewService(jobs JobStore, ledgerSvc Ledger, notifyFn notify.InsertTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{jobs: jobs, ledger: ledgerSvc, notify: notifyFn, log: log}
}

// CreateJob opens a job for the client. No credits move until escrow is
// locked.
func (s *Service) CreateJob(ctx context.Context, clientID uuid.UUID, title string, budget int64) (*models.Job, error) {
	if budget <= 0 {
		return nil, errors.New("budget must be positive")
	}
	j := &models.Job{
		ID:       uuid.New(),
		ClientID: clientID,
		Title:    title,
		Budget:   budget,
		Status:   models.JobOpen,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// AcceptJob assigns the freelancer: open -> in_progress.
func (s *Service) AcceptJob(ctx context.Context, jobID, freelancerID uuid.UUID) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		if j.Status != models.JobOpen {
			return ErrInvalidStateTransition
		}
		if j.ClientID == freelancerID {
			return ErrNotParticipant
		}
		j.FreelancerID = &freelancerID
		j.Status = models.JobInProgress
		return nil
	})
}

// LockEscrow moves the budget from the client to the escrow account:
// escrowLocked false -> true. A job can be locked at most once; the row lock
// on the job serializes duplicate client actions.
func (s *Service) LockEscrow(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		if j.ClientID != clientID {
			return ErrNotParticipant
		}
		if j.Status != models.JobInProgress || j.EscrowLocked {
			return ErrInvalidStateTransition
		}
		_, _, err := s.ledger.TransferTx(ctx, tx, j.ClientID, models.SystemEscrowAccountID, j.Budget,
			models.EntryEscrowLock, models.EntryEscrowLock, j.ID.String())
		if err != nil {
			return err
		}
		j.EscrowLocked = true
		return nil
	})
}

// SubmitWork marks the work delivered: in_progress (locked) -> submitted.
// No credits move.
func (s *Service) SubmitWork(ctx context.Context, jobID, freelancerID uuid.UUID) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		if j.FreelancerID == nil || *j.FreelancerID != freelancerID {
			return ErrNotParticipant
		}
		if j.Status != models.JobInProgress || !j.EscrowLocked {
			return ErrInvalidStateTransition
		}
		j.Status = models.JobSubmitted
		return nil
	})
}

// ConfirmCompletion drains the escrow to the freelancer: submitted ->
// completed. Admins may also confirm from disputed when resolving in the
// freelancer's favor. Irreversible.
func (s *Service) ConfirmCompletion(ctx context.Context, jobID, callerID uuid.UUID, callerRole string) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		admin := callerRole == models.RoleAdmin
		if !admin && j.ClientID != callerID {
			return ErrNotParticipant
		}
		switch j.Status {
		case models.JobSubmitted:
		case models.JobDisputed:
			if !admin {
				return ErrInvalidStateTransition
			}
		default:
			return ErrInvalidStateTransition
		}
		_, _, err := s.ledger.TransferTx(ctx, tx, models.SystemEscrowAccountID, *j.FreelancerID, j.Budget,
			models.EntryEscrowRelease, models.EntryEscrowRelease, j.ID.String())
		if err != nil {
			return err
		}
		j.Status = models.JobCompleted
		if err := s.notify(ctx, tx, notify.NotificationArgs{
			AccountID:   *j.FreelancerID,
			Event:       notify.EventEscrowReleased,
			Credits:     j.Budget,
			ReferenceID: j.ID.String(),
		}); err != nil {
			return err
		}
		return nil
	})
}

// OpenDispute escalates a submitted job: submitted -> disputed. Credits stay
// on the escrow account pending admin resolution.
func (s *Service) OpenDispute(ctx context.Context, jobID, callerID uuid.UUID) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		if j.ClientID != callerID && (j.FreelancerID == nil || *j.FreelancerID != callerID) {
			return ErrNotParticipant
		}
		if j.Status != models.JobSubmitted {
			return ErrInvalidStateTransition
		}
		j.Status = models.JobDisputed
		return nil
	})
}

// CancelJob cancels from open or in_progress (the client), or from disputed
// (an admin resolving in the client's favor). Held credits are returned to
// the client before the status flips.
func (s *Service) CancelJob(ctx context.Context, jobID, callerID uuid.UUID, callerRole string) (*models.Job, error) {
	return s.transition(ctx, jobID, func(ctx context.Context, tx pgx.Tx, j *models.Job) error {
		admin := callerRole == models.RoleAdmin
		if !admin && j.ClientID != callerID {
			return ErrNotParticipant
		}
		switch j.Status {
		case models.JobOpen, models.JobInProgress:
		case models.JobDisputed:
			if !admin {
				return ErrInvalidStateTransition
			}
		default:
			return ErrInvalidStateTransition
		}
		if j.EscrowLocked {
			_, _, err := s.ledger.TransferTx(ctx, tx, models.SystemEscrowAccountID, j.ClientID, j.Budget,
				models.EntryEscrowReturn, models.EntryEscrowReturn, j.ID.String())
			if err != nil {
				return err
			}
			if err := s.notify(ctx, tx, notify.NotificationArgs{
				AccountID:   j.ClientID,
				Event:       notify.EventEscrowReturned,
				Credits:     j.Budget,
				ReferenceID: j.ID.String(),
			}); err != nil {
				return err
			}
		}
		j.Status = models.JobCancelled
		return nil
	})
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	return s.jobs.ListByClient(ctx, clientID)
}

// transition runs fn against the row-locked job and persists the mutation,
// all in one transaction. fn returning an error leaves the job untouched.
func (s *Service) transition(ctx context.Context, jobID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx, j *models.Job) error) (*models.Job, error) {
	tx, err := s.jobs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	j, err := s.jobs.GetByIDForUpdate(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if err := fn(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := s.jobs.UpdateStateTx(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return j, nil
}
