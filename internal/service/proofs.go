package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProofUpload is what the client submits for a bank transfer
type ProofUpload struct {
	BookingID        string
	PaymentReference string
	FileName         string
	Body             io.Reader
}

// ProofResult is returned once a proof is stored
type ProofResult struct {
	PaymentID string `json:"payment_id"`
	ProofID   string `json:"proof_id"`
	FilePath  string `json:"file_path"`
}

// UploadProof stores a bank-transfer receipt against its pending payment
func (o *Orchestrator) UploadProof(ctx context.Context, in ProofUpload, principal models.Principal) (*ProofResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.UploadTimeout)
	defer cancel()
	ctx, span := util.StartSpan(ctx, "Orchestrator.UploadProof")
	defer span.End()

	if o.proofs == nil {
		return nil, apperror.New(apperror.KindProviderUnavailable, "proof uploads are not enabled")
	}
	reference := strings.TrimSpace(in.PaymentReference)
	if strings.TrimSpace(in.BookingID) == "" || reference == "" {
		return nil, apperror.New(apperror.KindValidation, "booking_id and payment_reference are required")
	}

	p, err := o.repo.FindByExternal(ctx, models.ProviderBankTransfer, reference)
	if err != nil {
		return nil, err
	}
	// A reference belonging to another booking is reported the same as an unknown one
	if p == nil || p.BookingID != in.BookingID {
		return nil, apperror.New(apperror.KindNotFound, "payment not found")
	}
	b, err := o.repo.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(b) {
		return nil, apperror.New(apperror.KindForbidden, "you cannot upload a proof for this booking")
	}
	if p.Status != models.PaymentStatusPending {
		return nil, apperror.Newf(apperror.KindValidation, "payment is %s and no longer accepts proofs", p.Status)
	}

	stored, err := o.proofs.Save(p.ID, in.FileName, in.Body)
	if err != nil {
		util.ProofUploadsTotal.WithLabelValues(string(apperror.KindOf(err))).Inc()
		return nil, err
	}

	proof := &models.ProofOfPayment{
		ID:           uuid.New().String(),
		PaymentID:    p.ID,
		StoredPath:   stored.Path,
		OriginalName: filepath.Base(in.FileName),
		MIME:         stored.MIME,
		Size:         stored.Size,
		UploadedBy:   principal.Actor(),
		UploadedAt:   o.now().UTC(),
	}
	err = o.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.PaymentStatusPending {
			return apperror.Newf(apperror.KindValidation, "payment is %s and no longer accepts proofs", locked.Status)
		}
		if err := tx.CreateProof(ctx, proof); err != nil {
			return err
		}
		return tx.SetProofURL(ctx, p.ID, "/payments/"+p.ID+"/proof")
	})
	if err != nil {
		if rmErr := os.Remove(stored.Path); rmErr != nil {
			o.logger.Warn("Failed to remove orphaned proof", zap.String("path", stored.Path), zap.Error(rmErr))
		}
		util.RecordError(span, err)
		return nil, err
	}

	util.ProofUploadsTotal.WithLabelValues("stored").Inc()
	o.logger.Info("Proof of payment stored",
		zap.String("payment_id", p.ID),
		zap.String("proof_id", proof.ID),
		zap.String("mime", stored.MIME),
		zap.Int64("size", stored.Size))

	o.emit(context.WithoutCancel(ctx), &models.ProofUploadedEvent{
		BaseEvent: newBase(models.EventTypeProofUploaded),
		ProofID:   proof.ID,
		PaymentID: p.ID,
		BookingID: p.BookingID,
	})

	return &ProofResult{
		PaymentID: p.ID,
		ProofID:   proof.ID,
		FilePath:  filepath.Base(stored.Path),
	}, nil
}

// OpenProof returns the latest proof file of a payment to an admin or the booking owner
func (o *Orchestrator) OpenProof(ctx context.Context, paymentID string, principal models.Principal) (*os.File, *models.ProofOfPayment, error) {
	if o.proofs == nil {
		return nil, nil, apperror.New(apperror.KindNotFound, "proof not found")
	}
	p, err := o.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if !principal.IsAdmin() {
		b, err := o.repo.GetBooking(ctx, p.BookingID)
		if err != nil {
			return nil, nil, err
		}
		if !principal.Owns(b) {
			return nil, nil, apperror.New(apperror.KindForbidden, "you cannot view this proof")
		}
	}

	proof, err := o.repo.LatestProof(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if proof == nil {
		return nil, nil, apperror.New(apperror.KindNotFound, "proof not found")
	}
	f, err := o.proofs.Open(proof.StoredPath)
	if err != nil {
		if apperror.Is(err, apperror.KindForbidden) {
			o.logger.Error("Stored proof path escapes proof directory",
				zap.String("payment_id", p.ID),
				zap.String("proof_id", proof.ID))
		}
		return nil, nil, err
	}
	return f, proof, nil
}

// AdminVerify confirms a payment. Bank transfers are confirmed against their latest proof;
// other providers are reconciled with the gateway.
func (o *Orchestrator) AdminVerify(ctx context.Context, paymentID, notes string, principal models.Principal) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.AdminVerify")
	defer span.End()

	if !principal.IsAdmin() {
		return nil, apperror.New(apperror.KindForbidden, "manual verification requires the admin role")
	}
	p, err := o.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Provider != models.ProviderBankTransfer {
		return o.Verify(ctx, paymentID, principal)
	}

	note := strings.TrimSpace(notes)
	if note == "" {
		note = "bank transfer proof verified"
	}

	var out *transitionOutcome
	err = o.repo.InTx(ctx, func(tx store.Tx) error {
		out = nil
		locked, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Status != models.PaymentStatusPending {
			return apperror.Conflict(apperror.CodeIllegalTransition, "only pending bank transfers can be verified")
		}
		proof, err := tx.LatestProof(ctx, locked.ID)
		if err != nil {
			return err
		}
		if proof == nil {
			return apperror.New(apperror.KindValidation, "no proof of payment has been uploaded")
		}
		out, err = o.moveLocked(ctx, tx, locked, models.PaymentStatusCompleted, models.CauseAdmin, principal.Actor(), note)
		if err != nil {
			return err
		}
		return tx.VerifyProof(ctx, proof.ID, principal.Actor(), o.now().UTC())
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	o.announce(ctx, out)
	return out.Payment, nil
}

// AdminReject refuses a bank-transfer proof and fails the payment
func (o *Orchestrator) AdminReject(ctx context.Context, paymentID, reason string, principal models.Principal) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.AdminReject")
	defer span.End()

	if !principal.IsAdmin() {
		return nil, apperror.New(apperror.KindForbidden, "rejecting a proof requires the admin role")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, "a rejection reason is required")
	}

	var out *transitionOutcome
	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		out = nil
		locked, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if locked.Provider != models.ProviderBankTransfer || locked.Status != models.PaymentStatusPending {
			return apperror.Conflict(apperror.CodeIllegalTransition, "only pending bank transfers can be rejected")
		}
		proof, err := tx.LatestProof(ctx, locked.ID)
		if err != nil {
			return err
		}
		out, err = o.moveLocked(ctx, tx, locked, models.PaymentStatusFailed, models.CauseAdmin, principal.Actor(), reason)
		if err != nil {
			return err
		}
		if proof != nil {
			return tx.RejectProof(ctx, proof.ID, reason)
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	o.announce(ctx, out)
	return out.Payment, nil
}
