package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lazuer/tabulate-analysis-core/internal/types"
)

// jobRow is the gorm row backing a types.Job. Progress events are not
// stored here; they live in the Redis stream (see progress.go).
type jobRow struct {
	ID             string `gorm:"primaryKey"`
	Question       string
	PrimaryFile    string
	State          string `gorm:"index"`
	Attempts       int
	Canceled       bool
	Result         string
	ErrorKind      string
	ErrorMessage   string
	LeaseToken     string
	LeaseExpiresAt *time.Time
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}

func (jobRow) TableName() string { return "analysis_job" }

func rowToJob(r *jobRow) *types.Job {
	j := &types.Job{
		ID:          r.ID,
		Question:    r.Question,
		PrimaryFile: r.PrimaryFile,
		SubmittedAt: r.SubmittedAt,
		State:       types.JobState(r.State),
		Attempts:    r.Attempts,
		Result:      r.Result,
	}
	if r.ErrorKind != "" {
		j.Err = &types.JobError{Kind: types.ErrorKind(r.ErrorKind), Message: r.ErrorMessage}
	}
	return j
}

type store struct {
	db *gorm.DB
}

func newStore(db *gorm.DB) *store { return &store{db: db} }

func (s *store) migrate() error {
	return s.db.AutoMigrate(&jobRow{})
}

func (s *store) insert(ctx context.Context, job *types.Job) error {
	row := &jobRow{
		ID:          job.ID,
		Question:    job.Question,
		PrimaryFile: job.PrimaryFile,
		State:       string(types.JobPending),
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.SubmittedAt,
	}
	// A caller-supplied id that already exists is a no-op.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(row).Error
}

// claimNext reclaims any lease that has expired (bumping attempts or
// terminally failing jobs that exhausted their budget), then claims the
// oldest eligible PENDING row with SELECT ... FOR UPDATE SKIP LOCKED so
// concurrently polling workers never double-claim.
func (s *store) claimNext(ctx context.Context, leaseDuration time.Duration, maxAttempts int) (*jobRow, *types.Lease, error) {
	now := time.Now()
	var claimed *jobRow
	var lease *types.Lease

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := reclaimExpired(tx, now, maxAttempts); err != nil {
			return err
		}

		var row jobRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND canceled = ?", string(types.JobPending), false).
			Order("submitted_at ASC").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		token := uuid.NewString()
		expires := now.Add(leaseDuration)
		updates := map[string]interface{}{
			"state":            string(types.JobReserved),
			"lease_token":      token,
			"lease_expires_at": expires,
			"updated_at":       now,
		}
		if err := tx.Model(&jobRow{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return err
		}
		row.State = string(types.JobReserved)
		row.LeaseToken = token
		row.LeaseExpiresAt = &expires
		claimed = &row
		lease = &types.Lease{JobID: row.ID, Token: token, Expires: expires}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return claimed, lease, nil
}

// reclaimExpired returns expired RESERVED/RUNNING rows to PENDING with
// attempts incremented, or to FAILED once max_job_attempts is exhausted.
// Invoked inside the same transaction as claimNext so a stale lease is
// visible to the very next claim.
func reclaimExpired(tx *gorm.DB, now time.Time, maxAttempts int) error {
	var expired []jobRow
	err := tx.Where("state IN ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ? AND canceled = ?",
		[]string{string(types.JobReserved), string(types.JobRunning)}, now, false).Find(&expired).Error
	if err != nil {
		return err
	}
	for _, row := range expired {
		if row.Attempts+1 >= maxAttempts {
			if err := tx.Model(&jobRow{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"state":            string(types.JobFailed),
				"attempts":         row.Attempts + 1,
				"error_kind":       string(types.ErrBroker),
				"error_message":    "lease expired and attempt budget exhausted",
				"lease_token":      "",
				"lease_expires_at": nil,
				"updated_at":       now,
			}).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.Model(&jobRow{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"state":            string(types.JobPending),
			"attempts":         row.Attempts + 1,
			"lease_token":      "",
			"lease_expires_at": nil,
			"updated_at":       now,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *store) extend(ctx context.Context, lease *types.Lease, duration time.Duration) error {
	now := time.Now()
	newExpiry := now.Add(duration)
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND lease_token = ? AND lease_expires_at >= ? AND state IN ?",
			lease.JobID, lease.Token, now, []string{string(types.JobReserved), string(types.JobRunning)}).
		Updates(map[string]interface{}{"lease_expires_at": newExpiry, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseExpired
	}
	lease.Expires = newExpiry
	return nil
}

func (s *store) markRunning(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND state = ?", jobID, string(types.JobReserved)).
		Updates(map[string]interface{}{"state": string(types.JobRunning), "updated_at": time.Now()}).Error
}

func (s *store) complete(ctx context.Context, lease *types.Lease, outcome Outcome) error {
	now := time.Now()
	updates := map[string]interface{}{
		"lease_token":      "",
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if outcome.Succeeded {
		updates["state"] = string(types.JobSucceeded)
		updates["result"] = outcome.Result
	} else {
		updates["state"] = string(types.JobFailed)
		if outcome.Err != nil {
			updates["error_kind"] = string(outcome.Err.Kind)
			updates["error_message"] = outcome.Err.Message
		}
	}
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND lease_token = ?", lease.JobID, lease.Token).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Idempotent by lease token: if the job is already terminal this is a
		// retried completion from a crashed-then-restarted caller, not an error.
		var row jobRow
		if err := s.db.WithContext(ctx).Where("id = ?", lease.JobID).First(&row).Error; err != nil {
			return err
		}
		if types.JobState(row.State).Terminal() {
			return nil
		}
		return ErrLeaseExpired
	}
	return nil
}

func (s *store) failAndRequeue(ctx context.Context, lease *types.Lease, maxAttempts int, reason *types.JobError) error {
	now := time.Now()
	var row jobRow
	if err := s.db.WithContext(ctx).Where("id = ? AND lease_token = ?", lease.JobID, lease.Token).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLeaseExpired
		}
		return err
	}
	updates := map[string]interface{}{
		"lease_token":      "",
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if row.Attempts+1 < maxAttempts {
		updates["state"] = string(types.JobPending)
		updates["attempts"] = row.Attempts + 1
	} else {
		updates["state"] = string(types.JobFailed)
		updates["attempts"] = row.Attempts + 1
		if reason != nil {
			updates["error_kind"] = string(reason.Kind)
			updates["error_message"] = reason.Message
		}
	}
	return s.db.WithContext(ctx).Model(&jobRow{}).Where("id = ? AND lease_token = ?", lease.JobID, lease.Token).Updates(updates).Error
}

func (s *store) cancel(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND state NOT IN ?", jobID, []string{string(types.JobSucceeded), string(types.JobFailed), string(types.JobCanceled)}).
		Update("canceled", true).Error
}

func (s *store) canceled(ctx context.Context, jobID string) (bool, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).Select("canceled", "state").Where("id = ?", jobID).First(&row).Error; err != nil {
		return false, err
	}
	return row.Canceled, nil
}

func (s *store) get(ctx context.Context, jobID string) (*jobRow, error) {
	var row jobRow
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// finalizeCancel writes the CANCELED terminal state once the orchestrator
// observes the cancellation flag at a state boundary.
func (s *store) finalizeCancel(ctx context.Context, lease *types.Lease) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND lease_token = ?", lease.JobID, lease.Token).
		Updates(map[string]interface{}{
			"state":            string(types.JobCanceled),
			"lease_token":      "",
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseExpired
	}
	return nil
}
