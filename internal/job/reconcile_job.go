package job

import (
	"context"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type reconciler interface {
	Audit(ctx context.Context) (*service.AuditReport, error)
	Repair(ctx context.Context, report *service.AuditReport) (model.BatchResult, error)
}

// ReconcileJob audits the chunk table against the vector index and, when
// repair is on, fixes the drift it finds.
type ReconcileJob struct {
	reconciler reconciler
	repair     bool
}

func NewReconcileJob(r reconciler, repair bool) *ReconcileJob {
	return &ReconcileJob{reconciler: r, repair: repair}
}

func (j *ReconcileJob) Name() string {
	return "reconcile_index"
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	if j.reconciler == nil {
		return nil
	}
	report, err := j.reconciler.Audit(ctx)
	if err != nil {
		return err
	}
	if !j.repair || report.Consistent() {
		return nil
	}
	_, err = j.reconciler.Repair(ctx, report)
	return err
}
