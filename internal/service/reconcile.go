package service

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/lifecycle"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

// statusReconciler loads a user, recomputes the lifecycle status and
// persists it only when it changed.
type statusReconciler struct {
	users repository.UserRepository
	clock Clock
	instrumentation
}

func (r statusReconciler) load(ctx context.Context, userID string) (domain.User, lifecycle.Evaluation, error) {
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, lifecycle.Evaluation{}, newError(CodeNotFound, "User not found.", http.StatusNotFound, err)
		}
		return domain.User{}, lifecycle.Evaluation{}, serverError("load user", err)
	}
	user, ev := r.reconcile(ctx, user)
	return user, ev, nil
}

// reconcile writes the recomputed status iff it differs from the stored one.
// A failed write is logged; the computed value is still returned.
func (r statusReconciler) reconcile(ctx context.Context, user domain.User) (domain.User, lifecycle.Evaluation) {
	ev := lifecycle.Evaluate(user, r.clock.now())
	if ev.Changed {
		if err := r.users.UpdateStatus(ctx, user.ID, ev.Status); err != nil {
			r.log().Warn("persist user status failed", zap.String("user_id", user.ID), zap.String("status", string(ev.Status)), zap.Error(err))
		} else {
			r.audit("user.status.changed", "user_id", user.ID, "status", ev.Status)
		}
	}
	return ev.Apply(user), ev
}

// requireActive is load followed by the Active precondition.
func (r statusReconciler) requireActive(ctx context.Context, userID string) (domain.User, lifecycle.Evaluation, error) {
	user, ev, err := r.load(ctx, userID)
	if err != nil {
		return domain.User{}, lifecycle.Evaluation{}, err
	}
	if ev.Status != domain.StatusActive {
		return user, ev, newError(CodeAccountInactive, "Your 30-day access period has ended.", http.StatusForbidden, domain.ErrAccountInactive)
	}
	return user, ev, nil
}
