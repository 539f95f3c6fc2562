package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/lifecycle"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	pw "github.com/bigkaiyoh/TGF-Scholar/internal/password"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

// MinPasswordLength is enforced at registration and password reset.
const MinPasswordLength = 8

// validate checks registration fields after the duplicate-id lookup.
var validate = validator.New()

// AccountService handles authentication, registration and account settings.
type AccountService struct {
	users    repository.UserRepository
	orgs     *org.Resolver
	sessions *session.Issuer
	revoker  SessionRevoker
	notifier PasswordNotifier
	status   statusReconciler
	clock    Clock
	instrumentation
}

// NewAccountService wires dependencies. revoker and notifier may be nil.
func NewAccountService(users repository.UserRepository, orgs *org.Resolver, sessions *session.Issuer, revoker SessionRevoker, notifier PasswordNotifier, clock Clock, logger *zap.Logger) *AccountService {
	inst := newInstrumentation(logger)
	return &AccountService{
		users:           users,
		orgs:            orgs,
		sessions:        sessions,
		revoker:         revoker,
		notifier:        notifier,
		status:          statusReconciler{users: users, clock: clock, instrumentation: inst},
		clock:           clock,
		instrumentation: inst,
	}
}

// Authenticate verifies a student's credentials and reconciles the account
// status. Unknown ids and wrong passwords fail with the same message.
func (s *AccountService) Authenticate(ctx context.Context, userID, password string) (domain.SessionUser, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Authenticate")
	defer span.End()

	id := strings.TrimSpace(userID)
	if id == "" || password == "" {
		return domain.SessionUser{}, invalidCredentials(domain.ErrInvalidCredential)
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrNotFound) {
			pw.VerifyMissing(password)
			s.audit("login.failed", "user_id", id, "reason", "unknown_id")
			return domain.SessionUser{}, invalidCredentials(domain.ErrNotFound)
		}
		return domain.SessionUser{}, serverError("load user", err)
	}

	ok, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			s.log().Warn("verify password failed", zap.String("user_id", id), zap.Error(err))
		}
		s.audit("login.failed", "user_id", id, "reason", "bad_password")
		return domain.SessionUser{}, invalidCredentials(domain.ErrInvalidCredential)
	}

	user, ev := s.status.reconcile(ctx, user)
	s.audit("login.success", "user_id", user.ID, "org_code", user.OrgCode, "status", ev.Status)
	return newSessionUser(user, ev.DaysRemaining), nil
}

// Login authenticates the student and issues a session token.
func (s *AccountService) Login(ctx context.Context, userID, password string) (UserSession, error) {
	user, err := s.Authenticate(ctx, userID, password)
	if err != nil {
		return UserSession{}, err
	}
	return s.issueUser(ctx, user)
}

// AuthenticateOrganization verifies an organization's credentials.
func (s *AccountService) AuthenticateOrganization(ctx context.Context, code, password string) (domain.SessionOrg, error) {
	ctx, span := s.startSpan(ctx, "AccountService.AuthenticateOrganization")
	defer span.End()

	if strings.TrimSpace(code) == "" || password == "" {
		return domain.SessionOrg{}, invalidCredentials(domain.ErrInvalidCredential)
	}

	orgCtx, err := s.orgs.Resolve(ctx, code)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrNotFound) {
			pw.VerifyMissing(password)
			s.audit("org.login.failed", "org_code", code, "reason", "unknown_code")
			return domain.SessionOrg{}, invalidCredentials(domain.ErrNotFound)
		}
		return domain.SessionOrg{}, serverError("resolve organization", err)
	}

	ok, err := pw.Verify(password, orgCtx.Org.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			s.log().Warn("verify organization password failed", zap.String("org_code", orgCtx.Org.Code), zap.Error(err))
		}
		s.audit("org.login.failed", "org_code", orgCtx.Org.Code, "reason", "bad_password")
		return domain.SessionOrg{}, invalidCredentials(domain.ErrInvalidCredential)
	}

	s.audit("org.login.success", "org_code", orgCtx.Org.Code)
	return newSessionOrg(orgCtx.Org), nil
}

// LoginOrganization authenticates the organization and issues a session token.
func (s *AccountService) LoginOrganization(ctx context.Context, code, password string) (OrgSession, error) {
	o, err := s.AuthenticateOrganization(ctx, code, password)
	if err != nil {
		return OrgSession{}, err
	}
	token, err := s.sessions.IssueOrganization(ctx, o)
	if err != nil {
		return OrgSession{}, serverError("issue session", err)
	}
	return OrgSession{Token: token, Organization: o}, nil
}

// Register creates a student account. A taken id is reported before any
// other validation.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Register")
	defer span.End()

	id := strings.TrimSpace(in.UserID)
	if id == "" {
		return domain.User{}, invalidRequest("User ID is required.")
	}

	if _, err := s.users.Get(ctx, id); err == nil {
		return domain.User{}, newError(CodeDuplicateID, "This ID is already taken.", http.StatusConflict, domain.ErrDuplicateID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, serverError("check existing user", err)
	}

	email := strings.TrimSpace(in.Email)
	if err := validate.Var(email, "required,email"); err != nil {
		return domain.User{}, invalidRequest("A valid email is required.")
	}
	if len(in.Password) < MinPasswordLength {
		return domain.User{}, invalidRequest(fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}
	aff := domain.Affiliation{
		University: strings.TrimSpace(in.Affiliation.University),
		Faculty:    strings.TrimSpace(in.Affiliation.Faculty),
		Department: strings.TrimSpace(in.Affiliation.Department),
	}
	if aff.University == "" || aff.Faculty == "" {
		return domain.User{}, invalidRequest("University and program are required.")
	}

	orgCtx, err := s.orgs.Resolve(ctx, in.OrgCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, newError(CodeInvalidOrganization, "Invalid organization code.", http.StatusBadRequest, domain.ErrInvalidOrganization)
		}
		span.RecordError(err)
		return domain.User{}, serverError("resolve organization", err)
	}
	if !orgCtx.Org.Offers(aff) {
		return domain.User{}, invalidRequest("The selected program is not offered by this organization.")
	}

	tz := strings.TrimSpace(in.Timezone)
	switch {
	case tz == "":
		tz = orgCtx.Location.String()
	case !org.ValidTimezone(tz):
		return domain.User{}, invalidRequest("Unknown time zone.")
	}

	hashed, err := pw.Hash(in.Password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, serverError("hash password", err)
	}

	user, err := s.users.Create(ctx, domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: hashed,
		Affiliation:  aff,
		OrgCode:      orgCtx.Org.Code,
		RegisteredAt: s.clock.now(),
		Timezone:     tz,
		Status:       domain.StatusActive,
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrDuplicateID):
			return domain.User{}, newError(CodeDuplicateID, "This ID is already taken.", http.StatusConflict, err)
		case errors.Is(err, domain.ErrInvalidOrganization):
			return domain.User{}, newError(CodeInvalidOrganization, "Invalid organization code.", http.StatusBadRequest, err)
		}
		return domain.User{}, serverError("create user", err)
	}

	s.audit("user.registered", "user_id", user.ID, "org_code", user.OrgCode)
	return user, nil
}

// StartSession issues a session for an account that was just registered.
func (s *AccountService) StartSession(ctx context.Context, user domain.User) (UserSession, error) {
	ev := lifecycle.Evaluate(user, s.clock.now())
	return s.issueUser(ctx, newSessionUser(ev.Apply(user), ev.DaysRemaining))
}

// Catalog lists the universities an organization offers at registration.
func (s *AccountService) Catalog(ctx context.Context, code string) ([]domain.University, error) {
	orgCtx, err := s.orgs.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, newError(CodeNotFound, "Organization not found.", http.StatusNotFound, err)
		}
		return nil, serverError("resolve organization", err)
	}
	if orgCtx.Org.Universities == nil {
		return []domain.University{}, nil
	}
	return orgCtx.Org.Universities, nil
}

// ResetPassword sets a new password after matching the id with the account's
// email. Mismatches and unknown ids fail identically.
func (s *AccountService) ResetPassword(ctx context.Context, userID, email, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AccountService.ResetPassword")
	defer span.End()

	mismatch := newError(CodeInvalidCredentials, "User ID and email do not match.", http.StatusUnauthorized, domain.ErrInvalidCredential)

	id := strings.TrimSpace(userID)
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return mismatch
		}
		span.RecordError(err)
		return serverError("load user", err)
	}
	if !strings.EqualFold(strings.TrimSpace(email), user.Email) {
		s.audit("password.reset.failed", "user_id", id)
		return mismatch
	}
	if len(newPassword) < MinPasswordLength {
		return invalidRequest(fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}

	hashed, err := pw.Hash(newPassword)
	if err != nil {
		return serverError("hash password", err)
	}
	at := s.clock.now()
	if err := s.users.UpdatePassword(ctx, id, hashed, at); err != nil {
		span.RecordError(err)
		return serverError("update password", err)
	}
	s.audit("password.reset.success", "user_id", id)

	if s.notifier != nil {
		if err := s.notifier.PasswordChanged(ctx, user.Email, user.ID, at); err != nil {
			s.log().Warn("password change notification failed", zap.String("user_id", id), zap.Error(err))
		}
	}
	return nil
}

// Profile returns the current student view with a freshly computed status.
func (s *AccountService) Profile(ctx context.Context, sess session.Session) (domain.SessionUser, error) {
	if sess.User == nil {
		return domain.SessionUser{}, newError(CodeForbidden, "Student session required.", http.StatusForbidden, domain.ErrForbidden)
	}
	user, ev, err := s.status.load(ctx, sess.User.ID)
	if err != nil {
		return domain.SessionUser{}, err
	}
	return newSessionUser(user, ev.DaysRemaining), nil
}

// UpdateSettings changes the student's time zone. Tokens are immutable, so a
// new session replaces the current one.
func (s *AccountService) UpdateSettings(ctx context.Context, sess session.Session, timezone string) (UserSession, error) {
	ctx, span := s.startSpan(ctx, "AccountService.UpdateSettings")
	defer span.End()

	if sess.User == nil {
		return UserSession{}, newError(CodeForbidden, "Student session required.", http.StatusForbidden, domain.ErrForbidden)
	}
	tz := strings.TrimSpace(timezone)
	if !org.ValidTimezone(tz) {
		return UserSession{}, invalidRequest("Unknown time zone.")
	}

	if err := s.users.UpdateTimezone(ctx, sess.User.ID, tz); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrNotFound) {
			return UserSession{}, newError(CodeNotFound, "User not found.", http.StatusNotFound, err)
		}
		return UserSession{}, serverError("update timezone", err)
	}

	user, ev, err := s.status.load(ctx, sess.User.ID)
	if err != nil {
		return UserSession{}, err
	}
	next, err := s.issueUser(ctx, newSessionUser(user, ev.DaysRemaining))
	if err != nil {
		return UserSession{}, err
	}
	s.revoke(ctx, sess)
	s.audit("user.settings.updated", "user_id", user.ID, "timezone", tz)
	return next, nil
}

// Logout revokes the session token until it would have expired.
func (s *AccountService) Logout(ctx context.Context, sess session.Session) error {
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, sess.ID, sess.ExpiresAt); err != nil {
		return serverError("revoke session", err)
	}
	s.audit("logout", "subject", sess.Subject, "kind", sess.Kind)
	return nil
}

func (s *AccountService) revoke(ctx context.Context, sess session.Session) {
	if s.revoker == nil || sess.ID == "" {
		return
	}
	if err := s.revoker.Revoke(ctx, sess.ID, sess.ExpiresAt); err != nil {
		s.log().Warn("revoke replaced session failed", zap.String("subject", sess.Subject), zap.Error(err))
	}
}

func (s *AccountService) issueUser(ctx context.Context, user domain.SessionUser) (UserSession, error) {
	token, err := s.sessions.IssueUser(ctx, user)
	if err != nil {
		return UserSession{}, serverError("issue session", err)
	}
	return UserSession{Token: token, User: user}, nil
}
