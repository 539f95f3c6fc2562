package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/blob"
	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

// historyLimit caps the submissions returned by History.
const historyLimit = 50

const feedbackPromptFormat = "University: %s\nProgram: %s\n\nWriting: %s"

// SubmissionService evaluates essays and records them.
type SubmissionService struct {
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	feedback    FeedbackClient
	transcriber Transcriber
	archive     ScanArchive
	ids         *snowflake.Node
	assistantID string
	status      statusReconciler
	clock       Clock
	instrumentation
}

// SubmissionOptions collects the external collaborators of SubmissionService.
// Transcriber and Archive may be nil; IDs defaults to snowflake node 0.
type SubmissionOptions struct {
	Feedback    FeedbackClient
	Transcriber Transcriber
	Archive     ScanArchive
	IDs         *snowflake.Node
	AssistantID string
}

// NewSubmissionService wires dependencies.
func NewSubmissionService(users repository.UserRepository, submissions repository.SubmissionRepository, opts SubmissionOptions, clock Clock, logger *zap.Logger) *SubmissionService {
	inst := newInstrumentation(logger)
	if opts.IDs == nil {
		// node 0 is always in range
		opts.IDs, _ = snowflake.NewNode(0)
	}
	return &SubmissionService{
		users:           users,
		submissions:     submissions,
		feedback:        opts.Feedback,
		transcriber:     opts.Transcriber,
		archive:         opts.Archive,
		ids:             opts.IDs,
		assistantID:     opts.AssistantID,
		status:          statusReconciler{users: users, clock: clock, instrumentation: inst},
		clock:           clock,
		instrumentation: inst,
	}
}

// RecordSubmission appends one submission, copying the user's organization
// and time zone onto the record. It never changes the account status.
func (s *SubmissionService) RecordSubmission(ctx context.Context, in SubmissionInput) (int64, error) {
	saved, err := s.record(ctx, in)
	if err != nil {
		return 0, err
	}
	return saved.ID, nil
}

func (s *SubmissionService) record(ctx context.Context, in SubmissionInput) (domain.Submission, error) {
	ctx, span := s.startSpan(ctx, "SubmissionService.RecordSubmission")
	defer span.End()

	user, err := s.users.Get(ctx, in.UserID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Submission{}, newError(CodeNotFound, "User not found.", http.StatusNotFound, err)
		}
		return domain.Submission{}, serverError("load user", err)
	}

	aff := in.Affiliation
	if aff.University == "" && aff.Faculty == "" {
		aff = user.Affiliation
	}

	sub := domain.Submission{
		ID:          s.nextID(),
		UserID:      user.ID,
		Text:        in.Text,
		Feedback:    in.Feedback,
		SubmitTime:  s.clock.now(),
		Affiliation: aff,
		OrgCode:     user.OrgCode,
		Timezone:    user.Timezone,
		ScanKey:     in.ScanKey,
	}
	saved, err := s.submissions.Append(ctx, sub)
	if err != nil {
		span.RecordError(err)
		return domain.Submission{}, serverError("append submission", err)
	}

	s.audit("submission.recorded", "user_id", user.ID, "submission_id", saved.ID, "org_code", saved.OrgCode)
	return saved, nil
}

// Evaluate requests AI feedback for an essay from an Active student and
// records the result.
func (s *SubmissionService) Evaluate(ctx context.Context, sess session.Session, text, scanKey string) (FeedbackResult, error) {
	ctx, span := s.startSpan(ctx, "SubmissionService.Evaluate")
	defer span.End()

	if sess.User == nil {
		return FeedbackResult{}, newError(CodeForbidden, "Student session required.", http.StatusForbidden, domain.ErrForbidden)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FeedbackResult{}, invalidRequest("Essay text is required.")
	}
	scanKey = strings.TrimSpace(scanKey)
	if scanKey != "" && !blob.OwnedBy(scanKey, sess.User.ID) {
		return FeedbackResult{}, invalidRequest("Unknown scan key.")
	}

	user, ev, err := s.status.requireActive(ctx, sess.User.ID)
	if err != nil {
		return FeedbackResult{}, err
	}
	if s.feedback == nil {
		return FeedbackResult{}, newError(CodeExternalService, "Feedback is not available.", http.StatusBadGateway, domain.ErrExternalService)
	}

	prompt := fmt.Sprintf(feedbackPromptFormat, user.Affiliation.University, user.Affiliation.Faculty, text)
	res := s.feedback.RequestFeedback(ctx, s.assistantID, prompt)
	switch res.Outcome {
	case assistant.Succeeded:
	case assistant.TimedOut:
		s.log().Warn("feedback timed out", zap.String("user_id", user.ID))
		return FeedbackResult{}, newError(CodeExternalTimeout, "The feedback service took too long to respond.", http.StatusGatewayTimeout, fmt.Errorf("%w: %v", domain.ErrExternalService, res.Err))
	default:
		span.RecordError(res.Err)
		s.log().Warn("feedback failed", zap.String("user_id", user.ID), zap.Error(res.Err))
		return FeedbackResult{}, newError(CodeExternalService, "The feedback service is unavailable.", http.StatusBadGateway, fmt.Errorf("%w: %v", domain.ErrExternalService, res.Err))
	}

	saved, err := s.record(ctx, SubmissionInput{
		UserID:      user.ID,
		Text:        text,
		Feedback:    res.Text,
		Affiliation: user.Affiliation,
		ScanKey:     scanKey,
	})
	if err != nil {
		return FeedbackResult{}, err
	}

	return FeedbackResult{
		SubmissionID:  saved.ID,
		Feedback:      res.Text,
		SubmitTime:    saved.SubmitTime,
		Status:        ev.Status,
		DaysRemaining: ev.DaysRemaining,
	}, nil
}

// History returns the user's submissions, newest first, with local times in
// the zone each submission was made in.
func (s *SubmissionService) History(ctx context.Context, userID string) ([]SubmissionView, error) {
	ctx, span := s.startSpan(ctx, "SubmissionService.History")
	defer span.End()

	subs, err := s.submissions.ListByUser(ctx, userID, historyLimit)
	if err != nil {
		span.RecordError(err)
		return nil, serverError("list submissions", err)
	}
	views := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, newSubmissionView(sub, org.Location(sub.Timezone)))
	}
	return views, nil
}

// Transcribe archives an uploaded essay scan and returns its text.
func (s *SubmissionService) Transcribe(ctx context.Context, userID string, image []byte, contentType string) (Transcription, error) {
	ctx, span := s.startSpan(ctx, "SubmissionService.Transcribe")
	defer span.End()

	if len(image) == 0 {
		return Transcription{}, invalidRequest("An image file is required.")
	}
	if _, _, err := s.status.requireActive(ctx, userID); err != nil {
		return Transcription{}, err
	}
	if s.transcriber == nil {
		return Transcription{}, newError(CodeExternalService, "Transcription is not available.", http.StatusBadGateway, domain.ErrExternalService)
	}

	var key string
	if s.archive != nil {
		k, err := s.archive.Store(ctx, userID, image, contentType)
		if err != nil {
			s.log().Warn("archive scan failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			key = k
		}
	}

	text, err := s.transcriber.Transcribe(ctx, image, contentType)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return Transcription{}, newError(CodeExternalTimeout, "The transcription service took too long to respond.", http.StatusGatewayTimeout, fmt.Errorf("%w: %v", domain.ErrExternalService, err))
		}
		return Transcription{}, newError(CodeExternalService, "The transcription service is unavailable.", http.StatusBadGateway, fmt.Errorf("%w: %v", domain.ErrExternalService, err))
	}

	s.audit("submission.transcribed", "user_id", userID, "scan_key", key)
	return Transcription{Text: text, ScanKey: key}, nil
}

func (s *SubmissionService) nextID() int64 {
	return s.ids.Generate().Int64()
}
