package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

// Persona selects which assistant answers a free-form question.
type Persona string

const (
	PersonaVocabulary Persona = "vocabulary"
	PersonaCounselor  Persona = "counselor"
)

// Reply is an assistant answer.
type Reply struct {
	Persona Persona `json:"persona"`
	Text    string  `json:"text"`
}

// AssistantService answers students' writing and application questions.
type AssistantService struct {
	client     FeedbackClient
	assistants map[Persona]string
	status     statusReconciler
	instrumentation
}

// NewAssistantService maps each persona to its assistant id. Personas with an
// empty id are unavailable.
func NewAssistantService(users repository.UserRepository, client FeedbackClient, assistants map[Persona]string, clock Clock, logger *zap.Logger) *AssistantService {
	inst := newInstrumentation(logger)
	return &AssistantService{
		client:          client,
		assistants:      assistants,
		status:          statusReconciler{users: users, clock: clock, instrumentation: inst},
		instrumentation: inst,
	}
}

// Ask forwards message to the persona's assistant on behalf of an Active
// student.
func (s *AssistantService) Ask(ctx context.Context, userID string, persona Persona, message string) (Reply, error) {
	ctx, span := s.startSpan(ctx, "AssistantService.Ask")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, invalidRequest("A message is required.")
	}
	assistantID, ok := s.assistants[persona]
	if !ok {
		return Reply{}, invalidRequest(fmt.Sprintf("Unknown assistant %q.", persona))
	}
	if _, _, err := s.status.requireActive(ctx, userID); err != nil {
		return Reply{}, err
	}
	if s.client == nil || assistantID == "" {
		return Reply{}, newError(CodeExternalService, "This assistant is not available.", http.StatusBadGateway, domain.ErrExternalService)
	}

	res := s.client.RequestFeedback(ctx, assistantID, message)
	switch res.Outcome {
	case assistant.Succeeded:
		s.audit("assistant.asked", "user_id", userID, "persona", persona)
		return Reply{Persona: persona, Text: res.Text}, nil
	case assistant.TimedOut:
		return Reply{}, newError(CodeExternalTimeout, "The assistant took too long to respond.", http.StatusGatewayTimeout, fmt.Errorf("%w: %v", domain.ErrExternalService, res.Err))
	default:
		span.RecordError(res.Err)
		s.log().Warn("assistant request failed", zap.String("user_id", userID), zap.String("persona", string(persona)), zap.Error(res.Err))
		return Reply{}, newError(CodeExternalService, "The assistant is unavailable.", http.StatusBadGateway, fmt.Errorf("%w: %v", domain.ErrExternalService, res.Err))
	}
}
