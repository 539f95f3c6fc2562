package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
)

// DefaultUploadMaxBytes bounds transcription uploads when no limit is set.
const DefaultUploadMaxBytes = 10 << 20

// SubmissionHandler serves essay evaluation and assistant endpoints.
type SubmissionHandler struct {
	Submissions    *service.SubmissionService
	Assistant      *service.AssistantService
	UploadMaxBytes int64
}

// NewSubmissionHandler creates the handler set.
func NewSubmissionHandler(submissions *service.SubmissionService, assistant *service.AssistantService, uploadMaxBytes int64) *SubmissionHandler {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = DefaultUploadMaxBytes
	}
	return &SubmissionHandler{Submissions: submissions, Assistant: assistant, UploadMaxBytes: uploadMaxBytes}
}

type evaluateRequest struct {
	Text    string `json:"text" binding:"required,max=20000"`
	ScanKey string `json:"scan_key"`
}

// Evaluate requests feedback for an essay and records it.
func (h *SubmissionHandler) Evaluate(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	var req evaluateRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Submissions.Evaluate(c.Request.Context(), sess, req.Text, req.ScanKey)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// History lists the student's submissions.
func (h *SubmissionHandler) History(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	views, err := h.Submissions.History(c.Request.Context(), sess.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": views})
}

// Transcribe reads the multipart "file" field and returns its text.
func (h *SubmissionHandler) Transcribe(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.UploadMaxBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fileTooLarge(c)
			return
		}
		badRequest(c, "file is required.")
		return
	}
	if header.Size > h.UploadMaxBytes {
		fileTooLarge(c)
		return
	}

	file, err := header.Open()
	if err != nil {
		badRequest(c, "file could not be read.")
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, h.UploadMaxBytes))
	if err != nil {
		badRequest(c, "file could not be read.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}

	res, err := h.Submissions.Transcribe(c.Request.Context(), sess.Subject, image, contentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type askRequest struct {
	Persona string `json:"persona" binding:"required,oneof=vocabulary counselor"`
	Message string `json:"message" binding:"required,max=4000"`
}

// Ask forwards a question to an assistant persona.
func (h *SubmissionHandler) Ask(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	var req askRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, err := h.Assistant.Ask(c.Request.Context(), sess.Subject, service.Persona(req.Persona), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func fileTooLarge(c *gin.Context) {
	middleware.SetErrorCode(c, service.CodeInvalidRequest)
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": service.CodeInvalidRequest, "error_description": "The file is too large."})
}
