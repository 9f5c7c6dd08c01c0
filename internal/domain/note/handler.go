package note

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/scribe/scribe/internal/apperr"
	"github.com/scribe/scribe/internal/platform/httpapi"
	"github.com/scribe/scribe/internal/platform/summary"
	"github.com/scribe/scribe/internal/platform/transcription"
	"github.com/scribe/scribe/pkg/nullable"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the note endpoints on g (typically /api/notes).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/recent", h.ListRecent)
	g.GET("/audio/*", h.AudioURL)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/transcribe", h.TranscribeUpload)
	g.POST("/:id/transcribe", h.Transcribe)
	g.POST("/:id/generate-summary", h.GenerateSummary)
}

var (
	noteNotFound    = httpapi.Messages{apperr.KindNoteNotFound: "Note not found"}
	patientNotFound = httpapi.Messages{apperr.KindPatientNotFound: "Patient not found"}
)

// -- DTOs --

type createRequest struct {
	PatientID           string  `json:"patientId" validate:"required"`
	RawContent          string  `json:"rawContent"`
	Name                *string `json:"name" validate:"omitempty,max=255"`
	TranscriptionText   *string `json:"transcriptionText"`
	AISummary           *string `json:"aiSummary"`
	AudioPath           *string `json:"audioPath" validate:"omitempty,max=255"`
	TranscriptionStatus string  `json:"transcriptionStatus" validate:"omitempty,oneof=pending completed failed"`
}

func (r *createRequest) Normalize() {
	r.PatientID = strings.TrimSpace(r.PatientID)
}

type updateRequest struct {
	Name                nullable.Field[string] `json:"name"`
	RawContent          nullable.Field[string] `json:"rawContent"`
	TranscriptionText   nullable.Field[string] `json:"transcriptionText"`
	AISummary           nullable.Field[string] `json:"aiSummary"`
	AudioPath           nullable.Field[string] `json:"audioPath"`
	TranscriptionStatus nullable.Field[Status] `json:"transcriptionStatus"`
}

func (r *updateRequest) check() error {
	var msgs []string
	if r.Name.HasValue() && len(strings.TrimSpace(r.Name.Value)) > 255 {
		msgs = append(msgs, "name must be at most 255 characters")
	}
	if r.AudioPath.HasValue() && len(strings.TrimSpace(r.AudioPath.Value)) > 255 {
		msgs = append(msgs, "audioPath must be at most 255 characters")
	}
	if r.TranscriptionStatus.HasValue() && !r.TranscriptionStatus.Value.Valid() {
		msgs = append(msgs, "transcriptionStatus must be one of: pending, completed, failed")
	}
	if len(msgs) > 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: "+strings.Join(msgs, "; "))
	}
	return nil
}

type generateSummaryRequest struct {
	Template string `json:"template" validate:"required"`
}

// -- Queries --

// List returns all notes, or one patient's notes when patientId (or its
// alias studentId) is given.
func (h *Handler) List(c echo.Context) error {
	patientID := c.QueryParam("patientId")
	if patientID == "" {
		patientID = c.QueryParam("studentId")
	}
	ctx := c.Request().Context()
	if patientID != "" {
		items, err := h.svc.ListByPatient(ctx, patientID)
		if err != nil {
			return httpapi.Error(err, patientNotFound, "Failed to fetch notes")
		}
		return c.JSON(http.StatusOK, items)
	}
	items, err := h.svc.List(ctx)
	if err != nil {
		return httpapi.Error(err, nil, "Failed to fetch notes")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListRecent(c echo.Context) error {
	items, err := h.svc.ListRecent(c.Request().Context())
	if err != nil {
		return httpapi.Error(err, nil, "Failed to fetch recent notes")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpapi.Error(err, noteNotFound, "Failed to fetch note")
	}
	return c.JSON(http.StatusOK, d)
}

// -- Mutations --

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpapi.BindAndValidate(c, &req); err != nil {
		return err
	}
	n, err := h.svc.Create(c.Request().Context(), CreateInput{
		PatientID:           req.PatientID,
		RawContent:          req.RawContent,
		Name:                req.Name,
		TranscriptionText:   req.TranscriptionText,
		AISummary:           req.AISummary,
		AudioPath:           req.AudioPath,
		TranscriptionStatus: Status(req.TranscriptionStatus),
	})
	if err != nil {
		return httpapi.Error(err, patientNotFound, "Failed to create note")
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) Update(c echo.Context) error {
	var req updateRequest
	if err := httpapi.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := req.check(); err != nil {
		return err
	}
	n, err := h.svc.Update(c.Request().Context(), c.Param("id"), UpdateInput(req))
	if err != nil {
		return httpapi.Error(err, noteNotFound, "Failed to update note")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpapi.Error(err, noteNotFound, "Failed to delete note")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Transcription and summaries --

func (h *Handler) Transcribe(c echo.Context) error {
	n, err := h.svc.Transcribe(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpapi.Error(err, httpapi.Messages{
			apperr.KindNoteNotFound:       "Note not found",
			apperr.KindNoAudioFile:        "No audio file available for transcription",
			apperr.KindInvalidStatus:      "Transcription already completed",
			apperr.KindInvalidAudioFormat: "Invalid audio format. Supported formats: " + transcription.SupportedFormats(),
			apperr.KindAudioTooLarge:      "Audio file too large (max 25MB)",
			apperr.KindAudioNotFound:      "Audio file not found in storage",
			apperr.KindTranscription:      "Transcription failed: " + apperr.CauseMessage(err),
		}, "Failed to transcribe note")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) GenerateSummary(c echo.Context) error {
	var req generateSummaryRequest
	if err := httpapi.BindAndValidate(c, &req); err != nil {
		return err
	}
	tmpl, err := summary.ParseTemplate(req.Template)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid template type. Supported: soap, progress, discharge")
	}
	text, err := h.svc.GenerateSummary(c.Request().Context(), c.Param("id"), tmpl)
	if err != nil {
		return httpapi.Error(err, httpapi.Messages{
			apperr.KindNoteNotFound: "Note not found",
			apperr.KindNoContent:    "No content available for summary generation. Please add notes or transcription.",
			apperr.KindAPI:          "Summary generation failed: " + apperr.CauseMessage(err),
		}, "Failed to generate summary")
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": text})
}

type uploadResponse struct {
	Error     string                  `json:"error,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Text      *string                 `json:"text"`
	Segments  []transcription.Segment `json:"segments"`
	AudioPath string                  `json:"audioPath,omitempty"`
}

// TranscribeUpload accepts a multipart "audio" file, stores it and
// transcribes it inline. A transcription-only failure is still a 200 that
// reports the stored audioPath.
func (h *Handler) TranscribeUpload(c echo.Context) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No audio file provided"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No audio file provided"})
	}
	defer f.Close()

	// One byte past the limit is enough to detect an oversized upload.
	data, err := io.ReadAll(io.LimitReader(f, transcription.MaxAudioBytes+1))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Failed to process audio",
			"message": err.Error(),
		})
	}

	res, err := h.svc.TranscribeUpload(c.Request().Context(), data, fh.Filename, fh.Header.Get(echo.HeaderContentType))
	switch kind, _ := apperr.KindOf(err); {
	case err == nil:
		return c.JSON(http.StatusOK, uploadResponse{Text: res.Text, Segments: res.Segments, AudioPath: res.AudioPath})
	case kind == apperr.KindInvalidAudioFormat:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":            "Invalid audio format",
			"supportedFormats": transcription.SupportedFormats(),
		})
	case kind == apperr.KindAudioTooLarge:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Audio file too large (max 25MB)"})
	case kind == apperr.KindTranscription:
		return c.JSON(http.StatusOK, uploadResponse{
			Error:     "Transcription failed",
			Message:   apperr.CauseMessage(err),
			Segments:  []transcription.Segment{},
			AudioPath: res.AudioPath,
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Failed to process audio",
			"message": err.Error(),
		})
	}
}

// AudioURL returns {"url": ...} for the audio key in the path. The key may
// arrive URL-encoded.
func (h *Handler) AudioURL(c echo.Context) error {
	key := c.Param("*")
	if k, err := url.PathUnescape(key); err == nil {
		key = k
	}
	if key == "" {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve audio"})
	}
	u, err := h.svc.AudioURL(c.Request().Context(), key)
	if err != nil {
		h.svc.logger.Error().Err(err).Str("audio_path", key).Msg("sign audio url failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve audio"})
	}
	return c.JSON(http.StatusOK, map[string]string{"url": u})
}
