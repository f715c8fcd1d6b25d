package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clipforge/internal/auth"
	"clipforge/internal/domain"
	"clipforge/internal/service"
	"clipforge/internal/service/s3"
)

const maxUploadMemory = 32 << 20 // 32MB в памяти, остальное на диск

// ProjectHandler обрабатывает HTTP запросы монтажных проектов
type ProjectHandler struct {
	editService   *service.EditService
	renderService *service.RenderService
}

func NewProjectHandler(editService *service.EditService, renderService *service.RenderService) *ProjectHandler {
	return &ProjectHandler{
		editService:   editService,
		renderService: renderService,
	}
}

type versionResponse struct {
	Message string          `json:"message"`
	Version *domain.Version `json:"version"`
}

type trimRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type captionsRequest struct {
	Captions []domain.Caption `json:"captions"`
}

type renderResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// UploadProject создает проект из загруженного видео
func (h *ProjectHandler) UploadProject(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Failed to authenticate token", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		http.Error(w, "No video uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Видео публично, если явно не запрошено обратное
	isPublic := true
	if raw := r.FormValue("is_public"); raw != "" {
		isPublic = raw == "true"
	}

	version, err := h.editService.Upload(r.Context(), userID, isPublic, header.Filename, file, header.Size)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			http.Error(w, "You need to login to make the video private", http.StatusUnauthorized)
			return
		}
		writeError(w, "Upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, versionResponse{Message: "Video uploaded", Version: version})
}

// GetCurrentVersion отдает текущую версию проекта
func (h *ProjectHandler) GetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	version, err := h.editService.GetCurrent(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, "GetCurrent", err)
		return
	}

	writeJSON(w, http.StatusOK, version)
}

// ListVersions отдает всю цепочку версий проекта
func (h *ProjectHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	versions, err := h.editService.ListVersions(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, "ListVersions", err)
		return
	}

	writeJSON(w, http.StatusOK, versions)
}

// TrimVideo обрезает текущую версию проекта
func (h *ProjectHandler) TrimVideo(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	version, err := h.editService.Trim(r.Context(), projectID, userID, req.Start, req.End)
	if err != nil {
		writeError(w, "Trim", err)
		return
	}

	writeJSON(w, http.StatusOK, versionResponse{Message: "Trimmed video saved", Version: version})
}

// AddCaptions накладывает субтитры на текущую версию проекта
func (h *ProjectHandler) AddCaptions(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	var req captionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	version, err := h.editService.AddCaptions(r.Context(), projectID, userID, req.Captions)
	if err != nil {
		writeError(w, "AddCaptions", err)
		return
	}

	writeJSON(w, http.StatusOK, versionResponse{Message: "Subtitles added", Version: version})
}

// UndoEdit откатывает проект на предыдущую версию
func (h *ProjectHandler) UndoEdit(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	version, err := h.editService.Undo(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, "Undo", err)
		return
	}

	writeJSON(w, http.StatusOK, versionResponse{Message: "Reverted to previous version", Version: version})
}

// RedoEdit возвращает проект на следующую версию
func (h *ProjectHandler) RedoEdit(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	version, err := h.editService.Redo(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, "Redo", err)
		return
	}

	writeJSON(w, http.StatusOK, versionResponse{Message: "Advanced to next version", Version: version})
}

// EnqueueRender ставит задачу рендера проекта в очередь
func (h *ProjectHandler) EnqueueRender(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	jobID, err := h.renderService.EnqueueRender(r.Context(), projectID, userID)
	if err != nil {
		writeError(w, "EnqueueRender", err)
		return
	}

	log.Printf("[Render] Job %s registered for project %s", jobID, projectID)

	writeJSON(w, http.StatusAccepted, renderResponse{Message: "Render job registered", JobID: jobID})
}

// GetRenderJob отдает состояние задачи рендера
func (h *ProjectHandler) GetRenderJob(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Failed to authenticate token", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		http.Error(w, "Missing job id", http.StatusBadRequest)
		return
	}

	info, err := h.renderService.JobStatus(r.Context(), jobID, userID)
	if err != nil {
		writeError(w, "GetRenderJob", err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// DownloadFinal отдает финальный артефакт проекта. Поддерживает
// Range-запросы, чтобы плееры могли перематывать видео без полной
// загрузки.
func (h *ProjectHandler) DownloadFinal(w http.ResponseWriter, r *http.Request) {
	userID, projectID, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	var start, end int64
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		var err error
		start, end, err = parseByteRange(rangeHeader)
		if err != nil {
			log.Printf("[Download] Некорректный Range %q: %v", rangeHeader, err)
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	var version *domain.Version
	var obj s3.S3Object
	var err error
	if rangeHeader != "" {
		version, obj, err = h.editService.DownloadFinalRange(r.Context(), projectID, userID, start, end)
	} else {
		version, obj, err = h.editService.DownloadFinal(r.Context(), projectID, userID)
	}
	if err != nil {
		writeError(w, "Download", err)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType()
	if contentType == "" {
		contentType = "video/mp4"
	}

	contentDisposition := fmt.Sprintf(`attachment; filename="%s_final.mp4"`, version.ProjectID)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength(), 10))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if rangeHeader != "" {
		contentRange := obj.ContentRange()
		if contentRange == "" {
			contentRange = fmt.Sprintf("bytes %d-%d/*", start, start+obj.ContentLength()-1)
		}
		w.Header().Set("Content-Range", contentRange)
		log.Printf("[Download] Отдаем частичный контент %s проекта %s", contentRange, projectID)
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("[Download] Ошибка отправки данных: %v", err)
	}
}

// parseByteRange разбирает заголовок Range. Поддерживается один
// диапазон вида bytes=N-M или bytes=N-; end = -1 означает чтение
// до конца артефакта.
func parseByteRange(rangeHeader string) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges not supported")
	}

	parts := strings.Split(strings.TrimSpace(spec), "-")
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}

	end := int64(-1)
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end: %w", err)
		}
		if end < start {
			return 0, 0, fmt.Errorf("invalid range values")
		}
	}

	if start < 0 {
		return 0, 0, fmt.Errorf("invalid range values")
	}

	return start, end, nil
}

// resolveCaller извлекает вызывающего и идентификатор проекта
func (h *ProjectHandler) resolveCaller(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Failed to authenticate token", http.StatusUnauthorized)
		return "", uuid.Nil, false
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		http.Error(w, "Invalid project UUID", http.StatusBadRequest)
		return "", uuid.Nil, false
	}

	return userID, projectID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

// writeError сопоставляет доменные ошибки с HTTP статусами
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotRendered):
		http.Error(w, "Video not rendered yet", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "You are not authorised to perform this action", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidOperation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoHistory),
		errors.Is(err, domain.ErrNoFuture),
		errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTransformationFailed):
		log.Printf("[%s] Transformation failed: %v", op, err)
		http.Error(w, "Transformation failed", http.StatusInternalServerError)
	default:
		log.Printf("[%s] Internal error: %v", op, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
