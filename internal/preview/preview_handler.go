package preview

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clipforge/internal/auth"
	"clipforge/internal/domain"
	"clipforge/internal/service"
)

type Handler struct {
	service     *Service
	editService *service.EditService
}

func NewHandler(previewService *Service, editService *service.EditService) *Handler {
	return &Handler{
		service:     previewService,
		editService: editService,
	}
}

func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Failed to authenticate token", http.StatusUnauthorized)
		return
	}

	projectID, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		log.Printf("Invalid UUID: %v", err)
		http.Error(w, "Invalid project UUID", http.StatusBadRequest)
		return
	}

	// Текущая версия с проверкой видимости
	version, err := h.editService.GetCurrent(r.Context(), projectID, userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrForbidden):
			http.Error(w, "Access denied", http.StatusForbidden)
		default:
			log.Printf("Failed to get current version: %v", err)
			http.Error(w, "Failed to get project info", http.StatusInternalServerError)
		}
		return
	}

	previewData, err := h.service.GetOrGenerate(r.Context(), version)
	if err != nil {
		log.Printf("Failed to generate preview: %v", err)
		http.Error(w, fmt.Sprintf("Failed to generate preview: %v", err), http.StatusInternalServerError)
		return
	}

	// Устанавливаем заголовки
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400") // кешируем на 24 часа

	w.WriteHeader(http.StatusOK)
	w.Write(previewData)
}
