package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/848838/ChatApp/internal/blob"
	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/internal/service"
	"github.com/848838/ChatApp/internal/transport/http/middleware"
	"github.com/google/uuid"
)

// multipartOverhead leaves room for the form fields next to the image part.
const multipartOverhead = 1 << 20

type MessageHandler struct {
	messageService *service.MessageService
	maxImageBytes  int64
	log            *slog.Logger
}

func NewMessageHandler(messageService *service.MessageService, maxImageBytes int64, log *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		maxImageBytes:  maxImageBytes,
		log:            log,
	}
}

type sendRequest struct {
	ReceiverID string  `json:"receiver_id"`
	Body       string  `json:"body"`
	ImageURL   *string `json:"image_url,omitempty"`
}

// Send accepts JSON, or multipart form data when an image file is attached.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var (
		input service.SendInput
		ok    bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		input, ok = h.decodeMultipart(w, r)
	} else {
		input, ok = decodeJSONSend(w, r)
	}
	if !ok {
		return
	}

	msg, err := h.messageService.Send(r.Context(), middleware.GetCredential(r.Context()), input)
	if err != nil {
		writeServiceError(w, h.log, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// maxJSONSendBytes caps a JSON send; images never travel inline.
const maxJSONSendBytes = 1 << 20

func decodeJSONSend(w http.ResponseWriter, r *http.Request) (service.SendInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONSendBytes)
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
			return service.SendInput{}, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return service.SendInput{}, false
	}

	receiverID, ok := parseReceiver(w, req.ReceiverID)
	if !ok {
		return service.SendInput{}, false
	}
	return service.SendInput{ReceiverID: receiverID, Body: req.Body, ImageURL: req.ImageURL}, true
}

func (h *MessageHandler) decodeMultipart(w http.ResponseWriter, r *http.Request) (service.SendInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", blob.ErrTooLarge.Error())
			return service.SendInput{}, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Invalid multipart form")
		return service.SendInput{}, false
	}

	receiverID, ok := parseReceiver(w, r.FormValue("receiver_id"))
	if !ok {
		return service.SendInput{}, false
	}
	input := service.SendInput{ReceiverID: receiverID, Body: r.FormValue("body")}
	if url := strings.TrimSpace(r.FormValue("image_url")); url != "" {
		input.ImageURL = &url
	}

	file, _, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return input, true
	case err != nil:
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Invalid image part")
		return service.SendInput{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Could not read image")
		return service.SendInput{}, false
	}
	input.Image = data
	return input, true
}

func parseReceiver(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", domain.ErrMissingReceiver.Error())
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid receiver ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	counterpartID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	page := domain.PageQuery{Before: r.URL.Query().Get("before")}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		page.Limit = n
	}

	messages, err := h.messageService.History(r.Context(), middleware.GetCredential(r.Context()), counterpartID, page)
	if err != nil {
		writeServiceError(w, h.log, "history", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.messageService.Remove(r.Context(), middleware.GetCredential(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.log, "delete message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.messageService.ConversationList(r.Context(), middleware.GetCredential(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}
