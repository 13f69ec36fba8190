package routes

import (
	"errors"
	"net/http"

	"github.com/petervdpas/tandem/internal/chat"
)

type sendMessageRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"required_without=Image"`
	Image      string `json:"image" validate:"omitempty,url"`
}

type historyQuery struct {
	SenderID   string `validate:"required"`
	ReceiverID string `validate:"required"`
}

func registerMessageRoutes(mux *http.ServeMux, msgs Messages) {
	// POST /messages — persist, then push live if the receiver is online.
	handlePost(mux, "/messages", func(w http.ResponseWriter, r *http.Request, req sendMessageRequest) {
		msg, err := msgs.SendMessage(r.Context(), req.SenderID, req.ReceiverID, req.Text, req.Image)
		if err != nil {
			writeError(w, messageErrorStatus(err), err.Error())
			return
		}
		writeJSONStatus(w, http.StatusCreated, msg)
	})

	// GET /messages?senderId=X&receiverId=Y — both directions, oldest first.
	handleGet(mux, "/messages", func(w http.ResponseWriter, r *http.Request) {
		q := historyQuery{
			SenderID:   r.URL.Query().Get("senderId"),
			ReceiverID: r.URL.Query().Get("receiverId"),
		}
		if err := validate.Struct(q); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		history, err := msgs.FetchHistory(r.Context(), q.SenderID, q.ReceiverID)
		if err != nil {
			writeError(w, messageErrorStatus(err), err.Error())
			return
		}
		if history == nil {
			history = []*chat.Message{}
		}
		writeJSON(w, history)
	})
}

func messageErrorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidParticipants),
		errors.Is(err, chat.ErrSelfMessage),
		errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		log.Errorf("VIEWER: message request failed: %v", err)
		return http.StatusInternalServerError
	}
}
