package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/jsonutil"
)

type listResponse struct {
	Notifications []*notification.Notification `json:"notifications"`
	UnreadCount   int64                        `json:"unreadCount"`
	Limit         int                          `json:"limit"`
	Offset        int                          `json:"offset"`
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	opts := notification.ListOptions{UnreadOnly: unreadOnly, Limit: limit, Offset: offset}
	items, err := s.inbox.List(r.Context(), userID, opts)
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	unread, err := s.inbox.UnreadCount(r.Context(), userID)
	if err != nil {
		s.internalError(w, "count unread", err)
		return
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	if limit == 0 {
		limit = notification.DefaultListLimit
	}
	jsonutil.WriteJSON(w, http.StatusOK, listResponse{
		Notifications: items,
		UnreadCount:   unread,
		Limit:         min(limit, notification.MaxListLimit),
		Offset:        offset,
	})
}

func (s *Server) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.inbox.UnreadCount(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		s.internalError(w, "count unread", err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int64{"count": count})
}

type markReadRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

// MarkRead marks a list of notifications, or all of them, read for the caller.
func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	if !req.All && len(req.IDs) == 0 {
		jsonutil.WriteErrorJSON(w, "ids or all is required")
		return
	}
	updated, err := s.inbox.MarkRead(r.Context(), UserIDFrom(r.Context()),
		notification.ReadSelector{IDs: req.IDs, All: req.All})
	if err != nil {
		s.internalError(w, "mark read", err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) MarkOneRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.inbox.MarkOneRead(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if errors.Is(err, notification.ErrNotFound) {
		jsonutil.WriteError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		s.internalError(w, "mark read", err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, n)
}

type subscribeRequest struct {
	Subscription struct {
		Endpoint string                `json:"endpoint"`
		Keys     notification.PushKeys `json:"keys"`
	} `json:"subscription"`
	UserAgent string `json:"userAgent"`
}

func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}
	sub := &notification.Subscription{
		UserID:    UserIDFrom(r.Context()),
		Endpoint:  req.Subscription.Endpoint,
		Keys:      req.Subscription.Keys,
		UserAgent: userAgent,
	}
	created, err := s.inbox.Subscribe(r.Context(), sub)
	if errors.Is(err, notification.ErrInvalidSubscription) {
		jsonutil.WriteErrorJSON(w, "Subscription endpoint and keys are required")
		return
	}
	if err != nil {
		s.internalError(w, "save subscription", err)
		return
	}
	status, msg := http.StatusOK, "Push subscription updated successfully"
	if created {
		status, msg = http.StatusCreated, "Push subscription saved successfully"
	}
	jsonutil.WriteJSON(w, status, map[string]any{
		"success":        true,
		"message":        msg,
		"subscriptionId": sub.ID,
	})
}

func (s *Server) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := jsonutil.DecodeJSON(r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	if req.Endpoint == "" {
		jsonutil.WriteErrorJSON(w, "endpoint is required")
		return
	}
	removed, err := s.inbox.Unsubscribe(r.Context(), UserIDFrom(r.Context()), req.Endpoint)
	if err != nil {
		s.internalError(w, "remove subscription", err)
		return
	}
	if !removed {
		jsonutil.WriteError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Push subscription removed successfully",
	})
}

// Dispatch accepts a DispatchTask from another service and runs it in the background.
func (s *Server) Dispatch(w http.ResponseWriter, r *http.Request) {
	var task notification.DispatchTask
	if err := jsonutil.DecodeJSON(r, &task); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	ev, err := task.Event()
	if err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	if err := s.dispatcher.DispatchAsync(r.Context(), task.UserID, ev, task.RecipientEmail); err != nil {
		s.logger.Warn("dispatch rejected", "user_id", task.UserID, "type", task.Type, "error", err)
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "Dispatcher is shutting down")
		return
	}
	jsonutil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"type":     task.Type,
	})
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	notifications, subscriptions, err := s.inbox.DeleteUser(r.Context(), userID)
	if err != nil {
		s.internalError(w, "delete user data", err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":        userID,
		"notifications": notifications,
		"subscriptions": subscriptions,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	jsonutil.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
}
