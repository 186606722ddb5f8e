package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zlnvch/doodleup/api/session"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/service"
)

type Handler struct {
	Service *service.Service
	Cookies session.CookieSettings
}

func NewHandler(svc *service.Service, cookies session.CookieSettings) *Handler {
	if cookies.MaxAge <= 0 {
		cookies.MaxAge = svc.Settings.TokenTTL
	}
	return &Handler{Service: svc, Cookies: cookies}
}

type userResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	ProfileP string `json:"profile_p"`
}

func toUserResponse(identity models.Identity) userResponse {
	return userResponse{
		Username: identity.DisplayName,
		Id:       identity.Key,
		ProfileP: identity.AvatarRef,
	}
}

type authResponse struct {
	Req     bool          `json:"req"`
	Auth    bool          `json:"auth"`
	Message string        `json:"message"`
	User    *userResponse `json:"user,omitempty"`
}

type errorResponse struct {
	Req     bool   `json:"req"`
	Message string `json:"message"`
}

type guestLoginRequest struct {
	Username string `json:"username"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req guestLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity, token, err := h.Service.IssueGuestCredential(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, service.ErrInvalidArgument) {
			h.sendStatus(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
			return
		}
		slog.Error("guest login failed", "err", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	session.SetCredentialCookie(w, session.GuestCookie, token, h.Cookies)
	user := toUserResponse(identity)
	h.sendResponse(w, authResponse{Req: true, Auth: false, Message: "Logged in", User: &user})
}

type oauthLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

func (h *Handler) HandleOauthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req oauthLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		slog.Error("oauth login failed", "provider", req.Provider, "err", err)
		if errors.Is(err, service.ErrInvalidArgument) {
			h.sendStatus(w, http.StatusBadRequest, errorResponse{Message: "unsupported provider"})
			return
		}
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	session.SetCredentialCookie(w, session.AccountCookie, token, h.Cookies)
	user := toUserResponse(identity)
	h.sendResponse(w, authResponse{Req: true, Auth: true, Message: "Logged in", User: &user})
}

func (h *Handler) HandleProtected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tokens := session.ReadTokens(r, false)
	if len(tokens) == 0 {
		h.sendStatus(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized"})
		return
	}

	identity, err := h.Service.VerifyAny(r.Context(), tokens)
	if err != nil {
		h.sendStatus(w, http.StatusForbidden, errorResponse{Message: "Invalid token"})
		return
	}

	user := toUserResponse(identity)
	h.sendResponse(w, authResponse{
		Req:     true,
		Auth:    identity.Authenticated,
		Message: "Protected content",
		User:    &user,
	})
}

type createBoardRequest struct {
	BoardName string `json:"boardname"`
}

type createBoardResponse struct {
	Req       bool   `json:"req"`
	Board     string `json:"board"`
	BoardName string `json:"boardname"`
}

func (h *Handler) HandleCreateBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := h.Service.VerifyAny(r.Context(), session.ReadTokens(r, false))
	if err != nil {
		h.sendStatus(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized"})
		return
	}

	var req createBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	board, err := h.Service.CreateBoard(r.Context(), identity, req.BoardName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidArgument):
			h.sendStatus(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		case errors.Is(err, service.ErrUnauthorized):
			h.sendStatus(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized"})
		default:
			slog.Error("create board failed", "err", err)
			http.Error(w, "failed to create board", http.StatusInternalServerError)
		}
		return
	}

	h.sendResponse(w, createBoardResponse{Req: true, Board: board.Code, BoardName: board.DisplayName})
}

type checkBoardRequest struct {
	Id string `json:"id"`
}

type checkBoardResponse struct {
	Req        bool   `json:"req"`
	BoardOwner string `json:"boardowner,omitempty"`
	BoardName  string `json:"boardname,omitempty"`
}

func (h *Handler) HandleCheckBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := h.Service.CheckBoard(req.Id)
	if err != nil {
		h.sendResponse(w, checkBoardResponse{Req: false})
		return
	}
	h.sendResponse(w, checkBoardResponse{Req: true, BoardOwner: summary.OwnerName, BoardName: summary.DisplayName})
}

type boardListItem struct {
	Id        string    `json:"id"`
	BoardName string    `json:"boardname"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

type boardListResponse struct {
	Req    bool            `json:"req"`
	Boards []boardListItem `json:"boards"`
}

func (h *Handler) HandleBoards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summaries := h.Service.ListBoards()
	items := make([]boardListItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, boardListItem{
			Id:        s.Code,
			BoardName: s.DisplayName,
			Owner:     s.OwnerName,
			CreatedAt: s.Created,
		})
	}
	h.sendResponse(w, boardListResponse{Req: true, Boards: items})
}

// HandleStrokes serves a board's history. Unknown boards and backend
// failures both yield an empty list.
func (h *Handler) HandleStrokes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	boardId := r.URL.Query().Get("boardId")
	if boardId == "" {
		h.sendResponse(w, []models.Stroke{})
		return
	}
	h.sendResponse(w, h.Service.ReplayHistory(r.Context(), boardId))
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	h.sendStatus(w, http.StatusOK, resp)
}

func (h *Handler) sendStatus(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
