/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic. The bot gateway is
  one client of this API; an admin dashboard is another.

ENDPOINTS:
  Users:
    GET    /api/users                     List all members
    POST   /api/users                     Register member (welcome bonus)
    GET    /api/users/{id}                Get member details
    PUT    /api/users/{id}                Update profile fields
    DELETE /api/users/{id}                Delete member (cascades)
    GET    /api/users/by-telegram/{tgid}  Lookup by telegram id

  Balance:
    GET    /api/users/{id}/balance        Reconcile + balance summary
    POST   /api/users/{id}/spend          Redeem points
    POST   /api/users/{id}/credit         Admin credit
    POST   /api/users/{id}/debit          Admin debit (grants-first)
    POST   /api/users/{id}/purchase       Percentage-of-purchase credit
    GET    /api/users/{id}/ledger         Recent ledger entries

  Events:
    GET    /api/events                    List catalog events
    POST   /api/events                    Create event
    GET    /api/events/{id}               Get event
    PUT    /api/events/{id}               Update event
    DELETE /api/events/{id}               Delete event
    POST   /api/events/{id}/grant-all     Grant event to every member
    POST   /api/events/defaults           Seed the default catalog

  Admin:
    GET    /api/stats                     User count + total balance

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, insufficient balance
  - 404: Resource not found
  - 409: Duplicate registration
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware currently. The API is intended to sit
  behind the bot gateway on a private network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *loyalty.Service
	Store   loyalty.TxStore
}

// NewHandler creates a new handler around the service and its store.
func NewHandler(svc *loyalty.Service, store loyalty.TxStore) *Handler {
	return &Handler{Service: svc, Store: store}
}

// statsStore is implemented by stores with a native aggregate query.
// Others fall back to a ListUsers scan.
type statsStore interface {
	GetStats(ctx context.Context) (sqlite.Stats, error)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all members.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single member.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// GetUserByTelegramID looks a member up by telegram id. The bot gateway
// calls this on every interaction.
func (h *Handler) GetUserByTelegramID(w http.ResponseWriter, r *http.Request) {
	tgID, err := strconv.ParseInt(chi.URLParam(r, "tgid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram id", err)
		return
	}

	user, err := h.Store.GetUserByTelegramID(r.Context(), tgID)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// RegisterUser creates a member and credits the welcome bonus.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TelegramID == 0 {
		writeError(w, http.StatusBadRequest, "telegram_id is required", nil)
		return
	}

	user := &loyalty.User{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
	}
	if req.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid birth_date format (use YYYY-MM-DD)", err)
			return
		}
		user.BirthDate = &bd
	}

	if err := h.Service.Register(r.Context(), user); err != nil {
		writeDomainError(w, "Failed to register user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// UpdateUser updates profile fields. Only non-empty fields move.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}

	if req.Username != "" {
		user.Username = req.Username
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Phone != "" {
		user.Phone = req.Phone
	}
	if req.Role != "" {
		user.Role = req.Role
	}
	if req.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid birth_date format (use YYYY-MM-DD)", err)
			return
		}
		user.BirthDate = &bd
	}

	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		writeDomainError(w, "Failed to update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// DeleteUser removes a member along with their grants and ledger history.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteUser(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance reconciles the member and returns the balance summary.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	summary, err := h.Service.Summarize(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:         int64(id),
		Balance:        int64(summary.Balance),
		HolidayBalance: int64(summary.HolidayBalance),
		Total:          int64(summary.Total),
		Bonuses:        toBonusDTOs(summary.Bonuses),
	})
}

// Spend redeems points: expiring grants first, then the general balance.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Service.Spend(r.Context(), id, loyalty.Points(req.Amount), req.Description)
	if err != nil {
		writeDomainError(w, "Failed to spend points", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpendResultDTO(result))
}

// Credit adds points to the general balance.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	balance, err := h.Service.Credit(r.Context(), id, loyalty.Points(req.Amount), req.Description)
	if err != nil {
		writeDomainError(w, "Failed to credit points", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"new_balance": int64(balance)})
}

// Debit removes points along the same grants-first path as a spend.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Service.Debit(r.Context(), id, loyalty.Points(req.Amount), req.Description)
	if err != nil {
		writeDomainError(w, "Failed to debit points", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpendResultDTO(result))
}

// CreditPurchase credits the standing percentage of a purchase amount.
func (h *Handler) CreditPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	purchase, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase amount", err)
		return
	}

	credited, err := h.Service.CreditPurchase(r.Context(), id, purchase)
	if err != nil {
		writeDomainError(w, "Failed to credit purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResultDTO{Credited: int64(credited)})
}

// GetLedger returns the member's recent ledger entries, newest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		limit, _ = strconv.Atoi(q)
	}

	entries, err := h.Service.History(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTOs(entries))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns the full event catalog.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i := range events {
		dtos[i] = toEventDTO(&events[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEvent returns a single catalog event.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	ev, err := h.Store.GetEvent(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// CreateEvent adds a catalog event.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev, ok := eventFromRequest(w, &req)
	if !ok {
		return
	}
	if err := h.Store.CreateEvent(r.Context(), ev); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

// UpdateEvent replaces a catalog event's fields.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev, ok := eventFromRequest(w, &req)
	if !ok {
		return
	}
	ev.ID = id
	if err := h.Store.SaveEvent(r.Context(), ev); err != nil {
		writeDomainError(w, "Failed to update event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// DeleteEvent removes a catalog event. Grants already issued for it
// survive, re-attributed as generic holiday bonuses.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteEvent(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantAll credits the event's amount to every member as a non-expiring
// grant.
func (h *Handler) GrantAll(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}

	granted, err := h.Service.GrantAll(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to grant event", err)
		return
	}
	writeJSON(w, http.StatusOK, GrantAllResultDTO{EventID: int64(id), Granted: granted})
}

// SeedDefaultEvents inserts any missing default catalog event.
func (h *Handler) SeedDefaultEvents(w http.ResponseWriter, r *http.Request) {
	if err := loyalty.SeedDefaultEvents(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed default events", err)
		return
	}
	h.ListEvents(w, r)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetStats returns the user count and the sum of general balances.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if ss, ok := h.Store.(statsStore); ok {
		st, err := ss.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get stats", err)
			return
		}
		writeJSON(w, http.StatusOK, StatsDTO{
			UserCount:    st.UserCount,
			TotalBalance: int64(st.TotalBalance),
		})
		return
	}

	// Fallback for stores without an aggregate query.
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get stats", err)
		return
	}
	var total loyalty.Points
	for _, u := range users {
		total += u.Balance
	}
	writeJSON(w, http.StatusOK, StatsDTO{UserCount: len(users), TotalBalance: int64(total)})
}

// =============================================================================
// HELPERS
// =============================================================================

func userIDParam(w http.ResponseWriter, r *http.Request) (loyalty.UserID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return 0, false
	}
	return loyalty.UserID(id), true
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (loyalty.EventID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event id", err)
		return 0, false
	}
	return loyalty.EventID(id), true
}

func eventFromRequest(w http.ResponseWriter, req *EventRequest) (*loyalty.Event, bool) {
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return nil, false
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return nil, false
	}

	ev := &loyalty.Event{
		Name:         req.Name,
		Amount:       loyalty.Points(req.Amount),
		LeadDays:     req.LeadDays,
		ValidityDays: req.ValidityDays,
		Active:       true,
	}
	if req.Active != nil {
		ev.Active = *req.Active
	}
	if req.CalendarDate != "" {
		md, err := parseMonthDay(req.CalendarDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid calendar_date format (use MM-DD)", err)
			return nil, false
		}
		ev.CalendarDate = md
	}
	return ev, true
}

func toSpendResultDTO(result *loyalty.SpendResult) SpendResultDTO {
	return SpendResultDTO{
		Total:       int64(result.Total),
		FromGrants:  int64(result.FromGrants),
		FromGeneral: int64(result.FromGeneral),
		NewBalance:  int64(result.NewBalance),
	}
}

func formatMonthDay(md loyalty.MonthDay) string {
	return fmt.Sprintf("%02d-%02d", md.Month, md.Day)
}

func parseMonthDay(s string) (*loyalty.MonthDay, error) {
	var month, day int
	if _, err := fmt.Sscanf(s, "%d-%d", &month, &day); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil, fmt.Errorf("calendar date out of range: %q", s)
	}
	return &loyalty.MonthDay{Month: time.Month(month), Day: day}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case loyalty.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, loyalty.ErrDuplicateUser):
		writeError(w, http.StatusConflict, message, err)
	case loyalty.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
