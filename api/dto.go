/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// USER TYPES
// =============================================================================

// UserDTO represents a registered member in API responses.
type UserDTO struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Role       string `json:"role"`
	Active     bool   `json:"active"`
	Balance    int64  `json:"balance"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// RegisterRequest is the request to register a new member.
type RegisterRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"` // YYYY-MM-DD
}

// UpdateUserRequest updates mutable profile fields. Empty strings leave the
// field unchanged; birth_date "null" is not supported (set once, then fixed).
type UpdateUserRequest struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Role      string `json:"role,omitempty"`
}

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventDTO represents a catalog event in API responses.
type EventDTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CalendarDate string `json:"calendar_date,omitempty"` // MM-DD, empty when manual-only
	Amount       int64  `json:"amount"`
	LeadDays     int    `json:"lead_days"`
	ValidityDays int    `json:"validity_days"`
	Active       bool   `json:"active"`
}

// EventRequest creates or updates a catalog event.
type EventRequest struct {
	Name         string `json:"name"`
	CalendarDate string `json:"calendar_date,omitempty"` // MM-DD
	Amount       int64  `json:"amount"`
	LeadDays     int    `json:"lead_days"`
	ValidityDays int    `json:"validity_days"`
	Active       *bool  `json:"active,omitempty"` // default true
}

// GrantAllResultDTO reports a manual grant-all run.
type GrantAllResultDTO struct {
	EventID int64 `json:"event_id"`
	Granted int   `json:"granted"`
}

// =============================================================================
// BALANCE / SPEND TYPES
// =============================================================================

// BalanceDTO is the reconciled balance view.
type BalanceDTO struct {
	UserID         int64            `json:"user_id"`
	Balance        int64            `json:"balance"`
	HolidayBalance int64            `json:"holiday_balance"`
	Total          int64            `json:"total"`
	Bonuses        []ActiveBonusDTO `json:"bonuses"`
}

// ActiveBonusDTO is one live expiring bonus.
type ActiveBonusDTO struct {
	GrantID    int64  `json:"grant_id"`
	Amount     int64  `json:"amount"`
	ExpiresAt  string `json:"expires_at"`
	DaysLeft   int    `json:"days_left"`
	SourceName string `json:"source_name"`
}

// SpendRequest debits points from a member.
type SpendRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// SpendResultDTO reports how a redemption was satisfied.
type SpendResultDTO struct {
	Total       int64 `json:"total"`
	FromGrants  int64 `json:"from_grants"`
	FromGeneral int64 `json:"from_general"`
	NewBalance  int64 `json:"new_balance"`
}

// AdjustRequest is a manual admin credit or debit.
type AdjustRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// PurchaseRequest credits a percentage of a purchase amount as points.
// Amount is the purchase total in currency, e.g. "1999.99".
type PurchaseRequest struct {
	Amount string `json:"amount"`
}

// PurchaseResultDTO reports the points credited for a purchase.
type PurchaseResultDTO struct {
	Credited int64 `json:"credited"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// LedgerEntryDTO represents one signed balance change.
type LedgerEntryDTO struct {
	ID          int64  `json:"id"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// MISC
// =============================================================================

// StatsDTO summarizes the user base.
type StatsDTO struct {
	UserCount    int   `json:"user_count"`
	TotalBalance int64 `json:"total_balance"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u *loyalty.User) UserDTO {
	dto := UserDTO{
		ID:         int64(u.ID),
		TelegramID: u.TelegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		Role:       u.Role,
		Active:     u.Active,
		Balance:    int64(u.Balance),
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
	if u.BirthDate != nil {
		dto.BirthDate = u.BirthDate.Format("2006-01-02")
	}
	return dto
}

func toEventDTO(e *loyalty.Event) EventDTO {
	dto := EventDTO{
		ID:           int64(e.ID),
		Name:         e.Name,
		Amount:       int64(e.Amount),
		LeadDays:     e.LeadDays,
		ValidityDays: e.ValidityDays,
		Active:       e.Active,
	}
	if e.CalendarDate != nil {
		dto.CalendarDate = formatMonthDay(*e.CalendarDate)
	}
	return dto
}

func toBonusDTOs(bonuses []loyalty.ActiveBonus) []ActiveBonusDTO {
	dtos := make([]ActiveBonusDTO, len(bonuses))
	for i, b := range bonuses {
		dtos[i] = ActiveBonusDTO{
			GrantID:    int64(b.GrantID),
			Amount:     int64(b.Amount),
			ExpiresAt:  b.ExpiresAt.Format(time.RFC3339),
			DaysLeft:   b.DaysLeft,
			SourceName: b.SourceName,
		}
	}
	return dtos
}

func toLedgerDTOs(entries []loyalty.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:          e.ID,
			Amount:      int64(e.Amount),
			Kind:        string(e.Kind),
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
