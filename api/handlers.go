/*
handlers.go - HTTP API handlers for the expense ledger

PURPOSE:
  Exposes the ledger and notification services via REST. Handlers parse the
  request, take the actor from the auth middleware, delegate to the domain
  service, and serialize the result.

ENDPOINTS:
  Groups:
    POST   /api/groups                         Create group (caller is owner)
    GET    /api/groups                         Groups of the caller
    GET    /api/groups/{id}                    Group details
    DELETE /api/groups/{id}                    Delete group (owner)
    POST   /api/groups/{id}/members            Add a friend as member (owner)
    DELETE /api/groups/{id}/members/{userId}   Remove member (owner or self)
    GET    /api/groups/{id}/balances           Signed balances
    GET    /api/groups/{id}/settlements        Suggested transfers
    GET    /api/groups/{id}/expenses           Expenses, newest first
    POST   /api/groups/{id}/expenses           Log expense (PENDING_APPROVAL)

  Expenses:
    GET    /api/expenses/{id}                  Expense details
    POST   /api/expenses/{id}/approve          Approve (owner)
    POST   /api/expenses/{id}/reject           Reject (owner)
    GET    /api/expenses/{id}/payments         Payments of an expense
    POST   /api/expenses/{id}/payments         Pay own division

  Payments:
    GET    /api/payments/{id}                  Payment details
    POST   /api/payments/{id}/confirm          Confirm (expense creator)
    POST   /api/payments/{id}/reject           Reject (expense creator)

  Friends, notifications: see server.go.

ERROR HANDLING:
  Domain errors map to HTTP status in statusFor:
  - 400: ValidationError, malformed body
  - 401: missing or invalid credentials
  - 403: AuthorizationError
  - 404: NotFoundError
  - 409: AlreadyProcessedError
  - 503: StoreUnavailableError
  - 500: anything else

SEE ALSO:
  - dto.go:    request/response bodies
  - server.go: router and middleware
  - stream.go: server-sent unread counts
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/notify"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the services behind the HTTP API.
type Handler struct {
	Ledger        *ledger.Service
	Notifications *notify.Service
	Logger        *slog.Logger

	// StreamHeartbeat is the SSE keep-alive interval.
	StreamHeartbeat time.Duration
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(l *ledger.Service, n *notify.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Ledger: l, Notifications: n, Logger: logger, StreamHeartbeat: 25 * time.Second}
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// CreateGroup creates a group owned by the caller.
// @Summary      Create a group
// @Tags         groups
// @Accept       json
// @Produce      json
// @Param        request body CreateGroupRequest true "Group"
// @Success      201 {object} ledger.Group
// @Failure      400 {object} ErrorResponse
// @Router       /groups [post]
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.Ledger.CreateGroup(r.Context(), ledger.NewGroup{
		Name:        req.Name,
		Description: req.Description,
		Currency:    req.Currency,
		OwnerID:     ActorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "Failed to create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ListGroups returns the caller's active groups.
// @Summary      List my groups
// @Tags         groups
// @Produce      json
// @Success      200 {array} ledger.Group
// @Router       /groups [get]
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Ledger.ListGroupsForUser(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(groups))
}

// GetGroup returns a group the caller belongs to.
// @Summary      Get group
// @Tags         groups
// @Produce      json
// @Param        id path string true "Group ID"
// @Success      200 {object} ledger.Group
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /groups/{id} [get]
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.memberGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGroup deletes a group with its expenses and payments.
// @Summary      Delete group
// @Tags         groups
// @Param        id path string true "Group ID"
// @Success      204
// @Failure      403 {object} ErrorResponse
// @Router       /groups/{id} [delete]
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteGroup(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to delete group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddMember adds a friend of the owner to the group.
// @Summary      Add member
// @Tags         groups
// @Accept       json
// @Produce      json
// @Param        id path string true "Group ID"
// @Param        request body AddMemberRequest true "Member"
// @Success      200 {object} ledger.Group
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Router       /groups/{id}/members [post]
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	groupID := chi.URLParam(r, "id")
	if err := h.Ledger.AddMember(r.Context(), groupID, ActorFrom(r.Context()), req.UserID); err != nil {
		h.fail(w, r, "Failed to add member", err)
		return
	}
	h.writeGroup(w, r, groupID)
}

// RemoveMember removes a member with a settled balance.
// @Summary      Remove member
// @Tags         groups
// @Produce      json
// @Param        id path string true "Group ID"
// @Param        userId path string true "Member ID"
// @Success      204
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Router       /groups/{id}/members/{userId} [delete]
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.Ledger.RemoveMember(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, "Failed to remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalances returns the signed balance of every member.
// @Summary      Group balances
// @Tags         groups
// @Produce      json
// @Param        id path string true "Group ID"
// @Success      200 {object} BalancesResponse
// @Router       /groups/{id}/balances [get]
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	g, err := h.memberGroup(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{GroupID: g.ID, Currency: g.Currency, Balances: g.Balances})
}

// GetSettlements suggests transfers that bring every balance to zero.
// @Summary      Suggested settlements
// @Tags         groups
// @Produce      json
// @Param        id path string true "Group ID"
// @Success      200 {object} SettlementsResponse
// @Router       /groups/{id}/settlements [get]
func (h *Handler) GetSettlements(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	if _, err := h.memberGroup(r, groupID); err != nil {
		h.fail(w, r, "Failed to suggest settlements", err)
		return
	}
	transfers, err := h.Ledger.SuggestSettlements(r.Context(), groupID)
	if err != nil {
		h.fail(w, r, "Failed to suggest settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementsResponse{GroupID: groupID, Transfers: orEmpty(transfers)})
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListGroupExpenses returns a group's expenses, newest first.
// @Summary      List group expenses
// @Tags         expenses
// @Produce      json
// @Param        id path string true "Group ID"
// @Success      200 {array} ledger.Expense
// @Router       /groups/{id}/expenses [get]
func (h *Handler) ListGroupExpenses(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	if _, err := h.memberGroup(r, groupID); err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	expenses, err := h.Ledger.ListGroupExpenses(r.Context(), groupID)
	if err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(expenses))
}

// CreateExpense logs an expense awaiting the owner's approval.
// @Summary      Create expense
// @Tags         expenses
// @Accept       json
// @Produce      json
// @Param        id path string true "Group ID"
// @Param        request body CreateExpenseRequest true "Expense"
// @Success      201 {object} ledger.Expense
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Router       /groups/{id}/expenses [post]
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req CreateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Ledger.CreateExpense(r.Context(), req.toInput(chi.URLParam(r, "id"), ActorFrom(r.Context())))
	if err != nil {
		h.fail(w, r, "Failed to create expense", err)
		return
	}
	e, err := h.Ledger.GetExpense(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to load expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetExpense returns one expense.
// @Summary      Get expense
// @Tags         expenses
// @Produce      json
// @Param        id path string true "Expense ID"
// @Success      200 {object} ledger.Expense
// @Failure      404 {object} ErrorResponse
// @Router       /expenses/{id} [get]
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.memberExpense(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ApproveExpense applies a pending expense to the group balances.
// @Summary      Approve expense
// @Tags         expenses
// @Produce      json
// @Param        id path string true "Expense ID"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /expenses/{id}/approve [post]
func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.ApproveExpense(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to approve expense", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.ExpenseApproved)})
}

// RejectExpense rejects a pending expense.
// @Summary      Reject expense
// @Tags         expenses
// @Accept       json
// @Produce      json
// @Param        id path string true "Expense ID"
// @Param        request body RejectRequest false "Reason"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /expenses/{id}/reject [post]
func (h *Handler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.Ledger.RejectExpense(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()), req.Reason); err != nil {
		h.fail(w, r, "Failed to reject expense", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.ExpenseRejected)})
}

// TotalPaid returns what the caller paid on approved expenses in a month.
// @Summary      Total paid in month
// @Tags         expenses
// @Produce      json
// @Param        year query int true "Year"
// @Param        month query int true "Month (1-12)"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse
// @Router       /me/total-paid [get]
func (h *Handler) TotalPaid(w http.ResponseWriter, r *http.Request) {
	year, err1 := strconv.Atoi(r.URL.Query().Get("year"))
	month, err2 := strconv.Atoi(r.URL.Query().Get("month"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "year and month are required integers", err)
		return
	}
	total, err := h.Ledger.TotalPaidInMonth(r.Context(), ActorFrom(r.Context()), year, time.Month(month))
	if err != nil {
		h.fail(w, r, "Failed to compute total", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"year":  strconv.Itoa(year),
		"month": strconv.Itoa(month),
		"total": total.StringFixed(2),
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListExpensePayments returns the payments of an expense.
// @Summary      List payments of an expense
// @Tags         payments
// @Produce      json
// @Param        id path string true "Expense ID"
// @Success      200 {array} ledger.Payment
// @Router       /expenses/{id}/payments [get]
func (h *Handler) ListExpensePayments(w http.ResponseWriter, r *http.Request) {
	e, err := h.memberExpense(r, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	payments, err := h.Ledger.ListExpensePayments(r.Context(), e.ID)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(payments))
}

// CreatePayment records a payment awaiting the expense creator's confirmation.
// @Summary      Create payment
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        id path string true "Expense ID"
// @Param        request body CreatePaymentRequest true "Payment"
// @Success      201 {object} ledger.Payment
// @Failure      400 {object} ErrorResponse
// @Router       /expenses/{id}/payments [post]
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Ledger.CreatePayment(r.Context(), ledger.NewPayment{
		ExpenseID:     chi.URLParam(r, "id"),
		PayerID:       ActorFrom(r.Context()),
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Comment:       req.Comment,
	})
	if err != nil {
		h.fail(w, r, "Failed to create payment", err)
		return
	}
	p, err := h.Ledger.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to load payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPayment returns one payment.
// @Summary      Get payment
// @Tags         payments
// @Produce      json
// @Param        id path string true "Payment ID"
// @Success      200 {object} ledger.Payment
// @Failure      404 {object} ErrorResponse
// @Router       /payments/{id} [get]
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		_, err = h.memberGroup(r, p.GroupID)
	}
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ConfirmPayment settles a pending payment.
// @Summary      Confirm payment
// @Tags         payments
// @Produce      json
// @Param        id path string true "Payment ID"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /payments/{id}/confirm [post]
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.PaymentConfirmed)})
}

// RejectPayment rejects a pending payment.
// @Summary      Reject payment
// @Tags         payments
// @Produce      json
// @Param        id path string true "Payment ID"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /payments/{id}/reject [post]
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RejectPayment(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to reject payment", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.PaymentRejected)})
}

// =============================================================================
// FRIEND HANDLERS
// =============================================================================

// SendFriendRequest asks another user to become the caller's friend.
// @Summary      Send friend request
// @Tags         friends
// @Accept       json
// @Produce      json
// @Param        request body FriendRequestRequest true "Recipient"
// @Success      201 {object} IDResponse
// @Failure      400 {object} ErrorResponse
// @Router       /friend-requests [post]
func (h *Handler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req FriendRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Ledger.SendFriendRequest(r.Context(), ActorFrom(r.Context()), req.ToUserID)
	if err != nil {
		h.fail(w, r, "Failed to send friend request", err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// ListPendingFriendRequests returns requests waiting for the caller.
// @Summary      Pending friend requests
// @Tags         friends
// @Produce      json
// @Success      200 {array} ledger.FriendRequest
// @Router       /friend-requests/pending [get]
func (h *Handler) ListPendingFriendRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Ledger.ListPendingFriendRequests(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to list friend requests", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(reqs))
}

// AcceptFriendRequest accepts a request addressed to the caller. Accepting
// twice succeeds.
// @Summary      Accept friend request
// @Tags         friends
// @Produce      json
// @Param        id path string true "Request ID"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /friend-requests/{id}/accept [post]
func (h *Handler) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.AcceptFriendRequest(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to accept friend request", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.FriendAccepted)})
}

// RejectFriendRequest rejects a request addressed to the caller.
// @Summary      Reject friend request
// @Tags         friends
// @Produce      json
// @Param        id path string true "Request ID"
// @Success      200 {object} StatusResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /friend-requests/{id}/reject [post]
func (h *Handler) RejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RejectFriendRequest(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to reject friend request", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(ledger.FriendRejected)})
}

// ListFriends returns the caller's accepted friends.
// @Summary      List friends
// @Tags         friends
// @Produce      json
// @Success      200 {array} ledger.Friend
// @Router       /friends [get]
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := h.Ledger.ListFriends(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to list friends", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(friends))
}

// RemoveFriend ends a friendship in both directions.
// @Summary      Remove friend
// @Tags         friends
// @Param        friendId path string true "Friend user ID"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Router       /friends/{friendId} [delete]
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RemoveFriend(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "friendId")); err != nil {
		h.fail(w, r, "Failed to remove friend", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListNotifications returns the caller's inbox, newest first.
// @Summary      List notifications
// @Tags         notifications
// @Produce      json
// @Param        limit query int false "Maximum items" default(50)
// @Success      200 {array} notify.Notification
// @Router       /notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}
	list, err := h.Notifications.List(r.Context(), ActorFrom(r.Context()), limit)
	if err != nil {
		h.fail(w, r, "Failed to list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

// UnreadCount returns the number of unread notifications.
// @Summary      Unread notification count
// @Tags         notifications
// @Produce      json
// @Success      200 {object} CountResponse
// @Router       /notifications/unread-count [get]
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Notifications.UnreadCount(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to count notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// MarkAllRead marks every unread notification as read.
// @Summary      Mark all notifications read
// @Tags         notifications
// @Produce      json
// @Success      200 {object} CountResponse
// @Router       /notifications/read-all [post]
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Notifications.MarkAllRead(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to mark notifications read", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// MarkRead marks one notification as read.
// @Summary      Mark notification read
// @Tags         notifications
// @Param        id path string true "Notification ID"
// @Success      204
// @Router       /notifications/{id}/read [post]
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.Notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveNotification hides a notification from the inbox.
// @Summary      Archive notification
// @Tags         notifications
// @Param        id path string true "Notification ID"
// @Success      204
// @Router       /notifications/{id}/archive [post]
func (h *Handler) ArchiveNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.Notifications.Archive(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to archive notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification removes a notification.
// @Summary      Delete notification
// @Tags         notifications
// @Param        id path string true "Notification ID"
// @Success      204
// @Router       /notifications/{id} [delete]
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.Notifications.Delete(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context())); err != nil {
		h.fail(w, r, "Failed to delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
// @Summary      Health check
// @Tags         ops
// @Produce      json
// @Success      200 {object} HealthResponse
// @Router       /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// memberGroup loads a group and checks that the caller belongs to it.
func (h *Handler) memberGroup(r *http.Request, groupID string) (*ledger.Group, error) {
	g, err := h.Ledger.GetGroup(r.Context(), groupID)
	if err != nil {
		return nil, err
	}
	actor := ActorFrom(r.Context())
	if !g.IsMember(actor) {
		return nil, &ledger.AuthorizationError{ActorID: actor, Action: "view group", Required: "member"}
	}
	return g, nil
}

func (h *Handler) memberExpense(r *http.Request, expenseID string) (*ledger.Expense, error) {
	e, err := h.Ledger.GetExpense(r.Context(), expenseID)
	if err != nil {
		return nil, err
	}
	if _, err := h.memberGroup(r, e.GroupID); err != nil {
		return nil, err
	}
	return e, nil
}

func (h *Handler) writeGroup(w http.ResponseWriter, r *http.Request, groupID string) {
	g, err := h.Ledger.GetGroup(r.Context(), groupID)
	if err != nil {
		h.fail(w, r, "Failed to load group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, v)
}

// fail maps a domain error to its status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			"method", r.Method, "path", r.URL.Path, "actor_id", ActorFrom(r.Context()), "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// orEmpty keeps empty lists as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
