package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rl1809/marketplace/internal/auth"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
	"github.com/rl1809/marketplace/internal/port"
)

// HTTPHandler adapts the workflow services to the HTTP surface. Actor ids
// come from the request; token verification belongs to the deployment's
// gateway, not this layer.
type HTTPHandler struct {
	router    chi.Router
	users     *service.UserService
	items     *service.ItemService
	purchases *service.PurchaseService
	ratings   *service.RatingService
}

func NewHTTPHandler(users *service.UserService, items *service.ItemService, purchases *service.PurchaseService, ratings *service.RatingService) *HTTPHandler {
	h := &HTTPHandler{
		router:    chi.NewRouter(),
		users:     users,
		items:     items,
		purchases: purchases,
		ratings:   ratings,
	}

	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.Logger)
	h.router.Use(middleware.Recoverer)

	h.router.Get("/health", h.HealthCheck)
	h.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h.router.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/", h.ListUsers)
		r.Get("/{id}", h.GetUser)
		r.Put("/{id}", h.UpdateUser)
		r.Delete("/{id}", h.DeleteUser)
	})

	h.router.Route("/items", func(r chi.Router) {
		r.Post("/", h.CreateItem)
		r.Get("/", h.ListAvailableItems)
		r.Get("/seller/{id}", h.ListItemsBySeller)
		r.Put("/{id}", h.UpdateItem)
		r.Post("/{id}/withdraw", h.WithdrawItem)
	})

	h.router.Post("/purchases", h.Purchase)
	h.router.Post("/ratings", h.RateSeller)

	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- wire types ---

type userResponse struct {
	ID        int64           `json:"id"`
	FullName  string          `json:"full_name"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Rating    decimal.Decimal `json:"rating"`
	CreatedAt time.Time       `json:"created_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		FullName:  u.FullName,
		Username:  u.Username,
		Email:     u.Email,
		Rating:    u.Rating,
		CreatedAt: u.CreatedAt,
	}
}

type itemResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
	OwnerID     int64           `json:"owner_id"`
}

func toItemResponse(it *domain.Item) itemResponse {
	return itemResponse{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.Description,
		Price:       it.Price,
		Status:      string(it.Status),
		OwnerID:     it.OwnerID,
	}
}

type transactionResponse struct {
	ID       int64           `json:"id"`
	SellerID int64           `json:"seller_id"`
	BuyerID  int64           `json:"buyer_id"`
	ItemID   int64           `json:"item_id"`
	Price    decimal.Decimal `json:"transaction_price"`
	Date     time.Time       `json:"transaction_date"`
}

type ratingResponse struct {
	ID            int64 `json:"id"`
	TransactionID int64 `json:"transaction_id"`
	RaterID       int64 `json:"rater_id"`
	RatedID       int64 `json:"rated_id"`
	Score         int   `json:"score"`
}

// --- users ---

type createUserRequest struct {
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	if req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "password is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := h.users.Register(r.Context(), req.FullName, req.Username, req.Email, hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type updateUserRequest struct {
	FullName *string `json:"full_name"`
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}

	patch := domain.UserPatch{
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		patch.PasswordHash = &hash
	}

	u, err := h.users.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// --- items ---

type createItemRequest struct {
	OwnerID     int64           `json:"owner_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	it, err := h.items.Create(r.Context(), req.OwnerID, req.Name, req.Description, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(it))
}

func (h *HTTPHandler) ListAvailableItems(w http.ResponseWriter, r *http.Request) {
	var filter domain.ItemFilter
	q := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"min_price", &filter.MinPrice},
		{"max_price", &filter.MaxPrice},
		{"min_seller_rating", &filter.MinSellerRating},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid "+p.name)
			return
		}
		*p.dst = &d
	}
	filter.Keyword = q.Get("keyword")

	items, err := h.items.Search(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

func (h *HTTPHandler) ListItemsBySeller(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	items, err := h.items.BySeller(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

type updateItemRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	it, err := h.items.Update(r.Context(), id, domain.ItemPatch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

type withdrawItemRequest struct {
	OwnerID int64 `json:"owner_id"`
}

func (h *HTTPHandler) WithdrawItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req withdrawItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	it, err := h.items.Withdraw(r.Context(), req.OwnerID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// --- purchases and ratings ---

type purchaseRequest struct {
	BuyerID int64 `json:"buyer_id"`
	ItemID  int64 `json:"item_id"`
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	txn, err := h.purchases.Purchase(r.Context(), req.BuyerID, req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse{
		ID:       txn.ID,
		SellerID: txn.SellerID,
		BuyerID:  txn.BuyerID,
		ItemID:   txn.ItemID,
		Price:    txn.Price,
		Date:     txn.Date,
	})
}

type rateSellerRequest struct {
	RaterID       int64 `json:"rater_id"`
	TransactionID int64 `json:"transaction_id"`
	Score         int   `json:"score"`
}

func (h *HTTPHandler) RateSeller(w http.ResponseWriter, r *http.Request) {
	var req rateSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w)
		return
	}
	rating, err := h.ratings.Rate(r.Context(), req.RaterID, req.TransactionID, req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ratingResponse{
		ID:            rating.ID,
		TransactionID: rating.TransactionID,
		RaterID:       rating.RaterID,
		RatedID:       rating.RatedID,
		Score:         rating.Score,
	})
}

// --- helpers ---

func toItemResponses(items []domain.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for i := range items {
		out = append(out, toItemResponse(&items[i]))
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeBadBody(w http.ResponseWriter) {
	writeMessage(w, http.StatusBadRequest, "invalid request body")
}

// writeError maps the workflow error taxonomy onto status codes. An item that
// lost the purchase race is Gone rather than Conflict: the listing is no
// longer on the market.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, port.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, port.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		writeMessage(w, http.StatusGone, err.Error())
	case errors.Is(err, port.ErrUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		log.Printf("internal error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}
