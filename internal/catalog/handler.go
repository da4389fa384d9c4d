package catalog

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/gorilla/mux"
)

// Handler serves the catalog's internal API.
type Handler struct {
	store Store
}

// NewHandler creates a handler over store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// SetupRoutes configures the catalog routes on r.
func (h *Handler) SetupRoutes(r *mux.Router) {
	internal := r.PathPrefix("/internal").Subrouter()
	internal.HandleFunc("/products", h.CreateProductHandler).Methods("POST")
	internal.HandleFunc("/products/{id}", h.GetProductHandler).Methods("GET")
	internal.HandleFunc("/products/{id}/variants/{variantId}/stock", h.AdjustStockHandler).Methods("POST")
}

// GetProductHandler handles GET /internal/products/{id}
func (h *Handler) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	product, err := h.store.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// AdjustStockHandler handles POST /internal/products/{id}/variants/{variantId}/stock
func (h *Handler) AdjustStockHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Validation("invalid request body"))
		return
	}
	if req.Delta == 0 {
		respondError(w, apperr.Validation("delta must not be zero"))
		return
	}

	stock, err := h.store.AdjustStock(r.Context(), vars["id"], vars["variantId"], req.Delta)
	if err != nil {
		respondError(w, err)
		return
	}
	log.Printf("[CATALOG] Stock adjusted: product_id=%s variant_id=%s delta=%d stock=%d",
		vars["id"], vars["variantId"], req.Delta, stock)

	respondJSON(w, http.StatusOK, AdjustStockResponse{
		ProductID: vars["id"],
		VariantID: vars["variantId"],
		Stock:     stock,
	})
}

// CreateProductHandler handles POST /internal/products
func (h *Handler) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.Validation("invalid request body"))
		return
	}

	product, err := h.store.CreateProduct(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[CATALOG] request failed: %v", err)
	}
	respondJSON(w, status, apperr.Public(err))
}
