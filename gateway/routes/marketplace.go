package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"nftmarket/gateway/middleware"
	"nftmarket/native/marketplace"
	"nftmarket/services/eventlog"
)

const maxBodyBytes = 1 << 16

// Marketplace is the engine surface served over HTTP.
type Marketplace interface {
	ListItem(ctx context.Context, contract [20]byte, assetID, price *big.Int, caller [20]byte) error
	CancelListing(ctx context.Context, contract [20]byte, assetID *big.Int, caller [20]byte) error
	BuyItem(ctx context.Context, contract [20]byte, assetID, payment *big.Int, buyer [20]byte) error
	UpdateListing(ctx context.Context, contract [20]byte, assetID, newPrice *big.Int, caller [20]byte) error
	GetListing(ctx context.Context, contract [20]byte, assetID *big.Int) (*marketplace.Listing, error)
	GetProceeds(ctx context.Context, seller [20]byte) (*big.Int, error)
	WithdrawProceeds(ctx context.Context, caller [20]byte) (*big.Int, error)
	PruneListing(ctx context.Context, contract [20]byte, assetID *big.Int) error
}

// EventLog pages through stored marketplace events.
type EventLog interface {
	List(ctx context.Context, after int64, limit int) ([]eventlog.Record, error)
	LastSequence(ctx context.Context) (int64, error)
}

type marketplaceRoutes struct {
	engine Marketplace
	events EventLog
	logger *slog.Logger
}

type listingResponse struct {
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Seller   string `json:"seller"`
	Price    string `json:"price"`
	Listed   bool   `json:"listed"`
}

type proceedsResponse struct {
	Seller string `json:"seller"`
	Amount string `json:"amount"`
}

type eventsResponse struct {
	Events []eventlog.Record `json:"events"`
	Next   int64             `json:"next"`
	Head   int64             `json:"head"`
}

type listRequest struct {
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Price    string `json:"price"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type buyRequest struct {
	Payment string `json:"payment"`
}

func newListingResponse(l *marketplace.Listing) listingResponse {
	return listingResponse{
		Contract: common.Address(l.AssetContract).Hex(),
		AssetID:  l.AssetID.String(),
		Seller:   common.Address(l.Seller).Hex(),
		Price:    l.Price.String(),
		Listed:   l.Active(),
	}
}

func (mr *marketplaceRoutes) getListing(w http.ResponseWriter, r *http.Request) {
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	listing, err := mr.engine.GetListing(r.Context(), contract, assetID)
	if err != nil {
		mr.fail(w, r, "get_listing", err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResponse(listing))
}

func (mr *marketplaceRoutes) listItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req listRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	contract, err := marketplace.ParseAddress(req.Contract)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	assetID, err := marketplace.ParseAssetID(req.AssetID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	price, err := marketplace.ParseAmount(req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.engine.ListItem(r.Context(), contract, assetID, price, caller); err != nil {
		mr.fail(w, r, "list_item", err)
		return
	}
	mr.respondListing(w, r, http.StatusCreated, contract, assetID)
}

func (mr *marketplaceRoutes) updateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := marketplace.ParseAmount(req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.engine.UpdateListing(r.Context(), contract, assetID, price, caller); err != nil {
		mr.fail(w, r, "update_listing", err)
		return
	}
	mr.respondListing(w, r, http.StatusOK, contract, assetID)
}

func (mr *marketplaceRoutes) cancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	if err := mr.engine.CancelListing(r.Context(), contract, assetID, caller); err != nil {
		mr.fail(w, r, "cancel_listing", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketplaceRoutes) buyItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	payment, err := marketplace.ParseAmount(req.Payment)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.engine.BuyItem(r.Context(), contract, assetID, payment, caller); err != nil {
		mr.fail(w, r, "buy_item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketplaceRoutes) pruneListing(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	if err := mr.engine.PruneListing(r.Context(), contract, assetID); err != nil {
		mr.fail(w, r, "prune_listing", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketplaceRoutes) getProceeds(w http.ResponseWriter, r *http.Request) {
	seller, err := marketplace.ParseAddress(chi.URLParam(r, "seller"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := mr.engine.GetProceeds(r.Context(), seller)
	if err != nil {
		mr.fail(w, r, "get_proceeds", err)
		return
	}
	writeJSON(w, http.StatusOK, proceedsResponse{Seller: common.Address(seller).Hex(), Amount: amount.String()})
}

func (mr *marketplaceRoutes) withdrawProceeds(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := mr.engine.WithdrawProceeds(r.Context(), caller)
	if err != nil {
		mr.fail(w, r, "withdraw_proceeds", err)
		return
	}
	writeJSON(w, http.StatusOK, proceedsResponse{Seller: common.Address(caller).Hex(), Amount: amount.String()})
}

func (mr *marketplaceRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	if mr.events == nil {
		writeJSONError(w, http.StatusNotFound, "", errors.New("event log not configured"))
		return
	}
	query := r.URL.Query()
	after, err := parseQueryInt(query.Get("after"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("after: %w", err))
		return
	}
	limit, err := parseQueryInt(query.Get("limit"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("limit: %w", err))
		return
	}
	head, err := mr.events.LastSequence(r.Context())
	if err != nil {
		mr.fail(w, r, "list_events", err)
		return
	}
	records, err := mr.events.List(r.Context(), after, int(limit))
	if err != nil {
		mr.fail(w, r, "list_events", err)
		return
	}
	next := after
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	}
	if next > head {
		head = next
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: records, Next: next, Head: head})
}

func (mr *marketplaceRoutes) respondListing(w http.ResponseWriter, r *http.Request, status int, contract [20]byte, assetID *big.Int) {
	listing, err := mr.engine.GetListing(r.Context(), contract, assetID)
	if err != nil {
		mr.fail(w, r, "get_listing", err)
		return
	}
	writeJSON(w, status, newListingResponse(listing))
}

func (mr *marketplaceRoutes) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := marketplace.ErrorKind(err)
	attrs := []any{"op", op, "kind", kind, "error", err, "request_id", middleware.RequestIDFromContext(r.Context())}
	if statusFor(kind) >= http.StatusInternalServerError {
		mr.logger.Error("marketplace request failed", attrs...)
	} else {
		mr.logger.Debug("marketplace request rejected", attrs...)
	}
	writeEngineError(w, err)
}

func listingKey(w http.ResponseWriter, r *http.Request) ([20]byte, *big.Int, bool) {
	contract, err := marketplace.ParseAddress(chi.URLParam(r, "contract"))
	if err != nil {
		writeBadRequest(w, err)
		return [20]byte{}, nil, false
	}
	assetID, err := marketplace.ParseAssetID(chi.URLParam(r, "assetId"))
	if err != nil {
		writeEngineError(w, err)
		return [20]byte{}, nil, false
	}
	return contract, assetID, true
}

func requireCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "", errors.New("caller identity required"))
		return [20]byte{}, false
	}
	return caller, true
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func parseQueryInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be non-negative")
	}
	return value, nil
}
