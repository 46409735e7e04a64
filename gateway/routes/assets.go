package routes

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"nftmarket/gateway/middleware"
	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
)

// Registry is the asset registry surface served over HTTP. It lets holders
// grant the marketplace transfer approval without leaving the gateway.
type Registry interface {
	OwnerOf(contract [20]byte, id *big.Int) ([20]byte, error)
	GetApproved(contract [20]byte, id *big.Int) ([20]byte, error)
	IsApprovedForAll(owner, contract, operator [20]byte) (bool, error)
	Approve(caller, contract [20]byte, id *big.Int, spender [20]byte) error
	SetApprovalForAll(owner, contract, operator [20]byte, approved bool) error
	Burn(caller, contract [20]byte, id *big.Int) error
}

type assetRoutes struct {
	registry Registry
	logger   *slog.Logger
}

type assetResponse struct {
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Owner    string `json:"owner"`
	Approved string `json:"approved"`
}

type operatorResponse struct {
	Contract string `json:"contract"`
	Owner    string `json:"owner"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type approveRequest struct {
	Spender string `json:"spender"`
}

type approvalForAllRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (ar *assetRoutes) getAsset(w http.ResponseWriter, r *http.Request) {
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	ar.respondAsset(w, r, http.StatusOK, contract, assetID)
}

func (ar *assetRoutes) getOperator(w http.ResponseWriter, r *http.Request) {
	contract, err := marketplace.ParseAddress(chi.URLParam(r, "contract"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := marketplace.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	operator, err := marketplace.ParseAddress(chi.URLParam(r, "operator"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	approved, err := ar.registry.IsApprovedForAll(owner, contract, operator)
	if err != nil {
		ar.fail(w, r, "is_approved_for_all", err)
		return
	}
	writeJSON(w, http.StatusOK, operatorResponse{
		Contract: common.Address(contract).Hex(),
		Owner:    common.Address(owner).Hex(),
		Operator: common.Address(operator).Hex(),
		Approved: approved,
	})
}

func (ar *assetRoutes) approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	// An empty spender clears the approval.
	var spender [20]byte
	if req.Spender != "" {
		parsed, err := marketplace.ParseAddress(req.Spender)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		spender = parsed
	}
	if err := ar.registry.Approve(caller, contract, assetID, spender); err != nil {
		ar.fail(w, r, "approve", err)
		return
	}
	ar.respondAsset(w, r, http.StatusOK, contract, assetID)
}

func (ar *assetRoutes) setApprovalForAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, err := marketplace.ParseAddress(chi.URLParam(r, "contract"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req approvalForAllRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	operator, err := marketplace.ParseAddress(req.Operator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := ar.registry.SetApprovalForAll(caller, contract, operator, req.Approved); err != nil {
		ar.fail(w, r, "set_approval_for_all", err)
		return
	}
	writeJSON(w, http.StatusOK, operatorResponse{
		Contract: common.Address(contract).Hex(),
		Owner:    common.Address(caller).Hex(),
		Operator: common.Address(operator).Hex(),
		Approved: req.Approved,
	})
}

func (ar *assetRoutes) burn(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	contract, assetID, ok := listingKey(w, r)
	if !ok {
		return
	}
	if err := ar.registry.Burn(caller, contract, assetID); err != nil {
		ar.fail(w, r, "burn", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ar *assetRoutes) respondAsset(w http.ResponseWriter, r *http.Request, status int, contract [20]byte, assetID *big.Int) {
	owner, err := ar.registry.OwnerOf(contract, assetID)
	if err != nil {
		ar.fail(w, r, "owner_of", err)
		return
	}
	approved, err := ar.registry.GetApproved(contract, assetID)
	if err != nil {
		ar.fail(w, r, "get_approved", err)
		return
	}
	writeJSON(w, status, assetResponse{
		Contract: common.Address(contract).Hex(),
		AssetID:  assetID.String(),
		Owner:    common.Address(owner).Hex(),
		Approved: common.Address(approved).Hex(),
	})
}

func (ar *assetRoutes) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := registryStatus(err)
	attrs := []any{"op", op, "kind", code, "error", err, "request_id", middleware.RequestIDFromContext(r.Context())}
	if status >= http.StatusInternalServerError {
		ar.logger.Error("registry request failed", attrs...)
		writeInternalError(w, err)
		return
	}
	ar.logger.Debug("registry request rejected", attrs...)
	writeJSONError(w, status, code, err)
}

// registryStatus maps a registry error to its HTTP status and error code.
func registryStatus(err error) (int, string) {
	switch {
	case errors.Is(err, nft.ErrNonexistentToken):
		return http.StatusNotFound, "asset_not_found"
	case errors.Is(err, nft.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, nft.ErrSelfApproval):
		return http.StatusBadRequest, "self_approval"
	case errors.Is(err, nft.ErrInvalidTokenID):
		return http.StatusBadRequest, "invalid_asset_id"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
