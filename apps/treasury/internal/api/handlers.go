package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/bridge"
	"treasury/apps/treasury/internal/invoices"
	"treasury/apps/treasury/internal/model"
	"treasury/apps/treasury/internal/reconcile"
	"treasury/apps/treasury/internal/repository"
	"treasury/apps/treasury/internal/treasury"
)

// Handler serves treasury state over HTTP.
type Handler struct {
	treasury   *treasury.Service
	invoices   *invoices.Service
	bridges    *bridge.Service
	reconciler *reconcile.Reconciler
	wallet     common.Address
	logger     *zap.Logger
}

func NewHandler(treasuryService *treasury.Service, invoiceService *invoices.Service, bridgeService *bridge.Service, reconciler *reconcile.Reconciler, wallet common.Address, logger *zap.Logger) *Handler {
	return &Handler{
		treasury:   treasuryService,
		invoices:   invoiceService,
		bridges:    bridgeService,
		reconciler: reconciler,
		wallet:     wallet,
		logger:     logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, invoices.ErrNotFound), errors.Is(err, bridge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, invoices.ErrNotOpen), errors.Is(err, invoices.ErrHasPayments),
		errors.Is(err, treasury.ErrBudgetExceeded), errors.Is(err, treasury.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GetAllBalances returns holdings across every configured chain.
func (h *Handler) GetAllBalances(w http.ResponseWriter, r *http.Request) {
	balances, total := h.treasury.AllBalances(r.Context(), h.wallet)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":     h.wallet.Hex(),
		"balances":   balances,
		"total_usdc": total,
	})
}

// GetBalance returns one chain's holdings.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	chain := mux.Vars(r)["chain"]
	balance, err := h.treasury.Balance(r.Context(), chain, h.wallet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListInvoices returns invoices, optionally filtered by status.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := repository.InvoiceFilter{
		Status:       r.URL.Query().Get("status"),
		Counterparty: r.URL.Query().Get("counterparty"),
	}
	list, err := h.invoices.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoices": list, "count": len(list)})
}

type createInvoiceRequest struct {
	CounterpartyName    string           `json:"counterparty_name"`
	CounterpartyAddress string           `json:"counterparty_address"`
	Chain               string           `json:"chain"`
	LineItems           []model.LineItem `json:"line_items"`
	Category            string           `json:"category"`
	Memo                string           `json:"memo"`
	InvoiceType         string           `json:"invoice_type"`
	DueDate             string           `json:"due_date"`
}

// CreateInvoice creates a new invoice from the posted line items.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	params := invoices.CreateParams{
		CounterpartyName:    req.CounterpartyName,
		CounterpartyAddress: req.CounterpartyAddress,
		Chain:               req.Chain,
		LineItems:           req.LineItems,
		Category:            req.Category,
		Memo:                req.Memo,
		InvoiceType:         req.InvoiceType,
	}
	if req.DueDate != "" {
		due, err := time.Parse(time.RFC3339, req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		params.DueDate = due
	}

	invoice, err := h.invoices.Create(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

// GetInvoice returns one invoice by number.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.invoices.Get(mux.Vars(r)["number"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// GetInvoiceAudit returns an invoice with its linked ledger entries.
func (h *Handler) GetInvoiceAudit(w http.ResponseWriter, r *http.Request) {
	trail, err := h.invoices.Audit(mux.Vars(r)["number"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

type payInvoiceRequest struct {
	Amount string `json:"amount"`
}

// PayInvoice settles an invoice on-chain, fully or partially.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	// empty or missing body means pay the full remaining amount
	var req payInvoiceRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount = parsed
	}

	invoice, entry, err := h.invoices.Pay(r.Context(), mux.Vars(r)["number"], amount)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invoice": invoice, "transaction": entry})
}

// ListPendingBridges returns incomplete bridge records.
func (h *Handler) ListPendingBridges(w http.ResponseWriter, r *http.Request) {
	pending, err := h.bridges.ListPending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bridges": pending, "count": len(pending)})
}

// GetBridgeStatus returns a bridge's composed status by burn hash.
func (h *Handler) GetBridgeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.bridges.Status(r.Context(), mux.Vars(r)["burn_tx_hash"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RunReconciliation runs the full report, optionally scoped with ?chain=.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context(), h.wallet, r.URL.Query().Get("chain"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
