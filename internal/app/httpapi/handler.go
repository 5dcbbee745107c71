// Package httpapi maps the REST surface onto the application services.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authsvc "github.com/voidwallet/voidd/internal/app/services/auth"
	bridgesvc "github.com/voidwallet/voidd/internal/app/services/bridge"
	ledgersvc "github.com/voidwallet/voidd/internal/app/services/ledger"
	secretssvc "github.com/voidwallet/voidd/internal/app/services/secrets"
	"github.com/voidwallet/voidd/internal/app/storage"
	apperrors "github.com/voidwallet/voidd/internal/errors"
	"github.com/voidwallet/voidd/internal/ethutil"
	"github.com/voidwallet/voidd/internal/httputil"
	"github.com/voidwallet/voidd/internal/metrics"
	"github.com/voidwallet/voidd/internal/middleware"
	"github.com/voidwallet/voidd/pkg/logger"
)

// maxBodyBytes bounds request bodies; webhook block payloads stay well
// under this.
const maxBodyBytes = 1 << 20

// Handler serves the wallet API.
type Handler struct {
	auth          *authsvc.Service
	secrets       *secretssvc.Service
	ledger        *ledgersvc.Service
	bridge        *bridgesvc.Service
	signerAddress string
	log           *logger.Logger
}

func New(
	auth *authsvc.Service,
	secrets *secretssvc.Service,
	ledger *ledgersvc.Service,
	bridge *bridgesvc.Service,
	signerAddress string,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		auth:          auth,
		secrets:       secrets,
		ledger:        ledger,
		bridge:        bridge,
		signerAddress: signerAddress,
		log:           log,
	}
}

// Middlewares bundles the chain the router applies per route group.
type Middlewares struct {
	Auth        *middleware.AuthMiddleware
	BalanceGate *middleware.SecretGate
	TxGate      *middleware.SecretGate
	CORS        *middleware.CORSMiddleware
	RateLimit   *middleware.RateLimiter
}

// Router builds the full route table.
func (h *Handler) Router(mw Middlewares) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(mw.CORS.Handler)
	r.Use(middleware.MetricsMiddleware())

	r.HandleFunc("/health", h.health).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	public := func(fn http.HandlerFunc) http.Handler {
		return mw.RateLimit.Handler(fn)
	}
	authed := func(fn http.HandlerFunc) http.Handler {
		return mw.Auth.Handler(fn)
	}

	api.HandleFunc("/auth/message", h.authMessage).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/auth/login", public(h.login)).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/auth/me", authed(h.me)).Methods(http.MethodGet, http.MethodOptions)

	api.Handle("/wallet/set-balance-secret", authed(h.setSecret(storage.SecretBalance))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/wallet/set-tx-secret", authed(h.setSecret(storage.SecretTransaction))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/wallet/transfer", authed(h.transfer)).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/wallet/withdraw", authed(h.withdraw)).Methods(http.MethodPost, http.MethodOptions)

	api.Handle("/balance", mw.Auth.Handler(mw.BalanceGate.Handler(http.HandlerFunc(h.balances)))).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/transactions", mw.Auth.Handler(mw.TxGate.Handler(http.HandlerFunc(h.transactions)))).Methods(http.MethodGet, http.MethodOptions)

	api.Handle("/webhook/alchemy", public(h.webhook)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/rofl/get-wallet-address", h.walletAddress).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return apperrors.Validation("malformed JSON body")
	}
	return nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authMessage(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !common.IsHexAddress(address) {
		httputil.WriteError(w, apperrors.Validation("invalid wallet address"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": h.auth.GenerateMessage()})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.auth.Login(req.Address, req.Message, req.Signature)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.GetWallet(r.Context())

	missing, err := h.secrets.Missing(r.Context(), wallet)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("read enrollment state", err))
		return
	}
	if missing == nil {
		missing = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":           wallet,
		"required_secrets": missing,
	})
}

func (h *Handler) setSecret(kind storage.SecretKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Signature string `json:"signature"`
		}
		if err := decodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		wallet := middleware.GetWallet(r.Context())
		if err := h.secrets.Enroll(r.Context(), wallet, kind, req.Signature); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"wallet": wallet})
	}
}

// sendTransaction is the signed transfer payload. The signature covers the
// client's exact JSON of this object, so the raw bytes are kept for
// verification instead of re-marshaling.
type sendTransaction struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SendTransaction json.RawMessage `json:"sendTransaction"`
		Signature       string          `json:"signature"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(req.SendTransaction) == 0 || req.Signature == "" {
		httputil.WriteError(w, apperrors.Validation("sendTransaction and signature are required"))
		return
	}

	var tx sendTransaction
	if err := json.Unmarshal(req.SendTransaction, &tx); err != nil {
		httputil.WriteError(w, apperrors.Validation("malformed sendTransaction"))
		return
	}
	if !common.IsHexAddress(tx.From) || !common.IsHexAddress(tx.To) {
		httputil.WriteError(w, apperrors.Validation("invalid from or to address"))
		return
	}
	if tx.Token == "" || tx.Amount == "" {
		httputil.WriteError(w, apperrors.Validation("token and amount are required"))
		return
	}

	// The signed message is the compact form of the client's own JSON.
	var canonical bytes.Buffer
	if err := json.Compact(&canonical, req.SendTransaction); err != nil {
		httputil.WriteError(w, apperrors.Validation("malformed sendTransaction"))
		return
	}
	ok, err := ethutil.VerifyPersonalSignature(tx.From, canonical.Bytes(), req.Signature)
	if err != nil {
		httputil.WriteError(w, apperrors.Validation(err.Error()))
		return
	}
	if !ok {
		httputil.WriteError(w, apperrors.SignatureMismatch("signature does not recover to sender"))
		return
	}

	// Only the authenticated wallet can spend its own balance.
	if !strings.EqualFold(middleware.GetWallet(r.Context()), tx.From) {
		httputil.WriteError(w, apperrors.Unauthorized("session wallet is not the sender"))
		return
	}

	for _, party := range []struct {
		side   string
		wallet string
	}{{"sender", tx.From}, {"receiver", tx.To}} {
		missing, err := h.secrets.Missing(r.Context(), party.wallet)
		if err != nil {
			httputil.WriteError(w, apperrors.Internal("read enrollment state", err))
			return
		}
		if len(missing) > 0 {
			httputil.WriteError(w, apperrors.Validation(party.side+" has not set all required secrets"))
			return
		}
	}

	result, err := h.ledger.Transfer(r.Context(), tx.From, tx.To, tx.Token, tx.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	metrics.TransfersApplied.Inc()
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	amount := r.URL.Query().Get("amount")
	token := r.URL.Query().Get("token")
	if amount == "" || token == "" {
		httputil.WriteError(w, apperrors.Validation("amount and token are required"))
		return
	}

	wallet := middleware.GetWallet(r.Context())
	txHash, err := h.bridge.Withdraw(r.Context(), wallet, token, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"txHash": txHash})
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.GetWallet(r.Context())

	balances, err := h.ledger.Balances(r.Context(), wallet)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("read balances", err))
		return
	}

	// First read for an unseen wallet: replay any on-chain deposits made
	// before enrollment.
	if len(balances) == 0 {
		if _, err := h.bridge.Backfill(r.Context(), wallet); err != nil {
			h.log.WithError(err).WithField("wallet", wallet).Warn("deposit backfill failed")
		} else if balances, err = h.ledger.Balances(r.Context(), wallet); err != nil {
			httputil.WriteError(w, apperrors.Internal("read balances", err))
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":   wallet,
		"balances": balances,
	})
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	wallet := middleware.GetWallet(r.Context())

	history, err := h.ledger.History(r.Context(), wallet)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("read history", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": history,
	})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, apperrors.Validation("unreadable body"))
		return
	}

	signature := r.Header.Get("X-Alchemy-Signature")
	if signature == "" {
		httputil.WriteError(w, apperrors.WebhookAuthenticity("missing signature header"))
		return
	}

	if err := h.bridge.ProcessWebhook(r.Context(), rawBody, signature); err != nil {
		h.log.WithError(err).WithField("request_id", middleware.GetRequestID(r.Context())).Warn("webhook rejected")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

func (h *Handler) walletAddress(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"address": h.signerAddress})
}
