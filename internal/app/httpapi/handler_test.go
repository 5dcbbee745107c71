package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authsvc "github.com/voidwallet/voidd/internal/app/services/auth"
	bridgesvc "github.com/voidwallet/voidd/internal/app/services/bridge"
	ledgersvc "github.com/voidwallet/voidd/internal/app/services/ledger"
	secretssvc "github.com/voidwallet/voidd/internal/app/services/secrets"
	"github.com/voidwallet/voidd/internal/app/storage"
	"github.com/voidwallet/voidd/internal/app/storage/kv"
	"github.com/voidwallet/voidd/internal/chain"
	"github.com/voidwallet/voidd/internal/ethutil"
	"github.com/voidwallet/voidd/internal/kvstore"
	"github.com/voidwallet/voidd/internal/middleware"
	"github.com/voidwallet/voidd/pkg/logger"
)

const (
	contractAddr = "0x4aE649044CC818A00fA20266aE5d5b77E79089C3"
	tokenAddr    = "0x1111111111111111111111111111111111111111"
	webhookKey   = "whsec-test"

	senderKey   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	receiverKey = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

type fakeChain struct {
	signer    common.Address
	decimals  map[common.Address]uint8
	withdraws int
}

func (f *fakeChain) SignerAddress() common.Address { return f.signer }

func (f *fakeChain) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	return f.decimals[token], nil
}

func (f *fakeChain) Withdraw(ctx context.Context, to common.Address, amount *big.Int, token common.Address) (common.Hash, error) {
	f.withdraws++
	return common.HexToHash("0xf00d"), nil
}

func (f *fakeChain) CommitStateRoot(ctx context.Context, root common.Hash, term uint64) (common.Hash, []byte, error) {
	return common.HexToHash("0xc0ffee"), []byte{1}, nil
}

func (f *fakeChain) FilterDeposits(ctx context.Context, wallet common.Address) ([]chain.DepositEvent, error) {
	return nil, nil
}

func (f *fakeChain) DecodeDeposit(topics []common.Hash, data []byte) (chain.DepositEvent, error) {
	if len(topics) < 2 || topics[0] != chain.DepositedTopic || len(data) != 64 {
		return chain.DepositEvent{}, fmt.Errorf("not a deposit log")
	}
	return chain.DepositEvent{
		User:   common.BytesToAddress(topics[1].Bytes()),
		Amount: new(big.Int).SetBytes(data[:32]),
		Token:  common.BytesToAddress(data[32:64]),
	}, nil
}

type fixture struct {
	router  http.Handler
	ledger  *ledgersvc.Service
	secrets *secretssvc.Service
	chain   *fakeChain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := kvstore.NewMemory()
	store := kv.New(db)

	ledger, err := ledgersvc.New(db, store, contractAddr, logger.NewNop())
	require.NoError(t, err)
	secrets := secretssvc.New(store, logger.NewNop())
	auth := authsvc.New("test-secret", 0, logger.NewNop())
	fc := &fakeChain{
		signer:   common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		decimals: map[common.Address]uint8{common.HexToAddress(tokenAddr): 6},
	}
	bridge := bridgesvc.New(fc, ledger, secrets, store, store, contractAddr, webhookKey, logger.NewNop())

	handler := New(auth, secrets, ledger, bridge, fc.signer.Hex(), logger.NewNop())
	router := handler.Router(Middlewares{
		Auth:        middleware.NewAuthMiddleware(auth, logger.NewNop()),
		BalanceGate: middleware.NewSecretGate(secrets, storage.SecretBalance),
		TxGate:      middleware.NewSecretGate(secrets, storage.SecretTransaction),
		CORS:        middleware.NewCORSMiddleware([]string{"*"}),
		RateLimit:   middleware.NewRateLimiter(100, 100, logger.NewNop()),
	})
	return &fixture{router: router, ledger: ledger, secrets: secrets, chain: fc}
}

func sign(t *testing.T, keyHex string, message []byte) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	sig, err := crypto.Sign(ethutil.HashPersonalMessage(message), key)
	require.NoError(t, err)
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig)
}

func addressOf(t *testing.T, keyHex string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func (fx *fixture) do(t *testing.T, method, path, token string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

type apiResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// login performs the signature login flow and returns the bearer token.
func (fx *fixture) login(t *testing.T, keyHex string) string {
	t.Helper()
	address := addressOf(t, keyHex)
	message := "Login Void Wallet Timestamp:1700000000000"
	body := fmt.Sprintf(`{"address":%q,"message":%q,"signature":%q}`,
		address, message, sign(t, keyHex, []byte(message)))

	rec := fx.do(t, http.MethodPost, "/api/auth/login", "", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	require.True(t, resp.Success)
	return resp.Data["token"].(string)
}

// enrollAll submits both secret enrollments for the key's wallet.
func (fx *fixture) enrollAll(t *testing.T, keyHex, token string) {
	t.Helper()
	for path, message := range map[string]string{
		"/api/wallet/set-balance-secret": secretssvc.BalanceSecretMessage,
		"/api/wallet/set-tx-secret":      secretssvc.TransactionSecretMessage,
	} {
		body := fmt.Sprintf(`{"signature":%q}`, sign(t, keyHex, []byte(message)))
		rec := fx.do(t, http.MethodPost, path, token, body, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data["status"])
}

func TestAuthMessage(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/auth/message?address="+addressOf(t, senderKey), "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Contains(t, resp.Data["message"], "Login Void Wallet")

	bad := fx.do(t, http.MethodGet, "/api/auth/message?address=nope", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestLoginAndMe(t *testing.T) {
	fx := newFixture(t)
	token := fx.login(t, senderKey)

	rec := fx.do(t, http.MethodGet, "/api/auth/me", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, addressOf(t, senderKey), resp.Data["wallet"])
	assert.Len(t, resp.Data["required_secrets"], 2)

	fx.enrollAll(t, senderKey, token)

	rec = fx.do(t, http.MethodGet, "/api/auth/me", token, "", nil)
	resp = decode(t, rec)
	assert.Len(t, resp.Data["required_secrets"], 0)
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	fx := newFixture(t)
	for _, route := range []string{"/api/auth/me", "/api/balance", "/api/transactions"} {
		rec := fx.do(t, http.MethodGet, route, "", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route)
	}
}

func TestBalance_GatedBySecret(t *testing.T) {
	fx := newFixture(t)
	token := fx.login(t, senderKey)

	rec := fx.do(t, http.MethodGet, "/api/balance", token, "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SECRET_NOT_SET", decode(t, rec).Error.Code)

	fx.enrollAll(t, senderKey, token)
	require.NoError(t, fx.ledger.Credit(context.Background(), addressOf(t, senderKey), tokenAddr, "3"))

	rec = fx.do(t, http.MethodGet, "/api/balance", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	balances := resp.Data["balances"].([]interface{})
	require.Len(t, balances, 1)
	entry := balances[0].(map[string]interface{})
	assert.Equal(t, "3", entry["balance"])
	proof := entry["proof"].(map[string]interface{})
	assert.NotEmpty(t, proof["root"])
	assert.NotEmpty(t, proof["siblings"])
}

func TestTransfer_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	senderToken := fx.login(t, senderKey)
	receiverToken := fx.login(t, receiverKey)
	fx.enrollAll(t, senderKey, senderToken)
	fx.enrollAll(t, receiverKey, receiverToken)

	sender := addressOf(t, senderKey)
	receiver := addressOf(t, receiverKey)
	require.NoError(t, fx.ledger.Credit(context.Background(), sender, tokenAddr, "10"))

	txJSON := fmt.Sprintf(`{"from":%q,"to":%q,"token":%q,"amount":"4"}`, sender, receiver, tokenAddr)
	body := fmt.Sprintf(`{"sendTransaction":%s,"signature":%q}`, txJSON, sign(t, senderKey, []byte(txJSON)))

	rec := fx.do(t, http.MethodPost, "/api/wallet/transfer", senderToken, body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, "4", resp.Data["amount"])
	assert.NotEmpty(t, resp.Data["txHash"])

	ctx := context.Background()
	senderBalance, _ := fx.ledger.GetBalance(ctx, sender, tokenAddr)
	receiverBalance, _ := fx.ledger.GetBalance(ctx, receiver, tokenAddr)
	assert.Equal(t, "6", senderBalance)
	assert.Equal(t, "4", receiverBalance)

	// History is visible to both parties under the tx gate.
	histRec := fx.do(t, http.MethodGet, "/api/transactions", receiverToken, "", nil)
	require.Equal(t, http.StatusOK, histRec.Code)
	transactions := decode(t, histRec).Data["transactions"].([]interface{})
	require.Len(t, transactions, 1)
	assert.Equal(t, "received", transactions[0].(map[string]interface{})["type"])
}

func TestTransfer_RejectsForeignSession(t *testing.T) {
	fx := newFixture(t)
	senderToken := fx.login(t, senderKey)
	receiverToken := fx.login(t, receiverKey)
	fx.enrollAll(t, senderKey, senderToken)
	fx.enrollAll(t, receiverKey, receiverToken)

	sender := addressOf(t, senderKey)
	receiver := addressOf(t, receiverKey)
	txJSON := fmt.Sprintf(`{"from":%q,"to":%q,"token":%q,"amount":"1"}`, sender, receiver, tokenAddr)
	body := fmt.Sprintf(`{"sendTransaction":%s,"signature":%q}`, txJSON, sign(t, senderKey, []byte(txJSON)))

	// Receiver's session trying to spend the sender's balance.
	rec := fx.do(t, http.MethodPost, "/api/wallet/transfer", receiverToken, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransfer_RequiresReceiverEnrollment(t *testing.T) {
	fx := newFixture(t)
	senderToken := fx.login(t, senderKey)
	fx.enrollAll(t, senderKey, senderToken)

	sender := addressOf(t, senderKey)
	receiver := addressOf(t, receiverKey)
	require.NoError(t, fx.ledger.Credit(context.Background(), sender, tokenAddr, "5"))

	txJSON := fmt.Sprintf(`{"from":%q,"to":%q,"token":%q,"amount":"1"}`, sender, receiver, tokenAddr)
	body := fmt.Sprintf(`{"sendTransaction":%s,"signature":%q}`, txJSON, sign(t, senderKey, []byte(txJSON)))

	rec := fx.do(t, http.MethodPost, "/api/wallet/transfer", senderToken, body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error.Message, "receiver")
}

func TestWithdraw(t *testing.T) {
	fx := newFixture(t)
	token := fx.login(t, senderKey)
	require.NoError(t, fx.ledger.Credit(context.Background(), addressOf(t, senderKey), tokenAddr, "5"))

	rec := fx.do(t, http.MethodPost, "/api/wallet/withdraw?amount=2&token="+tokenAddr, token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec).Data["txHash"])
	assert.Equal(t, 1, fx.chain.withdraws)

	balance, _ := fx.ledger.GetBalance(context.Background(), addressOf(t, senderKey), tokenAddr)
	assert.Equal(t, "3", balance)
}

func TestWebhook_CreditsDeposit(t *testing.T) {
	fx := newFixture(t)
	token := fx.login(t, senderKey)
	fx.enrollAll(t, senderKey, token)
	user := addressOf(t, senderKey)

	data := make([]byte, 64)
	big.NewInt(7_000_000).FillBytes(data[:32])
	copy(data[44:64], common.HexToAddress(tokenAddr).Bytes())
	body := fmt.Sprintf(`{"event":{"data":{"block":{"logs":[{
		"account":{"address":%q},
		"topics":[%q,%q],
		"data":"0x%s",
		"index":1,
		"transaction":{"hash":"0xabc"}}]}}}}`,
		contractAddr,
		chain.DepositedTopic.Hex(),
		common.HexToHash(user).Hex(),
		hex.EncodeToString(data))

	mac := hmac.New(sha256.New, []byte(webhookKey))
	mac.Write([]byte(body))
	sigHeader := hex.EncodeToString(mac.Sum(nil))

	rec := fx.do(t, http.MethodPost, "/api/webhook/alchemy", "", body, map[string]string{
		"X-Alchemy-Signature": sigHeader,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	balance, _ := fx.ledger.GetBalance(context.Background(), user, tokenAddr)
	assert.Equal(t, "7", balance)

	bad := fx.do(t, http.MethodPost, "/api/webhook/alchemy", "", body, map[string]string{
		"X-Alchemy-Signature": "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}

func TestWalletAddress(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/rofl/get-wallet-address", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fx.chain.signer.Hex(), decode(t, rec).Data["address"])
}
