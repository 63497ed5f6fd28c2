package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/skalenetwork/transaction-manager/log"
)

const (
	sgxCertFile = "sgx.crt"
	sgxKeyFile  = "sgx.key"

	// keyNamePollInterval is how often the node config file is re-read
	// while waiting for the enrolling node to publish the key name.
	keyNamePollInterval = 3 * time.Second
)

// SGXConfig locates the remote enclave signer.
type SGXConfig struct {
	// URL of the SGX signing server.
	URL string
	// CertsDir holds the client certificate pair (sgx.crt, sgx.key).
	CertsDir string
	// NodeConfigPath is the JSON file carrying the sgx_key_name field.
	// The file may appear after process start.
	NodeConfigPath string
}

// SGX signs through a remote enclave over mutually-authenticated HTTPS.
type SGX struct {
	url     string
	keyName string
	addr    common.Address
	httpc   *http.Client
	reqID   atomic.Int64
}

// NewSGX builds the remote signer: loads the client certificate, blocks
// until the key name appears in the node config, and resolves the account
// address from the enclave public key.
func NewSGX(ctx context.Context, cfg SGXConfig) (*SGX, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(cfg.CertsDir, sgxCertFile),
		filepath.Join(cfg.CertsDir, sgxKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("load sgx client certificate: %w", err)
	}
	s := &SGX{
		url: cfg.URL,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					// The server certificate is generated inside the
					// enclave and is not signed by a public CA.
					InsecureSkipVerify: true,
				},
			},
		},
	}

	keyName, err := waitKeyName(ctx, cfg.NodeConfigPath)
	if err != nil {
		return nil, err
	}
	s.keyName = keyName

	addr, err := s.fetchAddress(ctx)
	if err != nil {
		return nil, err
	}
	s.addr = addr
	log.Infow("sgx signer initialized", "address", addr.Hex())
	return s, nil
}

// waitKeyName polls the node config file until the sgx_key_name field is
// readable. Startup may race with the enrolling node writing the file.
func waitKeyName(ctx context.Context, path string) (string, error) {
	for {
		name, err := readKeyName(path)
		if err == nil {
			return name, nil
		}
		log.Infow("waiting for sgx key name", "path", path, "error", err.Error())
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for sgx key name: %w", ctx.Err())
		case <-time.After(keyNamePollInterval):
		}
	}
}

func readKeyName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var cfg struct {
		SGXKeyName string `json:"sgx_key_name"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse node config: %w", err)
	}
	if cfg.SGXKeyName == "" {
		return "", fmt.Errorf("node config has no sgx_key_name yet")
	}
	return cfg.SGXKeyName, nil
}

// Address returns the account the enclave key controls.
func (s *SGX) Address() common.Address { return s.addr }

// SignTx asks the enclave to sign the envelope hash and reassembles the
// signed transaction.
func (s *SGX) SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	txSigner := gtypes.LatestSignerForChainID(chainID)
	hash := txSigner.Hash(tx)

	var result struct {
		Status       int    `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		SignatureR   string `json:"signature_r"`
		SignatureS   string `json:"signature_s"`
		SignatureV   int64  `json:"signature_v"`
	}
	err := s.call(ctx, "ecdsaSignMessageHash", map[string]any{
		"base":        16,
		"keyName":     s.keyName,
		"messageHash": hash.Hex(),
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Status != 0 {
		return nil, fmt.Errorf("sgx sign rejected: %s", result.ErrorMessage)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[:32], common.LeftPadBytes(common.FromHex(result.SignatureR), 32))
	copy(sig[32:64], common.LeftPadBytes(common.FromHex(result.SignatureS), 32))
	v := result.SignatureV
	if v >= 27 {
		v -= 27
	}
	sig[64] = byte(v)

	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return nil, fmt.Errorf("assemble sgx signature: %w", err)
	}
	return signed, nil
}

// fetchAddress resolves the account address from the enclave public key.
func (s *SGX) fetchAddress(ctx context.Context) (common.Address, error) {
	var result struct {
		Status       int    `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		PublicKey    string `json:"publicKey"`
	}
	err := s.call(ctx, "getPublicECDSAKey", map[string]any{
		"keyName": s.keyName,
	}, &result)
	if err != nil {
		return common.Address{}, err
	}
	if result.Status != 0 {
		return common.Address{}, fmt.Errorf("sgx public key rejected: %s", result.ErrorMessage)
	}
	raw := common.FromHex(result.PublicKey)
	// The enclave may omit the uncompressed-point prefix.
	if len(raw) == 64 {
		raw = append([]byte{0x04}, raw...)
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse sgx public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// call performs one JSON-RPC exchange with the signing server. Transport
// failures are wrapped in ErrUnreachable.
func (s *SGX) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      s.reqID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("marshal sgx request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sgx request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrUnreachable, resp.StatusCode)
	}

	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode sgx response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("sgx rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode sgx result: %w", err)
	}
	return nil
}
