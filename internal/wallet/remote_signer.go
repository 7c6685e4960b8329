package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// RemoteSigner adapter к signing bridge (браузерный кошелек пользователя).
// Подпись запрашивается один раз, без ретраев: повтор решает вызывающий.
type RemoteSigner struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewRemoteSigner создает adapter
func NewRemoteSigner(baseURL string, timeout time.Duration, log zerolog.Logger) *RemoteSigner {
	return &RemoteSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "wallet").Logger(),
	}
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	PublicKey string `json:"public_key"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Rejected  bool   `json:"rejected"`
	Error     string `json:"error"`
}

// IsConnected спрашивает bridge есть ли активная сессия кошелька
func (s *RemoteSigner) IsConnected(ctx context.Context, walletAddress string) bool {
	status, err := s.status(ctx, walletAddress)
	if err != nil {
		s.log.Debug().Err(err).Str("wallet", walletAddress).Msg("Wallet status unavailable")
		return false
	}
	return status.Connected && status.PublicKey == walletAddress
}

// GetConnectedWallet возвращает handle на подключенный кошелек
func (s *RemoteSigner) GetConnectedWallet(ctx context.Context, walletAddress string) (Wallet, error) {
	status, err := s.status(ctx, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletNotConnected, err)
	}
	if !status.Connected || status.PublicKey != walletAddress {
		return nil, domain.ErrWalletNotConnected
	}
	return &remoteWallet{signer: s, publicKey: status.PublicKey}, nil
}

func (s *RemoteSigner) status(ctx context.Context, walletAddress string) (*statusResponse, error) {
	endpoint := fmt.Sprintf("%s/wallets/%s/status", s.baseURL, url.PathEscape(walletAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

type remoteWallet struct {
	signer    *RemoteSigner
	publicKey string
}

func (w *remoteWallet) PublicKey() string {
	return w.publicKey
}

// SignTransaction отправляет план на подпись и ждет ответ пользователя
func (w *remoteWallet) SignTransaction(ctx context.Context, plan *domain.TransactionPlan) (string, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}

	endpoint := fmt.Sprintf("%s/wallets/%s/sign", w.signer.baseURL, url.PathEscape(w.publicKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.signer.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusPreconditionFailed, http.StatusUnauthorized:
		return "", domain.ErrWalletNotConnected
	default:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result signResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Rejected {
		return "", domain.ErrSignatureRejected
	}
	if result.Error != "" {
		return "", fmt.Errorf("signer error: %s", result.Error)
	}
	if err := ValidateSignature(result.Signature); err != nil {
		return "", err
	}

	w.signer.log.Info().
		Str("wallet", w.publicKey).
		Str("plan", plan.ID).
		Msg("✍️ Transaction signed")

	return result.Signature, nil
}
