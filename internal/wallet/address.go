package wallet

import (
	"fmt"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/mr-tron/base58"
)

const (
	publicKeyLength = 32
	signatureLength = 64
)

// ValidateAddress проверяет что строка это base58 Solana pubkey (32 байта)
func ValidateAddress(address string) error {
	decoded, err := base58.Decode(address)
	if err != nil || len(decoded) != publicKeyLength {
		return fmt.Errorf("%w: %q", domain.ErrInvalidWalletAddress, address)
	}
	return nil
}

// ValidateSignature проверяет формат подписи транзакции (64 байта в base58)
func ValidateSignature(signature string) error {
	decoded, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("signature is not base58: %w", err)
	}
	if len(decoded) != signatureLength {
		return fmt.Errorf("signature length %d, expected %d", len(decoded), signatureLength)
	}
	return nil
}
