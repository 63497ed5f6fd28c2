package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Local signs with an in-process private key.
type Local struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocal parses a hex private key (with or without 0x prefix).
func NewLocal(hexKey string) (*Local, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Local{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account the signer controls.
func (s *Local) Address() common.Address { return s.addr }

// SignTx signs the envelope with the latest signer for chainID.
func (s *Local) SignTx(_ context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}
