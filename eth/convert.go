package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/skalenetwork/transaction-manager/types"
)

// ConvertTx builds the wire envelope for a request: a legacy transaction
// when only the gas price is set, a dynamic-fee one when the tip/cap pair
// is set. Unset optional fields are left out of the envelope.
func ConvertTx(tx *types.Tx) (*gtypes.Transaction, error) {
	if tx.Nonce == nil {
		return nil, fmt.Errorf("tx %s has no nonce assigned", tx.ID)
	}
	to := common.HexToAddress(tx.To)
	value := big.NewInt(0)
	if tx.Value != nil {
		value = tx.Value.MathBigInt()
	}

	switch {
	case tx.Fee.IsDynamic():
		if tx.ChainID == nil {
			return nil, fmt.Errorf("tx %s has no chain id for a dynamic fee envelope", tx.ID)
		}
		return gtypes.NewTx(&gtypes.DynamicFeeTx{
			ChainID:   tx.ChainID.MathBigInt(),
			Nonce:     *tx.Nonce,
			GasTipCap: tx.Fee.MaxPriorityFeePerGas.MathBigInt(),
			GasFeeCap: tx.Fee.MaxFeePerGas.MathBigInt(),
			Gas:       tx.Gas,
			To:        &to,
			Value:     value,
			Data:      tx.Data,
		}), nil
	case tx.Fee.GasPrice != nil:
		return gtypes.NewTx(&gtypes.LegacyTx{
			Nonce:    *tx.Nonce,
			GasPrice: tx.Fee.GasPrice.MathBigInt(),
			Gas:      tx.Gas,
			To:       &to,
			Value:    value,
			Data:     tx.Data,
		}), nil
	default:
		return nil, fmt.Errorf("tx %s has no fee assigned", tx.ID)
	}
}

// callMsg builds the estimation message for a request. Fee fields are
// deliberately omitted: estimation must not depend on the attempt fee.
func callMsg(tx *types.Tx) (ethereum.CallMsg, error) {
	if tx.To == "" {
		return ethereum.CallMsg{}, fmt.Errorf("tx %s has no destination", tx.ID)
	}
	to := common.HexToAddress(tx.To)
	msg := ethereum.CallMsg{
		To:   &to,
		Data: tx.Data,
	}
	if tx.From != "" {
		msg.From = common.HexToAddress(tx.From)
	}
	if tx.Value != nil {
		msg.Value = tx.Value.MathBigInt()
	}
	return msg, nil
}
