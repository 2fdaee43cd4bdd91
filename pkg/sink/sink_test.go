package sink

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lockmint-bridge/pkg/builder"
)

func TestLogSinkEmitsWithoutMutating(t *testing.T) {
	tx := &builder.PreparedTransaction{
		From:                 common.HexToAddress("0x9a55DA7a876e68E2d7a54b2e4F5C7b9e2c7D09b1"),
		To:                   common.HexToAddress("0x8a9C28b8686d128340E7420492F6A3d596a7353A"),
		ChainID:              (*hexutil.Big)(big.NewInt(80001)),
		Nonce:                7,
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(35000000000)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(2000000000)),
		GasLimit:             200000,
		Data:                 hexutil.MustDecode("0xdeadbeef"),
		SourceNonce:          common.HexToHash("0xa1b2c3"),
	}
	before, err := json.Marshal(tx)
	require.NoError(t, err)

	s := NewLogSink()
	require.NoError(t, s.Emit(context.Background(), tx))
	require.NoError(t, s.Close())

	after, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestPreparedTransactionJSONShape(t *testing.T) {
	tx := &builder.PreparedTransaction{
		ChainID:              (*hexutil.Big)(big.NewInt(80001)),
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(1)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(1)),
	}
	payload, err := json.Marshal(tx)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	for _, key := range []string{
		"from", "to", "chainId", "nonce",
		"maxFeePerGas", "maxPriorityFeePerGas", "gas", "data",
		"sourceTransactionNonce",
	} {
		assert.Contains(t, fields, key)
	}
}
