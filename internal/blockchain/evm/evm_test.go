package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "ether fraction", value: "0.001", decimals: EtherDecimals, want: "1000000000000000"},
		{name: "whole ether", value: "2", decimals: EtherDecimals, want: "2000000000000000000"},
		{name: "gwei", value: "5", decimals: GweiDecimals, want: "5000000000"},
		{name: "truncates dust", value: "1.0000000009", decimals: GweiDecimals, want: "1000000000"},
		{name: "negative", value: "-1", decimals: EtherDecimals, wantErr: true},
		{name: "garbage", value: "abc", decimals: EtherDecimals, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.value, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1.5", FormatUnits(wei, EtherDecimals))
	assert.Equal(t, "0", FormatUnits(nil, EtherDecimals))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		nonce     bool
		kind      string
	}{
		{err: nil, kind: "none"},
		{err: errors.New("nonce too low"), retryable: true, nonce: true, kind: "nonce"},
		{err: errors.New("Too Many Requests"), retryable: true, kind: "transient"},
		{err: fmt.Errorf("send: %w", context.DeadlineExceeded), retryable: true, kind: "transient"},
		{err: context.Canceled, kind: "other"},
		{err: errors.New("execution reverted: PancakeRouter: EXPIRED"), kind: "other"},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
			assert.Equal(t, tt.nonce, IsNonceError(tt.err))
			assert.Equal(t, tt.kind, ErrorKind(tt.err))
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	err := NewError(base, "eth_call")
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "eth_call")
	assert.Nil(t, NewError(nil, "eth_call"))
}
