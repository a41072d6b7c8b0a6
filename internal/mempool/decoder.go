// internal/mempool/decoder.go
package mempool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/rovshanmuradov/mempool-sniper/internal/dex/pancakeswap"
)

// Decoder turns calldata into a DecodedCall.
type Decoder interface {
	Decode(data []byte) (*DecodedCall, error)
}

// ABIDecoder decodes calldata with a contract ABI.
type ABIDecoder struct {
	abi abi.ABI
}

// NewABIDecoder uses contractABI, or the embedded router ABI when nil.
func NewABIDecoder(contractABI *abi.ABI) *ABIDecoder {
	if contractABI == nil {
		return &ABIDecoder{abi: pancakeswap.RouterABI}
	}
	return &ABIDecoder{abi: *contractABI}
}

// Decode looks the method up by selector and unpacks its arguments.
func (d *ABIDecoder) Decode(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := d.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}

	call := &DecodedCall{Method: method.Name, Args: args}
	copy(call.Selector[:], data[:4])
	return call, nil
}
