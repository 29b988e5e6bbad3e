package decoder

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const erc20CallsABIJSON = `[
  {"inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "transfer", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "from", "type": "address"}, {"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "transferFrom", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	erc20Calls     abi.ABI
	erc20CallsOnce sync.Once
	erc20CallsErr  error
)

func erc20CallsInstance() (abi.ABI, error) {
	erc20CallsOnce.Do(func() {
		erc20Calls, erc20CallsErr = abi.JSON(strings.NewReader(erc20CallsABIJSON))
	})
	return erc20Calls, erc20CallsErr
}

// Selector returns the hex encoded function selector of calldata, or "" when there is none.
func Selector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return hexutil.Encode(data[:4])
}

// MethodName resolves well-known token methods from calldata.
func MethodName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	parsed, err := erc20CallsInstance()
	if err != nil {
		return ""
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return ""
	}
	return method.RawName
}
