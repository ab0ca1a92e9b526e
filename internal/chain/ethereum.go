package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"nonces","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Client implements ReadWriter over an ethclient connection.
type Client struct {
	ec    *ethclient.Client
	erc20 abi.ABI
}

// Dial connects to the node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "chain: dial rpc")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "chain: parse erc20 abi")
	}
	return &Client{ec: ec, erc20: parsed}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c != nil && c.ec != nil {
		c.ec.Close()
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, account, nil)
}

func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func (c *Client) TokenNonce(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("nonces", holder)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, account)
}

func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	return c.ec.CallContract(ctx, msg, nil)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ec.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ec.TransactionReceipt(ctx, txHash)
}
