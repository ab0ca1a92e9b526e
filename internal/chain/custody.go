package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// custodyABI is the fixed call surface of the custody contract. The
// contract's internal logic is an external collaborator.
const custodyABI = `[
  {"name":"lockedCollateral","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"totalClaims","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"pause","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"name":"unpause","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// Custody calls the collateral-custody contract.
type Custody struct {
	reader Reader
	addr   common.Address
	abi    abi.ABI
}

// NewCustody binds the custody contract at addr.
func NewCustody(reader Reader, addr common.Address) (*Custody, error) {
	parsed, err := abi.JSON(strings.NewReader(custodyABI))
	if err != nil {
		return nil, errors.Wrap(err, "chain: parse custody abi")
	}
	return &Custody{reader: reader, addr: addr, abi: parsed}, nil
}

// LockedCollateral returns the custodied collateral value in base units.
func (c *Custody) LockedCollateral(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "lockedCollateral")
}

// TotalClaims returns the outstanding claim value in base units.
func (c *Custody) TotalClaims(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "totalClaims")
}

// PauseCalldata returns the encoded pause() call for submission by an
// operator transaction or the delegated-execution path.
func (c *Custody) PauseCalldata() ([]byte, error) {
	return c.abi.Pack("pause")
}

// UnpauseCalldata returns the encoded unpause() call.
func (c *Custody) UnpauseCalldata() ([]byte, error) {
	return c.abi.Pack("unpause")
}

// Address returns the bound contract address.
func (c *Custody) Address() common.Address {
	return c.addr
}

func (c *Custody) callUint(ctx context.Context, method string) (*big.Int, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := c.reader.CallContract(ctx, c.addr, data)
	if err != nil {
		return nil, errors.Wrapf(err, "chain: custody %s", method)
	}
	return new(big.Int).SetBytes(out), nil
}
