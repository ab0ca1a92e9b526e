package permit

import (
	"context"

	"github.com/pkg/errors"

	"github.com/quantex/arbiter/internal/chain"
)

// pauseGasBudget covers a state-flip call with margin.
const pauseGasBudget = uint64(120_000)

// CustodyControl forwards custody pause/unpause calls through the trusted
// relay, so an operator can flip the contract without holding gas funds.
type CustodyControl struct {
	manager *Manager
	custody *chain.Custody
}

// NewCustodyControl binds a manager to a custody contract.
func NewCustodyControl(manager *Manager, custody *chain.Custody) *CustodyControl {
	return &CustodyControl{manager: manager, custody: custody}
}

// Pause relays a pause() call and returns the relay transaction reference.
func (c *CustodyControl) Pause(ctx context.Context) (string, error) {
	call, err := c.custody.PauseCalldata()
	if err != nil {
		return "", errors.Wrap(err, "permit: encode pause")
	}
	return c.manager.Forward(ctx, c.custody.Address(), call, pauseGasBudget)
}

// Unpause relays an unpause() call.
func (c *CustodyControl) Unpause(ctx context.Context) (string, error) {
	call, err := c.custody.UnpauseCalldata()
	if err != nil {
		return "", errors.Wrap(err, "permit: encode unpause")
	}
	return c.manager.Forward(ctx, c.custody.Address(), call, pauseGasBudget)
}
