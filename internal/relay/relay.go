// Package relay submits signed single-transaction bundles through a private
// channel, simulating each bundle against its target block first so bad or
// front-runnable transactions never reach the public pool.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quantex/arbiter/internal/domain"
	"github.com/quantex/arbiter/internal/signer"
)

// signatureHeader authenticates the payload to the relay endpoint: the
// sender address and a signature over the keccak hash of the request body.
const signatureHeader = "X-Relay-Signature"

// BlockReader supplies the current head height for target-block defaulting.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber,omitempty"`
}

type callBundleResult struct {
	BundleHash string `json:"bundleHash"`
	Results    []struct {
		TxHash string `json:"txHash"`
		Error  string `json:"error,omitempty"`
		Revert string `json:"revert,omitempty"`
	} `json:"results"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

// Submission is the handle returned for a submitted bundle.
type Submission struct {
	BundleHash  string
	TargetBlock uint64
	SubmittedAt time.Time
}

// Client talks to the private relay endpoint. Submissions are single-shot:
// a bundle that misses its target block is not resubmitted here.
type Client struct {
	http   *resty.Client
	auth   signer.Signer // identifies this searcher to the relay
	head   BlockReader
	log    *logrus.Entry
	nextID atomic.Int64 // JSON-RPC request id, shared across goroutines
}

// New builds a relay client authenticated by auth.
func New(url string, auth signer.Signer, head BlockReader) *Client {
	return &Client{
		http: resty.New().SetBaseURL(url).SetTimeout(30 * time.Second),
		auth: auth,
		head: head,
		log:  logrus.WithField("component", "relay"),
	}
}

// Submit signs a single-transaction bundle, simulates it against the target
// block, and submits it when simulation passes. targetBlock nil defaults to
// head+1. Returns ErrSimulationRejected when simulation reports any error;
// the bundle is then not submitted and not retried.
func (c *Client) Submit(ctx context.Context, tx *types.Transaction, targetBlock *uint64) (*Submission, error) {
	var target uint64
	if targetBlock != nil {
		target = *targetBlock
	} else {
		head, err := c.head.BlockNumber(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "relay: read head")
		}
		target = head + 1
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "relay: encode transaction")
	}
	bundle := bundleParams{
		Txs:         []string{"0x" + hex.EncodeToString(raw)},
		BlockNumber: fmt.Sprintf("0x%x", target),
	}

	sim := bundle
	sim.StateBlockNumber = "latest"
	var simOut callBundleResult
	if err := c.call(ctx, "eth_callBundle", sim, &simOut); err != nil {
		return nil, errors.Wrap(domain.ErrSimulationRejected, err.Error())
	}
	for _, r := range simOut.Results {
		if r.Error != "" || r.Revert != "" {
			c.log.WithFields(logrus.Fields{
				"tx":     r.TxHash,
				"error":  r.Error,
				"revert": r.Revert,
			}).Warn("bundle simulation rejected")
			return nil, errors.Wrapf(domain.ErrSimulationRejected, "tx %s: %s%s", r.TxHash, r.Error, r.Revert)
		}
	}

	var sendOut sendBundleResult
	if err := c.call(ctx, "eth_sendBundle", bundle, &sendOut); err != nil {
		return nil, errors.Wrap(err, "relay: send bundle")
	}

	sub := &Submission{
		BundleHash:  sendOut.BundleHash,
		TargetBlock: target,
		SubmittedAt: time.Now(),
	}
	c.log.WithFields(logrus.Fields{
		"bundle": sub.BundleHash,
		"block":  target,
	}).Info("bundle submitted to private relay")
	return sub, nil
}

// call performs one signed JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: []any{params}}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	header, err := c.signPayload(body)
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(signatureHeader, header).
		SetBody(body).
		SetResult(&envelope).
		Post("/")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.Errorf("relay http %d", resp.StatusCode())
	}
	if envelope.Error != nil {
		return errors.Errorf("%s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if out != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

// signPayload produces "address:0xsignature" over keccak256 of the body.
func (c *Client) signPayload(body []byte) (string, error) {
	digest := crypto.Keccak256(body)
	sig, err := c.auth.SignDigest(digest)
	if err != nil {
		return "", errors.Wrap(err, "relay: sign payload")
	}
	return c.auth.Address().Hex() + ":0x" + hex.EncodeToString(sig), nil
}
