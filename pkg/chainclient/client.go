// Package chainclient connects the agent to an Ethereum node: it polls chain
// heads, reads request contracts, signs and sends transactions and tracks
// the network gas price.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const rpcTimeout = 10 * time.Second

// Client holds the RPC connection of the agent
type Client struct {
	ChainID *big.Int
	RPCURL  string
	Eth     *ethclient.Client
}

// Dial connects to the node at rpcURL and resolves its chain ID
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	chainID, err := eth.ChainID(timeoutCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		ChainID: chainID,
		RPCURL:  rpcURL,
		Eth:     eth,
	}, nil
}

// Close closes the RPC connection
func (c *Client) Close() {
	if c.Eth != nil {
		c.Eth.Close()
	}
}

// ParsePrivateKeys parses hex encoded private keys, with or without 0x prefix
func ParsePrivateKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	seen := make(map[common.Address]bool, len(hexKeys))
	for i, h := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key #%d: %w", i+1, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if seen[addr] {
			return nil, fmt.Errorf("private key #%d duplicates account %s", i+1, addr.Hex())
		}
		seen[addr] = true
		keys = append(keys, key)
	}
	return keys, nil
}
