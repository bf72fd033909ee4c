package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/xueqianLu/txsigner/pkg/client"
)

const baseURL = "http://localhost:8080"

func main() {
	ctx := context.Background()
	c := client.NewClient(baseURL, os.Getenv("TXSIGNER_AUTH_API_KEY"), os.Getenv("TXSIGNER_AUTH_API_SECRET"))

	// 1. Health Check
	fmt.Println("1. Performing Health Check...")
	health, err := c.Health(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("   Health status: %s, chain %s, %d accounts\n\n", health.Status, health.ChainID.ToInt(), health.Accounts)

	// 2. Get All Accounts
	fmt.Println("2. Getting All Accounts...")
	accounts, err := c.Accounts(ctx)
	if err != nil {
		log.Fatalf("Failed to get accounts: %v", err)
	}
	fmt.Printf("   Available accounts: %v\n\n", accounts)
	if len(accounts) == 0 {
		log.Fatal("No managed accounts")
	}

	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	args := client.TxArgs{
		From:  accounts[0],
		To:    &to,
		Value: (*hexutil.Big)(big.NewInt(1)),
	}

	// 3. Sign a transaction without sending it
	fmt.Println("3. Signing a Transaction...")
	signed, err := c.SignTransaction(ctx, args)
	if err != nil {
		log.Fatalf("Failed to sign transaction: %v", err)
	}
	fmt.Printf("   Nonce %d, raw transaction: %s\n\n", signed.Tx.Nonce(), signed.Raw)

	// 4. Send a transaction; the proxy fills nonce and gas
	fmt.Println("4. Sending a Transaction...")
	hash, err := c.SendTransaction(ctx, args)
	if err != nil {
		log.Fatalf("Failed to send transaction: %v", err)
	}
	fmt.Printf("   Transaction hash: %s\n", hash.Hex())
}
