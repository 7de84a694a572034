// Copyright (c) 2017-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// The wallet package implements the wallet collaborators of the maker and
// the users, either by interacting with a dcrwallet via gRPC or with an
// in-memory wallet for simulation networks.
package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	pb "decred.org/dcrwallet/rpc/walletrpc"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Wallet represents an interface to an established RPC connection with
// dcrwallet software and provides the maker and the users with wallet and
// blockchain services.
type Wallet struct {
	c pb.WalletServiceClient

	chainParams *chaincfg.Params

	passphrase []byte
	account    uint32

	collateralAmount int64

	// owners maps the hex encoded output script of every collateral
	// created by the wallet to the address signing for it.
	ownersMu sync.Mutex
	owners   map[string]string
}

type Config struct {
	Account          uint32
	AccountName      string
	ChainParams      *chaincfg.Params
	WalletConnection *grpc.ClientConn
	WalletPassword   string

	// CollateralAmount is the value of the outputs created by Collateral.
	CollateralAmount int64
}

var (
	_ swaptx.SourceWallet     = (*Wallet)(nil)
	_ swaptx.CollateralWallet = (*Wallet)(nil)
	_ swaptx.ChainSource      = (*Wallet)(nil)
)

// New creates a new wallet object associated with the connection conn
// under chainParams. It also makes sure wallet is running and configured
// for the correct network.
func New(ctx context.Context, cfg *Config) (*Wallet, error) {
	w := &Wallet{
		c:                pb.NewWalletServiceClient(cfg.WalletConnection),
		chainParams:      cfg.ChainParams,
		account:          cfg.Account,
		passphrase:       []byte(cfg.WalletPassword),
		collateralAmount: cfg.CollateralAmount,
		owners:           make(map[string]string),
	}

	_, err := w.c.Ping(ctx, &pb.PingRequest{})
	if err != nil {
		return nil, fmt.Errorf("Ping %v", err)
	}
	nr, err := w.c.Network(ctx, &pb.NetworkRequest{})
	if err != nil {
		return nil, fmt.Errorf("Network %v", err)
	}
	if nr.ActiveNetwork != uint32(w.chainParams.Net) {
		return nil, errors.New("network mismatch")
	}

	if len(cfg.AccountName) > 0 {
		err = w.SelectAccount(ctx, cfg.AccountName)
		if err != nil {
			return nil, fmt.Errorf("account %s wasn't found", cfg.AccountName)
		}
	}

	log.Infof("Using account %d of the %s wallet", w.account,
		w.chainParams.Name)
	return w, nil
}

// SelectAccount looks up an account by the provided name and selects it
// for future wallet operations.
func (w *Wallet) SelectAccount(ctx context.Context, name string) error {
	ar, err := w.c.Accounts(ctx, &pb.AccountsRequest{})
	if err != nil {
		return fmt.Errorf("Accounts %v", err)
	}
	for _, account := range ar.Accounts {
		if account.AccountName == name {
			w.account = account.AccountNumber
			return nil
		}
	}
	return fmt.Errorf("account %s wasn't found", name)
}

func walletError(desc string, err error) error {
	return contract.MakeError(contract.ErrWallet, desc, err)
}

func (w *Wallet) nextAddress(ctx context.Context, kind pb.NextAddressRequest_Kind) (dcrutil.Address, *secp256k1.PublicKey, error) {
	nar, err := w.c.NextAddress(ctx, &pb.NextAddressRequest{
		Account:   w.account,
		Kind:      kind,
		GapPolicy: pb.NextAddressRequest_GAP_POLICY_WRAP,
	})
	if err != nil {
		return nil, nil, walletError(fmt.Sprintf("NextAddress %v", err), err)
	}

	pkAddr, err := dcrutil.DecodeAddress(nar.PublicKey, w.chainParams)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode pubkey: %v", err)
	}
	pub, err := secp256k1.ParsePubKey(pkAddr.ScriptAddress())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse pubkey: %v", err)
	}
	addr, err := contract.P2PKHAddress(w.chainParams, pub)
	if err != nil {
		return nil, nil, err
	}
	if addr.Address() != nar.Address {
		return nil, nil, errors.New("address and public key don't match")
	}
	return addr, pub, nil
}

// NewAddress returns the next internal address of the account.
func (w *Wallet) NewAddress(ctx context.Context) (dcrutil.Address, error) {
	addr, _, err := w.nextAddress(ctx, pb.NextAddressRequest_BIP0044_INTERNAL)
	return addr, err
}

// FundScript constructs and signs a transaction that transfers amount
// atoms from the account to pkScript.
func (w *Wallet) FundScript(ctx context.Context, pkScript []byte, amount int64) (*wire.MsgTx, int64, error) {
	ctr, err := w.c.ConstructTransaction(ctx, &pb.ConstructTransactionRequest{
		SourceAccount: w.account,
		NonChangeOutputs: []*pb.ConstructTransactionRequest_Output{{
			Destination: &pb.ConstructTransactionRequest_OutputDestination{
				Script:        pkScript,
				ScriptVersion: 0,
			},
			Amount: amount,
		}},
	})
	if err != nil {
		return nil, 0, walletError(fmt.Sprintf("ConstructTransaction %v",
			err), err)
	}

	str, err := w.c.SignTransaction(ctx, &pb.SignTransactionRequest{
		Passphrase:            w.passphrase,
		SerializedTransaction: ctr.UnsignedTransaction,
	})
	if err != nil {
		return nil, 0, walletError(fmt.Sprintf("SignTransaction %v", err),
			err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(str.Transaction)); err != nil {
		return nil, 0, fmt.Errorf("could not decode funding tx: %v", err)
	}
	var fee int64
	for _, in := range tx.TxIn {
		fee += in.ValueIn
	}
	for _, out := range tx.TxOut {
		fee -= out.Value
	}
	return &tx, fee, nil
}

// PublishTransaction publishes a signed transaction.
func (w *Wallet) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return err
	}
	ptr, err := w.c.PublishTransaction(ctx, &pb.PublishTransactionRequest{
		SignedTransaction: buf.Bytes(),
	})
	if err != nil {
		return walletError(fmt.Sprintf("PublishTransaction %v", err), err)
	}
	log.Debugf("Published transaction %x", ptr.TransactionHash)
	return nil
}

// ImportScript makes the wallet watch the P2SH address of a redeem script
// and returns that address.
func (w *Wallet) ImportScript(ctx context.Context, script []byte) (string, error) {
	isr, err := w.c.ImportScript(ctx, &pb.ImportScriptRequest{
		Passphrase: w.passphrase,
		Script:     script,
	})
	if err != nil {
		return "", walletError(fmt.Sprintf("ImportScript %v", err), err)
	}
	return isr.P2ShAddress, nil
}

// Collateral pays CollateralAmount atoms to a fresh external address of
// the account, publishes the transaction and returns the new output.
func (w *Wallet) Collateral(ctx context.Context) (*swaptx.Collateral, error) {
	addr, pub, err := w.nextAddress(ctx, pb.NextAddressRequest_BIP0044_EXTERNAL)
	if err != nil {
		return nil, err
	}
	script, err := contract.P2PKHScript(w.chainParams, pub)
	if err != nil {
		return nil, err
	}
	tx, _, err := w.FundScript(ctx, script, w.collateralAmount)
	if err != nil {
		return nil, err
	}
	idx, err := swaptx.FindOutput(tx, script)
	if err != nil {
		return nil, err
	}
	if err := w.PublishTransaction(ctx, tx); err != nil {
		return nil, err
	}

	w.ownersMu.Lock()
	w.owners[hex.EncodeToString(script)] = addr.Address()
	w.ownersMu.Unlock()

	txHash := tx.TxHash()
	return &swaptx.Collateral{
		Descriptor: contract.CollateralDescriptor(pub),
		OutPoint:   *wire.NewOutPoint(&txHash, uint32(idx), wire.TxTreeRegular),
		PrevTx:     tx,
	}, nil
}

// SignInput signs input idx of t, which must spend a collateral created
// by the wallet.
func (w *Wallet) SignInput(ctx context.Context, t *swaptx.Template, idx int) error {
	if idx < 0 || idx >= len(t.Inputs) {
		return fmt.Errorf("input %d does not exist", idx)
	}
	in := t.Inputs[idx]
	w.ownersMu.Lock()
	addr, ok := w.owners[hex.EncodeToString(in.PkScript)]
	w.ownersMu.Unlock()
	if !ok {
		return fmt.Errorf("input %d is not a wallet collateral", idx)
	}

	b, err := t.Bytes()
	if err != nil {
		return err
	}
	csr, err := w.c.CreateSignature(ctx, &pb.CreateSignatureRequest{
		Passphrase:            w.passphrase,
		Address:               addr,
		SerializedTransaction: b,
		InputIndex:            uint32(idx),
		HashType:              pb.CreateSignatureRequest_SIGHASH_ALL,
		PreviousPkScript:      in.PkScript,
	})
	if err != nil {
		return walletError(fmt.Sprintf("CreateSignature %v", err), err)
	}
	pub, err := secp256k1.ParsePubKey(csr.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to parse signing key: %v", err)
	}
	return t.AddSignature(idx, pub, csr.Signature)
}

// Transaction retrieves a transaction known to the wallet together with
// its number of confirmations.
func (w *Wallet) Transaction(ctx context.Context, hash *chainhash.Hash) (*wire.MsgTx, int32, error) {
	gtr, err := w.c.GetTransaction(ctx, &pb.GetTransactionRequest{
		TransactionHash: hash[:],
	})
	if err != nil {
		s, ok := status.FromError(err)
		if ok && s.Code() == codes.NotFound {
			return nil, 0, swaptx.ErrTxNotFound
		}
		return nil, 0, walletError(fmt.Sprintf("GetTransaction %v", err),
			err)
	}

	var tx wire.MsgTx
	err = tx.Deserialize(bytes.NewReader(gtr.Transaction.Transaction))
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode tx %v: %v", hash, err)
	}
	return &tx, gtr.Confirmations, nil
}
