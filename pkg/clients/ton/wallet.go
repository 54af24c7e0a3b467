package tonclient

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	tonProofPrefix   = "ton-proof-item-v2/"
	tonConnectPrefix = "ton-connect"
)

// Bridge is the wallet side of the dashboard: it owns the keys, signs login proofs and sends
// backend-built messages.
type Bridge interface {
	Address() string
	Connected() bool
	Connect()
	SendTransaction(ctx context.Context, tx v1.Transaction) error
	SignProof(domain, payload string) (v1.LoginInfo, error)
	Disconnect()
}

type bridge struct {
	w         *wallet.Wallet
	key       ed25519.PrivateKey
	stateInit []byte
	connected atomic.Bool
	clock     clock.Clock
	logger    *slog.Logger
}

func (b *bridge) Address() string {
	return b.w.WalletAddress().String()
}

func (b *bridge) Connected() bool {
	return b.connected.Load()
}

func (b *bridge) Connect() {
	b.connected.Store(true)
}

func (b *bridge) Disconnect() {
	b.connected.Store(false)
}

// SendTransaction signs the message and waits until the wallet transaction lands on chain.
func (b *bridge) SendTransaction(ctx context.Context, tx v1.Transaction) error {
	log := b.logger.With("method", "SendTransaction", "address", tx.Address, "amount", tx.Amount)

	if !b.Connected() {
		return models.ErrNotConnected
	}

	msg, err := buildMessage(tx)
	if err != nil {
		log.Error("failed to build message", slog.String("error", err.Error()))
		return err
	}

	if err = b.w.Send(ctx, msg, true); err != nil {
		log.Error("failed to send message", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s", models.ErrPaymentRejected, err.Error())
	}

	return nil
}

func buildMessage(tx v1.Transaction) (*wallet.Message, error) {
	to, err := utils.ParseAnyAddr(tx.Address)
	if err != nil {
		return nil, models.ErrInvalidAddress
	}

	body, err := decodeCell(tx.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}

	msg := wallet.SimpleMessage(to, tlb.FromNanoTONU(tx.Amount), body)
	msg.InternalMessage.Bounce = to.IsBounceable()

	si, err := decodeCell(tx.StateInit)
	if err != nil {
		return nil, fmt.Errorf("invalid state init: %w", err)
	}

	if si != nil {
		var stateInit tlb.StateInit
		if err = tlb.LoadFromCell(&stateInit, si.BeginParse()); err != nil {
			return nil, fmt.Errorf("invalid state init: %w", err)
		}
		msg.InternalMessage.StateInit = &stateInit
		msg.InternalMessage.Bounce = false
	}

	return msg, nil
}

func decodeCell(b64 string) (*cell.Cell, error) {
	if b64 == "" {
		return nil, nil
	}

	boc, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}

	return cell.FromBOC(boc)
}

// SignProof produces the ton_proof login payload the backend verifies with TonConnectVerifier.
func (b *bridge) SignProof(domain, payload string) (info v1.LoginInfo, err error) {
	if !b.Connected() {
		err = models.ErrNotConnected
		return
	}

	addr := b.w.WalletAddress()
	ts := b.clock.Now().Unix()

	info = v1.LoginInfo{
		Address: addr.StringRaw(),
		Proof: v1.TonProof{
			Timestamp: ts,
			Domain: v1.ProofDomain{
				LengthBytes: uint32(len(domain)),
				Value:       domain,
			},
			Signature: signProof(b.key, addr, domain, payload, ts),
			Payload:   payload,
		},
		StateInit: b.stateInit,
	}

	return
}

func proofMessage(addr *address.Address, domain, payload string, ts int64) []byte {
	var msg []byte
	msg = append(msg, tonProofPrefix...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(addr.Workchain()))
	msg = append(msg, addr.Data()...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(len(domain)))
	msg = append(msg, domain...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(ts))
	msg = append(msg, payload...)

	msgHash := sha256.Sum256(msg)

	full := []byte{0xff, 0xff}
	full = append(full, tonConnectPrefix...)
	full = append(full, msgHash[:]...)

	h := sha256.Sum256(full)
	return h[:]
}

func signProof(key ed25519.PrivateKey, addr *address.Address, domain, payload string, ts int64) []byte {
	return ed25519.Sign(key, proofMessage(addr, domain, payload, ts))
}

// NewWallet opens a V4R2 wallet from a space separated seed phrase. The bridge starts connected.
func NewWallet(api wallet.TonAPI, seed string, clk clock.Clock, logger *slog.Logger) (Bridge, error) {
	words := strings.Fields(seed)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty wallet seed")
	}

	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet: %w", err)
	}

	key := w.PrivateKey()
	si, err := wallet.GetStateInit(key.Public().(ed25519.PublicKey), wallet.V4R2, wallet.DefaultSubwallet)
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet state init: %w", err)
	}

	siCell, err := tlb.ToCell(si)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize wallet state init: %w", err)
	}

	if clk == nil {
		clk = clock.New()
	}

	b := &bridge{
		w:         w,
		key:       key,
		stateInit: siCell.ToBOC(),
		clock:     clk,
		logger:    logger,
	}
	b.Connect()

	return b, nil
}
