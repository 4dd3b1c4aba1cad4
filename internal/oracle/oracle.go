// Package oracle is the match server's payment-oracle facade: it verifies
// inbound stake payments against an external ledger and executes outbound
// transfers for settlement. The core never talks to the chain directly —
// it only ever calls the two operations below, gated by the proof store for
// replay protection (see internal/proofstore).
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/proofstore"
)

// Rejection mirrors engine.Rejection's shape for the payment taxonomy in
// spec §7: proof-replay, proof-not-found, proof-insufficient, proof-wrong-recipient.
type Rejection struct {
	Kind string
}

func (r *Rejection) Error() string { return r.Kind }

const (
	KindProofReplay        = "proof-replay"
	KindProofNotFound      = "proof-not-found"
	KindProofInsufficient  = "proof-insufficient"
	KindProofWrongRecipient = "proof-wrong-recipient"
)

// minAcceptRatio is the 0.99x floor on the inbound credit relative to the
// expected stake; below it the proof is rejected as insufficient.
const minAcceptRatio = 0.99

// VerifyResult is the outcome of a successful verifyInbound call.
type VerifyResult struct {
	Received float64
}

// SendResult is the outcome of a successful sendOutbound call.
type SendResult struct {
	Ref string
}

// Oracle is the interface the core depends on. A live implementation talks
// to a real ledger via RPCEndpoint; test mode bypasses verification and
// transfer entirely while keeping the engines and scheduler authoritative.
type Oracle interface {
	VerifyInbound(ctx context.Context, proofRef string, expectedAmount float64) (VerifyResult, error)
	SendOutbound(ctx context.Context, destination string, amount float64) (SendResult, error)
}

// testOracle bypasses the ledger entirely: every proof verifies for exactly
// the expected amount, and every outbound transfer "succeeds" with a
// synthetic reference. The used-proof set is still consulted so that
// replay protection (I3/P4) is exercised identically in test mode.
type testOracle struct {
	store proofstore.Store
	log   *zap.Logger
}

// NewTestOracle returns the test-mode oracle used when Envs.TestMode is set.
func NewTestOracle(store proofstore.Store, log *zap.Logger) Oracle {
	return &testOracle{store: store, log: log}
}

func (o *testOracle) VerifyInbound(ctx context.Context, proofRef string, expectedAmount float64) (VerifyResult, error) {
	if proofRef == "" {
		return VerifyResult{}, &Rejection{Kind: KindProofNotFound}
	}
	used, err := o.store.MarkUsed(ctx, proofRef)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("proof store: %w", err)
	}
	if used {
		return VerifyResult{}, &Rejection{Kind: KindProofReplay}
	}
	o.log.Debug("test-mode proof accepted", zap.String("proofRef", proofRef), zap.Float64("amount", expectedAmount))
	return VerifyResult{Received: expectedAmount}, nil
}

func (o *testOracle) SendOutbound(ctx context.Context, destination string, amount float64) (SendResult, error) {
	o.log.Debug("test-mode outbound transfer", zap.String("destination", destination), zap.Float64("amount", amount))
	return SendResult{Ref: fmt.Sprintf("test-%d-%d", time.Now().UnixNano(), rand.Intn(1_000_000))}, nil
}

// liveOracle resolves proofs and sends transfers against an external RPC
// endpoint. Per spec §4.6 the core is agnostic to how it talks to the chain
// — RPCEndpoint/EscrowSecretBase64/HouseAccount are opaque configuration
// the real ledger client would need; this implementation's resolver is
// left abstract behind ledgerClient so it can be swapped without touching
// callers.
type liveOracle struct {
	store         proofstore.Store
	log           *zap.Logger
	ledger        ledgerClient
	escrowAddress string
	houseAccount  string
}

// ledgerClient is the narrow surface a real chain/payment RPC client must
// satisfy. It is intentionally minimal — resolving a proof and submitting a
// transfer — so that a concrete client can be dropped in without the
// surrounding oracle package changing.
type ledgerClient interface {
	ResolveProof(ctx context.Context, proofRef string) (credited float64, confirmed bool, recipient string, err error)
	Transfer(ctx context.Context, destination string, amount float64) (ref string, err error)
}

// NewLiveOracle constructs the production oracle. client is the concrete
// RPC-backed ledger client; escrowAddress is the account inbound proofs
// must credit.
func NewLiveOracle(store proofstore.Store, log *zap.Logger, client ledgerClient, escrowAddress, houseAccount string) Oracle {
	return &liveOracle{store: store, log: log, ledger: client, escrowAddress: escrowAddress, houseAccount: houseAccount}
}

func (o *liveOracle) VerifyInbound(ctx context.Context, proofRef string, expectedAmount float64) (VerifyResult, error) {
	if proofRef == "" {
		return VerifyResult{}, &Rejection{Kind: KindProofNotFound}
	}

	// Replay is checked before resolving against the ledger so a second
	// verification of an already-used proof never re-queries the RPC.
	already, err := o.store.Contains(ctx, proofRef)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("proof store: %w", err)
	}
	if already {
		return VerifyResult{}, &Rejection{Kind: KindProofReplay}
	}

	credited, confirmed, recipient, err := o.ledger.ResolveProof(ctx, proofRef)
	if err != nil {
		o.log.Warn("ledger resolve failed", zap.String("proofRef", proofRef), zap.Error(err))
		return VerifyResult{}, &Rejection{Kind: KindProofNotFound}
	}
	if !confirmed {
		return VerifyResult{}, &Rejection{Kind: KindProofNotFound}
	}
	if recipient != "" && recipient != o.escrowAddress {
		return VerifyResult{}, &Rejection{Kind: KindProofWrongRecipient}
	}
	if credited < minAcceptRatio*expectedAmount {
		return VerifyResult{}, &Rejection{Kind: KindProofInsufficient}
	}

	used, err := o.store.MarkUsed(ctx, proofRef)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("proof store: %w", err)
	}
	if used {
		// Lost the race against a concurrent verification of the same proof.
		return VerifyResult{}, &Rejection{Kind: KindProofReplay}
	}
	return VerifyResult{Received: credited}, nil
}

func (o *liveOracle) SendOutbound(ctx context.Context, destination string, amount float64) (SendResult, error) {
	ref, err := o.ledger.Transfer(ctx, destination, amount)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Ref: ref}, nil
}

// ErrNoLedgerConfigured names the missing-ledger-client condition. No
// function in this repository returns it: cmd/matchserver exits fatally
// instead when live mode has no ledger client.
var ErrNoLedgerConfigured = errors.New("oracle: no ledger client configured")
