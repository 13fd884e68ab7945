// Package fabric commits allocations through a Hyperledger Fabric gateway
// peer to the wateralloc chaincode.
package fabric

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

const (
	txCreateAllocation = "createWaterAllocation"
	txAddAdditional    = "addAdditionalAllocation"
)

// Config locates the peer and the client identity material.
type Config struct {
	PeerEndpoint  string
	GatewayPeer   string // TLS server name override, e.g. peer0.org1.example.com
	MSPID         string
	ChannelName   string
	ChaincodeName string
	CertPath      string
	KeyPath       string
	TLSCertPath   string
	Timeout       time.Duration
}

// Gateway is a per-call Fabric client: every commit dials the peer, submits
// the transaction and tears the connection down again on all exit paths.
type Gateway struct {
	cfg      Config
	id       *identity.X509Identity
	sign     identity.Sign
	tlsCreds credentials.TransportCredentials
	log      *logger.Logger
}

var _ ledger.Gateway = (*Gateway)(nil)

// New loads the identity material eagerly so misconfiguration fails at
// startup, not on the first approval.
func New(cfg Config, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.NewDefault("ledger-fabric")
	}
	if cfg.PeerEndpoint == "" {
		return nil, fmt.Errorf("fabric peer endpoint required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "mychannel"
	}
	if cfg.ChaincodeName == "" {
		cfg.ChaincodeName = "wateralloc"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	certPEM, err := os.ReadFile(filepath.Clean(cfg.CertPath))
	if err != nil {
		return nil, fmt.Errorf("read client cert: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parse client cert: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("build identity: %w", err)
	}

	keyPEM, err := os.ReadFile(filepath.Clean(cfg.KeyPath))
	if err != nil {
		return nil, fmt.Errorf("read client key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse client key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}

	tlsPEM, err := os.ReadFile(filepath.Clean(cfg.TLSCertPath))
	if err != nil {
		return nil, fmt.Errorf("read peer TLS cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(tlsPEM) {
		return nil, fmt.Errorf("peer TLS cert not parseable")
	}

	return &Gateway{
		cfg:      cfg,
		id:       id,
		sign:     sign,
		tlsCreds: credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer),
		log:      log,
	}, nil
}

// CommitAllocation records a base allocation on chain and returns the Fabric
// transaction id.
func (g *Gateway) CommitAllocation(ctx context.Context, id, farmerID string, volume int64, ts time.Time) (string, error) {
	return g.submit(ctx, txCreateAllocation,
		id,
		farmerID,
		strconv.FormatInt(volume, 10),
		strconv.FormatInt(ts.Unix(), 10),
	)
}

// CommitTopUp records an additional volume against an existing allocation.
func (g *Gateway) CommitTopUp(ctx context.Context, baseID string, volume int64, ts time.Time) (string, error) {
	return g.submit(ctx, txAddAdditional,
		baseID,
		strconv.FormatInt(volume, 10),
		strconv.FormatInt(ts.Unix(), 10),
	)
}

func (g *Gateway) submit(ctx context.Context, txName string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	conn, err := grpc.NewClient(g.cfg.PeerEndpoint, grpc.WithTransportCredentials(g.tlsCreds))
	if err != nil {
		return "", fmt.Errorf("dial peer: %w: %w", err, faults.ErrLedgerUnavailable)
	}
	defer conn.Close()

	gw, err := client.Connect(
		g.id,
		client.WithSign(g.sign),
		client.WithClientConnection(conn),
		client.WithEndorseTimeout(g.cfg.Timeout),
		client.WithSubmitTimeout(g.cfg.Timeout),
		client.WithCommitStatusTimeout(g.cfg.Timeout),
	)
	if err != nil {
		return "", fmt.Errorf("connect gateway: %w: %w", err, faults.ErrLedgerUnavailable)
	}
	defer gw.Close()

	contract := gw.GetNetwork(g.cfg.ChannelName).GetContract(g.cfg.ChaincodeName)

	proposal, err := contract.NewProposal(txName, client.WithArguments(args...))
	if err != nil {
		return "", fmt.Errorf("build proposal %s: %w: %w", txName, err, faults.ErrLedgerRejected)
	}

	txn, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		// Chaincode vetoes (duplicate id, missing base) surface at endorsement.
		return "", fmt.Errorf("endorse %s: %w: %w", txName, err, classify(err))
	}

	commit, err := txn.SubmitWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w: %w", txName, err, faults.ErrLedgerUnavailable)
	}

	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("commit status %s: %w: %w", txName, err, faults.ErrLedgerUnavailable)
	}
	if !status.Successful {
		return "", fmt.Errorf("transaction %s invalidated with code %d: %w", status.TransactionID, status.Code, faults.ErrLedgerRejected)
	}

	g.log.WithField("tx_id", status.TransactionID).
		WithField("op", txName).
		Info("fabric commit confirmed")
	return status.TransactionID, nil
}

// classify maps a gateway error to the transient/permanent split. Transport
// problems are retryable; everything the peer rejected deliberately is not.
func classify(err error) error {
	if s, ok := grpcstatus.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return faults.ErrLedgerUnavailable
		}
	}
	return faults.ErrLedgerRejected
}
