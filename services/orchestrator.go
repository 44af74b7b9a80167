package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shafiqahmeddev/lqap-project/api/httpserver"
	"github.com/shafiqahmeddev/lqap-project/protocol"
	"github.com/shafiqahmeddev/lqap-project/puf"
)

// OrchestratorConfig contains local deployment configuration.
type OrchestratorConfig struct {
	NumVehicles int
	NumStations int

	// BasePort is the first port of the block used by the ledger, the
	// scorer, and the node, in that order.
	BasePort int

	// DeviceNoise is the simulated per-bit PUF noise rate.
	DeviceNoise float64

	ProtocolConfig *protocol.Config
	Log            *slog.Logger
}

// Orchestrator deploys a complete local LQAP stack: an in-memory ledger
// service, a scorer service, and one edge node serving two domains'
// worth of enrolled identities. Used by the demo binary and end-to-end
// tests.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	Ledger *MemoryLedger
	Scorer *ScorerService
	Node   *Node

	servers []*httpserver.BaseServer
	devices map[string]*puf.Device

	cancel context.CancelFunc
}

// NewOrchestrator creates a local deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	if config.ProtocolConfig == nil {
		config.ProtocolConfig = protocol.DefaultConfig()
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		config:  config,
		log:     log,
		devices: make(map[string]*puf.Device),
	}
}

// Deploy starts the ledger, scorer, and node services and enrolls the
// configured fleet.
func (o *Orchestrator) Deploy() error {
	o.Ledger = NewMemoryLedger()
	o.Scorer = NewScorerService()

	ledgerAddr := fmt.Sprintf("127.0.0.1:%d", o.config.BasePort)
	scorerAddr := fmt.Sprintf("127.0.0.1:%d", o.config.BasePort+1)
	nodeAddr := fmt.Sprintf("127.0.0.1:%d", o.config.BasePort+2)

	ledgerSrv, err := o.serve(ledgerAddr, NewLedgerService(o.Ledger))
	if err != nil {
		return fmt.Errorf("deploy ledger: %w", err)
	}
	scorerSrv, err := o.serve(scorerAddr, o.Scorer)
	if err != nil {
		return fmt.Errorf("deploy scorer: %w", err)
	}

	registry, err := NewIdentityRegistry(nil)
	if err != nil {
		return err
	}
	nodeConfig := &ServiceConfig{
		ProtocolConfig: o.config.ProtocolConfig,
		NodeID:         "edge-node-1",
		Domain:         "domain-a",
		HTTPAddr:       nodeAddr,
		Log:            o.log,
	}
	// The node talks to its own in-process ledger and scorer directly;
	// the HTTP facades exist for external inspection.
	o.Node = newNodeWith(nodeConfig, registry, o.Ledger, &MemoryAuditQueue{}, o.Scorer, o.log)

	nodeSrv, err := o.serve(nodeAddr, NewNodeHandler(o.Node), registry)
	if err != nil {
		return fmt.Errorf("deploy node: %w", err)
	}

	o.servers = []*httpserver.BaseServer{ledgerSrv, scorerSrv, nodeSrv}
	for _, srv := range o.servers {
		srv.RunInBackground()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go o.Node.Run(ctx)

	return o.enrollFleet()
}

func (o *Orchestrator) serve(addr string, registrars ...httpserver.RouteRegistrar) (*httpserver.BaseServer, error) {
	return httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               addr,
		Log:                      o.log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
	}, registrars...)
}

// enrollFleet enrolls the vehicles in domain-a and splits the stations
// between domain-a and domain-b so cross-domain flows are exercised.
func (o *Orchestrator) enrollFleet() error {
	for i := 0; i < o.config.NumVehicles; i++ {
		id := fmt.Sprintf("ev-%03d", i+1)
		if err := o.enrollOne(id, protocol.RoleEV, "domain-a"); err != nil {
			return err
		}
	}
	for i := 0; i < o.config.NumStations; i++ {
		id := fmt.Sprintf("cs-%03d", i+1)
		domain := "domain-a"
		if i%2 == 1 {
			domain = "domain-b"
		}
		if err := o.enrollOne(id, protocol.RoleCS, domain); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) enrollOne(id string, role protocol.Role, domain string) error {
	device, err := puf.NewDevice(id, o.config.DeviceNoise)
	if err != nil {
		return err
	}
	o.devices[id] = device
	o.Node.AttachDevice(id, device)

	_, err = o.Node.Enroll(protocol.Identity{
		ID:         id,
		Role:       role,
		Domain:     domain,
		EnrolledAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", id, err)
	}
	return nil
}

// Device returns an enrolled identity's simulated hardware.
func (o *Orchestrator) Device(id string) (*puf.Device, bool) {
	device, ok := o.devices[id]
	return device, ok
}

// Authenticate runs a complete session for an enrolled identity against
// a verifier: credential issuance, the PUF handshake, the one-time
// signature, and for cross-domain sessions the possession proof.
func (o *Orchestrator) Authenticate(ctx context.Context, initiatorID, verifierID string) (*protocol.AuthResult, error) {
	device, ok := o.devices[initiatorID]
	if !ok {
		return nil, fmt.Errorf("no device for %s", initiatorID)
	}

	// Credential issuance with its own PUF handshake.
	challenge, err := o.Node.PUFChallenge(initiatorID)
	if err != nil {
		return nil, err
	}
	response, err := device.Respond(challenge)
	if err != nil {
		return nil, err
	}
	credResp, err := o.Node.IssueCredential(&protocol.CredentialRequest{
		IdentityID:   initiatorID,
		PUFChallenge: challenge,
		PUFResponse:  response,
	})
	if err != nil {
		return nil, err
	}

	start, err := o.Node.StartSession(initiatorID, verifierID)
	if err != nil {
		return nil, err
	}

	sessionResponse, err := device.Respond(start.PUFChallenge)
	if err != nil {
		return nil, err
	}

	req, err := BuildAuthRequest(initiatorID, verifierID, credResp,
		start, sessionResponse)
	if err != nil {
		return nil, err
	}
	return o.Node.Authenticate(ctx, start.SessionID, req)
}

// Shutdown stops all deployed services.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	for _, srv := range o.servers {
		srv.Shutdown()
	}
}
