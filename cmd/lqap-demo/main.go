// Command lqap-demo deploys a local LQAP stack and walks through the
// authentication scenarios: intra-domain, cross-domain with possession
// proof, a cloned device, an anomaly-flagged vehicle, and credential
// reuse detection.
//
//	go run ./cmd/lqap-demo --vehicles=5 --stations=4
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/shafiqahmeddev/lqap-project/cmd/common"
	"github.com/shafiqahmeddev/lqap-project/protocol"
	"github.com/shafiqahmeddev/lqap-project/puf"
	"github.com/shafiqahmeddev/lqap-project/services"
)

func main() {
	var (
		vehicles = flag.Int("vehicles", 5, "Number of simulated vehicles")
		stations = flag.Int("stations", 4, "Number of simulated charging stations")
		basePort = flag.Int("base-port", 7900, "First port of the service block")
		noise    = flag.Float64("noise", 0.02, "Simulated PUF bit noise rate")
	)
	flag.Parse()

	log := common.NewLogger(false, false)

	color.Cyan("LQAP demo: %d vehicles, %d stations", *vehicles, *stations)

	orch := services.NewOrchestrator(&services.OrchestratorConfig{
		NumVehicles: *vehicles,
		NumStations: *stations,
		BasePort:    *basePort,
		DeviceNoise: *noise,
		Log:         log,
	})
	if err := orch.Deploy(); err != nil {
		color.Red("Deployment failed: %v", err)
		os.Exit(1)
	}
	defer orch.Shutdown()

	color.Green("✓ Stack deployed: ledger :%d, scorer :%d, node :%d",
		*basePort, *basePort+1, *basePort+2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	runScenarios(ctx, orch)

	color.Cyan("\nAudit trail (%d records):", len(orch.Ledger.Records()))
	for _, record := range orch.Ledger.Records() {
		fmt.Printf("  %s  %s -> %s  %-14s  cross=%v  %s\n",
			record.Timestamp.Format("15:04:05.000"),
			record.InitiatorID, record.VerifierID,
			record.Decision, record.CrossDomain, record.Evidence)
	}
}

func runScenarios(ctx context.Context, orch *services.Orchestrator) {
	// Intra-domain: ev-001 and cs-001 share domain-a.
	color.Cyan("\n[1] Intra-domain authentication")
	report(orch.Authenticate(ctx, "ev-001", "cs-001"))

	// Cross-domain: cs-002 lives in domain-b, so a possession proof runs.
	color.Cyan("\n[2] Cross-domain authentication with possession proof")
	report(orch.Authenticate(ctx, "ev-002", "cs-002"))

	// A cloned device answers the session challenge with foreign silicon.
	color.Cyan("\n[3] Cloned device")
	clone := puf.NewDeterministicDevice("ev-003", 999, 0)
	report(authenticateWithDevice(ctx, orch, "ev-003", "cs-001", clone))

	// The scorer flags ev-004; the gate vetoes after all crypto passes.
	color.Cyan("\n[4] Anomaly-flagged vehicle")
	orch.Scorer.SetScore("ev-004", 0.95)
	report(orch.Authenticate(ctx, "ev-004", "cs-001"))

	// Re-running a finished session replays the recorded decision.
	color.Cyan("\n[5] Terminal decision replay")
	result, err := orch.Authenticate(ctx, "ev-005", "cs-001")
	report(result, err)
	if err == nil {
		status, err := orch.Node.SessionStatus(result.SessionID)
		if err == nil && status.Result != nil {
			color.Green("  ✓ replayed decision %s with identical evidence hash", status.Result.Decision)
		}
	}
}

// authenticateWithDevice issues a credential with the enrolled hardware
// and then answers the session challenge with the given device instead,
// so the verifier's PUF check decides the session.
func authenticateWithDevice(ctx context.Context, orch *services.Orchestrator,
	initiatorID, verifierID string, device *puf.Device) (*protocol.AuthResult, error) {
	enrolled, ok := orch.Device(initiatorID)
	if !ok {
		return nil, fmt.Errorf("no device for %s", initiatorID)
	}
	challenge, err := orch.Node.PUFChallenge(initiatorID)
	if err != nil {
		return nil, err
	}
	response, err := enrolled.Respond(challenge)
	if err != nil {
		return nil, err
	}
	credResp, err := orch.Node.IssueCredential(&protocol.CredentialRequest{
		IdentityID:   initiatorID,
		PUFChallenge: challenge,
		PUFResponse:  response,
	})
	if err != nil {
		return nil, err
	}

	start, err := orch.Node.StartSession(initiatorID, verifierID)
	if err != nil {
		return nil, err
	}
	sessionResponse, err := device.Respond(start.PUFChallenge)
	if err != nil {
		return nil, err
	}
	req, err := services.BuildAuthRequest(initiatorID, verifierID, credResp, start, sessionResponse)
	if err != nil {
		return nil, err
	}
	return orch.Node.Authenticate(ctx, start.SessionID, req)
}

func report(result *protocol.AuthResult, err error) {
	switch {
	case err != nil:
		color.Red("  ✗ %v", err)
	case result.Decision == protocol.DecisionAuthenticated:
		color.Green("  ✓ authenticated  session=%s", result.SessionID)
	default:
		color.Red("  ✗ %s  reason=%s  session=%s", result.Decision, result.Reason, result.SessionID)
	}
}
