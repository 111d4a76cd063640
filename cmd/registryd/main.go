// main.go - Registry daemon: compiles circuits, loads keys and state,
// serves the transition and query boundary over HTTP.
//
// Usage:
//
//	go run ./cmd/registryd -config registryd.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"anonledger/internal/bridge"
	"anonledger/internal/ledger"
	"anonledger/internal/registries/identity"
	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

const version = "1.0.0"

// adminKeyFile persists the bootstrap admin secret across restarts.
type adminKeyFile struct {
	Sk []byte `json:"sk"`
}

func loadOrCreateAdminKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		var f adminKeyFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode admin key file: %w", err)
		}
		return f.Sk, nil
	}

	sk := ledger.RandomBytes(32)
	data, err := json.MarshalIndent(adminKeyFile{Sk: sk}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write admin key file: %w", err)
	}
	return sk, nil
}

// compileAndSetup compiles a circuit and loads or generates its Groth16 keys.
func compileAndSetup(circuit frontend.Circuit, keyDir, name string) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s compilation failed: %w", name, err)
	}
	pkPath := filepath.Join(keyDir, name+"_pk.bin")
	vkPath := filepath.Join(keyDir, name+"_vk.bin")
	pk, vk, err := ledger.SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s key setup failed: %w", name, err)
	}
	return ccs, pk, vk, nil
}

func main() {
	configPath := flag.String("config", "registryd.json", "path to configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, dir := range []string{cfg.DataDir, cfg.KeyDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	adminSk, err := loadOrCreateAdminKey(filepath.Join(cfg.DataDir, "admin_key.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("admin key bootstrap failed")
	}
	adminKeyCm := ledger.PublicKey(adminSk)

	// Circuit compilation and key setup. The membership circuit is compiled
	// once per tree depth.
	log.Info().Msg("compiling circuits and loading proving keys")
	_, _, employeeVK, err := compileAndSetup(identity.NewMembershipCircuit(identity.EmployeeTreeDepth), cfg.KeyDir, "membership_employee")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
	_, _, approverVK, err := compileAndSetup(identity.NewMembershipCircuit(identity.ApproverTreeDepth), cfg.KeyDir, "membership_approver")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
	_, _, auditorVK, err := compileAndSetup(identity.NewMembershipCircuit(identity.AuditorTreeDepth), cfg.KeyDir, "membership_auditor")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
	_, _, claimVK, err := compileAndSetup(payment.NewClaimCircuit(payment.PaymentTreeDepth), cfg.KeyDir, "claim")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
	_, _, rangeVK, err := compileAndSetup(payment.NewBandRangeCircuit(payment.PaymentTreeDepth), cfg.KeyDir, "band_range")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
	_, _, reviewVK, err := compileAndSetup(review.NewReviewCircuit(review.TokenTreeDepth), cfg.KeyDir, "review")
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	// State: load persisted snapshots or start fresh.
	ids, err := identity.LoadFromFile(filepath.Join(cfg.DataDir, "identity.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Msg("failed to load identity registry")
		}
		ids = identity.NewRegistry(adminKeyCm)
	}
	ids.SetVerifyingKeys(employeeVK, approverVK)
	ids.SetAuditorVerifyingKey(auditorVK)

	pay, err := payment.LoadFromFile(filepath.Join(cfg.DataDir, "payment.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Msg("failed to load payment registry")
		}
		pay = payment.NewRegistry(adminKeyCm, ids)
	} else {
		pay.SetIdentityVerifier(ids)
	}
	pay.SetVerifyingKeys(claimVK, rangeVK)

	rev, err := review.LoadFromFile(filepath.Join(cfg.DataDir, "review.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Msg("failed to load review registry")
		}
		rev = review.NewRegistry(adminKeyCm)
	}
	rev.SetVerifyingKey(reviewVK)

	relayer, err := bridge.LoadFromFile(filepath.Join(cfg.DataDir, "bridge.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Msg("failed to load bridge state")
		}
		relayer = bridge.NewRelayer()
	}

	metrics := NewMetrics()
	health := NewHealthChecker(version)
	health.RegisterComponent("data_dir", func() error {
		_, err := os.Stat(cfg.DataDir)
		return err
	})
	health.RegisterComponent("identity_registry", func() error {
		if ids.Status == identity.StatusDeactivated {
			return errors.New("identity registry deactivated")
		}
		return nil
	})

	server := NewServer(cfg, log, metrics, health, ids, pay, rev, relayer)

	// Background bridge relay: drain the payment outbox into the review
	// registry on a fixed interval.
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.RelayIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-relayCtx.Done():
				return
			case <-ticker.C:
				server.mu.Lock()
				relayed, err := relayer.Relay(adminSk, pay, rev)
				if relayed > 0 {
					metrics.RelayedTokens.Add(float64(relayed))
					if perr := rev.SaveToFile(filepath.Join(cfg.DataDir, "review.json")); perr != nil && err == nil {
						err = perr
					}
					if perr := relayer.SaveToFile(filepath.Join(cfg.DataDir, "bridge.json")); perr != nil && err == nil {
						err = perr
					}
				}
				server.mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Msg("background relay stopped early")
				} else if relayed > 0 {
					log.Info().Int("relayed", relayed).Msg("relayed review tokens")
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("registry daemon listening")
		server.SetReady()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancelRelay()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
