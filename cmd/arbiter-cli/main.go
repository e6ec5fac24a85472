package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xKoRx/arbiter/internal"
	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "serve":
		runServe(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "comando desconocido: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `arbiter-cli - pipeline de despacho de intents

Uso:
  arbiter-cli serve  [--journal <path>] [--instruments A,B] [--http :8080] [--etcd host:2379,...]
  arbiter-cli verify [--instruments A,B] [--etcd host:2379,...]

Comandos:
  serve    Levanta el pipeline completo con la superficie de ops HTTP.
  verify   Corre el chequeo de determinismo (misma entrada congelada dos
           veces, hashes idénticos) y sale distinto de cero si diverge.
`
	fmt.Fprintln(os.Stderr, usage)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	var clean []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	journalPath := fs.String("journal", "data/arbiter/journal.db", "Ruta del journal bbolt")
	instrumentsFlag := fs.String("instruments", envOr("ARBITER_INSTRUMENTS", ""), "Instrumentos a operar (separados por coma)")
	httpAddr := fs.String("http", ":8080", "Dirección de la superficie de ops HTTP")
	etcdFlag := fs.String("etcd", envOr("ETCD_ENDPOINTS", "127.0.0.1:2379"), "Endpoints de etcd")
	paper := fs.Bool("paper", false, "Usar el connector simulado (paper trading)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	instruments := splitList(*instrumentsFlag)
	if len(instruments) == 0 {
		fmt.Fprintln(os.Stderr, "--instruments es requerido (o ARBITER_INSTRUMENTS)")
		os.Exit(1)
	}

	env := envOr("ENV", "development")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.New(ctx, "arbiter", env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inicializando telemetría: %v\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	metrics, err := metricbundle.NewArbiterMetrics(tel.Meter())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creando métricas: %v\n", err)
		os.Exit(1)
	}

	kv, err := internal.NewEtcdKV(splitList(*etcdFlag), env, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error conectando a etcd: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	// Fail-closed: sin snapshot completo no hay intake.
	snapshot, err := internal.LoadSnapshot(ctx, kv, instruments)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuración incompleta, abortando: %v\n", err)
		os.Exit(1)
	}

	journal, err := internal.OpenJournal(*journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error abriendo journal: %v\n", err)
		os.Exit(1)
	}

	connector := buildConnector(*paper)
	if connector == nil {
		fmt.Fprintln(os.Stderr, "no hay connector de exchange enlazado; use --paper para modo simulado")
		os.Exit(1)
	}

	runID := uuid.NewString()
	core, err := internal.NewCore(ctx, snapshot, journal, connector, tel, metrics, runID, internal.CoreOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inicializando core: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownErr := core.Shutdown(); shutdownErr != nil {
			fmt.Fprintf(os.Stderr, "error cerrando core: %v\n", shutdownErr)
		}
	}()

	// Replay de arranque: nada se despacha hasta resolver lo no terminado.
	if err := core.Recover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error en recovery de arranque: %v\n", err)
		os.Exit(1)
	}

	ops := internal.NewOpsServer(core, tel, *httpAddr)
	go func() {
		if err := ops.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "error en server de ops: %v\n", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error apagando ops: %v\n", err)
	}
}

// buildConnector construye el cliente de wire del exchange. El binario de
// referencia no embebe un connector real (la integración concreta se enlaza
// aparte); --paper habilita el connector simulado para operar el pipeline
// completo sin exchange.
func buildConnector(paper bool) domain.ExchangeConnector {
	if paper {
		return newPaperConnector()
	}
	return nil
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	instrumentsFlag := fs.String("instruments", envOr("ARBITER_INSTRUMENTS", "BTC-PERPETUAL"), "Instrumentos a verificar")
	etcdFlag := fs.String("etcd", envOr("ETCD_ENDPOINTS", ""), "Endpoints de etcd (vacío omite el chequeo de config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 1. Determinismo de la codificación canónica: la misma entrada
	// congelada debe producir bytes y hash idénticos en construcciones
	// independientes.
	frozen := domain.StrategyOutput{
		AccountID:  "verify-account",
		Instrument: splitList(*instrumentsFlag)[0],
		Side:       domain.SideBuy,
		Action:     domain.ActionPlace,
		OrderType:  domain.OrderTypeLimit,
		Quantity:   100,
		LimitPrice: 50000,
	}
	runID := uuid.NewString()

	a, err := domain.BuildIntent(frozen, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: error construyendo intent: %v\n", err)
		os.Exit(1)
	}
	b, err := domain.BuildIntent(frozen, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: error construyendo intent: %v\n", err)
		os.Exit(1)
	}

	hashA, err := domain.IntentDigest(a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: error calculando digest: %v\n", err)
		os.Exit(1)
	}
	hashB, err := domain.IntentDigest(b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: error calculando digest: %v\n", err)
		os.Exit(1)
	}

	if hashA != hashB {
		fmt.Fprintf(os.Stderr, "verify: DETERMINISM_VIOLATION: %s != %s\n", hashA, hashB)
		os.Exit(2)
	}
	fmt.Printf("determinismo ok: %s\n", hashA)

	// 2. Fail-closed de configuración, si hay etcd disponible.
	if *etcdFlag != "" {
		kv, err := internal.NewEtcdKV(splitList(*etcdFlag), envOr("ENV", "development"), 5*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verify: error conectando a etcd: %v\n", err)
			os.Exit(1)
		}
		defer kv.Close()

		if _, err := internal.LoadSnapshot(ctx, kv, splitList(*instrumentsFlag)); err != nil {
			fmt.Fprintf(os.Stderr, "verify: snapshot incompleto: %v\n", err)
			os.Exit(2)
		}
		fmt.Println("config snapshot ok")
	}
}
