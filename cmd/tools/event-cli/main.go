package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/amr-mesh/internal/eventbus"
	"github.com/annel0/amr-mesh/internal/mesh"
)

const defaultNatsURL = "nats://127.0.0.1:4222"

func main() {
	var (
		natsURL    = flag.String("nats", defaultNatsURL, "NATS server URL")
		stream     = flag.String("stream", "MESH", "JetStream stream name")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 = follow)")
		raw        = flag.Bool("raw", false, "Print raw JSON envelopes")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	types := parseStringList(*eventTypes)
	fmt.Printf("🎬 Tailing %s.* on %s (types: %v)\n", eventbus.SubjectPrefix, *natsURL, types)

	events := make(chan *eventbus.Envelope, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		log.Fatalf("❌ Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	count := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n📊 Total events: %d\n", count)
			return
		case ev := <-events:
			if *raw {
				data, _ := json.Marshal(ev)
				fmt.Println(string(data))
			} else {
				printEvent(ev)
			}
			count++
			if *limit > 0 && count >= *limit {
				fmt.Printf("\n📊 Total events: %d\n", count)
				os.Exit(0)
			}
		}
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Format("15:04:05.000"),
		ev.Source,
		ev.EventType,
		ev.CorrelationID)

	switch ev.EventType {
	case eventbus.TypeBlockRefined, eventbus.TypeBlockCoarsened, eventbus.TypeBalanceRefine:
		var be mesh.BlockEvent
		if err := ev.Decode(&be); err == nil {
			fmt.Printf("  Block: %s level=%d cycle=%d\n", be.Index, be.Level, be.Cycle)
		}
	case eventbus.TypeAdaptCycleComplete:
		var report mesh.CycleReport
		if err := ev.Decode(&report); err == nil {
			fmt.Printf("  Cycle %d: blocks=%d max_level=%d refined=%d coarsened=%d forced=%d rounds=%d (%s)\n",
				report.Cycle, report.Blocks, report.MaxLevel, report.Refined, report.Coarsened,
				report.ForcedRefines, report.BalanceRounds, report.Duration)
		}
	case eventbus.TypeProtocolViolation:
		fmt.Printf("  ⚠️ %s\n", string(ev.Payload))
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
