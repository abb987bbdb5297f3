// Command ttsim is a WebSocket text-to-speech simulator for local duplexa
// development. It speaks the same JSON protocol as the real synthesis
// service but answers with generated tone clips, so the full duplex loop
// (latency, barge-in, cancellation) can be exercised offline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/duplexa/duplexa/pkg/audio"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":8765", "listen address")
	latency := flag.Duration("latency", 400*time.Millisecond, "simulated synthesis latency per request")
	perWord := flag.Duration("per-word", 300*time.Millisecond, "clip duration per word of text")
	sampleRate := flag.Int("sample-rate", 24000, "sample rate of generated clips in Hz")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	lvl := slog.LevelInfo
	if *debug {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	srv := &Server{
		Latency: *latency,
		PerWord: *perWord,
		Format:  audio.Format{SampleRate: *sampleRate, Channels: 1},
	}

	slog.Info("ttsim listening",
		"addr", *addr, "latency", *latency, "sample_rate", *sampleRate)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "ttsim: %v\n", err)
		return 1
	}
	return 0
}
