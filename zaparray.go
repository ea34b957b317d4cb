package main

import (
	"fmt"
	"os"
	"time"

	"github.com/LeeDigitalWorks/zaparray/cmd"

	"github.com/getsentry/sentry-go"
)

func main() {
	// DSN comes from SENTRY_DSN; without it the client is a no-op
	err := sentry.Init(sentry.ClientOptions{
		SampleRate:       0.1,
		EnableTracing:    true,
		TracesSampleRate: 0.1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentry.Init: %v\n", err)
	}

	if err := cmd.Execute(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
	sentry.Flush(2 * time.Second)
}
