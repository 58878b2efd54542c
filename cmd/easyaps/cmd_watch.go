package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/easyaps/internal/config"
	"github.com/friendsincode/easyaps/internal/eventbus"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running station's events over Redis or NATS",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.EventBridge == config.BridgeNone {
		return errors.New("watch needs EASYAPS_EVENT_BRIDGE set to redis or nats")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A fresh node id so the station's own messages are not filtered out.
	saved := cfg.InstanceID
	cfg.InstanceID = ""
	bridge, err := connectBridge(ctx)
	cfg.InstanceID = saved
	if err != nil {
		return err
	}
	defer bridge.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = bridge.Tail(ctx, func(m eventbus.Message) {
		_ = enc.Encode(map[string]any{
			"at":      m.Timestamp.Format(time.RFC3339),
			"node":    m.NodeID,
			"type":    m.EventType,
			"payload": m.Payload,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
