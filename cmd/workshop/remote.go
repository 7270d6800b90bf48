package main

import (
	"context"
	"fmt"
	"time"

	"github.com/airheartdev/workshop/client"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/shape"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Flags shared by the commands that talk to a running server.
var (
	apiURL string
	userID string
)

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:3000", "base URL of the workshop API")
	cmd.Flags().StringVar(&userID, "user-id", "", "act as this user (uuid)")
}

type remote struct {
	client      *client.Client
	coordinator *mutation.Coordinator
	logger      *logrus.Logger
}

func newRemote() (*remote, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(config.Logging)

	var options []client.Option
	if userID != "" {
		id, err := uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("--user-id: %w", err)
		}
		options = append(options, client.WithSession(client.Session{UserID: id}))
	}

	return &remote{
		client: client.New(apiURL, options...),
		coordinator: mutation.New(
			mutation.WithTimeout(config.Confirmation.Timeout),
			mutation.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

// follow starts streaming table in the background and waits until it has
// caught up.
func (r *remote) follow(ctx context.Context, table string) (*shape.Stream, error) {
	stream := r.client.Stream(table, shape.WithStreamLogger(r.logger))
	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Errorf("Stream %s stopped: %s", table, err)
		}
	}()

	select {
	case <-stream.Ready():
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("timed out loading %s", table)
	}
}
