// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/lending-indexer/api"
	"github.com/luxfi/lending-indexer/feed"
	"github.com/luxfi/lending-indexer/metrics"
)

func replayCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "replay",
		Short: "Replays a JSON-lines event feed into the ledger",
		RunE:  replayFunc,
	}
	flags := c.Flags()
	flags.String(eventsKey, "", "Event feed to replay, - for stdin (overrides replay.events_file)")
	flags.Bool(resumeKey, false, "Skip events at or before the stored checkpoint")
	flags.Bool(serveKey, false, "Serve the read API until the replay finishes")
	return c
}

func replayFunc(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	flags := c.Flags()
	if flags.Changed(eventsKey) {
		a.cfg.Replay.EventsFile, _ = flags.GetString(eventsKey)
	}
	if flags.Changed(resumeKey) {
		a.cfg.Replay.Resume, _ = flags.GetBool(resumeKey)
	}
	serve, _ := flags.GetBool(serveKey)

	src, closeSrc, err := openFeed(a.cfg.Replay.EventsFile)
	if err != nil {
		return err
	}
	defer closeSrc()

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}
	replayer, err := feed.NewReplayer(feed.ReplayerConfig{
		Applier: engine,
		Meta:    a.store,
		Logger:  a.log.Named("replay"),
		Metrics: metrics.Default(),
	})
	if err != nil {
		return err
	}
	if a.cfg.Replay.Resume {
		if _, err := replayer.Resume(ctx); err != nil {
			return err
		}
	}

	// the API lives as long as the replay
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	if serve {
		server := api.NewServer(api.Config{Listen: a.cfg.API.Listen, Version: version}, a.store, a.log.Named("api"))
		g.Go(func() error { return server.Run(serveCtx) })
	}
	g.Go(func() error {
		defer stopServe()
		stats, err := replayer.Run(gctx, src)
		if err != nil {
			return err
		}
		a.log.Info("replay complete",
			zap.String("run", replayer.RunID()),
			zap.Int("applied", stats.Applied),
			zap.Int("skipped", stats.Skipped))
		return nil
	})
	return g.Wait()
}

func openFeed(path string) (io.Reader, func() error, error) {
	switch path {
	case "":
		return nil, nil, fmt.Errorf("no event feed: set --%s or replay.events_file", eventsKey)
	case "-":
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event feed: %w", err)
	}
	return f, f.Close, nil
}

func serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serves the read API over an existing ledger",
		RunE:  serveFunc,
	}
	c.Flags().String(listenKey, "", "Listen address (overrides api.listen)")
	return c
}

func serveFunc(c *cobra.Command, _ []string) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if listen, _ := c.Flags().GetString(listenKey); listen != "" {
		a.cfg.API.Listen = listen
	}
	server := api.NewServer(api.Config{Listen: a.cfg.API.Listen, Version: version}, a.store, a.log.Named("api"))
	return server.Run(c.Context())
}

func projectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "project",
		Short: "Rebuilds the SQL projection from the entity store",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Project(c.Context())
			if err != nil {
				return err
			}
			a.log.Info("projection rebuilt", zap.Int("rows", n))
			return nil
		},
	}
}
