// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command harbor is the CLI companion to the actiond server.
//
//	harbor ask "book a table for four tomorrow"
//	harbor actions --category booking
//	harbor session <session-id>
//	harbor plan <plan-id>
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	userIDFlag   string
	chatIDFlag   string
	categoryFlag string
	tagFlag      string
)

func getActionBaseURL() string {
	if url := os.Getenv("HARBORFLOW_URL"); url != "" {
		return url
	}
	return "http://localhost:8620"
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "harbor",
		Short: "CLI for the HarborFlow action engine",
		Long: `harbor talks to a running actiond server: it routes utterances,
answers parameter prompts interactively, and inspects sessions and plans.

Set HARBORFLOW_URL to override the default server address (http://localhost:8620).`,
	}

	askCmd := &cobra.Command{
		Use:   "ask [utterance]",
		Short: "Route an utterance and collect parameters interactively",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	askCmd.Flags().StringVar(&userIDFlag, "user", "cli", "User id sent with the request")
	askCmd.Flags().StringVar(&chatIDFlag, "chat", "", "Chat id sent with the request")

	actionsCmd := &cobra.Command{
		Use:   "actions",
		Short: "List actions in the catalog",
		Args:  cobra.NoArgs,
		Run:   runActionsCommand,
	}
	actionsCmd.Flags().StringVar(&categoryFlag, "category", "", "Filter by category")
	actionsCmd.Flags().StringVar(&tagFlag, "tag", "", "Filter by tag")

	sessionCmd := &cobra.Command{
		Use:   "session [session-id]",
		Short: "Show a parameter collection session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionCommand,
	}

	planCmd := &cobra.Command{
		Use:   "plan [plan-id]",
		Short: "Show an execution plan",
		Args:  cobra.ExactArgs(1),
		Run:   runPlanCommand,
	}

	rootCmd.AddCommand(askCmd, actionsCmd, sessionCmd, planCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatalHTTP(op string, err error) {
	log.Fatalf("%s: %v\nIs actiond running? Start it with: go run ./cmd/actiond -catalog actions.yaml", op, err)
}
