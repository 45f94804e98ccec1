// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// messageResponse mirrors the server's POST /v1/actions/message response.
type messageResponse struct {
	Outcome string `json:"outcome"`
	Match   *struct {
		ActionID   string  `json:"action_id"`
		ActionName string  `json:"action_name"`
		Confidence float64 `json:"confidence"`
	} `json:"match,omitempty"`
	Alternatives []struct {
		ActionID   string  `json:"action_id"`
		ActionName string  `json:"action_name"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives,omitempty"`
	Result    any            `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
}

// turnResponse mirrors the server's session turn responses.
type turnResponse struct {
	SessionID string         `json:"session_id"`
	State     string         `json:"state"`
	Prompt    string         `json:"prompt,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	utterance := strings.Join(args, " ")
	baseURL := getActionBaseURL()

	payload := map[string]any{
		"user_id": userIDFlag,
		"chat_id": chatIDFlag,
		"input":   utterance,
	}
	var msg messageResponse
	if err := postJSON(baseURL+"/v1/actions/message", payload, &msg); err != nil {
		fatalHTTP("route utterance", err)
	}

	switch msg.Outcome {
	case "executed":
		fmt.Printf("Action %s executed.\n", msg.Match.ActionName)
		printResult(msg.Result)
	case "hint":
		fmt.Println("Did you mean:")
		fmt.Printf("  %s (%.2f)\n", msg.Match.ActionName, msg.Match.Confidence)
		for _, alt := range msg.Alternatives {
			fmt.Printf("  %s (%.2f)\n", alt.ActionName, alt.Confidence)
		}
	case "none":
		fmt.Println("No matching action.")
	case "collecting", "confirm":
		runCollectLoop(baseURL, msg)
	default:
		fmt.Printf("Outcome: %s\n", msg.Outcome)
	}
}

// runCollectLoop answers the server's parameter prompts from stdin until the
// session reaches confirmation, then executes.
func runCollectLoop(baseURL string, msg messageResponse) {
	fmt.Printf("Matched %s (%.2f), session %s\n", msg.Match.ActionName, msg.Match.Confidence, msg.SessionID)

	scanner := bufio.NewScanner(os.Stdin)
	turn := turnResponse{
		SessionID: msg.SessionID,
		State:     stateFor(msg.Outcome),
		Prompt:    msg.Prompt,
		Options:   msg.Options,
		Summary:   msg.Summary,
	}

	for turn.State == "COLLECTING" {
		fmt.Println(turn.Prompt)
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" || input == "q" {
			cancelSession(baseURL, turn.SessionID)
			return
		}
		if err := postJSON(baseURL+"/v1/sessions/"+turn.SessionID+"/input",
			map[string]any{"input": input}, &turn); err != nil {
			fatalHTTP("session input", err)
		}
	}

	if turn.State != "PENDING_CONFIRM" {
		fmt.Printf("Session ended in state %s.\n", turn.State)
		return
	}

	fmt.Println("About to execute with:")
	printSummary(turn.Summary)
	fmt.Print("Proceed? [y/N] ")
	if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
		cancelSession(baseURL, turn.SessionID)
		fmt.Println("Cancelled.")
		return
	}

	if err := postJSON(baseURL+"/v1/sessions/"+turn.SessionID+"/confirm", nil, &turn); err != nil {
		fatalHTTP("confirm session", err)
	}
	if turn.State == "FAILED" {
		fmt.Fprintf(os.Stderr, "Execution failed: %s\n", turn.Error)
		os.Exit(1)
	}
	fmt.Println("Done.")
	printResult(turn.Result)
}

func stateFor(outcome string) string {
	if outcome == "confirm" {
		return "PENDING_CONFIRM"
	}
	return "COLLECTING"
}

func cancelSession(baseURL, sessionID string) {
	if err := postJSON(baseURL+"/v1/sessions/"+sessionID+"/cancel", nil, nil); err != nil {
		log.Printf("cancel session: %v", err)
	}
}

func runActionsCommand(_ *cobra.Command, _ []string) {
	url := getActionBaseURL() + "/v1/actions"
	sep := "?"
	if categoryFlag != "" {
		url += sep + "category=" + categoryFlag
		sep = "&"
	}
	if tagFlag != "" {
		url += sep + "tag=" + tagFlag
	}

	var actions []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Enabled     bool   `json:"enabled"`
	}
	if err := getJSON(url, &actions); err != nil {
		fatalHTTP("list actions", err)
	}
	if len(actions) == 0 {
		fmt.Println("No actions.")
		return
	}
	for _, a := range actions {
		state := ""
		if !a.Enabled {
			state = " (disabled)"
		}
		fmt.Printf("%-24s %s%s\n", a.ID, a.Name, state)
		if a.Description != "" {
			fmt.Printf("%-24s %s\n", "", a.Description)
		}
	}
}

func runSessionCommand(_ *cobra.Command, args []string) {
	var out map[string]any
	if err := getJSON(getActionBaseURL()+"/v1/sessions/"+args[0], &out); err != nil {
		fatalHTTP("get session", err)
	}
	printResult(out)
}

func runPlanCommand(_ *cobra.Command, args []string) {
	var out map[string]any
	if err := getJSON(getActionBaseURL()+"/v1/plans/"+args[0], &out); err != nil {
		fatalHTTP("get plan", err)
	}
	printResult(out)
}

func printResult(result any) {
	if result == nil {
		return
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", result)
		return
	}
	fmt.Println(string(b))
}

func printSummary(summary map[string]any) {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, summary[k])
	}
}

func postJSON(url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewBuffer(b)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url, "application/json", body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp, out)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (status %d, %s): %s", resp.StatusCode, apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
