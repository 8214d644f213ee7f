package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"callbot-platform/internal/auth"
	"callbot-platform/internal/config"
	"callbot-platform/internal/engine"
	"callbot-platform/internal/notifications"
	"callbot-platform/internal/rbac"
)

func runTokenAccess(out io.Writer, userID, role string) error {
	if !rbac.IsKnownRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	authCfg, _ := config.LoadAuth()
	m, err := auth.NewManager(authCfg)
	if err != nil {
		return err
	}
	tok, err := m.IssueAccess(time.Now(), userID, role)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}

func runTokenWebhook(out io.Writer, appID string) error {
	_, hookCfg := config.LoadAuth()
	m, err := auth.NewWebhookManager(hookCfg)
	if err != nil {
		return err
	}
	tok, err := m.IssueWebhook(time.Now(), appID)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, tok)
	return err
}

func runReplay(ctx context.Context, out io.Writer, url, appID string, files []string) error {
	_, hookCfg := config.LoadAuth()
	var signer *auth.Manager
	if hookCfg.JWTSecret != "" {
		m, err := auth.NewWebhookManager(hookCfg)
		if err != nil {
			return err
		}
		signer = m
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, path := range files {
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		// Reject files the service would 400 on before sending anything.
		if _, err := notifications.Parse(body); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		stats, err := postPayload(ctx, client, url, signer, appID, body)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "%s\tprocessed=%d\tskipped=%d\n", path, stats.Processed, stats.Skipped)
	}
	return nil
}

func postPayload(ctx context.Context, client *http.Client, url string, signer *auth.Manager, appID string, body []byte) (engine.Stats, error) {
	var stats engine.Stats
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return stats, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		tok, err := signer.IssueWebhook(time.Now(), appID)
		if err != nil {
			return stats, fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := client.Do(req)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return stats, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}
