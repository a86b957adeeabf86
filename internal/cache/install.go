package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// InstallResult reports how much of the manifest made it into the generation.
type InstallResult struct {
	Stored int
	Failed []string
}

// Install opens the current generation and populates it with the manifest
// paths resolved against origin. Population is best-effort: a failed asset
// is recorded and skipped, never fatal. Only opening the generation can fail.
func (c *Cache) Install(ctx context.Context, client *http.Client, origin *url.URL, manifest []string) (InstallResult, error) {
	var res InstallResult

	if _, err := c.Open(ctx); err != nil {
		return res, fmt.Errorf("install: %w", err)
	}

	for _, path := range manifest {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.fetchAndStore(ctx, client, origin, path); err != nil {
			c.logger.Warn("cache asset failed (continuing)", "asset", path, "error", err)
			res.Failed = append(res.Failed, path)
			continue
		}
		res.Stored++
	}

	c.logger.Info("cache populated", "generation", c.current, "stored", res.Stored, "failed", len(res.Failed))
	return res, nil
}

func (c *Cache) fetchAndStore(ctx context.Context, client *http.Client, origin *url.URL, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse asset path: %w", err)
	}
	target := origin.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read asset: %w", err)
	}

	return c.Put(ctx, Key(req), Snapshot{
		URL:    target.String(),
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	})
}
