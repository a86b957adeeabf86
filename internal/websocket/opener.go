package websocket

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandOpener runs command with the URL appended, e.g. "xdg-open". The
// process outlives ctx.
func CommandOpener(command string) Opener {
	fields := strings.Fields(command)
	return func(ctx context.Context, url string) error {
		if len(fields) == 0 {
			return fmt.Errorf("open %s: empty open command", url)
		}
		args := append(fields[1:len(fields):len(fields)], url)
		cmd := exec.Command(fields[0], args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("open %s: %w", url, err)
		}
		go cmd.Wait()
		return nil
	}
}
