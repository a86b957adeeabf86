package subscription

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dukerupert/fichador/internal/store"
)

// PermissionKey is the KV key holding the notification permission.
const PermissionKey = "platform:notification_permission"

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Prompter asks the user for notification permission.
type Prompter interface {
	Prompt(ctx context.Context) (Permission, error)
}

// FixedPrompter answers every prompt with the same permission.
type FixedPrompter Permission

func (p FixedPrompter) Prompt(ctx context.Context) (Permission, error) {
	return Permission(p), nil
}

// TerminalPrompter asks on a terminal. A single goroutine reads the input for the
// prompter's lifetime so a cancelled prompt does not strand a reader.
type TerminalPrompter struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out, lines: make(chan string)}
}

func (p *TerminalPrompter) read() {
	defer close(p.lines)
	r := bufio.NewReader(p.in)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			p.lines <- strings.ToLower(strings.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

func (p *TerminalPrompter) Prompt(ctx context.Context) (Permission, error) {
	p.once.Do(func() { go p.read() })
	fmt.Fprint(p.out, "Allow fichador to show notifications? [y/N] ")

	select {
	case <-ctx.Done():
		return PermissionDefault, ctx.Err()
	case a, ok := <-p.lines:
		if ok && (a == "y" || a == "yes") {
			return PermissionGranted, nil
		}
		return PermissionDenied, nil
	}
}

// Permissions is the persisted notification permission.
type Permissions struct {
	kv       *store.KVStore
	prompter Prompter
}

func NewPermissions(kv *store.KVStore, prompter Prompter) *Permissions {
	return &Permissions{kv: kv, prompter: prompter}
}

// Get returns the current permission, PermissionDefault if never answered.
func (p *Permissions) Get() (Permission, error) {
	var perm Permission
	found, err := p.kv.Get(PermissionKey, &perm)
	if err != nil {
		return PermissionDefault, err
	}
	if !found {
		return PermissionDefault, nil
	}
	return perm, nil
}

// Request prompts only while the permission is still default. A decided
// permission is returned without prompting.
func (p *Permissions) Request(ctx context.Context) (Permission, error) {
	current, err := p.Get()
	if err != nil {
		return current, err
	}
	if current != PermissionDefault {
		return current, nil
	}

	answer, err := p.prompter.Prompt(ctx)
	if err != nil {
		return PermissionDefault, err
	}
	if answer != PermissionGranted && answer != PermissionDenied {
		return PermissionDefault, nil
	}
	if err := p.kv.Set(PermissionKey, answer); err != nil {
		return answer, fmt.Errorf("save permission: %w", err)
	}
	return answer, nil
}

// Reset returns the permission to default.
func (p *Permissions) Reset() error {
	return p.kv.Delete(PermissionKey)
}
