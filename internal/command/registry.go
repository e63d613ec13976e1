package command

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry maps case-insensitive aliases to commands.
type Registry struct {
	mu       sync.RWMutex
	commands []*Command
	aliases  map[string]*Command
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{aliases: make(map[string]*Command), logger: logger}
}

// Register adds cmd. Registration is all-or-nothing: if any alias is taken
// none of them are added.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || len(cmd.Aliases) == 0 {
		return ErrNoAliases
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(cmd.Aliases))
	for _, alias := range cmd.Aliases {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" || strings.ContainsAny(key, " \t\n") {
			return fmt.Errorf("invalid alias %q", alias)
		}
		if _, taken := r.aliases[key]; taken || seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateAlias, key)
		}
		seen[key] = true
	}
	for key := range seen {
		r.aliases[key] = cmd
	}
	r.commands = append(r.commands, cmd)
	r.logger.Debug("command registered", zap.String("command", cmd.Name()), zap.Strings("aliases", cmd.Aliases))
	return nil
}

func (r *Registry) MustRegister(cmds ...*Command) {
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(alias string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.aliases[strings.ToLower(alias)]
	return cmd, ok
}

// Commands lists commands in registration order.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Command(nil), r.commands...)
}
