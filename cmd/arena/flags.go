package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/kingrea/arena/internal/config"
)

// commonFlags are accepted by every subcommand that reads the project config.
type commonFlags struct {
	project string
	roster  string
	sets    keyValueFlag
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{sets: keyValueFlag{}}
	fs.StringVar(&c.project, "project", "", "path to the project directory (defaults to cwd)")
	fs.StringVar(&c.roster, "roster", "", "roster file (overrides paths.roster)")
	fs.Var(&c.sets, "set", "config override (key=value, repeatable)")
	return c
}

// load initializes .arena under the project and applies flag overrides
// on top of the file and environment.
func (c *commonFlags) load() (*config.Config, error) {
	project := c.project
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitArenaDir(absoluteProject); err != nil {
		return nil, fmt.Errorf("init .arena: %w", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.roster) != "" {
		if err := cfg.Override("paths.roster", c.roster); err != nil {
			return nil, err
		}
	}
	for _, key := range c.sets.keys() {
		if err := cfg.Override(key, c.sets[key]); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for _, key := range kv.keys() {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, (*kv)[key]))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

func (kv keyValueFlag) keys() []string {
	keys := make([]string, 0, len(kv))
	for key := range kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
