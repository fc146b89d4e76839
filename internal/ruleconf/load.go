package ruleconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/net-reflow/reflow/internal/matcher"
)

// ErrConfigDir wraps any failure to locate or read the config
// directory itself (missing directory, not a directory, unreadable
// DSL file) as distinct from a grammar or reference error once the DSL
// source has been read — callers use this to pick the right exit code.
var ErrConfigDir = errors.New("ruleconf: config directory")

// Load reads a config directory: the DSL file named "config", the
// "namezone" domain-region tree, and the "addrzone" IP-region tree,
// then compiles them into a frozen Compiled graph.
func Load(dir string) (*Compiled, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigDir, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConfigDir, dir)
	}

	src, err := os.ReadFile(filepath.Join(dir, "config"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigDir, err)
	}

	ast, err := Parse(string(src))
	if err != nil {
		return nil, err
	}

	domains, err := matcher.LoadDomainZones(filepath.Join(dir, "namezone"))
	if err != nil {
		return nil, err
	}

	ips, err := matcher.LoadAddrZones(filepath.Join(dir, "addrzone"))
	if err != nil {
		return nil, err
	}

	return Compile(ast, domains, ips)
}
