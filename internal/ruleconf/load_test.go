package ruleconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryEndToEnd(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte(`
egress up = socks5 10.0.0.1:1080

relay {
  listen = socks5 127.0.0.1:10800
  rule = main
}

rule main = cond domain {
  grp => up
  else => direct
}

dns {
  listen = udp 127.0.0.1:15353
  forward = {
    else => udp 1.1.1.1:53
  }
}
`), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "namezone"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "namezone", "grp"), []byte("com.example\n"), 0o644))

	compiled, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, compiled.Relays, 1)
	require.NotNil(t, compiled.DNS)
	require.NotNil(t, compiled.DNS.Default)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
