package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/protocol"
)

// isolate points HOME at an empty directory so no real config file is read.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(KeyDeviceName, "", "")
	fs.Duration(KeyScanTimeout, 0, "")
	return fs
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "GT01", c.DeviceName)
	assert.Equal(t, 384, c.PrintWidth)
	assert.Equal(t, TransportBLE, c.Transport)
	assert.Equal(t, string(binarize.FloydSteinberg), c.Algorithm)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	c, v, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	assert.Empty(t, v.ConfigFileUsed())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)

	_, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
device-name = "MX10"
algorithm = "mean-threshold"
scan-timeout = "3s"
energy = 4096
print-width = 576
`)

	c, v, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, v.ConfigFileUsed())
	assert.Equal(t, "MX10", c.DeviceName)
	assert.Equal(t, "mean-threshold", c.Algorithm)
	assert.Equal(t, 3*time.Second, c.ScanTimeout)
	assert.Equal(t, 4096, c.Energy)
	assert.Equal(t, 576, c.PrintWidth)
	assert.Equal(t, DefaultConfig().FlowTimeout, c.FlowTimeout)
}

func TestLoadDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".catprint"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".catprint", "config.toml"), []byte(`device-name = "HOME01"`), 0o600))

	c, _, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "HOME01", c.DeviceName)
}

func TestPrecedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
device-name = "FILE"
scan-timeout = "3s"
`)
	t.Setenv("CATPRINT_DEVICE_NAME", "ENV")
	t.Setenv("CATPRINT_SCAN_TIMEOUT", "4s")

	c, _, err := Load(path, testFlags())
	require.NoError(t, err)
	assert.Equal(t, "ENV", c.DeviceName, "env beats file")
	assert.Equal(t, 4*time.Second, c.ScanTimeout)

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--device-name=FLAG"}))
	c, _, err = Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "FLAG", c.DeviceName, "flag beats env")
	assert.Equal(t, 4*time.Second, c.ScanTimeout, "unset flag does not override")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"algorithm":   func(c *Config) { c.Algorithm = "ordered" },
		"transport":   func(c *Config) { c.Transport = "serial" },
		"energy":      func(c *Config) { c.Energy = 70000 },
		"feed":        func(c *Config) { c.FeedLines = -1 },
		"width":       func(c *Config) { c.PrintWidth = 0 },
		"device name": func(c *Config) { c.DeviceName = "" },
		"packet":      func(c *Config) { c.MaxPacketSize = 0 },
		"scan":        func(c *Config) { c.ScanTimeout = 0 },
	}
	for name, mutate := range cases {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestValidateAlgorithmError(t *testing.T) {
	c := DefaultConfig()
	c.Algorithm = "ordered"
	assert.ErrorIs(t, c.Validate(), binarize.ErrUnsupportedAlgorithm)
}

func TestLoadInvalidFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `transport = "serial"`)

	_, _, err := Load(path, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestDerivedConfigs(t *testing.T) {
	c := DefaultConfig()
	c.PrintWidth = 576
	c.Energy = 0x3000
	c.FeedLines = 40
	c.DeviceName = "MX06"
	c.MaxPacketSize = 180
	c.BufferSize = 4096

	pc := c.ProtocolConfig()
	assert.Equal(t, 576, pc.PrintWidth)
	assert.Equal(t, uint16(0x3000), pc.Energy)
	assert.Equal(t, uint16(40), pc.FeedLines)
	assert.Equal(t, protocol.InkIsOne, pc.Polarity)
	assert.Equal(t, protocol.LSBFirst, pc.BitOrder)

	tc := c.TransportConfig()
	assert.Equal(t, "MX06", tc.DeviceName)
	assert.Equal(t, 180, tc.MaxPacketSize)
	assert.Equal(t, 4096, tc.BufferSize)
	assert.Equal(t, c.ScanTimeout, tc.ScanTimeout)
}

func TestWatchWithoutFile(t *testing.T) {
	isolate(t)
	_, v, err := Load("", nil)
	require.NoError(t, err)
	assert.False(t, Watch(v, nil, func(Config) {}))
}

func TestWatchReloads(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `device-name = "GT01"`)
	_, v, err := Load(path, nil)
	require.NoError(t, err)

	changes := make(chan Config, 8)
	require.True(t, Watch(v, nil, func(c Config) { changes <- c }))

	require.NoError(t, os.WriteFile(path, []byte(`device-name = "MX10"`), 0o600))

	// A rewrite can surface as several events; the last one carries the new content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.DeviceName == "MX10" {
				return
			}
		case <-deadline:
			t.Fatal("no reload after config file changed")
		}
	}
}
