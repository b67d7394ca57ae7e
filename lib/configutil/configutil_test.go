package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string `json:"name"`
	Delay   int    `json:"delay"`
	Verbose bool   `json:"verbose"`
}

func writeFile(t *testing.T, path, contents string) {
	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json5")

	_, err := ReadConfig[testConfig](path)
	require.True(t, os.IsNotExist(err))

	writeFile(t, path, `{
		// comments are allowed
		name: "base",
		delay: 200,
	}`)
	cfg, err := ReadConfig[testConfig](path)
	require.NoError(t, err)
	require.Equal(t, testConfig{Name: "base", Delay: 200}, cfg)

	writeFile(t, filepath.Join(dir, "app.local.json5"), `{delay: 5, verbose: true}`)
	cfg, err = ReadConfig[testConfig](path)
	require.NoError(t, err)
	require.Equal(t, testConfig{Name: "base", Delay: 5, Verbose: true}, cfg)
}

func TestReadConfigWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json5")
	defaults := testConfig{Name: "default", Delay: 200}

	cfg, err := ReadConfigWithDefaults(path, defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, cfg)

	writeFile(t, path, `{name: "override"}`)
	cfg, err = ReadConfigWithDefaults(path, defaults)
	require.NoError(t, err)
	require.Equal(t, testConfig{Name: "override", Delay: 200}, cfg)

	writeFile(t, path, `{name: `)
	_, err = ReadConfigWithDefaults(path, defaults)
	require.Error(t, err)
}
