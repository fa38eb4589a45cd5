package main

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecrets(t *testing.T) {
	conn := filepath.Join(t.TempDir(), "test.db")
	setupLog(true)
	orig := readValue
	defer func() { readValue = orig }()
	readValue = func() (string, error) { return "", nil }

	tests := []struct {
		name      string
		args      []string
		wantLog   string
		wantOut   string
		wantError bool
	}{
		{
			name:    "set secret",
			args:    []string{"--key", "secretkey", "--conn", conn, "set", "key1", "value1"},
			wantLog: "set command, key=key1",
		},
		{
			name:      "set secret, no value",
			args:      []string{"--key", "secretkey", "--conn", conn, "set", "key1"},
			wantLog:   "set command, key=key1",
			wantError: true,
		},
		{
			name:    "get secret",
			args:    []string{"--key", "secretkey", "--conn", conn, "get", "key1"},
			wantLog: "get command, key=key1",
			wantOut: "value1\n",
		},
		{
			name:      "get secret, wrong key",
			args:      []string{"--key", "otherkey", "--conn", conn, "get", "key1"},
			wantLog:   "get command, key=key1",
			wantError: true,
		},
		{
			name:      "get non-existent secret",
			args:      []string{"--key", "secretkey", "--conn", conn, "get", "key2"},
			wantLog:   "get command, key=key2",
			wantError: true,
		},
		{
			name:    "delete secret",
			args:    []string{"--key", "secretkey", "--conn", conn, "del", "key1"},
			wantLog: "del command, key=key1\nkey=key1 deleted",
		},
		{
			name:      "delete non-existent secret",
			args:      []string{"--key", "secretkey", "--conn", conn, "del", "key2"},
			wantLog:   "del command, key=key2",
			wantError: true,
		},
		{
			name:    "list secrets",
			args:    []string{"--key", "secretkey", "--conn", conn, "list", "abc"},
			wantLog: `list command, key-prefix="abc"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			out, err := runCommand(t, tc.args...)
			if tc.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, exp := range strings.Split(tc.wantLog, "\n") {
				assert.Contains(t, buf.String(), exp)
			}
			if tc.wantOut != "" {
				assert.Equal(t, tc.wantOut, out)
			}
		})
	}
}

func TestSecrets_SetInteractive(t *testing.T) {
	conn := filepath.Join(t.TempDir(), "test.db")
	orig := readValue
	defer func() { readValue = orig }()

	readValue = func() (string, error) { return "typed value", nil }
	_, err := runCommand(t, "--key", "k", "--conn", conn, "set", "db_pass")
	require.NoError(t, err)

	out, err := runCommand(t, "--key", "k", "--conn", conn, "get", "db_pass")
	require.NoError(t, err)
	assert.Equal(t, "typed value\n", out)

	readValue = func() (string, error) { return "", errors.New("not a terminal") }
	_, err = runCommand(t, "--key", "k", "--conn", conn, "set", "other")
	assert.EqualError(t, err, `can't read value for key "other": not a terminal`)
}

func TestSecrets_ListWithAndWithoutPrefix(t *testing.T) {
	conn := filepath.Join(t.TempDir(), "test.db")

	keysAndValues := [][2]string{
		{"key1", "value1"},
		{"key2", "value2"},
		{"key3", "value3"},
		{"key4", "value4"},
		{"prefix_key5", "value5"},
		{"prefix_key6", "value6"},
	}
	for _, kv := range keysAndValues {
		_, err := runCommand(t, "--key", "secretkey", "--conn", conn, "set", kv[0], kv[1])
		require.NoError(t, err)
	}

	testCases := []struct {
		name       string
		args       []string
		wantOutput string
	}{
		{
			name:       "without prefix",
			args:       []string{"--key", "secretkey", "--conn", conn, "list"},
			wantOutput: "key1\tkey2\tkey3\tkey4\nprefix_key5\tprefix_key6\n",
		},
		{
			name:       "with prefix",
			args:       []string{"--key", "secretkey", "--conn", conn, "list", "prefix_"},
			wantOutput: "prefix_key5\tprefix_key6\n",
		},
		{
			name:       "nothing matched",
			args:       []string{"--key", "secretkey", "--conn", conn, "list", "nope"},
			wantOutput: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := runCommand(t, tc.args...)
			require.NoError(t, err)
			assert.Equal(t, tc.wantOutput, out)
		})
	}
}

func TestSecrets_BadConn(t *testing.T) {
	_, err := runCommand(t, "--key", "secretkey", "--conn", "redis://localhost:6379", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't create secrets store")
}

func TestMainFunc(t *testing.T) {
	os.Args = []string{"sqlfront-secrets", "--help"}

	// capture the standard output
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	exited := false
	exitFunc = func(int) { exited = true }

	main()

	exitFunc = os.Exit
	_ = w.Close()
	os.Stdout = oldStdout

	assert.True(t, exited)
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	assert.Contains(t, buf.String(), "sqlfront secrets")
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var opts options
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.ParseArgs(args); err != nil {
		return "", err
	}
	out := bytes.Buffer{}
	err := run(p.Active.Name, opts, &out)
	return out.String(), err
}
