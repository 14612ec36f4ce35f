package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("TICKETFLOW")
	viper.AutomaticEnv()
}

// execute runs rootCmd with args and returns what it printed. Flags of
// every subcommand are reset first since cobra keeps them between runs.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.Flags().VisitAll(reset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(reset)
	}

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}

func TestConfigSources(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		env       map[string]string
		wantURL   string
		wantToken string
	}{
		{
			name:      "env only",
			env:       map[string]string{"TICKETFLOW_URL": "http://flow.internal:8080", "TICKETFLOW_TOKEN": "tf_env"},
			wantURL:   "http://flow.internal:8080",
			wantToken: "tf_env",
		},
		{
			name:      "config file only",
			file:      "url: http://from-file:9999\ntoken: tf_file\n",
			wantURL:   "http://from-file:9999",
			wantToken: "tf_file",
		},
		{
			name:      "env beats config file",
			file:      "url: http://from-file:9999\ntoken: tf_file\n",
			env:       map[string]string{"TICKETFLOW_TOKEN": "tf_env"},
			wantURL:   "http://from-file:9999",
			wantToken: "tf_env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			t.Setenv("TICKETFLOW_URL", "")
			t.Setenv("TICKETFLOW_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "flowctl.yaml")
				if err := os.WriteFile(path, []byte(tt.file), 0o600); err != nil {
					t.Fatalf("write config: %v", err)
				}
				cfgFile = path
				t.Cleanup(func() { cfgFile = "" })
				initConfig()
			}

			if got := viper.GetString("url"); got != tt.wantURL {
				t.Errorf("url = %q, want %q", got, tt.wantURL)
			}
			if got := viper.GetString("token"); got != tt.wantToken {
				t.Errorf("token = %q, want %q", got, tt.wantToken)
			}
		})
	}
}

func TestExecute_Help(t *testing.T) {
	resetViper()
	out := execute(t, "--help")
	if !strings.Contains(out, "flowctl trigger --key PROJ-123") {
		t.Errorf("help text is missing the trigger example:\n%s", out)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"trigger": false, "resume": false, "cancel": false,
		"status": false, "events": false, "stats": false, "create-tenant": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered with root command", name)
		}
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	resetViper()
	rootCmd.SetArgs([]string{"reopen"})

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp("", "flowctl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("url: http://custom-from-config:9999\ntoken: config-token\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	initConfig()

	url := viper.GetString("url")
	if url != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", url)
	}

	token := viper.GetString("token")
	if token != "config-token" {
		t.Errorf("expected token from config file, got: %s", token)
	}

	// Reset for other tests
	cfgFile = ""
}

func TestCommands_RequireToken(t *testing.T) {
	for _, args := range [][]string{
		{"trigger", "--key", "PROJ-1", "--workflow", "refinement"},
		{"status", "some-id"},
		{"stats"},
		{"events"},
	} {
		t.Run(args[0], func(t *testing.T) {
			resetViper()
			viper.Set("url", "http://127.0.0.1:1")

			out := execute(t, args...)
			if !strings.Contains(out, "API token not found") {
				t.Errorf("expected token hint, got: %s", out)
			}
		})
	}
}
