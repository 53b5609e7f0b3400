package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/testutils"
	"github.com/srg/bletools/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "DC:A6:32:60:C9:56"
	TestDeviceAddress2 = "DC:A6:32:60:C9:57"
)

// testConfig keeps resolver waits short so failure paths finish quickly.
const testConfig = `
log_level: warn
bluetooth:
  device_discovery_timeout: 300ms
  metadata_retrieve_timeout: 200ms
  metadata_polling_interval: 20ms
  fast_connect_timeout: 100ms
`

// CommandTestSuite runs cobra commands against a FakeAdapter.
// All cmd/bletools test suites embed it.
type CommandTestSuite struct {
	suite.Suite

	Adapter      *testutils.FakeAdapter
	AdapterOpens int

	originalNewAdapter func(context.Context, *config.Config, *logrus.Logger) (device.Adapter, error)
	originalNoColor    bool
}

// SetupSuite runs once before all tests in the suite
func (s *CommandTestSuite) SetupSuite() {
	s.originalNewAdapter = newAdapter
	s.originalNoColor = color.NoColor
	color.NoColor = true
}

// TearDownSuite runs once after all tests in the suite
func (s *CommandTestSuite) TearDownSuite() {
	newAdapter = s.originalNewAdapter
	color.NoColor = s.originalNoColor
}

// SetupTest installs an empty fake adapter and a short-timeout config file
func (s *CommandTestSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(testConfig), 0o600), "config file MUST be written")
	s.T().Setenv(config.EnvConfigPath, path)

	s.UseAdapter(testutils.NewFakeAdapter())
}

// UseAdapter makes every command open a.
func (s *CommandTestSuite) UseAdapter(a *testutils.FakeAdapter) {
	s.Adapter = a
	s.AdapterOpens = 0
	newAdapter = func(context.Context, *config.Config, *logrus.Logger) (device.Adapter, error) {
		s.AdapterOpens++
		return a, nil
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr
// and the command error. Flags are reset to their defaults first.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	resetFlags(rootCmd)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// RequireCode asserts err maps to the expected exit code.
func (s *CommandTestSuite) RequireCode(err error, expected device.ResultCode) {
	s.Require().Error(err, "command MUST fail")
	s.Require().Equal(expected, device.CodeOf(err), "exit code MUST be %s, error: %v", expected, err)
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps values and Changed marks between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
