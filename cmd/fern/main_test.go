package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["sync"])
	assert.True(t, names["migrate"])
}

func TestNewLogger(t *testing.T) {
	_, zapLogger, err := newLogger(&config.Config{LogLevel: "debug", AppName: "fern"})
	require.NoError(t, err)
	assert.NotNil(t, zapLogger)

	_, _, err = newLogger(&config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestServerDependencies(t *testing.T) {
	s := &server{cfg: &config.Config{RedisEnabled: false, SchedulerEnabled: true}}

	requires := map[string][]string{}
	for _, dep := range s.dependencies() {
		requires[dep.Name] = dep.Requires
	}

	assert.NotContains(t, requires, "redis")
	assert.Equal(t, []string{"core"}, requires["queue"])
	assert.Equal(t, []string{"queue", "scheduler"}, requires["http"])

	s = &server{cfg: &config.Config{RedisEnabled: true}}
	requires = map[string][]string{}
	for _, dep := range s.dependencies() {
		requires[dep.Name] = dep.Requires
	}
	assert.Equal(t, []string{"core", "redis"}, requires["queue"])
	assert.NotContains(t, requires, "scheduler")
}
