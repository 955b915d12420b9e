// Package config reads process configuration from the environment,
// generalizing the single getenv helper the framework this server is
// built on used for just the listening port.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lobby is the matchmaker's parameter set (spec.md §6).
type Lobby struct {
	MaxPlayersPerMatch int
	AIEnabled          bool
	AIDelay            time.Duration
	HumanOnlyMaxWait   time.Duration
}

// Orchestrator is the per-match orchestrator's parameter set (spec.md §6).
type Orchestrator struct {
	TurnTimeLimit time.Duration
}

// Config is the full process configuration.
type Config struct {
	Port           string
	OriginAllowlist []string
	Lobby          Lobby
	Orchestrator   Orchestrator
}

// Load reads Config from the environment, falling back to defaults that
// match spec.md's example values.
func Load() Config {
	port := getenv("PORT", "8080")

	return Config{
		Port:           port,
		OriginAllowlist: splitCSV(getenv("ORIGIN_ALLOWLIST", "http://localhost:"+port+",http://127.0.0.1:"+port)),
		Lobby: Lobby{
			MaxPlayersPerMatch: getenvInt("LOBBY_MAX_PLAYERS_PER_MATCH", 2),
			AIEnabled:          getenvBool("LOBBY_AI_ENABLED", true),
			AIDelay:            time.Duration(getenvInt("LOBBY_AI_DELAY_MS", 2000)) * time.Millisecond,
			HumanOnlyMaxWait:   time.Duration(getenvInt("LOBBY_HUMAN_ONLY_MAX_WAIT_MS", 8000)) * time.Millisecond,
		},
		Orchestrator: Orchestrator{
			TurnTimeLimit: time.Duration(getenvInt("ORCHESTRATOR_TURN_TIME_LIMIT_SECONDS", 30)) * time.Second,
		},
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
