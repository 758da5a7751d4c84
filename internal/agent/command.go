// Package agent builds the command line and environment for the external
// agent child process. The agent binary itself is an external collaborator;
// only the invocation contract lives here.
package agent

import (
	"strings"
)

// DefaultCommand is the agent binary resolved from PATH when the
// configuration does not name one.
const DefaultCommand = "claude"

// Environment markers identifying the worker to the child and any processes
// it spawns.
const (
	EnvWorkerMarker = "TASKD_WORKER"
	EnvTaskID       = "TASKD_TASK_ID"
)

// bareCommandVerbs are words that mark a short prompt as an instruction
// rather than a bare shell command.
var bareCommandVerbs = map[string]bool{
	"run":     true,
	"execute": true,
	"perform": true,
	"bash":    true,
	"command": true,
}

// BuildArgs returns the agent's argument vector for a prompt.
func BuildArgs(prompt string) []string {
	return []string{
		"--print",
		"--dangerously-skip-permissions",
		"--output-format", "json",
		WrapPrompt(prompt),
	}
}

// WrapPrompt turns a prompt that looks like a bare shell command into an
// explicit instruction. A prompt qualifies when it has at most three tokens
// and none of them is a run/execute/perform/bash/command verb.
func WrapPrompt(prompt string) string {
	if !LooksLikeBareCommand(prompt) {
		return prompt
	}
	return "Execute the following bash command: " + prompt
}

// LooksLikeBareCommand reports whether the prompt reads as a raw shell
// invocation rather than natural-language instructions.
func LooksLikeBareCommand(prompt string) bool {
	tokens := strings.Fields(prompt)
	if len(tokens) == 0 || len(tokens) > 3 {
		return false
	}
	for _, token := range tokens {
		if bareCommandVerbs[strings.ToLower(token)] {
			return false
		}
	}
	return true
}

// Env returns the marker variables to append to the child environment.
func Env(taskID string) []string {
	return []string{
		EnvWorkerMarker + "=1",
		EnvTaskID + "=" + taskID,
	}
}
