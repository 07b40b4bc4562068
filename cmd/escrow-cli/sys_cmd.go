package main

import (
	"fmt"
	"io"
	"strings"
)

func runSysCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, sysUsage())
		return 1
	}

	switch args[0] {
	case "pause":
		return runSysSwitch("sys pause", "sys_pause", args[1:], stdout, stderr)
	case "unpause":
		return runSysSwitch("sys unpause", "sys_unpause", args[1:], stdout, stderr)
	case "paused":
		return runSysQuery("sys_paused", stdout, stderr)
	case "custody":
		return runSysQuery("sys_custody", stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sys subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, sysUsage())
		return 1
	}
}

func runSysSwitch(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	caller := fs.String("caller", "", "owner bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	result, rpcErr, err := escrowRPCCall(method, map[string]string{"caller": *caller}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runSysQuery(method string, stdout, stderr io.Writer) int {
	result, rpcErr, err := escrowRPCCall(method, nil, false)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func sysUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli sys <command> [flags]

Commands:
  pause    Engage the owner pause switch
  unpause  Lift the owner pause switch
  paused   Report whether the switch is engaged
  custody  Show the custody vault address and pooled balance
`)
}
