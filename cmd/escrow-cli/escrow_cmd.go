package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// escrowRPCCall is swapped out in tests.
var escrowRPCCall = callRPC

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "get":
		return runEscrowGet(args[1:], stdout, stderr)
	case "lock":
		return runEscrowLock(args[1:], stdout, stderr)
	case "set-verifiables":
		return runEscrowSetVerifiables(args[1:], stdout, stderr)
	case "release":
		return runEscrowRelease(args[1:], stdout, stderr)
	case "dispute":
		return runEscrowDispute(args[1:], stdout, stderr)
	case "resolve":
		return runEscrowResolve(args[1:], stdout, stderr)
	case "cancel":
		return runEscrowCancel(args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow create", stderr)
	var (
		caller       string
		counterparty string
		summary      string
		agent        string
	)
	fs.StringVar(&caller, "caller", "", "party A bech32 address")
	fs.StringVar(&counterparty, "counterparty", "", "party B bech32 address")
	fs.StringVar(&summary, "summary", "", "agreement summary")
	fs.StringVar(&agent, "agent", "", "optional agent bech32 address (per-escrow policy only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	if counterparty == "" {
		return printEscrowError(stderr, "--counterparty is required")
	}
	if strings.TrimSpace(summary) == "" {
		return printEscrowError(stderr, "--summary is required")
	}
	params := map[string]string{
		"caller":       caller,
		"counterparty": counterparty,
		"summary":      summary,
	}
	if strings.TrimSpace(agent) != "" {
		params["agent"] = agent
	}
	result, rpcErr, err := escrowRPCCall("escrow_create", params, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowGet(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow get", stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, rpcErr, err := escrowRPCCall("escrow_get", map[string]uint64{"id": *id}, false)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowLock(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow lock", stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	caller := fs.String("caller", "", "party A bech32 address")
	value := fs.String("value", "", "amount to lock")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	if strings.TrimSpace(*value) == "" {
		return printEscrowError(stderr, "--value is required")
	}
	result, rpcErr, err := escrowRPCCall("escrow_lockFunds", map[string]interface{}{
		"id":     *id,
		"caller": *caller,
		"value":  strings.TrimSpace(*value),
	}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowSetVerifiables(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow set-verifiables", stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	caller := fs.String("caller", "", "agent bech32 address")
	list := fs.String("verifiables", "", "comma-separated condition list")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	if strings.TrimSpace(*list) == "" {
		return printEscrowError(stderr, "--verifiables is required")
	}
	conditions := make([]string, 0)
	for _, item := range strings.Split(*list, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			conditions = append(conditions, trimmed)
		}
	}
	result, rpcErr, err := escrowRPCCall("escrow_setVerifiables", map[string]interface{}{
		"id":          *id,
		"caller":      *caller,
		"verifiables": conditions,
	}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowRelease(args []string, stdout, stderr io.Writer) int {
	return runEscrowActor("escrow release", "escrow_releaseFunds", args, stdout, stderr)
}

func runEscrowCancel(args []string, stdout, stderr io.Writer) int {
	return runEscrowActor("escrow cancel", "escrow_cancel", args, stdout, stderr)
}

func runEscrowActor(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(name, stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	caller := fs.String("caller", "", "caller bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	result, rpcErr, err := escrowRPCCall(method, map[string]interface{}{
		"id":     *id,
		"caller": *caller,
	}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowDispute(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow dispute", stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	caller := fs.String("caller", "", "party bech32 address")
	reason := fs.String("reason", "", "dispute reason")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	result, rpcErr, err := escrowRPCCall("escrow_raiseDispute", map[string]interface{}{
		"id":     *id,
		"caller": *caller,
		"reason": strings.TrimSpace(*reason),
	}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowResolve(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow resolve", stderr)
	id := fs.Uint64("id", 0, "escrow identifier")
	caller := fs.String("caller", "", "agent bech32 address")
	beneficiary := fs.String("beneficiary", "", "winning party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *caller == "" {
		return printEscrowError(stderr, "--caller is required")
	}
	if *beneficiary == "" {
		return printEscrowError(stderr, "--beneficiary is required")
	}
	result, rpcErr, err := escrowRPCCall("escrow_resolveDispute", map[string]interface{}{
		"id":          *id,
		"caller":      *caller,
		"beneficiary": *beneficiary,
	}, true)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow events", stderr)
	prefix := fs.String("prefix", "", "event type prefix filter")
	limit := fs.Int("limit", 0, "maximum entries to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, rpcErr, err := escrowRPCCall("escrow_listEvents", map[string]interface{}{
		"prefix": strings.TrimSpace(*prefix),
		"limit":  *limit,
	}, false)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, escrowUsage())
	}
	return fs
}

func printEscrowError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli escrow <command> [flags]

Commands:
  create           Draft a new escrow agreement
  get              Fetch escrow details by id
  lock             Lock the payment amount into custody
  set-verifiables  Record the conditions the agent monitors
  release          Release custody to party B
  dispute          Raise a dispute on a monitored escrow
  resolve          Resolve a dispute in favour of one party
  cancel           Cancel a drafting escrow
  events           List journalled lifecycle events
`)
}
