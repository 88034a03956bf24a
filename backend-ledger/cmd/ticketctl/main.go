// ticketctl builds, signs and submits ticket ledger transactions.
//
// Usage:
//
//	ticketctl keygen [--seed HEX]
//	ticketctl derive KIND [--organizer ADDR] [--event ADDR] [--event-id N] [--ticket-id N]
//	ticketctl build INSTRUCTION --key KEY [--key KEY]... [instruction flags]
//	ticketctl submit [--server URL] [--file PATH]
//	ticketctl token --secret SECRET --subject NAME
//	ticketctl airdrop --address ADDR --lamports N --token JWT
//	ticketctl account ADDR
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/client"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/dto"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
	"github.com/prohmpiriya/ticket-ledger/pkg/middleware"
)

const defaultServer = "http://localhost:8080"

type command struct {
	summary string
	run     func(args []string, stdin io.Reader, stdout io.Writer) error
}

var commands = map[string]command{
	"keygen":  {"generate an ed25519 keypair", runKeygen},
	"derive":  {"derive a program address", runDerive},
	"build":   {"build and sign a transaction", runBuild},
	"submit":  {"submit a signed transaction", runSubmit},
	"token":   {"issue an operator token", runToken},
	"airdrop": {"fund an account (operator)", runAirdrop},
	"account": {"show an account", runAccount},
}

func main() {
	if err := dispatch(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(args[1:], stdin, stdout)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ticketctl <command> [flags]")
	fmt.Fprintln(w)
	for _, name := range []string{"keygen", "derive", "build", "submit", "token", "airdrop", "account"} {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ticketctl "+name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runKeygen(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("keygen")
	seed := fs.String("seed", "", "32-byte hex seed for a deterministic key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		kp  *txn.Keypair
		err error
	)
	if *seed != "" {
		raw, decodeErr := hex.DecodeString(*seed)
		if decodeErr != nil {
			return fmt.Errorf("--seed: %w", decodeErr)
		}
		kp, err = txn.KeypairFromSeed(raw)
	} else {
		kp, err = txn.GenerateKeypair()
	}
	if err != nil {
		return err
	}

	return writeJSON(stdout, map[string]string{
		"public_key":  kp.Public.String(),
		"private_key": kp.String(),
	})
}

func programFlag(fs *pflag.FlagSet) *string {
	return fs.String("program-id", address.DefaultProgramID, "program id addresses are derived under")
}

func newDeriver(programID string) (*address.Deriver, error) {
	id, err := domain.ParseAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("--program-id: %w", err)
	}
	return address.NewDeriver(id), nil
}

func runDerive(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("derive")
	programID := programFlag(fs)
	var req dto.DeriveRequest
	fs.StringVar(&req.Organizer, "organizer", "", "organizer address")
	fs.StringVar(&req.Event, "event", "", "event address")
	fs.StringVar(&req.EventID, "event-id", "", "event id")
	fs.StringVar(&req.TicketID, "ticket-id", "", "ticket id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("derive takes exactly one kind: event, ticket, vault or organizer")
	}
	req.Kind = fs.Arg(0)
	if valid, msg := req.Validate(); !valid {
		return errors.New(msg)
	}

	d, err := newDeriver(*programID)
	if err != nil {
		return err
	}
	derived, err := req.Derive(d)
	if err != nil {
		return err
	}
	return writeJSON(stdout, &dto.DeriveResponse{
		Kind:      req.Kind,
		Address:   derived.Address,
		Bump:      derived.Bump,
		ProgramID: d.ProgramID(),
	})
}

func runBuild(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("build")
	programID := programFlag(fs)
	keys := fs.StringArray("key", nil, "base58 private key of a signer; the first pays")
	nonce := fs.Uint64("nonce", 0, "message nonce; defaults to the current unix nanoseconds")
	organizer := fs.String("organizer", "", "organizer address of the event")
	newOwner := fs.String("new-owner", "", "recipient of transfer_ticket")
	ticketOwner := fs.String("ticket-owner", "", "current holder credited by refund")
	eventID := fs.Uint32("event-id", 0, "event id")
	ticketID := fs.Uint32("ticket-id", 0, "ticket id")
	price := fs.Uint64("price", 0, "ticket price in lamports")
	supply := fs.Uint32("supply", 0, "tickets available")
	name := fs.String("name", "", "event name")
	date := fs.String("date", "", "event date")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("build takes exactly one instruction name")
	}

	p := &buildParams{
		Nonce:    *nonce,
		EventID:  *eventID,
		TicketID: *ticketID,
		Price:    *price,
		Supply:   *supply,
		Name:     *name,
		Date:     *date,
	}
	if p.Nonce == 0 {
		p.Nonce = uint64(time.Now().UnixNano())
	}
	for i, k := range *keys {
		kp, err := txn.ParseKeypair(k)
		if err != nil {
			return fmt.Errorf("--key %d: %w", i, err)
		}
		p.Keys = append(p.Keys, kp)
	}
	for _, f := range []struct {
		name   string
		value  string
		target *domain.Address
	}{
		{"organizer", *organizer, &p.Organizer},
		{"new-owner", *newOwner, &p.NewOwner},
		{"ticket-owner", *ticketOwner, &p.TicketOwner},
	} {
		if f.value == "" {
			continue
		}
		a, err := domain.ParseAddress(f.value)
		if err != nil {
			return fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.target = a
	}

	d, err := newDeriver(*programID)
	if err != nil {
		return err
	}
	tx, err := buildTransaction(d, fs.Arg(0), p)
	if err != nil {
		return err
	}
	return writeJSON(stdout, dto.NewSubmitTransactionRequest(tx))
}

func runSubmit(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := newFlagSet("submit")
	server := fs.String("server", defaultServer, "ledger server base URL")
	file := fs.String("file", "-", "transaction JSON produced by build; - reads stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var req dto.SubmitTransactionRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("failed to read transaction: %w", err)
	}
	if valid, msg := req.Validate(); !valid {
		return errors.New(msg)
	}

	receipt, err := client.NewHTTPLedgerClient(*server).Submit(context.Background(), &req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, receipt)
}

func runToken(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("token")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	issuer := fs.String("issuer", "ticket-ledger", "token issuer")
	subject := fs.String("subject", "", "operator name")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}

	token, err := middleware.IssueToken(*secret, *issuer, *subject, middleware.RoleOperator, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func runAirdrop(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("airdrop")
	server := fs.String("server", defaultServer, "ledger server base URL")
	token := fs.String("token", os.Getenv("LEDGER_TOKEN"), "operator token")
	var req dto.AirdropRequest
	fs.StringVar(&req.Address, "address", "", "account to fund")
	fs.Uint64Var(&req.Lamports, "lamports", 0, "amount to credit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if valid, msg := req.Validate(); !valid {
		return errors.New(msg)
	}

	receipt, err := client.NewHTTPLedgerClient(*server).Airdrop(context.Background(), &req, *token)
	if err != nil {
		return err
	}
	return writeJSON(stdout, receipt)
}

func runAccount(args []string, _ io.Reader, stdout io.Writer) error {
	fs := newFlagSet("account")
	server := fs.String("server", defaultServer, "ledger server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("account takes exactly one address")
	}
	if _, err := domain.ParseAddress(fs.Arg(0)); err != nil {
		return err
	}

	acc, err := client.NewHTTPLedgerClient(*server).GetAccount(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(stdout, acc)
}
