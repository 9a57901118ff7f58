package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"

	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/importer"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

var commands = []subcommands.Command{
	&currentCmd{},
	&historyCmd{},
	&addCmd{},
	&importCmd{},
	&memoCmd{},
	&statsCmd{},
}

// session is an opened store plus whatever must be released afterwards.
type session struct {
	store   *ledger.Store
	backend *backend.BackendResult
	logger  *log.Logger
}

// openSession loads the ledger. Only mutating commands attach the event
// publisher.
func openSession(ctx context.Context, mutating bool) *session {
	cli.LoadEnvFile()
	cfg := config.Load()
	// Keep stderr quiet unless something goes wrong.
	logger := cli.SetupLogger(max(cfg.LogLevel, slog.LevelWarn))
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	var result *backend.BackendResult
	if mutating {
		result = cli.InitBackend(ctx, logger, cfg)
	} else {
		result = cli.InitReadOnlyBackend(ctx, logger, cfg)
	}
	store := ledger.New(append(result.Options(), ledger.WithLogger(logger.WithComponent(log.ComponentLedger)))...)
	if err := store.Load(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to load existing data, continuing with what was read", log.FieldError, err)
	}
	return &session{store: store, backend: result, logger: logger}
}

func (s *session) close() {
	if s.backend.Cleanup == nil {
		return
	}
	if err := s.backend.Cleanup(); err != nil {
		s.logger.Warn("Backend cleanup error", log.FieldError, err)
	}
}

// fail prints err and maps it to an exit status.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

// idFlags are the four fields of a transaction key.
type idFlags struct {
	account   string
	timestamp string
	amount    string
	currency  string
	payee     string
}

func (p *idFlags) register(f *flag.FlagSet) {
	f.StringVar(&p.account, "account", "", "Account id (required).")
	f.StringVar(&p.timestamp, "timestamp", "", "RFC 3339 timestamp, e.g. 2024-01-15T10:30:00Z.")
	f.StringVar(&p.amount, "amount", "", "Decimal amount, e.g. -12.34.")
	f.StringVar(&p.currency, "currency", "", "Currency code.")
	f.StringVar(&p.payee, "payee", "", "Payee.")
}

func (p *idFlags) parse() (core.TransactionID, error) {
	if strings.TrimSpace(p.account) == "" {
		return core.TransactionID{}, errors.New("missing -account")
	}
	for _, req := range []struct{ name, value string }{
		{"timestamp", p.timestamp},
		{"amount", p.amount},
		{"currency", p.currency},
		{"payee", p.payee},
	} {
		if req.value == "" {
			return core.TransactionID{}, fmt.Errorf("missing -%s", req.name)
		}
	}
	ts, err := core.ParseTimestamp(p.timestamp)
	if err != nil {
		return core.TransactionID{}, core.ErrInvalidTimestamp
	}
	minor, err := core.ParseMinorUnits(p.amount)
	if err != nil {
		return core.TransactionID{}, err
	}
	return core.NewTransactionID(ts, minor, p.currency, p.payee), nil
}

type currentCmd struct {
	account string
	json    bool
}

func (*currentCmd) Name() string     { return "current" }
func (*currentCmd) Synopsis() string { return "list the deduplicated current view" }
func (*currentCmd) Usage() string {
	return `ledgerctl current [-account <id>] [-json]

  Lists every transaction in the current view, sorted by account and key.
`
}

func (p *currentCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.account, "account", "", "Only list this account.")
	f.BoolVar(&p.json, "json", false, "Print JSON instead of a table.")
}

func (p *currentCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s := openSession(ctx, false)
	defer s.close()

	records := s.store.ListCurrent(ctx)
	if p.account != "" {
		records = filterAccount(records, p.account, func(r core.CurrentRecord) string { return r.AccountID })
	}
	if p.json {
		return writeJSON(os.Stdout, records)
	}
	if err := writeCurrent(os.Stdout, records); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type historyCmd struct {
	account string
	json    bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list the append-only history" }
func (*historyCmd) Usage() string {
	return `ledgerctl history [-account <id>] [-json]

  Lists every history record in insertion order, grouped by account.
`
}

func (p *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.account, "account", "", "Only list this account.")
	f.BoolVar(&p.json, "json", false, "Print JSON instead of a table.")
}

func (p *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s := openSession(ctx, false)
	defer s.close()

	records := s.store.ListHistory(ctx)
	if p.account != "" {
		records = filterAccount(records, p.account, func(r core.HistoricalRecord) string { return r.AccountID })
	}
	if p.json {
		return writeJSON(os.Stdout, records)
	}
	if err := writeHistory(os.Stdout, records); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

type addCmd struct {
	id idFlags
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "insert a single transaction" }
func (*addCmd) Usage() string {
	return `ledgerctl add -account <id> -timestamp <rfc3339> -amount <decimal> -currency <code> -payee <name>

  Inserts one transaction. Fails if the same key is already in the account's
  current view.
`
}

func (p *addCmd) SetFlags(f *flag.FlagSet) { p.id.register(f) }

func (p *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := p.id.parse()
	if err != nil {
		return fail(err)
	}

	s := openSession(ctx, true)
	defer s.close()

	rec, err := s.store.Insert(ctx, p.id.account, id)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Added %s %s %s to %s\n",
		rec.ID.Timestamp.Format(time.RFC3339),
		formatAmount(rec.ID.AmountMinorUnits, rec.ID.Currency),
		rec.ID.Payee,
		rec.AccountID)
	return subcommands.ExitSuccess
}

type importCmd struct {
	account string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "bulk import a CSV file into an account" }
func (*importCmd) Usage() string {
	return `ledgerctl import -account <id> <file.csv|->

  Replaces the account's current transactions within the file's time range
  with the rows of the file. Use - to read from stdin.
`
}

func (p *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.account, "account", "", "Account id (required).")
}

func (p *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.account == "" || f.NArg() != 1 {
		fmt.Fprint(os.Stderr, p.Usage())
		return subcommands.ExitUsageError
	}

	data, err := readInput(f.Arg(0))
	if err != nil {
		return fail(err)
	}
	batch, err := importer.ParseBytes(data)
	if err != nil {
		return fail(err)
	}

	s := openSession(ctx, true)
	defer s.close()

	result, err := s.store.BulkImport(ctx, p.account, batch)
	for _, rowErr := range result.Errors {
		fmt.Fprintln(os.Stderr, rowErr)
	}
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Imported %d transactions into %s (%d rows skipped)\n", result.Imported, p.account, len(result.Errors))
	return subcommands.ExitSuccess
}

type memoCmd struct {
	id    idFlags
	memo  string
	clear bool
}

func (*memoCmd) Name() string     { return "memo" }
func (*memoCmd) Synopsis() string { return "set or clear the memo of a history record" }
func (*memoCmd) Usage() string {
	return `ledgerctl memo -account <id> -timestamp <rfc3339> -amount <decimal> -currency <code> -payee <name> (-memo <text> | -clear)

  Updates the first history record with the given key.
`
}

func (p *memoCmd) SetFlags(f *flag.FlagSet) {
	p.id.register(f)
	f.StringVar(&p.memo, "memo", "", "Memo text.")
	f.BoolVar(&p.clear, "clear", false, "Remove the memo instead of setting it.")
}

func (p *memoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := p.id.parse()
	if err != nil {
		return fail(err)
	}
	memoSet := false
	f.Visit(func(fl *flag.Flag) {
		if fl.Name == "memo" {
			memoSet = true
		}
	})
	if memoSet == p.clear {
		return fail(errors.New("exactly one of -memo or -clear is required"))
	}
	var memo *string
	if !p.clear {
		memo = &p.memo
	}

	s := openSession(ctx, true)
	defer s.close()

	if err := s.store.UpdateMemo(ctx, p.id.account, id, memo); err != nil {
		return fail(err)
	}
	fmt.Println("Memo updated successfully")
	return subcommands.ExitSuccess
}

type statsCmd struct{}

func (*statsCmd) Name() string             { return "stats" }
func (*statsCmd) Synopsis() string         { return "print record counts" }
func (*statsCmd) Usage() string            { return "ledgerctl stats\n" }
func (*statsCmd) SetFlags(_ *flag.FlagSet) {}

func (*statsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s := openSession(ctx, false)
	defer s.close()

	st := s.store.Stats(ctx)
	fmt.Printf("accounts: %d\ncurrent:  %d\nhistory:  %d\n", st.Accounts, st.Current, st.History)
	return subcommands.ExitSuccess
}

func filterAccount[T any](records []T, account string, accountOf func(T) string) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if accountOf(r) == account {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) subcommands.ExitStatus {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
