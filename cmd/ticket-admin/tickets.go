package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/target/sso-ticket-core/internal/bootstrap"
	"github.com/target/sso-ticket-core/internal/domain/ticket"
	"github.com/target/sso-ticket-core/internal/ports"
	"github.com/target/sso-ticket-core/internal/service"
)

type listOptions struct {
	Kind        string
	InvalidOnly bool
	Limit       int
}

type inspectOptions struct {
	ID   string
	JSON bool
}

type confirmOptions struct {
	ID  string
	Yes bool
}

type sweepOptions struct {
	DryRun bool
}

type migrateOptions struct {
	Timeout time.Duration
}

// ticketRow is one line of list output.
type ticketRow struct {
	ID       string
	Kind     ticket.Kind
	Parent   string
	Uses     int
	Created  time.Time
	LastUsed time.Time
	Deadline time.Time
	Valid    bool
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseListFlags(args []string) (listOptions, error) {
	fs := newFlagSet("list")
	var opts listOptions
	fs.StringVarP(&opts.Kind, "kind", "k", "", "Only list tickets of this kind (TGT or ST)")
	fs.BoolVar(&opts.InvalidOnly, "invalid-only", false, "Only list tickets the next sweep would remove")
	fs.IntVarP(&opts.Limit, "limit", "n", 100, "Maximum number of rows (0 for all)")
	if err := fs.Parse(args); err != nil {
		return listOptions{}, err
	}
	opts.Kind = strings.ToUpper(strings.TrimSpace(opts.Kind))
	switch ticket.Kind(opts.Kind) {
	case "", ticket.KindGrantingTicket, ticket.KindServiceTicket:
	default:
		return listOptions{}, fmt.Errorf("--kind must be TGT or ST, got %q", opts.Kind)
	}
	if opts.Limit < 0 {
		return listOptions{}, errors.New("--limit must not be negative")
	}
	return opts, nil
}

func parseInspectFlags(args []string) (inspectOptions, error) {
	fs := newFlagSet("inspect")
	var opts inspectOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print the ticket as JSON")
	if err := fs.Parse(args); err != nil {
		return inspectOptions{}, err
	}
	if fs.NArg() != 1 {
		return inspectOptions{}, errors.New("inspect requires exactly one ticket id")
	}
	opts.ID = fs.Arg(0)
	return opts, nil
}

func parseConfirmFlags(name string, args []string) (confirmOptions, error) {
	fs := newFlagSet(name)
	var opts confirmOptions
	fs.BoolVarP(&opts.Yes, "yes", "y", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return confirmOptions{}, err
	}
	if fs.NArg() != 1 {
		return confirmOptions{}, fmt.Errorf("%s requires exactly one granting ticket id", name)
	}
	opts.ID = fs.Arg(0)
	if !opts.Yes {
		return confirmOptions{}, fmt.Errorf("%s changes live sessions; re-run with --yes", name)
	}
	return opts, nil
}

func parseSweepFlags(args []string) (sweepOptions, error) {
	fs := newFlagSet("sweep")
	var opts sweepOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report what would be removed without deleting")
	if err := fs.Parse(args); err != nil {
		return sweepOptions{}, err
	}
	return opts, nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := newFlagSet("migrate")
	opts := migrateOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runList(cmdCtx *commandContext, args []string) error {
	opts, err := parseListFlags(args)
	if err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		rows, err := collectRows(ctx, c.services.Registry, c.services.Tickets, opts)
		if err != nil {
			return err
		}
		return renderTicketTable(cmdCtx.Out, rows)
	})
}

// collectRows lists the registry and applies the list filters.
func collectRows(ctx context.Context, registry ports.TicketRegistry, tickets *service.TicketService, opts listOptions) ([]ticketRow, error) {
	all, err := registry.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	rows := make([]ticketRow, 0, len(all))
	for _, t := range all {
		if opts.Kind != "" && string(t.Kind()) != opts.Kind {
			continue
		}
		valid, err := tickets.IsValid(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", t.ID(), err)
		}
		if opts.InvalidOnly && valid {
			continue
		}
		rows = append(rows, ticketRow{
			ID:       t.ID(),
			Kind:     t.Kind(),
			Parent:   t.GrantingTicketID(),
			Uses:     t.CountOfUses(),
			Created:  t.CreatedAt(),
			LastUsed: t.LastUsedAt(),
			Deadline: ticket.DeadlineOf(t),
			Valid:    valid,
		})
		if opts.Limit > 0 && len(rows) == opts.Limit {
			break
		}
	}
	return rows, nil
}

func renderTicketTable(w io.Writer, rows []ticketRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tKIND\tPARENT\tUSES\tCREATED\tLAST USED\tEXPIRES\tVALID"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := writef(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%t\n",
			r.ID, r.Kind, orDash(r.Parent), r.Uses,
			humanize.Time(r.Created), humanize.Time(r.LastUsed), renderDeadline(r.Deadline), r.Valid,
		); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writef(w, "%s tickets\n", humanize.Comma(int64(len(rows))))
}

func renderDeadline(d time.Time) string {
	if d.IsZero() {
		return "never"
	}
	return humanize.Time(d)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ticketView is the inspect representation of a ticket.
type ticketView struct {
	ID           string            `json:"id"`
	Kind         ticket.Kind       `json:"kind"`
	Parent       string            `json:"parent,omitempty"`
	Revision     int64             `json:"revision"`
	Uses         int               `json:"uses"`
	Created      time.Time         `json:"created_at"`
	LastUsed     time.Time         `json:"last_used_at"`
	Deadline     *time.Time        `json:"deadline,omitempty"`
	Policy       string            `json:"policy"`
	Valid        bool              `json:"valid"`
	EncodedBytes int               `json:"encoded_bytes"`
	Principal    string            `json:"principal,omitempty"`
	Chain        []string          `json:"chain,omitempty"`
	Services     map[string]string `json:"services,omitempty"`
	Service      string            `json:"service,omitempty"`
}

func runInspect(cmdCtx *commandContext, args []string) error {
	opts, err := parseInspectFlags(args)
	if err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		t, err := c.services.Tickets.Get(ctx, opts.ID)
		if err != nil {
			return err
		}
		view, err := buildView(ctx, c.services.Tickets, c.services.Transcoder, t)
		if err != nil {
			return err
		}
		if opts.JSON {
			enc := json.NewEncoder(cmdCtx.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		return renderView(cmdCtx.Out, view)
	})
}

func buildView(ctx context.Context, tickets *service.TicketService, codec ports.TicketCodec, t ticket.Ticket) (ticketView, error) {
	valid, err := tickets.IsValid(ctx, t)
	if err != nil {
		return ticketView{}, err
	}
	view := ticketView{
		ID:       t.ID(),
		Kind:     t.Kind(),
		Parent:   t.GrantingTicketID(),
		Revision: t.Revision(),
		Uses:     t.CountOfUses(),
		Created:  t.CreatedAt(),
		LastUsed: t.LastUsedAt(),
		Policy:   string(t.ExpirationPolicy().Kind()),
		Valid:    valid,
	}
	if d := ticket.DeadlineOf(t); !d.IsZero() {
		view.Deadline = &d
	}
	if codec != nil {
		encoded, err := codec.Encode(t)
		if err != nil {
			return ticketView{}, fmt.Errorf("encode %s: %w", t.ID(), err)
		}
		view.EncodedBytes = len(encoded)
	}
	switch v := t.(type) {
	case *ticket.GrantingTicket:
		chain := v.ChainedAuthentications()
		view.Principal = chain[0].Principal().ID
		for _, a := range chain {
			view.Chain = append(view.Chain, a.Principal().ID)
		}
		view.Services = map[string]string{}
		for id, svc := range v.Services() {
			view.Services[id] = svc.ID
		}
	case *ticket.ServiceTicket:
		view.Service = v.Service().ID
	}
	return view, nil
}

func renderView(w io.Writer, v ticketView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	lines := [][2]string{
		{"ID", v.ID},
		{"Kind", string(v.Kind)},
		{"Parent", orDash(v.Parent)},
		{"Revision", fmt.Sprint(v.Revision)},
		{"Uses", fmt.Sprint(v.Uses)},
		{"Created", fmt.Sprintf("%s (%s)", v.Created.Format(time.RFC3339), humanize.Time(v.Created))},
		{"Last used", humanize.Time(v.LastUsed)},
		{"Policy", v.Policy},
		{"Valid", fmt.Sprint(v.Valid)},
		{"Encoded size", humanize.Bytes(uint64(v.EncodedBytes))}, // #nosec G115 - length is never negative
	}
	if v.Deadline != nil {
		lines = append(lines, [2]string{"Expires", humanize.Time(*v.Deadline)})
	}
	if v.Principal != "" {
		lines = append(lines, [2]string{"Principal", v.Principal})
	}
	if len(v.Chain) > 1 {
		lines = append(lines, [2]string{"Proxied by", strings.Join(v.Chain[1:], " -> ")})
	}
	if len(v.Services) > 0 {
		lines = append(lines, [2]string{"Service tickets", humanize.Comma(int64(len(v.Services)))})
	}
	if v.Service != "" {
		lines = append(lines, [2]string{"Service", v.Service})
	}
	for _, l := range lines {
		if err := writef(tw, "%s:\t%s\n", l[0], l[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runExpire(cmdCtx *commandContext, args []string) error {
	opts, err := parseConfirmFlags("expire", args)
	if err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		if err := c.services.Tickets.MarkExpired(ctx, opts.ID); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "expired %s\n", opts.ID)
	})
}

func runDestroy(cmdCtx *commandContext, args []string) error {
	opts, err := parseConfirmFlags("destroy", args)
	if err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		services, err := c.services.Tickets.DestroyGrantingTicket(ctx, opts.ID)
		if err != nil {
			return err
		}
		if err := writef(cmdCtx.Out, "destroyed %s\n", opts.ID); err != nil {
			return err
		}
		for _, svc := range services {
			if err := writef(cmdCtx.Out, "  logged out of %s\n", svc.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func runSweep(cmdCtx *commandContext, args []string) error {
	opts, err := parseSweepFlags(args)
	if err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		if opts.DryRun {
			rows, err := collectRows(ctx, c.services.Registry, c.services.Tickets, listOptions{InvalidOnly: true})
			if err != nil {
				return err
			}
			return renderTicketTable(cmdCtx.Out, rows)
		}
		sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
			Registry: c.services.Registry,
			Tickets:  c.services.Tickets,
			Config:   cmdCtx.Config.Sweeper,
			Logger:   cmdCtx.Logger,
			Metrics:  c.services.Metrics,
		})
		if err != nil {
			return err
		}
		res, err := sweeper.Sweep(ctx)
		if rerr := renderSweep(cmdCtx.Out, res); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	})
}

func renderSweep(w io.Writer, res service.SweepResult) error {
	return writef(w, "scanned %s, removed %s (%s granting, %s service) in %s\n",
		humanize.Comma(int64(res.Scanned)),
		humanize.Comma(int64(res.Removed)),
		humanize.Comma(int64(res.ByKind[ticket.KindGrantingTicket])),
		humanize.Comma(int64(res.ByKind[ticket.KindServiceTicket])),
		res.Elapsed.Round(time.Millisecond),
	)
}

func runStats(cmdCtx *commandContext, args []string) error {
	if err := newFlagSet("stats").Parse(args); err != nil {
		return err
	}
	return withCore(cmdCtx, func(ctx context.Context, c *core) error {
		stats, err := service.NewStatsService(service.StatsServiceOptions{
			Registry: c.services.Registry,
			Tickets:  c.services.Tickets,
			Logger:   cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		res, err := stats.Collect(ctx)
		if err != nil {
			return err
		}
		return renderStats(cmdCtx.Out, res)
	})
}

func renderStats(w io.Writer, s service.RegistryStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "Metric\tValue"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	rows := [][2]string{
		{"total", humanize.Comma(int64(s.Total))},
		{"granting tickets", humanize.Comma(int64(s.ByKind[ticket.KindGrantingTicket]))},
		{"proxy granting tickets", humanize.Comma(int64(s.Proxies))},
		{"service tickets", humanize.Comma(int64(s.ByKind[ticket.KindServiceTicket]))},
		{"invalid", humanize.Comma(int64(s.Invalid))},
	}
	for _, r := range rows {
		if err := writef(tw, "%s\t%s\n", r[0], r[1]); err != nil {
			return fmt.Errorf("write stats row: %w", err)
		}
	}
	return tw.Flush()
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return migrateErr
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
