package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	ruleimport "github.com/MShaffar19/Nebulo"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "ruleimport",
		Short: "DNS rule list importer",
		Long: `DNS rule list importer.

Downloads block and allow lists in dnsmasq, hosts,
plain domain or adblock format and imports them
into a local rule database. Lists that haven't
changed since the last import are not fetched again.
`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		importCmd(),
		sourcesCmd(),
		lookupCmd(),
	)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "import <config> [source-id...]",
		Short:   "Import rules from all or the given sources",
		Example: "  ruleimport import config.toml\n  ruleimport import config.toml 3 5",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int64
			for _, a := range args[1:] {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid source id '%s'", a)
				}
				ids = append(ids, id)
			}
			return runImport(cmd.Context(), args[0], ids)
		},
	}
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources <config>",
		Short: "List configured sources and their state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSources(cmd.Context(), args[0])
		},
	}
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "lookup <config> <name> [type]",
		Short:   "Show how a query would be answered by the imported rules",
		Example: "  ruleimport lookup config.toml ads.example.com AAAA",
		Args:    cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qtype := dns.TypeA
			if len(args) == 3 {
				t, ok := dns.StringToType[args[2]]
				if !ok {
					return fmt.Errorf("unknown query type '%s'", args[2])
				}
				qtype = t
			}
			return lookup(cmd.Context(), args[0], args[1], qtype)
		},
	}
}

// setup applies the logging options of the config, opens the database and
// registers the configured sources in it.
func setup(ctx context.Context, configFile string) (config, ruleimport.Store, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return cfg, nil, err
	}

	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return cfg, nil, errors.Wrap(err, "invalid log-level")
		}
		ruleimport.Log.SetLevel(level)
	}
	if cfg.Syslog != nil {
		opt := ruleimport.SyslogOptions{
			Network:  cfg.Syslog.Network,
			Address:  cfg.Syslog.Address,
			Priority: cfg.Syslog.Priority,
			Tag:      cfg.Syslog.Tag,
			Level:    cfg.Syslog.Level,
		}
		hook, err := ruleimport.NewSyslogHook(opt)
		if err != nil {
			// Log any error but don't block if this fails
			ruleimport.Log.WithError(err).Error("syslog disabled")
		} else {
			ruleimport.Log.AddHook(hook)
		}
	}

	store, err := ruleimport.NewSQLiteStore(cfg.Database)
	if err != nil {
		return cfg, nil, err
	}
	for _, s := range cfg.Sources {
		src := &ruleimport.Source{
			ID:        s.ID,
			Name:      s.Name,
			Location:  s.Location,
			Enabled:   !s.Disabled,
			Whitelist: s.Whitelist,
		}
		if err := store.AddSource(ctx, src); err != nil {
			store.Close()
			return cfg, nil, errors.Wrapf(err, "failed to register source '%s'", s.Name)
		}
	}
	return cfg, store, nil
}

func runImport(ctx context.Context, configFile string, ids []int64) error {
	cfg, store, err := setup(ctx, configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Admin != nil && cfg.Admin.Address != "" {
		l := ruleimport.NewAdminListener("admin", cfg.Admin.Address, ruleimport.AdminListenerOptions{})
		go func() {
			if err := l.Start(); err != nil {
				ruleimport.Log.WithError(err).Error("admin listener failed")
			}
		}()
		defer l.Stop()
	}

	timeout, _ := cfg.httpTimeout()
	loader := ruleimport.NewMultiLoader(ruleimport.HTTPLoaderOptions{
		Timeout:   timeout,
		UserAgent: cfg.UserAgent,
	})
	imp := ruleimport.NewImporter("default", store, loader, ruleimport.ImporterOptions{
		Progress: ruleimport.LogProgress{},
	})

	// Interrupting the import rolls it back
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	defer abortOnSignal(sig, imp)()

	summary, err := imp.Import(ctx, ids...)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRULES")
	for _, res := range summary.Sources {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", res.Source.ID, res.Source.Name, res.Status, res.Rules)
	}
	w.Flush()
	fmt.Printf("%d rules, %d new, in %s\n", summary.TotalRules, summary.TotalRules-summary.ReusedRules, summary.Duration)
	return nil
}

func listSources(ctx context.Context, configFile string) error {
	_, store, err := setup(ctx, configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	sources, err := store.ListSources(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tWHITELIST\tRULES\tETAG\tLOCATION")
	for _, s := range sources {
		rules, etag := "-", "-"
		if s.RuleCount != nil {
			rules = strconv.Itoa(*s.RuleCount)
		}
		if s.ETag != nil {
			etag = *s.ETag
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%s\t%s\t%s\n", s.ID, s.Name, s.Enabled, s.Whitelist, rules, etag, s.Location)
	}
	return w.Flush()
}

func lookup(ctx context.Context, configFile, name string, qtype uint16) error {
	_, store, err := setup(ctx, configFile)
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := ruleimport.LoadRuleDB(ctx, store)
	if err != nil {
		return err
	}
	q := dns.Question{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}
	m, ok := db.Match(q)
	switch {
	case !ok:
		fmt.Printf("%s %s: no rule\n", name, dns.TypeToString[qtype])
	case m.Allow:
		fmt.Printf("%s %s: allowed by %s (source %d)\n", name, dns.TypeToString[qtype], m.Rule.Host, m.Rule.Source)
	case m.Blocked():
		fmt.Printf("%s %s: blocked by %s (source %d)\n", name, dns.TypeToString[qtype], m.Rule.Host, m.Rule.Source)
	default:
		fmt.Printf("%s %s: %s by %s (source %d)\n", name, dns.TypeToString[qtype], m.IP, m.Rule.Host, m.Rule.Source)
	}
	return nil
}

// abortOnSignal aborts imp when a signal arrives. The returned function stops
// waiting and returns once the watcher has exited.
func abortOnSignal(sig <-chan os.Signal, imp interface{ Abort() }) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-sig:
			ruleimport.Log.Warn("aborting import")
			imp.Abort()
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
