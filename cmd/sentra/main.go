package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sentra-ti/sentra/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	authToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sentra",
	Short: "Sentra threat intelligence CLI",
	Long: `sentra is the command-line interface for a Sentra server.

It lets analysts browse the asset inventory, query threat records and
their risk assessments, trigger feed syncs, and verify the audit ledger.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.sentra")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("SENTRA")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
		if authToken == "" {
			authToken = loadSavedToken()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sentra/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Sentra server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (default from 'sentra login')")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(threatsCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(topRisksCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an API client carrying the saved token, when present.
func newClient() (*client.Client, error) {
	var opts []client.Option
	if authToken != "" {
		opts = append(opts, client.WithToken(authToken))
	}
	return client.New(serverURL, opts...)
}

// tokenPath is where 'sentra login' persists the session token.
func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".sentra", "token"), nil
}

func loadSavedToken() string {
	path, err := tokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ── login ────────────────────────────────────────────────────────────────────

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Authenticate and store a session token",
	Long: `login exchanges your credentials for a session token and saves it to
~/.sentra/token. Subsequent commands attach it automatically.

The password is read from --password, the SENTRA_PASSWORD environment
variable, or interactively from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		password := loginPassword
		if password == "" {
			password = os.Getenv("SENTRA_PASSWORD")
		}
		if password == "" {
			fmt.Print("Password: ")
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			password = strings.TrimSpace(line)
		}
		if password == "" {
			return fmt.Errorf("password is required")
		}

		c, err := client.New(serverURL)
		if err != nil {
			return err
		}
		if err := c.Login(context.Background(), email, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}

		path, err := tokenPath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(c.Token()+"\n"), 0o600); err != nil {
			return fmt.Errorf("save token: %w", err)
		}

		fmt.Printf("✓ Logged in as %s\n", email)
		fmt.Printf("  Token saved to %s\n", path)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prefer SENTRA_PASSWORD or the interactive prompt)")
}

// ── assets ───────────────────────────────────────────────────────────────────

var (
	assetEnv         string
	assetCriticality int
	assetQuery       string
	assetLimit       int
	assetOffset      int
	assetFormat      string
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Browse and manage the asset inventory",
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inventory assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		page, err := c.ListAssets(context.Background(), client.AssetFilter{
			Environment: assetEnv,
			Criticality: assetCriticality,
			Query:       assetQuery,
			Limit:       assetLimit,
			Offset:      assetOffset,
		})
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}

		if assetFormat == "json" {
			return printJSON(page)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tPRODUCT\tVERSION\tENV\tCRIT\tID")
		for _, a := range page.Items {
			fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%d\t%s\n",
				a.Hostname, a.Vendor, a.Product, a.Version, a.Environment, a.Criticality, a.ID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d asset(s)\n", len(page.Items), page.Total)
		return nil
	},
}

var (
	importDryRun  bool
	importPartial bool
)

var assetsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Bulk-import assets from a CSV file",
	Long: `import uploads a CSV inventory file to the server.

With --dry-run the file is validated and a preview is printed, but nothing
is written. With --partial, valid rows are committed even when some rows
fail validation; otherwise any invalid row rejects the whole file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %q: %w", args[0], err)
		}
		defer f.Close()

		c, err := newClient()
		if err != nil {
			return err
		}

		preview, err := c.ImportAssets(context.Background(), f, importDryRun, importPartial)
		if preview != nil {
			for _, re := range preview.Errors {
				fmt.Fprintf(os.Stderr, "  line %d: %s\n", re.Line, re.Message)
			}
		}
		if err != nil {
			return err
		}

		verb := "imported"
		if importDryRun {
			verb = "validated"
		}
		fmt.Printf("✓ %d of %d row(s) %s, %d error(s)\n",
			len(preview.Valid), preview.Total, verb, len(preview.Errors))
		return nil
	},
}

func init() {
	assetsListCmd.Flags().StringVar(&assetEnv, "env", "", "Filter by environment (production, staging, development)")
	assetsListCmd.Flags().IntVar(&assetCriticality, "criticality", 0, "Filter by criticality level (1-5)")
	assetsListCmd.Flags().StringVar(&assetQuery, "q", "", "Free-text search over hostname, vendor, and product")
	assetsListCmd.Flags().IntVar(&assetLimit, "limit", 50, "Page size")
	assetsListCmd.Flags().IntVar(&assetOffset, "offset", 0, "Page offset")
	assetsListCmd.Flags().StringVar(&assetFormat, "format", "text", "Output format: text or json")

	assetsImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without writing")
	assetsImportCmd.Flags().BoolVar(&importPartial, "partial", false, "Commit valid rows even when some rows fail")

	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsImportCmd)
}

// ── threats ──────────────────────────────────────────────────────────────────

var (
	threatSeverity string
	threatStatus   string
	threatKEVOnly  bool
	threatQuery    string
	threatSort     string
	threatLimit    int
	threatOffset   int
	threatFormat   string
)

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "Query threat records and their risk assessments",
}

var threatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threat records",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		page, err := c.ListThreats(context.Background(), client.ThreatFilter{
			Severity: threatSeverity,
			Status:   threatStatus,
			KEVOnly:  threatKEVOnly,
			Query:    threatQuery,
			Sort:     threatSort,
			Limit:    threatLimit,
			Offset:   threatOffset,
		})
		if err != nil {
			return fmt.Errorf("list threats: %w", err)
		}

		if threatFormat == "json" {
			return printJSON(page)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CVE\tCVSS\tSEVERITY\tKEV\tSTATUS\tTITLE")
		for _, t := range page.Items {
			kev := ""
			if t.KEV {
				kev = "yes"
			}
			fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\t%s\t%s\n",
				t.CVEID, t.CVSSScore, t.Severity, kev, t.Status, truncate(t.Title, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d threat(s)\n", len(page.Items), page.Total)
		return nil
	},
}

var threatShowFormat string

var threatsShowCmd = &cobra.Command{
	Use:   "show <uuid | CVE-YYYY-NNNN>",
	Short: "Show one threat with its assessment and matched assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient()
		if err != nil {
			return err
		}

		t, err := c.GetThreat(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get threat: %w", err)
		}

		// Assessment and associations are best-effort; a threat with no
		// matched assets has neither.
		assessment, _ := c.GetAssessment(ctx, t.ID)
		assocs, _ := c.ThreatAssociations(ctx, t.ID)

		if threatShowFormat == "json" {
			return printJSON(map[string]any{
				"threat":       t,
				"assessment":   assessment,
				"associations": assocs,
			})
		}

		fmt.Printf("CVE:      %s\n", t.CVEID)
		fmt.Printf("Title:    %s\n", t.Title)
		fmt.Printf("CVSS:     %.1f (%s)  %s\n", t.CVSSScore, t.Severity, t.CVSSVector)
		fmt.Printf("Status:   %s\n", t.Status)
		fmt.Printf("Source:   %s\n", t.Source)
		if t.Published != nil {
			fmt.Printf("Published: %s\n", t.Published.Format("2006-01-02"))
		}
		if t.KEV {
			fmt.Println("KEV:      listed in the known exploited vulnerabilities catalog")
		}

		if assessment != nil {
			fmt.Printf("\nRisk: %.1f (%s), %d affected asset(s)\n",
				assessment.Score, assessment.Level, assessment.AffectedAssets)
		}
		if len(assocs) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOSTNAME\tMATCH\tCONFIDENCE\tRISK")
			for _, a := range assocs {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.1f (%s)\n",
					a.AssetHostname, a.MatchType, a.Confidence, a.RiskScore, a.RiskLevel)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	threatsListCmd.Flags().StringVar(&threatSeverity, "severity", "", "Filter by severity (critical, high, medium, low)")
	threatsListCmd.Flags().StringVar(&threatStatus, "status", "", "Filter by triage status")
	threatsListCmd.Flags().BoolVar(&threatKEVOnly, "kev", false, "Only known exploited vulnerabilities")
	threatsListCmd.Flags().StringVar(&threatQuery, "q", "", "Free-text search over CVE ID and title")
	threatsListCmd.Flags().StringVar(&threatSort, "sort", "", "Sort order (published, cvss)")
	threatsListCmd.Flags().IntVar(&threatLimit, "limit", 50, "Page size")
	threatsListCmd.Flags().IntVar(&threatOffset, "offset", 0, "Page offset")
	threatsListCmd.Flags().StringVar(&threatFormat, "format", "text", "Output format: text or json")

	threatsShowCmd.Flags().StringVar(&threatShowFormat, "format", "text", "Output format: text or json")

	threatsCmd.AddCommand(threatsListCmd)
	threatsCmd.AddCommand(threatsShowCmd)
}

// ── feeds ────────────────────────────────────────────────────────────────────

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage threat feed syncs",
}

var feedsSyncCmd = &cobra.Command{
	Use:   "sync <feed-uuid>",
	Short: "Trigger an immediate sync of a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		run, err := c.SyncFeed(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("sync feed: %w", err)
		}

		fmt.Printf("✓ Sync %s: %s\n", run.ID, run.Status)
		fmt.Printf("  fetched=%d created=%d updated=%d\n",
			run.ItemsFetched, run.ItemsCreated, run.ItemsUpdated)
		if run.Error != "" {
			fmt.Printf("  error: %s\n", run.Error)
		}
		return nil
	},
}

var feedRunsLimit int

var feedsRunsCmd = &cobra.Command{
	Use:   "runs <feed-uuid>",
	Short: "Show recent sync runs for a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		runs, err := c.FeedRuns(context.Background(), args[0], feedRunsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tFETCHED\tCREATED\tUPDATED\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				r.StartedAt.Format(time.RFC3339), r.Status,
				r.ItemsFetched, r.ItemsCreated, r.ItemsUpdated, truncate(r.Error, 40))
		}
		return w.Flush()
	},
}

func init() {
	feedsRunsCmd.Flags().IntVar(&feedRunsLimit, "limit", 20, "Number of runs to show")

	feedsCmd.AddCommand(feedsSyncCmd)
	feedsCmd.AddCommand(feedsRunsCmd)
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse and verify the audit ledger",
}

var (
	auditActor  string
	auditAction string
	auditLimit  int
	auditOffset int
	auditFormat string
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		filters := map[string]string{}
		if auditActor != "" {
			filters["actor"] = auditActor
		}
		if auditAction != "" {
			filters["action"] = auditAction
		}

		page, err := c.ListAudit(context.Background(), filters, auditLimit, auditOffset)
		if err != nil {
			return fmt.Errorf("list audit: %w", err)
		}

		if auditFormat == "json" {
			return printJSON(page)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTIME\tACTOR\tACTION\tENTITY")
		for _, e := range page.Items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s/%s\n",
				e.Index, e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.EntityType, e.EntityID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d entries\n", len(page.Items), page.Total)
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit ledger hash chain end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		v, err := c.VerifyAudit(context.Background())
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if !v.Valid {
			return fmt.Errorf("ledger verification FAILED: %s", v.Error)
		}
		fmt.Printf("✓ Ledger intact: %d entries\n", v.Entries)
		fmt.Printf("  Root: %s\n", v.Root)
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor email")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (e.g. threat.status_changed)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Page size")
	auditListCmd.Flags().IntVar(&auditOffset, "offset", 0, "Page offset")
	auditListCmd.Flags().StringVar(&auditFormat, "format", "text", "Output format: text or json")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// ── top-risks ────────────────────────────────────────────────────────────────

var topRisksN int

var topRisksCmd = &cobra.Command{
	Use:   "top-risks",
	Short: "Show the highest-scoring threat assessments",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		risks, err := c.TopRisks(context.Background(), topRisksN)
		if err != nil {
			return fmt.Errorf("top risks: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CVE\tSCORE\tLEVEL\tASSETS\tMAX CRIT")
		for _, r := range risks {
			fmt.Fprintf(w, "%s\t%.1f\t%s\t%d\t%d\n",
				r.CVEID, r.Score, r.Level, r.AffectedAssets, r.MaxCriticality)
		}
		return w.Flush()
	},
}

func init() {
	topRisksCmd.Flags().IntVar(&topRisksN, "n", 10, "Number of assessments to show")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sentra CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentra %s\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
