// Newtfleet - multi-device network automation
//
// Runs one operation against many devices at once over NETCONF, SSH,
// gNMI, or SNMP, with bounded parallelism and a per-device report:
//
//	newtfleet -t <targets> <verb> [args]
//	           └────┬────┘ └───┬───┘
//	         Device selection  Operation
//
// Target selection:
//
//	-t, --targets    Comma/newline list, or @file with one host per line
//	-I, --inventory  YAML inventory (or set default via: newtfleet settings set inventory <file>)
//	    --tags       Select inventory hosts carrying any of the tags
//
// Examples:
//
//	newtfleet -t r1,r2 command "show version"
//	newtfleet -I lab.yaml --tags core commit -f ntp.set --confirmed 5
//	newtfleet -t @hosts.txt commit --blank                # confirm the pending commit
//	newtfleet -t r1,r2 diff --against r0 --mode set
//	newtfleet -t @hosts.txt push jinstall.tgz /var/tmp/
//	newtfleet -t r1 --transport snmp interfaces
//	newtfleet run -f upgrade-check.yaml
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtfleet/pkg/report"
	"github.com/newtron-network/newtfleet/pkg/settings"
	"github.com/newtron-network/newtfleet/pkg/util"
	"github.com/newtron-network/newtfleet/pkg/version"
)

// globalFlags are the persistent flags shared by every operation verb.
type globalFlags struct {
	targets        string
	inventory      string
	tags           []string
	username       string
	password       string
	keyFile        string
	port           int
	transport      string
	parallel       int
	timeout        time.Duration
	connectTimeout time.Duration
	retries        int
	output         string
	outputMode     string
	jsonOutput     bool
	verbose        bool
	logJSON        bool
	redisAddr      string
	lock           bool
	saveTemplate   string
}

var (
	app          globalFlags
	userSettings *settings.Settings
)

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var be *batchError
	if errors.As(err, &be) {
		os.Exit(be.code())
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:               "newtfleet",
	Short:             "Multi-device network automation",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtfleet runs one operation against many network devices in parallel
and reports a result for every device.

Select devices with -t (a list or @file) or -I (a YAML inventory); the verb
is the operation. A run where some devices fail is a partial success: the
report shows which devices need review.

  newtfleet -t <targets> <verb> [args]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if app.verbose {
			level = "debug"
		}
		if err := util.ConfigureLogging(util.LogOptions{Level: level, JSON: app.logJSON}); err != nil {
			return err
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}
		return applySettings(cmd.Flags().Changed, userSettings)
	},
}

// applySettings fills flags the user did not give from persistent settings.
func applySettings(changed func(string) bool, s *settings.Settings) error {
	if !changed("inventory") && app.inventory == "" && app.targets == "" {
		app.inventory = s.Inventory
	}
	if !changed("transport") && s.Transport != "" {
		app.transport = s.Transport
	}
	if !changed("user") && s.Username != "" {
		app.username = s.Username
	}
	if !changed("key") && s.KeyFile != "" {
		app.keyFile = s.KeyFile
	}
	if !changed("parallel") && s.Parallel > 0 {
		app.parallel = s.Parallel
	}
	if !changed("output-mode") && s.OutputMode != "" {
		app.outputMode = s.OutputMode
	}
	if !changed("redis") && s.RedisAddr != "" {
		app.redisAddr = s.RedisAddr
	}
	if !changed("timeout") && s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return fmt.Errorf("settings timeout: %w", err)
		}
		app.timeout = d
	}
	if !changed("connect-timeout") && s.ConnectTimeout != "" {
		d, err := time.ParseDuration(s.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("settings connect_timeout: %w", err)
		}
		app.connectTimeout = d
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Target selection
	pf.StringVarP(&app.targets, "targets", "t", "", "Target hosts: comma/newline list or @file")
	pf.StringVarP(&app.inventory, "inventory", "I", "", "YAML inventory file")
	pf.StringSliceVar(&app.tags, "tags", nil, "Select inventory hosts carrying any of these tags")

	// Session
	pf.StringVarP(&app.username, "user", "u", "", "Username")
	pf.StringVarP(&app.password, "password", "p", "", "Password (prompted when omitted and needed; or NEWTFLEET_PASSWORD)")
	pf.StringVar(&app.keyFile, "key", "", "SSH private key file")
	pf.IntVar(&app.port, "port", 0, "Port (default per transport)")
	pf.StringVar(&app.transport, "transport", "", "Transport: netconf, ssh, gnmi, snmp (default netconf)")
	pf.DurationVar(&app.connectTimeout, "connect-timeout", 0, "Connect and authenticate timeout (default 5s)")

	// Batch
	pf.IntVarP(&app.parallel, "parallel", "j", 0, "Maximum concurrent sessions (default 10)")
	pf.DurationVar(&app.timeout, "timeout", 0, "Per-device operation timeout (default 5m)")
	pf.IntVar(&app.retries, "retries", 0, "Connection retries per device")
	pf.StringVar(&app.redisAddr, "redis", "", "Redis address for device locks and result publication")
	pf.BoolVar(&app.lock, "lock", false, "Hold a Redis device lock around state-changing operations")

	// Output
	pf.StringVarP(&app.output, "output", "o", "", "Write results to this file")
	pf.StringVar(&app.outputMode, "output-mode", string(report.SingleFile), "With -o: single file or multiple (one per device)")
	pf.BoolVar(&app.jsonOutput, "json", false, "Print the report as JSON")
	pf.StringVar(&app.saveTemplate, "save-template", "", "Save the operation as a reusable template instead of running it")
	pf.BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&app.logJSON, "log-json", false, "Log as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "read", Title: "Read Operations:"},
		&cobra.Group{ID: "write", Title: "Write Operations:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{
		newCommandCmd(), newCompareCmd(), newDiffCmd(), newPullCmd(), newInterfacesCmd(),
	} {
		cmd.GroupID = "read"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newCommitCmd(), newShellCmd(), newPushCmd(), newRunCmd(),
	} {
		cmd.GroupID = "write"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, lockCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newtfleet %s\n", version.Info())
	},
}
