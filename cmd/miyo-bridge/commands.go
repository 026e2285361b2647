package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/command"
	"github.com/muurk/miyo/internal/config"
	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/discovery"
	"github.com/muurk/miyo/internal/logging"
	"github.com/muurk/miyo/internal/ui"
)

// Command flags
var (
	scanTimeout  int
	scanSave     bool
	pairName     string
	pairTimeout  int
	pairForce    bool
	outputFormat string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(cubesCmd)
	rootCmd.AddCommand(circuitsCmd)
	rootCmd.AddCommand(irrigateCmd)
	rootCmd.AddCommand(winterCmd)
}

// scanCmd discovers cubes on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for MIYO cubes on the network",
	Long: `Scan for MIYO cubes using mDNS/DNS-SD discovery.

Cubes announce their HTTP API on the local network. Every cube that answers
within the timeout is listed with its address.`,
	Example: `  # Scan with the configured timeout (default 10s)
  miyo-bridge scan

  # Quick scan and remember the cubes found
  miyo-bridge scan --timeout 3 --save`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Scan timeout in seconds (default: discover_timeout from the configuration)")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "Add the cubes found to the configuration")
}

func runScan(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	scanner.Timeout = reg.Preferences.DiscoverTimeoutDuration()
	if scanTimeout > 0 {
		scanner.Timeout = time.Duration(scanTimeout) * time.Second
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Scan", "miyo-bridge scan", map[string]string{"Timeout": scanner.Timeout.String()})

	ctx, stop := signalContext(cmd)
	defer stop()

	cubes, err := scanner.ScanForCubes(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(cubes) == 0 {
		p.PrintWarning("No cubes found", map[string]string{
			"Power":   "make sure the cube is powered and connected",
			"Network": "this computer must be on the cube's network",
			"Manual":  "use 'miyo-bridge pair <ip>' if discovery fails",
		})
		return nil
	}

	p.PrintCubes(cubes)

	if scanSave {
		for _, c := range cubes {
			reg.UpdateCubeLastSeen(c.Name, c.IP)
		}
		if err := reg.Save(); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		p.PrintHint(fmt.Sprintf("Saved %d cube(s) to %s", len(cubes), reg.Path()))
	}

	p.PrintHint("Use 'miyo-bridge pair <ip>' to pair with a cube")
	return nil
}

// pairCmd obtains an API token from a cube
var pairCmd = &cobra.Command{
	Use:   "pair [host]",
	Short: "Pair with a cube and store its API token",
	Long: `Pair with a MIYO cube by requesting a new API token.

The cube only hands out a token for a short time after its pairing button
has been pressed. The command keeps asking until the button is pressed or
the timeout expires, then stores the token in the configuration file.

Without a host, the cube given by --cube is paired, or the single cube found
on the network.`,
	Example: `  # Pair with a cube by address
  miyo-bridge pair 192.168.1.50 --name garden

  # Pair with the only cube on the network
  miyo-bridge pair`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPair,
}

func init() {
	pairCmd.Flags().StringVar(&pairName, "name", "", "Name to store the cube under (default: discovered name or host)")
	pairCmd.Flags().IntVar(&pairTimeout, "timeout", int(ui.DefaultPairingTimeout/time.Second), "Seconds to wait for the pairing button")
	pairCmd.Flags().BoolVar(&pairForce, "force", false, "Replace an existing token without asking")
}

func runPair(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	p := ui.NewPrinter(cmd.OutOrStdout())

	name, host, err := pairTarget(ctx, reg, args, p)
	if err != nil {
		return err
	}

	if existing := reg.GetCube(name); existing != nil && existing.Token != "" && !pairForce {
		if !ui.IsInteractive() {
			return fmt.Errorf("cube %q is already paired; use --force to replace its token", name)
		}
		if !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Cube already paired",
			[]string{"The stored token for " + name + " will be replaced"}, "Pair again?") {
			return nil
		}
	}

	timeout := time.Duration(pairTimeout) * time.Second
	p.PrintHeader("Pair cube", "miyo-bridge pair", map[string]string{
		"Cube":    name,
		"Host":    host,
		"Timeout": timeout.String(),
	})

	client := cube.NewClient(host)
	opts := ui.PairingOptions{Timeout: timeout}

	var token string
	if ui.IsInteractive() {
		token, err = ui.RunPairing(ctx, client.Link, opts, cmd.InOrStdin(), cmd.OutOrStdout())
	} else {
		p.PrintHint("Press the pairing button on the cube now.")
		token, err = ui.Pair(ctx, client.Link, opts, func(attempt int, err error) {
			logging.Debug("Pairing not confirmed yet")
		})
	}
	if err != nil {
		p.PrintError("Pairing failed", err)
		return err
	}

	reg.UpdateCubeLastSeen(name, host)
	reg.SetToken(host, token)
	if err := reg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	p.PrintSuccess("Cube paired", map[string]string{
		"Cube":   name,
		"Host":   host,
		"Token":  logging.MaskToken(token),
		"Config": reg.Path(),
	})
	return nil
}

// pairTarget decides which cube to pair: the argument, the --cube flag or
// the single cube on the network
func pairTarget(ctx context.Context, reg *config.Registry, args []string, p *ui.Printer) (string, string, error) {
	if len(args) == 1 {
		host := args[0]
		if name, _, err := reg.FindCube(host); err == nil {
			return nameOr(pairName, name), reg.GetCube(name).Host, nil
		}
		return nameOr(pairName, host), host, nil
	}

	if cubeFlag != "" {
		name, c, err := reg.FindCube(cubeFlag)
		if err != nil {
			return "", "", err
		}
		return name, c.Host, nil
	}

	p.PrintHint("No host given, scanning the network...")
	cubes, err := discovery.QuickScan(ctx)
	if err != nil {
		return "", "", fmt.Errorf("discovery failed: %w", err)
	}
	switch len(cubes) {
	case 0:
		return "", "", errors.New("no cubes found; pass the cube's IP address")
	case 1:
		return nameOr(pairName, cubes[0].Name), cubes[0].IP, nil
	default:
		p.PrintCubes(cubes)
		return "", "", errors.New("multiple cubes found; pass the IP address of the one to pair")
	}
}

func nameOr(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// cubesCmd lists configured cubes
var cubesCmd = &cobra.Command{
	Use:   "cubes",
	Short: "List cubes in the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		names := reg.CubeNames()
		if len(names) == 0 {
			p.PrintHint("No cubes configured. Run 'miyo-bridge pair' to add one.")
			return nil
		}

		rows := make([]ui.ConfiguredCube, 0, len(names))
		for _, name := range names {
			c := reg.GetCube(name)
			row := ui.ConfiguredCube{Name: name, Host: c.Host, Paired: c.Token != ""}
			if !c.LastSeen.IsZero() {
				row.LastSeen = c.LastSeen.Local().Format(cube.TimeLayout)
			}
			rows = append(rows, row)
		}
		p.Println(ui.RenderConfiguredCubes(rows))
		p.PrintHint("Config: " + reg.Path())
		return nil
	},
}

// circuitsCmd lists the circuits of a cube
var circuitsCmd = &cobra.Command{
	Use:   "circuits",
	Short: "List the circuits of a cube",
	Long: `Fetch the circuits of a paired cube with their irrigation state,
schedule and sensor readings.`,
	Example: `  # Table of circuits
  miyo-bridge circuits --cube garden

  # JSON for scripting
  miyo-bridge circuits --format json`,
	Args: cobra.NoArgs,
	RunE: runCircuits,
}

func init() {
	circuitsCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format (table, detailed, compact, json)")
}

func runCircuits(cmd *cobra.Command, args []string) error {
	session, err := openSession()
	if err != nil {
		return err
	}
	defer session.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	scan := discovery.NewCircuitDiscovery(session.engine)
	if err := scan.StartScan(ctx); err != nil {
		ui.NewPrinter(cmd.OutOrStderr()).PrintError("Listing circuits failed", err)
		return err
	}
	circuits := scan.Results()

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(circuits, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "compact":
		for _, c := range circuits {
			fmt.Fprintln(out, c.FormatCompact())
		}
	case "detailed":
		for _, c := range circuits {
			fmt.Fprintln(out, c.FormatDetailed())
		}
	case "table":
		ui.NewPrinter(out).PrintCircuits(circuits)
	default:
		return fmt.Errorf("unknown format %q (use table, detailed, compact or json)", outputFormat)
	}
	return nil
}

// irrigateCmd switches irrigation of a circuit
var irrigateCmd = &cobra.Command{
	Use:   "irrigate <circuit> <on|off>",
	Short: "Start or stop irrigation of a circuit",
	Long: `Start or stop irrigation of a circuit, given by id or name.

The cube refuses to irrigate a circuit in winter mode.`,
	Example: `  miyo-bridge irrigate Lawn on
  miyo-bridge irrigate 8f1b7c2e-0d3a-4e55-9b61-2a7c9d0e4f10 off --cube garden`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return switchCircuit(cmd, args[0], command.Batch{}.SetOn(on), func(c cube.Circuit) bool {
			return c.IrrigationActive == on
		})
	},
}

// winterCmd switches winter mode of a circuit
var winterCmd = &cobra.Command{
	Use:   "winter <circuit> <on|off>",
	Short: "Enable or disable winter mode of a circuit",
	Example: `  miyo-bridge winter Lawn on
  miyo-bridge winter Beds off --cube garden`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return switchCircuit(cmd, args[0], command.Batch{}.SetWinter(on), func(c cube.Circuit) bool {
			return c.WinterMode == on
		})
	},
}

// switchCircuit sends batch to the circuit named by ref and polls once more
// to report whether the cube applied it
func switchCircuit(cmd *cobra.Command, ref string, batch command.Batch, applied func(cube.Circuit) bool) error {
	session, err := openSession()
	if err != nil {
		return err
	}
	defer session.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	p := ui.NewPrinter(cmd.OutOrStdout())

	session.engine.Poll(ctx)
	if session.engine.State() != bridge.Connected {
		err := fmt.Errorf("cube %s is not reachable or not paired", session.name)
		p.PrintError("Command not sent", err)
		return err
	}

	c, err := findCircuit(session.engine.Circuits(), ref)
	if err != nil {
		return err
	}

	if err := session.engine.UpdateCircuitState(ctx, c, batch); err != nil {
		p.PrintError("Cube refused the command", err)
		return err
	}

	session.engine.Poll(ctx)
	updated, ok := session.engine.CircuitByID(c.NormalizedID)
	details := map[string]string{
		"Circuit": c.Name,
		"Command": batch.String(),
	}
	if !ok || !applied(updated) {
		p.PrintWarning("Command sent, state not confirmed yet", details)
		return nil
	}

	details["Status"] = updated.StatusLabel()
	p.PrintSuccess("Circuit updated", details)
	return nil
}

// findCircuit resolves a circuit by normalized id, raw id or name
func findCircuit(circuits []cube.Circuit, ref string) (cube.Circuit, error) {
	id := cube.NormalizeID(ref)
	for _, c := range circuits {
		if c.NormalizedID == id {
			return c, nil
		}
	}

	var matches []cube.Circuit
	for _, c := range circuits {
		if strings.EqualFold(c.Name, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return cube.Circuit{}, fmt.Errorf("no circuit %q on this cube", ref)
	default:
		return cube.Circuit{}, fmt.Errorf("circuit name %q is ambiguous; use the circuit id", ref)
	}
}

// parseSwitch accepts on/off style arguments
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "start", "yes":
		return true, nil
	case "off", "false", "0", "stop", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q (use on or off)", s)
}

// cubeSession is a one-shot engine for the configured cube
type cubeSession struct {
	name   string
	reg    *config.Registry
	engine *bridge.Engine
}

// openSession loads the configuration and creates an engine for the cube
// selected by --cube
func openSession() (*cubeSession, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	name, c, err := selectCube(reg)
	if err != nil {
		return nil, err
	}
	if c.Token == "" {
		return nil, fmt.Errorf("cube %q is not paired; run 'miyo-bridge pair --cube %s'", name, name)
	}

	engine := newEngine(reg, name, c)
	return &cubeSession{name: name, reg: reg, engine: engine}, nil
}

func (s *cubeSession) close() {
	s.engine.Stop()
}

// newEngine creates the engine for one configured cube. Tokens obtained by
// pairing are written back to the configuration.
func newEngine(reg *config.Registry, name string, c *config.Cube) *bridge.Engine {
	client := cube.NewClient(c.Host)
	client.SetTimeout(c.RequestTimeoutDuration())

	engine := bridge.New(client, bridge.Config{
		Username:     c.Token,
		PollInterval: c.PollIntervalDuration(),
	})
	engine.SetLogger(logging.Named("bridge").With(
		zap.String("cube", name),
		zap.String("host", c.Host)))
	engine.SetTokenStore(reg)
	return engine
}

// selectCube returns the cube named by --cube, or the only configured cube
func selectCube(reg *config.Registry) (string, *config.Cube, error) {
	if cubeFlag != "" {
		return reg.FindCube(cubeFlag)
	}

	names := reg.CubeNames()
	switch len(names) {
	case 0:
		return "", nil, errors.New("no cubes configured; run 'miyo-bridge pair' first")
	case 1:
		return names[0], reg.GetCube(names[0]), nil
	default:
		return "", nil, fmt.Errorf("%d cubes configured (%s); choose one with --cube", len(names), strings.Join(names, ", "))
	}
}

// loadRegistry loads the file given by --config or the default location
func loadRegistry() (*config.Registry, error) {
	var (
		reg *config.Registry
		err error
	)
	if configPath != "" {
		reg, err = config.LoadRegistryFrom(configPath)
	} else {
		reg, err = config.LoadRegistry()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s:\n%w", reg.Path(), err)
	}
	return reg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
