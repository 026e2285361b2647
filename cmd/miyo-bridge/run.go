package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/config"
	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/discovery"
	"github.com/muurk/miyo/internal/logging"
	"github.com/muurk/miyo/internal/metrics"
	"github.com/muurk/miyo/internal/mqtt"
)

const defaultRunLogLevel = "info"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Poll every configured cube (or the one given by --cube) and mirror its
circuits until interrupted.

When MQTT is enabled in the configuration, circuit state is published as
retained JSON and commands are accepted on the circuit set topics. When a
metrics listen address is configured, Prometheus metrics are served on
/metrics.

Cubes without a token pair on their own: press the pairing button on the
cube after starting the bridge and the new token is saved.`,
	Example: `  # Bridge all configured cubes
  miyo-bridge run

  # Bridge one cube with debug logging
  miyo-bridge run --cube garden --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// cubeRuntime is the set of components serving one cube
type cubeRuntime struct {
	name     string
	engine   *bridge.Engine
	circuits *discovery.CircuitDiscovery
	commands *mqtt.CommandSubscriber
}

func runBridge(cmd *cobra.Command, args []string) error {
	// run logs at info unless a level was chosen
	if logLevel == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		if err := logging.Initialize(defaultRunLogLevel); err != nil {
			return err
		}
	}
	logger := logging.Named("run")

	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	names, err := bridgedCubes(reg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	var broker *mqtt.Client
	if reg.MQTT.Active() {
		broker, err = mqtt.Connect(reg.MQTT)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker %s: %w", reg.MQTT.Broker, err)
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("Failed to close MQTT connection", zap.Error(err))
			}
		}()
	}

	var (
		collector *metrics.Collector
		serveWG   sync.WaitGroup
	)
	if reg.Metrics.Active() {
		collector = metrics.NewCollector()
		serveWG.Add(1)
		go func() {
			defer serveWG.Done()
			if err := collector.Serve(ctx, reg.Metrics.Listen); err != nil {
				logger.Error("Metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	runtimes := make([]*cubeRuntime, 0, len(names))
	for _, name := range names {
		rt, err := startCube(ctx, reg, name, broker, collector)
		if err != nil {
			shutdown(runtimes, reg, logger)
			return err
		}
		runtimes = append(runtimes, rt)
	}

	logger.Info("Bridge running", zap.Strings("cubes", names))
	<-ctx.Done()
	logger.Info("Shutting down")

	shutdown(runtimes, reg, logger)
	serveWG.Wait()
	return nil
}

// bridgedCubes returns the cubes the bridge serves: the one given by --cube
// or all of them
func bridgedCubes(reg *config.Registry) ([]string, error) {
	if cubeFlag != "" {
		name, _, err := reg.FindCube(cubeFlag)
		if err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	names := reg.CubeNames()
	if len(names) == 0 {
		return nil, errors.New("no cubes configured; run 'miyo-bridge pair' or 'miyo-bridge scan --save' first")
	}
	return names, nil
}

// startCube wires the engine of one cube to the optional MQTT client and
// metrics collector and starts polling
func startCube(ctx context.Context, reg *config.Registry, name string, broker *mqtt.Client, collector *metrics.Collector) (*cubeRuntime, error) {
	c := reg.GetCube(name)
	engine := newEngine(reg, name, c)
	engine.AddPollObserver(&lastSeenRecorder{reg: reg, name: name})

	rt := &cubeRuntime{name: name, engine: engine}

	rt.circuits = discovery.NewCircuitDiscovery(engine)
	rt.circuits.OnChange(func(circuit cube.Circuit, added bool) {
		event := "removed"
		if added {
			event = "added"
		}
		logging.LogCircuitEvent(c.Host, event, circuit.NormalizedID)
	})
	rt.circuits.Activate()

	if collector != nil {
		collector.Attach(engine)
	}

	if broker != nil {
		publisher := mqtt.NewPublisher(broker, broker.Topics(), name)
		engine.AddStatusHandler(publisher)
		engine.RegisterListener(publisher)

		rt.commands = mqtt.NewCommandSubscriber(broker, engine, publisher, broker.QoS())
		if err := rt.commands.Start(); err != nil {
			engine.Stop()
			return nil, fmt.Errorf("cube %q: %w", name, err)
		}
	}

	if err := engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("cube %q: %w", name, err)
	}
	return rt, nil
}

// shutdown stops every engine and persists last-seen times
func shutdown(runtimes []*cubeRuntime, reg *config.Registry, logger *zap.Logger) {
	for _, rt := range runtimes {
		if rt.commands != nil {
			if err := rt.commands.Stop(); err != nil {
				logger.Debug("Failed to unsubscribe circuit commands", zap.String("cube", rt.name), zap.Error(err))
			}
		}
		rt.circuits.Deactivate()
		rt.engine.Stop()
	}

	if err := reg.Save(); err != nil {
		logger.Warn("Failed to save configuration", zap.Error(err))
	}
}

// lastSeenRecorder stamps the cube's last-seen time after each successful poll
type lastSeenRecorder struct {
	reg  *config.Registry
	name string
}

// PollCompleted implements bridge.PollObserver
func (r *lastSeenRecorder) PollCompleted(api bridge.CubeAPI, err error, _ time.Duration) {
	if err == nil {
		r.reg.UpdateCubeLastSeen(r.name, api.IP())
	}
}
