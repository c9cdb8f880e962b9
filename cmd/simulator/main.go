package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common"
	"github.com/hypervideo/client-simulator/internal/common/app"
	"github.com/hypervideo/client-simulator/internal/common/health"
	"github.com/hypervideo/client-simulator/internal/simulator"
	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.StringSlice(CustomConfigLocation, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or use commas)")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.SimulatorConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/simulator", userSpecifiedConfigs)

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	ctx := app.CreateContextWithShutdown()

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)

	// The health endpoint is served by the gateway mux, so by the time it is
	// reachable the wiring below has completed.
	startupCompleteCheck.MarkComplete()

	if err := simulator.Serve(ctx, &config, healthChecks); err != nil {
		log.Errorf("Simulator worker stopped with an error: %s", err)
	}
}
