package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/suteetoe/payroll/pkg/config"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "payroll"

var rootCmd = &cobra.Command{
	Use:   "payroll",
	Short: "Payroll reviewer and audit API",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

// bootstrap loads configuration and initializes the global logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	conf, err := config.Load(serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	err = logger.InitLogger(&logger.LogConfig{
		Level:       conf.Log.Level,
		Environment: conf.Server.Env,
		ServiceName: conf.ServiceName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}

	log := logger.GetLogger()
	log.Info("Configuration loaded", conf.LogConfig()...)
	return conf, log, nil
}
