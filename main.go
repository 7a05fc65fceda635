package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parley-run/parley/agent"
	"github.com/parley-run/parley/analytics"
	"github.com/parley-run/parley/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("flows-file", "flows.yaml", "path to the yaml file with flow definitions")
	cmd.Flags().String("main-flow", "main", "flow started as the root instance")
	cmd.Flags().String("name", "parley", "name of this runtime, used as the snapshot key")
	cmd.Flags().Int64("seed", 0, "seed for the runtime rng, same seed same run")
	cmd.Flags().Bool("restore", false, "restore state from the stored snapshot instead of booting fresh")
	cmd.Flags().String("storage-impl", "memory", "implementation of underline storage")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "parley", "namespace used in storage")
	cmd.Flags().Int("timer-interval", 0, "seconds between TimerTick events, 0 disables the timer")
	cmd.Flags().String("trace-file", "", "file receiving the event trace, empty disables tracing")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.FlowsFile = viper.GetString("flows-file")
	c.cfg.MainFlow = viper.GetString("main-flow")
	c.cfg.RuntimeName = viper.GetString("name")
	c.cfg.RandomSeed = viper.GetInt64("seed")
	c.cfg.RestoreSnapshot = viper.GetBool("restore")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.TimerInterval = viper.GetInt("timer-interval")
	if traceFile := viper.GetString("trace-file"); len(traceFile) > 0 {
		c.cfg.AnalyticsConfig = analytics.TraceCollectorConfig{
			FileName:      traceFile,
			CollectorType: analytics.LOG_FILE_TRACE_COLLECTOR,
		}
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "parley",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
