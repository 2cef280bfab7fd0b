package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("serve")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dLock node",
		Long:    `Start a dLock node hosting the configured lock shards. Metrics and lock listings are served over HTTP. The configuration can be set via command line flags or environment variables. The format of the environment variables is DLOCK_<flag> (e.g. DLOCK_DEFAULT_TTL=30s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
	ConfigCmd = &cobra.Command{
		Use:     "config",
		Short:   "Print the resolved node configuration",
		Long:    `Print the configuration "dlock serve" would start with, after flags, environment variables and .env files have been applied.`,
		PreRunE: processConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.OutOrStdout(), serveCmdConfig.String())
			return nil
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	addFlags(ServeCmd)
	addFlags(ConfigCmd)
}

func addFlags(cmd *cobra.Command) {
	key := "shards"
	cmd.PersistentFlags().String(key, "100=lstore", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: lstore, dstore"))

	key = "identity"
	cmd.PersistentFlags().String(key, common.IdentityUserID, cmdUtil.WrapString("How lock holders are identified (user-id, connection-id)"))

	key = "default-ttl"
	cmd.PersistentFlags().Duration(key, time.Minute, cmdUtil.WrapString("Lease of a lock when none is requested. Must not exceed the window"))

	key = "window"
	cmd.PersistentFlags().Duration(key, time.Minute, cmdUtil.WrapString("Fixed sweep window of the stores. A record dies this long after its expiry marker"))

	key = "sweep-interval"
	cmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("Pause between two sweeps of expired locks (negative = no background sweeping)"))

	key = "debug"
	cmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Enable verbose logging of the lockers"))

	key = "rtt-millisecond"
	cmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters are derived from this value"))

	key = "snapshot-entries"
	cmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied Raft log entries. 0 disables automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	cmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(dstore) CompactionOverhead defines the number of log entries to keep after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(dstore) DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	cmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	cmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(dstore) Timeout of a raft operation in seconds"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which metrics and lock listings are served"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	shards, err := common.ParseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.Identity = viper.GetString("identity")
	serveCmdConfig.DefaultTTL = viper.GetDuration("default-ttl")
	serveCmdConfig.Window = viper.GetDuration("window")
	serveCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")
	if _, err := cmdUtil.GetSerializer(); err != nil {
		return err
	}
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.Debug = viper.GetBool("debug")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = common.ParseReplicaID(id)
	}
	if members := viper.GetString("cluster-members"); members != "" {
		if serveCmdConfig.ClusterMembers, err = common.ParseClusterMembers(members); err != nil {
			return err
		}
	}

	return serveCmdConfig.Validate()
}

// run starts the node and blocks until it receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(*serveCmdConfig); err != nil {
		return err
	}
	log.Infof("starting dLock node%s", serveCmdConfig.String())

	n, err := newNode(*serveCmdConfig)
	if err != nil {
		return err
	}
	defer n.Close()

	srv := &http.Server{
		Addr:              serveCmdConfig.Endpoint,
		Handler:           n.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving metrics and lock listings on %s", serveCmdConfig.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Infof("received %s, shutting down", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
