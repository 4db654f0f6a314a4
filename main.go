package main

import (
	"flag"
	"fmt"
	"io/fs"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/tunakv/tunakv/benchmarks"
	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/conflict"
	"github.com/tunakv/tunakv/kvstore"
	"github.com/tunakv/tunakv/kvstore/client"
	"github.com/tunakv/tunakv/persistent"
	"github.com/tunakv/tunakv/quorum"
	"github.com/tunakv/tunakv/raft"
	"github.com/tunakv/tunakv/replica"
	"github.com/tunakv/tunakv/rpc"
)

type config struct {
	Mode             string // "strong" (consensus) or "tunable" (quorum)
	Cluster          []common.Server
	HeartbeatTimeout int // In milliseconds
	ElectionTimeout  int // In milliseconds
	ProposeTimeout   int // In milliseconds
	ReadQuorum       int // R, tunable mode only
	WriteQuorum      int // W, tunable mode only
}

func loadConfig(configFile string) config {
	bytes, err := ioutil.ReadFile(configFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	var cfg config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return cfg
}

func buildStore(cfg config) (*kvstore.ReplicatedStore, error) {
	manager := rpc.NewManager()
	switch cfg.Mode {
	case "tunable":
		var replicas []common.ReplicaServer
		for _, server := range cfg.Cluster {
			peer, err := manager.ConnectToReplica(server.NetAddress, server.ID)
			if err != nil {
				return nil, err
			}
			replicas = append(replicas, peer)
		}
		quorumConfig := quorum.Config{
			N: len(cfg.Cluster),
			R: cfg.ReadQuorum,
			W: cfg.WriteQuorum,
		}
		return kvstore.NewTunableStore(quorumConfig, uuid.New(), replicas, conflict.Resolver{})
	default:
		return kvstore.NewStrongStore(cfg.Cluster, manager)
	}
}

func runStrongServer(cfg config, index int) {
	var clusterConfig common.ClusterConfig
	clusterConfig.Cluster = cfg.Cluster
	clusterConfig.ElectionTimeout = time.Millisecond * time.Duration(cfg.ElectionTimeout)
	clusterConfig.HeartBeatTimeout = time.Millisecond * time.Duration(cfg.HeartbeatTimeout)
	clusterConfig.ProposeTimeout = time.Millisecond * time.Duration(cfg.ProposeTimeout)

	logStore, logErr := persistent.CreateDbLogStore(fmt.Sprintf("%v_logstore.db", cfg.Cluster[index].ID))
	pStore, pErr := persistent.NewPStore(fmt.Sprintf("%v_pstore.db", cfg.Cluster[index].ID))
	if err := multierr.Combine(logErr, pErr); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	server, err := raft.NewRaftServer(
		cfg.Cluster[index],
		clusterConfig,
		kvstore.NewKeyValFSM(),
		logStore,
		pStore,
		rpc.NewManager(),
	)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	fmt.Println("Stopping server ...")
	if err := server.Stop(); err != nil {
		fmt.Println(err)
	}
}

func runReplicaServer(cfg config, index int) {
	valueStore, err := persistent.NewDbValueStore(fmt.Sprintf("%v_valuestore.db", cfg.Cluster[index].ID))
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	server, err := replica.NewReplica(cfg.Cluster[index], valueStore, conflict.Resolver{}, rpc.NewManager())
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	fmt.Println("Stopping replica ...")
	if err := server.Stop(); err != nil {
		fmt.Println(err)
	}
}

func runServer(args []string) {
	flagset := flag.NewFlagSet("server", flag.ExitOnError)
	configFile := flagset.String("config", "", "YAML file containing cluster & configuration details")
	index := flagset.Int("me", -1, "Index of this server in the config file")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	if *index < 0 || *index >= len(cfg.Cluster) {
		fmt.Printf("invalid index: %d (config file specified %d servers only)\n", *index, len(cfg.Cluster))
		os.Exit(2)
	}
	switch cfg.Mode {
	case "tunable":
		runReplicaServer(cfg, *index)
	default:
		runStrongServer(cfg, *index)
	}
}

func generateConfig(args []string) {
	flagset := flag.NewFlagSet("config", flag.ExitOnError)
	var filepath, servers, mode string
	var electionTimeout, heartbeatTimeout, proposeTimeout int
	var readQuorum, writeQuorum int
	flagset.StringVar(&filepath, "file", "config.yaml", "full path of config file to write to")
	flagset.StringVar(&servers, "servers", "localhost:12345,localhost:12346,localhost:12347", "comma-seperated list of server addresses")
	flagset.StringVar(&mode, "mode", "strong", "replication mode: strong or tunable")
	flagset.IntVar(&electionTimeout, "electionTimeout", 200, "value of election timeout (in milliseconds)")
	flagset.IntVar(&heartbeatTimeout, "heartbeatTimeout", 50, "value of heartbeat timeout (in milliseconds)")
	flagset.IntVar(&proposeTimeout, "proposeTimeout", 10000, "value of propose timeout (in milliseconds)")
	flagset.IntVar(&readQuorum, "readQuorum", 2, "read quorum size R (tunable mode)")
	flagset.IntVar(&writeQuorum, "writeQuorum", 2, "write quorum size W (tunable mode)")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	var cfg config
	for _, addr := range strings.Split(servers, ",") {
		cfg.Cluster = append(cfg.Cluster, common.Server{
			ID:         uuid.New(),
			NetAddress: common.ServerAddress(addr),
		})
	}
	cfg.Mode = mode
	cfg.HeartbeatTimeout = heartbeatTimeout
	cfg.ElectionTimeout = electionTimeout
	cfg.ProposeTimeout = proposeTimeout
	cfg.ReadQuorum = readQuorum
	cfg.WriteQuorum = writeQuorum

	if bytes, err := yaml.Marshal(cfg); err != nil {
		fmt.Println(err)
		os.Exit(2)
	} else {
		err := ioutil.WriteFile(filepath, bytes, fs.ModePerm)
		if err != nil {
			fmt.Println(err)
			os.Exit(2)
		}
	}
}

func runClient(args []string) {
	flagset := flag.NewFlagSet("client", flag.ExitOnError)
	configFile := flagset.String("config", "", "YAML file containing cluster details")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	store, err := buildStore(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	fmt.Println(client.RunCliClient(store))
}

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Printf("usage: %s config | server | client ...\n", os.Args[0])
		os.Exit(2)
	}
	switch args[0] {
	case "config":
		generateConfig(args[1:])
	case "server":
		runServer(args[1:])
	case "client":
		runClient(args[1:])
	case "bench1":
		benchmarks.BenchmarkClientReadWriteThroughput(args[1:])
	case "bench2":
		benchmarks.BenchmarkServerCatchUpTime(args[1:])
	case "bench3":
		benchmarks.BenchmarkParallelClientThroughput(args[1:])
	default:
		fmt.Printf("unknown sub-command: %s\n", args[0])
		os.Exit(2)
	}
}
