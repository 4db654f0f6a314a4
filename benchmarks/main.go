// Package benchmarks holds throughput and catch-up measurements that run
// against an externally started cluster (see the bench* sub-commands).
package benchmarks

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/tunakv/tunakv/common"
	"github.com/tunakv/tunakv/conflict"
	"github.com/tunakv/tunakv/kvstore"
	"github.com/tunakv/tunakv/persistent"
	"github.com/tunakv/tunakv/quorum"
	"github.com/tunakv/tunakv/raft"
	"github.com/tunakv/tunakv/rpc"
)

type config struct {
	Mode             string
	Cluster          []common.Server
	HeartbeatTimeout int // In milliseconds
	ElectionTimeout  int // In milliseconds
	ProposeTimeout   int // In milliseconds
	ReadQuorum       int
	WriteQuorum      int
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

func buildStore(cfg config) *kvstore.ReplicatedStore {
	manager := rpc.NewManager()
	var store *kvstore.ReplicatedStore
	var err error
	switch cfg.Mode {
	case "tunable":
		var replicas []common.ReplicaServer
		for _, server := range cfg.Cluster {
			peer, connErr := manager.ConnectToReplica(server.NetAddress, server.ID)
			if connErr != nil {
				fmt.Println(connErr)
				os.Exit(2)
			}
			replicas = append(replicas, peer)
		}
		store, err = kvstore.NewTunableStore(quorum.Config{
			N: len(cfg.Cluster),
			R: cfg.ReadQuorum,
			W: cfg.WriteQuorum,
		}, uuid.New(), replicas, conflict.Resolver{})
	default:
		store, err = kvstore.NewStrongStore(cfg.Cluster, manager)
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return store
}

func runServer(cfg config, index int) *raft.RaftServer {
	if index < 0 || index >= len(cfg.Cluster) {
		fmt.Printf("invalid index: %d (config file specified %d servers only)\n", index, len(cfg.Cluster))
	}
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
	return server
}

// BenchmarkClientReadWriteThroughput measures sequential write and read
// throughput through a single store handle in whichever mode the config
// selects, so the two paths can be compared on identical workloads.
func BenchmarkClientReadWriteThroughput(args []string) {
	flagset := flag.NewFlagSet("bench1", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var numRequests int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	store := buildStore(cfg)
	ctx := context.Background()

	fmt.Printf("Running Performance Check: Client Read Write Throughput (%v mode)\n", store.Mode())
	start := time.Now()
	for i := 0; i < numRequests; i++ {
		key := fmt.Sprintf("key%d", i)
		val := fmt.Sprintf("val%d", i)
		store.Write(ctx, key, []byte(val))
	}
	writeTime := time.Since(start)
	fmt.Printf("[Benchmark] %d write requests took %s on %d servers.\n", numRequests, writeTime, len(cfg.Cluster))

	start = time.Now()
	for i := 0; i < numRequests; i++ {
		key := fmt.Sprintf("key%d", i)
		store.Read(ctx, key)
	}
	readTime := time.Since(start)
	fmt.Printf("[Benchmark] %d read requests took %s on %d servers.\n", numRequests, readTime, len(cfg.Cluster))
}

// BenchmarkServerCatchUpTime measures how long a freshly started consensus
// server takes to replay a log it missed. Strong mode only: quorum replicas
// converge through read repair instead of log replay.
func BenchmarkServerCatchUpTime(args []string) {
	flagset := flag.NewFlagSet("bench2", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var numRequests, laggingServerIndex int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	flagset.IntVar(&laggingServerIndex, "laggingServerIndex", 2, "Server index which lags")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	if cfg.Mode == "tunable" {
		fmt.Println("bench2 measures consensus log replay and only runs in strong mode")
		os.Exit(2)
	}
	store := buildStore(cfg)
	ctx := context.Background()

	fmt.Println("Running Performance Check: Server catch up time")
	numLogsToCatchUp := numRequests
	for i := 0; i < numLogsToCatchUp; i++ {
		key := fmt.Sprintf("key%d", i)
		val := fmt.Sprintf("val%d", i)
		store.Write(ctx, key, []byte(val))
	}

	laggingServer := runServer(cfg, laggingServerIndex)
	start := time.Now()
	// Assuming correctness
	for {
		logLength, _ := laggingServer.Log.Length()
		if int(logLength) == numLogsToCatchUp+1 {
			break
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("[Benchmark] lagging server took %s to catch up %d entries on a %d server cluster.\n", elapsed, numLogsToCatchUp, len(cfg.Cluster))
}

// BenchmarkParallelClientThroughput measures write throughput across 10
// concurrent store handles.
func BenchmarkParallelClientThroughput(args []string) {
	flagset := flag.NewFlagSet("bench3", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var numRequests int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of client requests to send")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	ctx := context.Background()

	fmt.Printf("Running Performance Check: Parallel Client Throughput (%s mode)\n", cfg.Mode)
	reqsPerThread := numRequests / 10
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 10; i++ {
		index := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := buildStore(cfg)
			for i := index * reqsPerThread; i < (index+1)*reqsPerThread; i++ {
				key := fmt.Sprintf("key%d", i)
				val := fmt.Sprintf("val%d", i)
				store.Write(ctx, key, []byte(val))
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Printf("[Benchmark] %d write requests took %s on %d servers.\n", numRequests, elapsed, len(cfg.Cluster))
}
