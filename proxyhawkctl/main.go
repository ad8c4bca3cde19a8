package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"proxyhawk.com/proxyhawk/client"
)

const ProxyHawkCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `ProxyHawk control.

The default url is ws://localhost:8888/ws.

Usage:
    proxyhawkctl test [--config=<config>] [--url=<url>] [--jwt=<jwt>]
        [--region=<region>...] [--mode=<mode>] [--timeout=<timeout>]
        <domain>
    proxyhawkctl batch [--config=<config>] [--url=<url>] [--jwt=<jwt>]
        [--region=<region>...] [--mode=<mode>] [--timeout=<timeout>]
        <domain>...
    proxyhawkctl regions [--config=<config>] [--url=<url>] [--jwt=<jwt>]
    proxyhawkctl watch [--config=<config>] [--url=<url>] [--jwt=<jwt>]
        <domain>...
    proxyhawkctl ping [--config=<config>] [--url=<url>] [--jwt=<jwt>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    --config=<config>    Load settings from a TOML file.
    --url=<url>          Server websocket url.
    --jwt=<jwt>          Bearer token for the handshake.
    --region=<region>    Region to test from. Repeatable.
    --mode=<mode>        Test mode: basic, detailed or comprehensive.
    --timeout=<timeout>  Request timeout in seconds.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ProxyHawkCtlVersion)
	if err != nil {
		panic(err)
	}

	config := loadCtlConfig(opts)

	if test_, _ := opts.Bool("test"); test_ {
		test(opts, config)
	} else if batch_, _ := opts.Bool("batch"); batch_ {
		batch(opts, config)
	} else if regions_, _ := opts.Bool("regions"); regions_ {
		regions(config)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts, config)
	} else if ping_, _ := opts.Bool("ping"); ping_ {
		ping(config)
	}
}

func loadCtlConfig(opts docopt.Opts) *client.Config {
	var config *client.Config
	if path, err := opts.String("--config"); err == nil && path != "" {
		loaded, err := client.LoadConfig(path)
		if err != nil {
			Err.Fatalf("config error = %s", err)
		}
		config = loaded
	} else {
		config = client.DefaultConfig()
	}

	if url, err := opts.String("--url"); err == nil && url != "" {
		config.Url = url
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		config.AuthToken = jwt
	}
	if regions := stringList(opts, "--region"); 0 < len(regions) {
		config.Regions = regions
	}
	if mode, err := opts.String("--mode"); err == nil && mode != "" {
		testMode, err := client.ParseTestMode(mode)
		if err != nil {
			Err.Fatalf("%s", err)
		}
		config.TestMode = testMode
	}
	if timeout, err := opts.String("--timeout"); err == nil && timeout != "" {
		seconds, err := strconv.ParseFloat(timeout, 64)
		if err != nil {
			Err.Fatalf("bad timeout = %s", timeout)
		}
		config.RequestTimeout = time.Duration(seconds * float64(time.Second))
	}
	return config
}

func stringList(opts docopt.Opts, key string) []string {
	values := []string{}
	if raw, ok := opts[key]; ok {
		if list, ok := raw.([]string); ok {
			values = append(values, list...)
		}
	}
	return values
}

func dial(config *client.Config) *client.Client {
	c := client.NewClient(config)
	if err := c.Connect(context.Background()); err != nil {
		Err.Fatalf("connect error = %s", err)
	}
	return c
}

func test(opts docopt.Opts, config *client.Config) {
	domains := stringList(opts, "<domain>")
	if len(domains) == 0 {
		Err.Fatalf("domain required")
	}

	c := dial(config)
	defer c.Disconnect()

	result, err := c.TestDomain(context.Background(), domains[0])
	if err != nil {
		Err.Fatalf("test error = %s", err)
	}
	printResult(result)
}

func batch(opts docopt.Opts, config *client.Config) {
	domains := stringList(opts, "<domain>")

	c := dial(config)
	defer c.Disconnect()

	results, err := c.BatchTest(context.Background(), domains)
	if err != nil {
		Err.Fatalf("batch error after %d results = %s", len(results), err)
	}
	for _, result := range results {
		marker := "uniform"
		if result.HasGeographicDifferences {
			marker = "geo"
		}
		if result.IsRoundRobin {
			marker = marker + ",round-robin"
		}
		Out.Printf("%s: %s, %d regions, confidence %.2f", result.Domain, marker, len(result.RegionResults), result.Confidence)
	}
}

func regions(config *client.Config) {
	c := dial(config)
	defer c.Disconnect()

	regions, err := c.GetRegions(context.Background())
	if err != nil {
		Err.Fatalf("get regions error = %s", err)
	}
	for _, region := range regions {
		Out.Printf("%s", region)
	}
}

func watch(opts docopt.Opts, config *client.Config) {
	domains := stringList(opts, "<domain>")

	c := dial(config)
	defer c.Disconnect()

	for _, domain := range domains {
		err := c.Subscribe(context.Background(), domain, func(domain string, data json.RawMessage) {
			Out.Printf("%s %s: %s", time.Now().Format(time.RFC3339), domain, string(data))
		})
		if err != nil {
			Err.Fatalf("subscribe error %s = %s", domain, err)
		}
		Out.Printf("watching %s", domain)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	for _, domain := range domains {
		c.Unsubscribe(context.Background(), domain)
	}
}

func ping(config *client.Config) {
	c := dial(config)
	defer c.Disconnect()

	rtt, err := c.Ping(context.Background())
	if err != nil {
		Err.Fatalf("ping error = %s", err)
	}
	Out.Printf("rtt %s", rtt)
}

func printResult(result *client.GeoTestResult) {
	Out.Printf("domain: %s", result.Domain)
	Out.Printf("geographic differences: %t", result.HasGeographicDifferences)
	Out.Printf("round robin: %t", result.IsRoundRobin)
	Out.Printf("confidence: %.2f", result.Confidence)
	Out.Printf("regions tested: %d", len(result.RegionResults))
	for name, region := range result.RegionResults {
		status := "ok"
		if !region.Success {
			status = fmt.Sprintf("error: %s", region.Error)
		}
		Out.Printf("  %s via %s: %s", name, region.ProxyUsed, status)
	}
}
