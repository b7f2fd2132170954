// Command ntsdate queries one or more NTS servers and prints the
// authenticated server time.
package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	nts "github.com/nts-go/nts-go"
	"github.com/nts-go/nts-go/eventlog"
	"github.com/nts-go/nts-go/internal/utils"
	"github.com/nts-go/nts-go/logging"
)

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	timeout := flag.Duration("timeout", 30*time.Second, "exchange timeout")
	insecure := flag.Bool("insecure", false, "skip certificate verification")
	logDir := flag.String("eventlog", "", "write per-server event logs to this directory")
	flag.Parse()
	servers := flag.Args()
	if len(servers) == 0 {
		log.Fatal("usage: ntsdate [options] server...")
	}
	if *verbose {
		utils.SetLogLevel(utils.LogLevelDebug)
	}

	var g errgroup.Group
	for _, server := range servers {
		server := server
		g.Go(func() error {
			var tracer *logging.Tracer
			if *logDir != "" {
				name := strings.ReplaceAll(server, ":", "_") + ".ntslog"
				f, err := os.Create(*logDir + "/" + name)
				if err != nil {
					return err
				}
				tracer = eventlog.NewTracer(f)
			}
			client, err := nts.NewClient(server, &nts.Config{
				TLSConfig: &tls.Config{InsecureSkipVerify: *insecure},
				Rand:      rand.Reader,
				Timeout:   *timeout,
				Tracer:    tracer,
			})
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Run(context.Background()); err != nil {
				return fmt.Errorf("%s: %w", server, err)
			}
			t, err := client.Time()
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (offset %s)\n", server, t.Format(time.RFC3339Nano), time.Until(t).Round(time.Millisecond))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
