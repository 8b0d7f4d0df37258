package benchmark

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/beevik/ntp"

	"example.com/netclock/base/floats"
	"example.com/netclock/base/timemath"
	"example.com/netclock/core/timebase"
)

func RunBenchmark(remoteAddr string) {
	const numClientGoroutine = 4
	const numRequestPerClient = 250
	var mu sync.Mutex
	var offsets []float64
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(numClientGoroutine)
	for i := numClientGoroutine; i > 0; i-- {
		go func() {
			hg := hdrhistogram.New(1, 50000, 5)

			defer wg.Done()
			<-sg
			for j := numRequestPerClient; j > 0; j-- {
				resp, err := ntp.QueryWithOptions(remoteAddr, ntp.QueryOptions{
					Timeout: 5 * time.Second,
				})
				if err != nil {
					log.Printf("Failed to query time server: %v", err)
					continue
				}
				err = resp.Validate()
				if err != nil {
					log.Printf("Unexpected response received: %v", err)
					continue
				}

				err = hg.RecordValue(resp.RTT.Microseconds())
				if err != nil {
					log.Printf("Failed to record histogram value: %v", err)
					return
				}
				mu.Lock()
				offsets = append(offsets, timemath.Seconds(resp.ClockOffset))
				mu.Unlock()
			}
			mu.Lock()
			defer mu.Unlock()
			hg.PercentilesPrint(os.Stdout, 1, 1.0)
		}()
	}
	t0 := timebase.Now()
	close(sg)
	wg.Wait()
	mu.Lock()
	if len(offsets) != 0 {
		log.Printf("Median offset: %fs", floats.Median(offsets))
	}
	mu.Unlock()
	log.Print(timebase.Now().Sub(t0))
}
