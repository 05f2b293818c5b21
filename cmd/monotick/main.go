package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"go.sazak.io/monotick"
	"go.sazak.io/monotick/cmd/monotick/api"
	"go.sazak.io/monotick/cmd/monotick/storage"
)

var (
	sampleWorkers  = flag.Int("sw", 2, "Number of clock sampling workers")
	processWorkers = flag.Int("pw", 4, "Number of sample processing workers")
	sampleInterval = flag.Duration("interval", 100*time.Microsecond, "Delay between samples per worker (0 samples as fast as possible)")
	runDuration    = flag.Duration("d", 0, "How long to sample before exiting (0 runs until interrupted)")

	// Web mode flags
	webMode       = flag.Bool("web", false, "Enable web mode with API server and WebSocket")
	webPort       = flag.Int("web-port", 8080, "Port for web API server")
	storageFormat = flag.String("storage-format", "jsonl", "Storage format: jsonl, binary or sqlite")
	storageDir    = flag.String("storage-dir", "./sessions", "Directory for storing session data")

	silent                = flag.Bool("s", false, "Enable silent mode")
	metricFilePrefix      = flag.String("mfp", "", "Prefix for metric file name")
	metricFileNoTimestamp = flag.Bool("mft", false, "Do not include timestamp in metric file name")

	// Latency summary configuration
	latencyQuantiles = flag.String("q", "0.5,0.9,0.99", "Call latency summary quantiles (comma separated, each in (0,1])")

	// Batch configuration
	batchSize          = flag.Int("batch-size", 1000, "Number of samples to batch before writing to storage")
	batchFlushInterval = flag.Duration("batch-flush-interval", 100*time.Millisecond, "Maximum time to wait before flushing a batch")
)

const statsInterval = 1000 * time.Millisecond

var (
	// Global storage and API server for web mode
	sampleStore storage.SampleStore
	apiServer   *api.Server
)

// sampleCounts tracks sample counts by outcome
type sampleCounts struct {
	ok          atomic.Uint64
	backward    atomic.Uint64
	unavailable atomic.Uint64
}

func main() {
	log.SetPrefix("monotick: ")
	log.SetFlags(log.Ltime)

	flag.Parse()
	validateFlags()

	quantiles, err := parseQuantiles(*latencyQuantiles)
	if err != nil {
		log.Fatalf("Failed to parse latency quantiles: %v", err)
	}

	log.Printf("Clock strategy: %s", monotick.Strategy())

	// Initialize web mode if enabled
	if *webMode {
		manager, err := storage.NewManager(*storageDir)
		must(err, "creating storage manager")

		session := &storage.Session{
			ID:        uuid.New().String(),
			StartTime: time.Now(),
			Strategy:  monotick.Strategy(),
			Interval:  sampleInterval.String(),
		}

		sampleStore, err = manager.CreateSession(context.Background(), session, *storageFormat)
		must(err, "creating sample store")
		defer sampleStore.Close()

		apiServer = api.NewServer(manager, *webPort, quantiles)
		go func() {
			if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("API server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Stop(ctx); err != nil {
				log.Printf("Error stopping API server: %v", err)
			}
		}()

		// Update session on exit
		defer func() {
			endTime := time.Now()
			session.EndTime = &endTime
			session.SampleCount = sampleStore.GetSession().SampleCount
			if err := sampleStore.UpdateSession(session); err != nil {
				log.Printf("Error updating session: %v", err)
			}
		}()

		log.Printf("Web mode enabled: http://localhost:%d", *webPort)
		log.Printf("Session ID: %s", session.ID)
		log.Printf("Storage format: %s", *storageFormat)
	}

	// Subscribe to signals for terminating the program.
	stopper := make(chan os.Signal, 1)
	signal.Notify(stopper, os.Interrupt, syscall.SIGTERM)

	sampleCh := make(chan *storage.Sample, 1_000_000)

	var pendingCount atomic.Int64
	var lastPendingCount atomic.Int64

	var readSampleCount atomic.Uint64
	var procSampleCount atomic.Uint64

	var countsByOutcome sampleCounts

	var callLatencyNsSum atomic.Int64
	var callLatencyNsCount atomic.Int64

	// Smallest nonzero delta seen in the current stats window
	var windowMinDelta atomic.Uint64
	windowMinDelta.Store(math.MaxUint64)

	var backwardTotal atomic.Int64
	var zeroTotal atomic.Int64

	samplersStopped := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	var sampleWg, processWg sync.WaitGroup

	sampleWg.Add(*sampleWorkers)
	processWg.Add(*processWorkers)

	// Metrics
	metricSPS := make([]float64, 0, 1_000)
	metricPPS := make([]float64, 0, 1_000)
	metricSWP := make([]float64, 0, 1_000)
	metricLAT := make([]float64, 0, 1_000)
	metricRES := make([]float64, 0, 1_000)
	metricTimestamps := make([]float64, 0, 1_000)

	go func() {
		<-stopper
		log.Printf("[Main] Received stop signal, stopping samplers")
		cancel()
	}()

	if *runDuration > 0 {
		time.AfterFunc(*runDuration, func() {
			log.Printf("[Main] Run duration elapsed, stopping samplers")
			cancel()
		})
	}

	go func(stopped chan struct{}) {
		t := time.NewTicker(statsInterval)
		defer t.Stop()

		for {
			select {
			case <-stopped:
				return
			case <-t.C:
				readSmp := readSampleCount.Swap(0)
				procSmp := procSampleCount.Swap(0)
				sps := float64(readSmp) * float64(time.Second) / float64(statsInterval)
				pps := float64(procSmp) * float64(time.Second) / float64(statsInterval)

				if !*silent {
					log.Printf("[Stats] SPS: %.2f smp/sec (%.2f smp/sec per worker)", sps, sps/float64(*sampleWorkers))
					log.Printf("[Stats] PPS: %.2f smp/sec (%.2f smp/sec per worker)", pps, pps/float64(*processWorkers))
				}

				pending := pendingCount.Load()
				lastPending := lastPendingCount.Swap(pending)
				pdiff := pending - lastPending
				sign := "+"
				if pdiff < 0 {
					sign = ""
				}
				if !*silent {
					log.Printf("[Stats] SWP: %d (%s%d)", pending, sign, pdiff)
				}

				var lat float64
				latCnt := callLatencyNsCount.Swap(0)
				if latCnt != 0 {
					latSum := callLatencyNsSum.Swap(0)
					latAvg := latSum / latCnt
					lat = float64(latAvg)

					if !*silent {
						log.Printf("[Stats] LAT: %d ns/call", latAvg)
					}
				} else {
					if !*silent {
						log.Printf("[Stats] LAT: NaN")
					}
					lat = 0
				}

				var res float64
				minDelta := windowMinDelta.Swap(math.MaxUint64)
				if minDelta != math.MaxUint64 {
					res = float64(minDelta)
					if !*silent {
						log.Printf("[Stats] RES: %d us", minDelta)
					}
				} else {
					if !*silent {
						log.Printf("[Stats] RES: NaN")
					}
					res = 0
				}

				bwd := backwardTotal.Load()
				zro := zeroTotal.Load()
				if !*silent {
					log.Printf("[Stats] BWD: %d total", bwd)
					log.Printf("[Stats] ZRO: %d total\n\n", zro)
				}

				metricSPS = append(metricSPS, sps)
				metricPPS = append(metricPPS, pps)
				metricSWP = append(metricSWP, float64(pending))
				metricLAT = append(metricLAT, lat)
				metricRES = append(metricRES, res)
				metricTimestamps = append(metricTimestamps, float64(time.Now().UTC().UnixNano()))

				if apiServer != nil {
					apiServer.UpdateMetrics(&api.Metrics{
						SPS: sps,
						PPS: pps,
						SWP: pending,
						LAT: lat,
						RES: res,
						BWD: bwd,
						ZRO: zro,
					})
				}
			}
		}
	}(samplersStopped)

	for i := 0; i < *sampleWorkers; i++ {
		go func(ctx context.Context, id int, wg *sync.WaitGroup) {
			defer func() {
				wg.Done()
				log.Printf("[SW-%d] I'm done!", id)
			}()
			log.Printf("[SW-%d] I'm alive!", id)

			var seq, prev uint64
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				sample := takeSample(uint32(id), seq, prev)
				seq++
				if sample.Flags&storage.FlagUnavailable == 0 {
					prev = sample.Timestamp
				}

				sampleCh <- sample
				pendingCount.Add(1)
				readSampleCount.Add(1)

				if *sampleInterval > 0 {
					time.Sleep(*sampleInterval)
				}
			}
		}(ctx, i, &sampleWg)
	}

	for i := 0; i < *processWorkers; i++ {
		go func(id int, wg *sync.WaitGroup, sampleCh chan *storage.Sample, samplersStopped chan struct{}) {
			defer func() {
				wg.Done()
				log.Printf("[PW-%d] I'm done!", id)
			}()
			log.Printf("[PW-%d] I'm alive!", id)

			batch := make([]*storage.Sample, 0, *batchSize)
			flushTimer := time.NewTimer(*batchFlushInterval)

			flushBatch := func() {
				if len(batch) == 0 {
					return
				}

				if *webMode && sampleStore != nil {
					if err := sampleStore.WriteBatch(batch); err != nil {
						log.Printf("[PW-%d] Failed to write batch to storage: %v", id, err)
					}

					if apiServer != nil {
						apiServer.ObserveBatch(batch)
					}
				}

				if !*webMode && !*silent {
					for _, sample := range batch {
						logSample(id, sample)
					}
				}

				batch = batch[:0]
				flushTimer.Reset(*batchFlushInterval)
			}

			process := func(sample *storage.Sample) {
				pendingCount.Add(-1)
				procSampleCount.Add(1)
				callLatencyNsSum.Add(int64(sample.LatencyNs))
				callLatencyNsCount.Add(1)

				switch {
				case sample.Flags&storage.FlagUnavailable != 0:
					zeroTotal.Add(1)
				case sample.Flags&storage.FlagBackward != 0:
					backwardTotal.Add(1)
					log.Printf("[PW-%d] Clock went backwards: worker=%d seq=%d ts=%d", id, sample.Worker, sample.Seq, sample.Timestamp)
				default:
					if sample.DeltaUs > 0 {
						updateMin(&windowMinDelta, sample.DeltaUs)
					}
				}

				updateSampleCounts(&countsByOutcome, sample)

				batch = append(batch, sample)
				if len(batch) >= *batchSize {
					flushBatch()
				}
			}

			for {
				select {
				case <-samplersStopped:
					log.Printf("[PW-%d] Samplers stopped, draining sample channel", id)
					for sample := range sampleCh {
						process(sample)
					}
					flushBatch()
					log.Printf("[PW-%d] Draining sample channel complete", id)
					return
				case <-flushTimer.C:
					flushBatch()
				case sample, ok := <-sampleCh: // ', ok' idiom is used to prevent race condition
					if !ok {
						flushBatch()
						return
					}
					process(sample)
				}
			}
		}(i, &processWg, sampleCh, samplersStopped)
	}

	log.Printf("All samplers are alive")

	sampleWg.Wait()

	log.Printf("All samplers are done")
	close(samplersStopped) // signal to processors that no more samples will be coming
	close(sampleCh)

	processWg.Wait()
	log.Printf("All processors are done")

	saveMetrics(metricSPS, metricPPS, metricSWP, metricLAT, metricRES, metricTimestamps, &countsByOutcome)
}

func must(err error, op string) {
	if err != nil {
		log.Fatalf("%s: %v", op, err)
	}
}

// updateMin lowers m to v unless a smaller value is already stored.
func updateMin(m *atomic.Uint64, v uint64) {
	for {
		cur := m.Load()
		if v >= cur || m.CompareAndSwap(cur, v) {
			return
		}
	}
}

//go:inline
func updateSampleCounts(counts *sampleCounts, sample *storage.Sample) {
	switch {
	case sample.Flags&storage.FlagUnavailable != 0:
		counts.unavailable.Add(1)
	case sample.Flags&storage.FlagBackward != 0:
		counts.backward.Add(1)
	default:
		counts.ok.Add(1)
	}
}

//go:inline
func logSample(id int, sample *storage.Sample) {
	log.Printf("[PW-%d] [ts:%d,lat:%d] worker %d seq %d delta %d us (%s)",
		id, sample.Timestamp, sample.LatencyNs, sample.Worker, sample.Seq, sample.DeltaUs, outcomeName(sample.Flags))
}

//go:inline
func outcomeName(flags uint32) string {
	switch {
	case flags&storage.FlagUnavailable != 0:
		return "unavailable"
	case flags&storage.FlagBackward != 0:
		return "backward"
	default:
		return "ok"
	}
}

func validateFlags() {
	if *sampleWorkers <= 0 {
		log.Fatal("-sw must be positive")
	}

	if *processWorkers <= 0 {
		log.Fatal("-pw must be positive")
	}

	if *sampleInterval < 0 {
		log.Fatal("-interval must not be negative")
	}

	if *runDuration < 0 {
		log.Fatal("-d must not be negative")
	}
}

func saveMetrics(
	metricSPS []float64,
	metricPPS []float64,
	metricSWP []float64,
	metricLAT []float64,
	metricRES []float64,
	metricTimestamps []float64,
	countsByOutcome *sampleCounts,
) {
	metrics := struct {
		Sps          []float64         `json:"sps"`
		Pps          []float64         `json:"pps"`
		Swp          []float64         `json:"swp"`
		Lat          []float64         `json:"lat"`
		Res          []float64         `json:"res"`
		Ts           []float64         `json:"ts"`
		Strategy     string            `json:"strategy"`
		SampleCounts map[string]uint64 `json:"sample_counts"`
	}{
		Sps:      metricSPS,
		Pps:      metricPPS,
		Swp:      metricSWP,
		Lat:      metricLAT,
		Res:      metricRES,
		Ts:       metricTimestamps,
		Strategy: monotick.Strategy(),
		SampleCounts: map[string]uint64{
			"ok":          countsByOutcome.ok.Load(),
			"backward":    countsByOutcome.backward.Load(),
			"unavailable": countsByOutcome.unavailable.Load(),
		},
	}
	b, err := json.MarshalIndent(metrics, "", "  ")
	must(err, "marshaling metric data")
	prefix := *metricFilePrefix
	if prefix != "" {
		prefix = "_" + prefix
	}
	filename := "metrics"
	if !*metricFileNoTimestamp {
		filename += "_" + time.Now().UTC().Format("2006-01-02-15-04-05")
	}
	if prefix != "" {
		filename += "_" + prefix
	}
	filename += ".json"
	err = os.WriteFile(
		filename,
		b, 0666,
	)
	must(err, "writing metrics")
}
