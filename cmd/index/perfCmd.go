package index

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/rbkv/cmd/util"
	dbutil "github.com/ValentinKolb/rbkv/lib/db/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the index",
		Long:    "Runs a concurrent workload against the index (the loaded snapshot or an empty index). All test keys are removed again, the snapshot file is not changed.",
		Args:    cobra.NoArgs,
		PreRunE: processPerfConfig,
		RunE:    runPerf,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 1000
	perfOpsPerThread     = 10000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("Number of operations per worker and test"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "raw"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print all collected timers after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfOpsPerThread = viper.GetInt("ops")
	perfSkip = util.SplitList(viper.GetString("skip"))

	if perfKeySpread <= 0 || perfNumThreads <= 0 || perfOpsPerThread <= 0 {
		return fmt.Errorf("keys, threads and ops must be positive")
	}
	return nil
}

// --------------------------------------------------------------------------
// Test definitions
// --------------------------------------------------------------------------

// perfTest is a single benchmark. prepare runs once before the workers
// start, op is called by the workers with a running counter.
type perfTest struct {
	name    string
	prepare func(keys []string)
	op      func(keys []string, i int)
}

// perfResult is the outcome of a single perfTest
type perfResult struct {
	name    string
	skipped bool
	ops     int64
	wall    time.Duration
	timer   gometrics.Timer
	balance dbutil.Stats
}

func perfTests() []perfTest {
	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)

	fill := func(keys []string) {
		for _, k := range keys {
			idx.Set(k, small)
		}
	}

	return []perfTest{
		{
			name: "set",
			op:   func(keys []string, i int) { idx.Set(keys[i%len(keys)], small) },
		},
		{
			name: "set-large",
			op:   func(keys []string, i int) { idx.Set(keys[i%len(keys)], large) },
		},
		{
			name: "set-if-unset",
			op:   func(keys []string, i int) { idx.SetIfUnset(keys[i%len(keys)], small) },
		},
		{
			name:    "get",
			prepare: fill,
			op:      func(keys []string, i int) { idx.Get(keys[i%len(keys)]) },
		},
		{
			name:    "has",
			prepare: fill,
			op:      func(keys []string, i int) { idx.Has(keys[i%len(keys)]) },
		},
		{
			name: "has-not",
			op:   func(keys []string, i int) { idx.Has(keys[i%len(keys)]) },
		},
		{
			name:    "delete",
			prepare: fill,
			op:      func(keys []string, i int) { idx.Delete(keys[i%len(keys)]) },
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(keys []string, i int) {
				key := keys[i%len(keys)]
				switch i % 4 {
				case 0:
					idx.Set(key, small)
				case 1:
					idx.Get(key)
				case 2:
					idx.Delete(key)
				case 3:
					idx.Has(key)
				}
			},
		},
	}
}

// --------------------------------------------------------------------------
// Runner
// --------------------------------------------------------------------------

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the rbkv index")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  %-22s: %s\n", "Set", idx.SetName())
	fmt.Printf("  %-22s: %d\n", "Existing Entries", idx.GetInfo().Entries)
	fmt.Printf("  %-22s: %d\n", "Threads", perfNumThreads)
	fmt.Printf("  %-22s: %d\n", "Ops per Thread", perfOpsPerThread)
	fmt.Printf("  %-22s: %d\n", "Keys", perfKeySpread)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := gometrics.NewRegistry()
	var results []perfResult
	for _, test := range perfTests() {
		result := runPerfTest(test, registry)
		results = append(results, result)
		printResult(result)
	}

	if err := idx.Verify(); err != nil {
		return fmt.Errorf("index corrupt after perf run: %w", err)
	}

	if viper.GetBool("raw") {
		fmt.Println()
		gometrics.WriteOnce(registry, os.Stdout)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runPerfTest runs test on perfNumThreads workers and removes all test keys
// afterward
func runPerfTest(test perfTest, registry gometrics.Registry) perfResult {
	if shouldSkip(test.name) {
		return perfResult{name: test.name, skipped: true}
	}

	keys := getKeys(test.name)
	defer func() {
		for _, k := range keys {
			idx.Delete(k)
		}
	}()
	if test.prepare != nil {
		test.prepare(keys)
	}

	timer := gometrics.GetOrRegisterTimer(test.name, registry)
	workerTimes := make([]float64, perfNumThreads)

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			workerStart := time.Now()
			// workers start at different offsets to spread over the key space
			offset := w * len(keys) / perfNumThreads
			for i := 0; i < perfOpsPerThread; i++ {
				opStart := time.Now()
				test.op(keys, offset+i)
				timer.UpdateSince(opStart)
			}
			workerTimes[w] = float64(time.Since(workerStart))
		}(w)
	}
	wg.Wait()

	return perfResult{
		name:    test.name,
		ops:     timer.Count(),
		wall:    time.Since(start),
		timer:   timer,
		balance: dbutil.NewStats(workerTimes),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a single test
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

func opsPerSec(r perfResult) float64 {
	if r.wall <= 0 {
		return 0
	}
	return float64(r.ops) / r.wall.Seconds()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(r perfResult) {
	if r.skipped {
		fmt.Printf("%-15sskipped\n", r.name)
		return
	}

	fmt.Printf("%-15s%8.0fns/op  p99 %8.0fns  %12.0f ops/sec  worker balance %.2f\n",
		r.name,
		r.timer.Mean(),
		r.timer.Percentile(0.99),
		opsPerSec(r),
		r.balance.MinMaxRatio,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"Test", "Skipped", "Ops", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"WorkerMinMaxRatio", "Set", "Threads", "OpsPerThread", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		row := []string{r.name, strconv.FormatBool(r.skipped), "0", "0", "0", "0", "0", "0", "0"}
		if !r.skipped {
			row = []string{
				r.name,
				"false",
				strconv.FormatInt(r.ops, 10),
				fmt.Sprintf("%.0f", r.timer.Mean()),
				fmt.Sprintf("%.0f", r.timer.Percentile(0.5)),
				fmt.Sprintf("%.0f", r.timer.Percentile(0.99)),
				strconv.FormatInt(r.timer.Max(), 10),
				fmt.Sprintf("%.0f", opsPerSec(r)),
				fmt.Sprintf("%.3f", r.balance.MinMaxRatio),
			}
		}
		row = append(row,
			idx.SetName(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfOpsPerThread),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
