// Command protokv-loadgen drives concurrent Insert/CompareExchange traffic
// against a running protokv-server, exercising spec §8 scenario 4 (many
// concurrent writers racing on a shared key) and property P8 (CAS races
// resolve to exactly one winner per attempt). Structure — flag-based CLI,
// per-iteration zap logging, a plain sequential-then-concurrent loop — is
// grounded on the teacher's cmd/bulk-delete/main.go.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}

func main() {
	baseURL := flag.String("base-url", "http://127.0.0.1:8080", "base URL of the target protokv-server")
	logID := flag.String("log-id", "demo", "logId of the state to hammer")
	workers := flag.Int("workers", 8, "number of concurrent CAS workers")
	attempts := flag.Int("attempts", 200, "CAS attempts per worker")
	key := flag.String("key", "loadgen-counter", "key each worker races a CAS loop on")
	flag.Parse()

	if *workers <= 0 || *attempts <= 0 {
		fmt.Fprintln(os.Stderr, "usage: protokv-loadgen -workers N -attempts M [-base-url url] [-log-id id] [-key k]")
		os.Exit(1)
	}

	log := buildLogger().Named("loadgen")
	defer log.Sync()

	client := &http.Client{Timeout: 10 * time.Second}

	if err := seedKey(client, *baseURL, *logID, *key); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	var succeeded, conflicted, errored int64
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			workerLog := log.With(zap.Int("worker", workerID))
			for i := 0; i < *attempts; i++ {
				iterStart := time.Now()
				outcome, err := casIncrement(client, *baseURL, *logID, *key)
				switch {
				case err != nil:
					atomic.AddInt64(&errored, 1)
					workerLog.Warn("cas attempt errored", zap.Int("attempt", i), zap.Error(err), zap.Duration("took", time.Since(iterStart)))
				case outcome:
					atomic.AddInt64(&succeeded, 1)
				default:
					atomic.AddInt64(&conflicted, 1)
				}
			}
		}(w)
	}
	wg.Wait()

	log.Info("loadgen complete",
		zap.Int64("succeeded", succeeded),
		zap.Int64("conflicted", conflicted),
		zap.Int64("errored", errored),
		zap.Int("total", *workers**attempts),
		zap.Duration("took", time.Since(start)),
	)
}

func seedKey(client *http.Client, baseURL, logID, key string) error {
	body, _ := json.Marshal(map[string]string{key: "0"})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/_api/prototype-state/"+logID+"/insert?waitForApplied=1", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("seed insert: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// casIncrement reads the current value, then attempts a compare-exchange
// bumping it by one. Returns (true, nil) on a won race, (false, nil) on a
// lost race (412), and (_, err) on any other failure.
func casIncrement(client *http.Client, baseURL, logID, key string) (bool, error) {
	current, err := getValue(client, baseURL, logID, key)
	if err != nil {
		return false, err
	}

	next := current + 1
	entry := map[string]map[string]string{
		key: {"oldValue": fmt.Sprintf("%d", current), "newValue": fmt.Sprintf("%d", next)},
	}
	body, _ := json.Marshal(entry)

	req, err := http.NewRequest(http.MethodPut, baseURL+"/_api/prototype-state/"+logID+"/cmp-ex", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusPreconditionFailed:
		return false, nil
	default:
		return false, fmt.Errorf("cmp-ex: unexpected status %d", resp.StatusCode)
	}
}

func getValue(client *http.Client, baseURL, logID, key string) (int, error) {
	body, _ := json.Marshal([]string{key})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/_api/prototype-state/"+logID+"/multi-get", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("multi-get: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Result map[string]string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}

	var value int
	_, _ = fmt.Sscanf(parsed.Result[key], "%d", &value)
	return value, nil
}
