// Command leftright-bench is a small runnable demonstration of the
// leftright package: one writer goroutine publishing deltas to a
// shared counter while a configurable number of reader goroutines poll
// it concurrently. It exists as a smoke-test harness and living
// documentation of the package's API, in the spirit of
// monkeydluffy772-racedetector's cmd/racedetector convention of a thin
// runnable entry point alongside the library it exercises.
package main

import (
	"flag"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cornelk/leftright"
)

type deltas []int

func (d deltas) IsEmpty() bool { return len(d) == 0 }

type counter struct {
	leftright.NopDrop
	value int64
}

func (c *counter) AbsorbFirst(ops *deltas, other leftright.Absorb[deltas]) {
	for _, d := range *ops {
		c.value += int64(d)
	}
}

func (c *counter) AbsorbSecond(ops *deltas, other leftright.Absorb[deltas]) {
	for _, d := range *ops {
		c.value += int64(d)
	}
	*ops = (*ops)[:0]
}

func (c *counter) SyncWith(foreground leftright.Absorb[deltas]) {
	c.value = foreground.(*counter).value
}

func main() {
	readers := flag.Int("readers", 8, "number of concurrent reader goroutines")
	publishes := flag.Int("publishes", 200, "number of publish cycles the writer runs")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	w, r := leftright.New[*counter, deltas](&counter{}, &counter{}, leftright.WithLogger(logger))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *readers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reader := r.Clone()
			defer reader.Close()
			for {
				select {
				case <-stop:
					return
				default:
				}
				guard, err := reader.Enter()
				if err != nil {
					logger.Info("reader observed writer take", zap.Int("reader", id))
					return
				}
				_ = (*guard.Value()).value
				guard.Leave()
			}
		}(i)
	}

	for i := 0; i < *publishes; i++ {
		delta := rand.Intn(10) - 4
		pending := w.Pending()
		*pending = append(*pending, delta)
		w.Publish()
		if i%50 == 0 {
			stats := w.Stats()
			logger.Info("publish progress", zap.Uint64("publishes", stats.Publishes))
		}
		time.Sleep(time.Millisecond)
	}

	close(stop)
	wg.Wait()

	taken, err := w.Take()
	if err != nil {
		logger.Fatal("take failed", zap.Error(err))
	}
	defer taken.Close()

	logger.Info("final value", zap.Int64("value", taken.Value().value))
}
