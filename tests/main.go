package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"

	"github.com/Nystya/optimistic-commit/service"
	"go.uber.org/zap"
)

// Stress driver for the in-memory transaction authority: concurrent workers
// race transactions over a small keyspace and tally commits against
// conflicts. Every transaction must end committed or aborted; a leaked
// in-progress transaction is a bug.
func main() {
	workers := flag.Int("workers", 8, "number of concurrent workers")
	rounds := flag.Int("rounds", 200, "transactions per worker")
	keys := flag.Int("keys", 16, "size of the contended keyspace")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	manager := service.NewInMemoryTransactionManager().WithLogger(logger)
	client := service.NewInMemoryTxSystemClient(manager)

	var wg sync.WaitGroup
	var lock sync.Mutex
	commits, conflicts := 0, 0

	logger.Info("starting stress run",
		zap.Int("workers", *workers),
		zap.Int("rounds", *rounds),
		zap.Int("keys", *keys))

	for w := 0; w < *workers; w++ {
		wg.Add(1)

		go func(seed int64) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))

			for i := 0; i < *rounds; i++ {
				tx, err := client.StartShort()
				if err != nil {
					logger.Error("could not start transaction", zap.Error(err))
					return
				}

				changes := [][]byte{
					[]byte(fmt.Sprintf("key-%d", rng.Intn(*keys))),
					[]byte(fmt.Sprintf("key-%d", rng.Intn(*keys))),
				}

				ok, err := client.CanCommit(tx, changes)
				if err == nil && ok {
					ok, err = client.Commit(tx)
				}

				if err != nil {
					logger.Error("transaction failed", zap.Error(err))
					return
				}

				lock.Lock()
				if ok {
					commits++
				} else {
					conflicts++
				}
				lock.Unlock()

				if !ok {
					if err := client.Abort(tx); err != nil {
						logger.Error("could not abort transaction", zap.Error(err))
						return
					}
				}
			}
		}(int64(w))
	}

	wg.Wait()

	logger.Info("stress run complete",
		zap.Int("commits", commits),
		zap.Int("conflicts", conflicts))

	if leaked := manager.InProgressCount(); leaked != 0 {
		logger.Fatal("transactions leaked", zap.Int("inProgress", leaked))
	}
}
