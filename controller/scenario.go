package controller

import (
	"strconv"
	"sync"

	"github.com/Nystya/optimistic-commit/domain"
	"github.com/Nystya/optimistic-commit/repository/database"
	"github.com/Nystya/optimistic-commit/service"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StoreFactory creates a transaction-aware store. The store name tags the
// change-set keys; the WAL prefix separates log segments per writer.
type StoreFactory func(name string, walPrefix string) (*database.TxKVStore, error)

// Transfer moves an amount between two account keys.
type Transfer struct {
	From   string
	To     string
	Amount int
}

// ScenarioRunner drives scripted end-to-end scenarios over the executor: a
// successful transfer across two stores, a forced write-write conflict
// between two concurrent executors, and recovery from the write-ahead log.
type ScenarioRunner struct {
	client     service.TransactionSystemClient
	factory    StoreFactory
	storeNames []string
	logger     *zap.Logger
}

// NewScenarioRunner drives the scenarios over the first two configured
// stores: the first holds the account balances, the second the audit trail.
func NewScenarioRunner(client service.TransactionSystemClient, factory StoreFactory, storeNames []string, logger *zap.Logger) *ScenarioRunner {
	return &ScenarioRunner{
		client:     client,
		factory:    factory,
		storeNames: storeNames,
		logger:     logger,
	}
}

func (r *ScenarioRunner) Run() error {
	if len(r.storeNames) < 2 {
		return errors.Errorf("need at least two configured stores, got %d", len(r.storeNames))
	}

	if err := r.transferScenario(); err != nil {
		return errors.Wrap(err, "transfer scenario failed")
	}

	if err := r.conflictScenario(); err != nil {
		return errors.Wrap(err, "conflict scenario failed")
	}

	if err := r.recoveryScenario(); err != nil {
		return errors.Wrap(err, "recovery scenario failed")
	}

	return nil
}

// transferScenario seeds two accounts and moves money between them, with an
// audit record written atomically alongside the balance updates.
func (r *ScenarioRunner) transferScenario() error {
	accounts, err := r.factory(r.storeNames[0], r.storeNames[0])
	if err != nil {
		return err
	}

	audit, err := r.factory(r.storeNames[1], r.storeNames[1])
	if err != nil {
		return err
	}

	executor := service.NewTransactionExecutor[*Transfer, int](r.client, accounts, audit).WithLogger(r.logger)

	r.logger.Info("seeding accounts")

	_, err = executor.Execute(func(*Transfer) (int, error) {
		if err := accounts.Put("alice", []byte("100")); err != nil {
			return 0, err
		}

		if err := accounts.Put("bob", []byte("50")); err != nil {
			return 0, err
		}

		return 0, audit.Put("seed", []byte("accounts seeded"))
	}, nil)
	if err != nil {
		return err
	}

	r.logger.Info("transferring between accounts")

	remaining, err := executor.Execute(func(t *Transfer) (int, error) {
		from, err := readAmount(accounts, t.From)
		if err != nil {
			return 0, err
		}

		to, err := readAmount(accounts, t.To)
		if err != nil {
			return 0, err
		}

		if from < t.Amount {
			return 0, errors.Errorf("insufficient funds in %q: have %d, need %d", t.From, from, t.Amount)
		}

		if err := accounts.Put(t.From, amountBytes(from-t.Amount)); err != nil {
			return 0, err
		}

		if err := accounts.Put(t.To, amountBytes(to+t.Amount)); err != nil {
			return 0, err
		}

		record := t.From + " -> " + t.To + ": " + strconv.Itoa(t.Amount)
		if err := audit.Put("transfer-"+t.From+"-"+t.To, []byte(record)); err != nil {
			return 0, err
		}

		return from - t.Amount, nil
	}, &Transfer{From: "alice", To: "bob", Amount: 30})
	if err != nil {
		return err
	}

	r.logger.Info("transfer committed", zap.Int("remaining", remaining))

	return nil
}

// conflictScenario runs two executors over replicas of the same store and
// forces their transactions to overlap in time on the same key. Exactly one
// commit wins; the loser sees a conflict and retries.
func (r *ScenarioRunner) conflictScenario() error {
	name := r.storeNames[0]

	left, err := r.factory(name, name+"-left")
	if err != nil {
		return err
	}

	right, err := r.factory(name, name+"-right")
	if err != nil {
		return err
	}

	var barrier sync.WaitGroup
	barrier.Add(2)

	makeWork := func(store *database.TxKVStore, value string) service.Function[int, int] {
		first := true

		return func(round int) (int, error) {
			if err := store.Put("hot", []byte(value)); err != nil {
				return 0, err
			}

			// Hold both transactions open until each has staged its write,
			// so neither can see the other's commit at start time.
			if first {
				first = false
				barrier.Done()
				barrier.Wait()
			}

			return round, nil
		}
	}

	var wg sync.WaitGroup
	var conflictCount int
	var countLock sync.Mutex

	runWorker := func(name string, store *database.TxKVStore, value string) {
		defer wg.Done()

		executor := service.NewTransactionExecutor[int, int](r.client, store).WithLogger(r.logger)
		work := makeWork(store, value)

		for round := 1; ; round++ {
			_, err := executor.Execute(work, round)
			if err == nil {
				r.logger.Info("worker committed", zap.String("worker", name), zap.Int("round", round))
				return
			}

			var conflict *domain.TransactionConflictError
			if !errors.As(err, &conflict) {
				r.logger.Error("worker failed", zap.String("worker", name), zap.Error(err))
				return
			}

			countLock.Lock()
			conflictCount++
			countLock.Unlock()

			r.logger.Info("worker lost the race, retrying", zap.String("worker", name), zap.Int("round", round))
		}
	}

	wg.Add(2)
	go runWorker("left", left, "written by left")
	go runWorker("right", right, "written by right")
	wg.Wait()

	if conflictCount == 0 {
		return errors.New("expected at least one conflict between overlapping transactions")
	}

	r.logger.Info("conflict scenario done", zap.Int("conflicts", conflictCount))

	return nil
}

// recoveryScenario opens a fresh store over the accounts WAL and replays it,
// checking that the committed transfer survived.
func (r *ScenarioRunner) recoveryScenario() error {
	recovered, err := r.factory(r.storeNames[0], r.storeNames[0])
	if err != nil {
		return err
	}

	if err := recovered.Recover(); err != nil {
		return err
	}

	balance, err := readAmount(recovered, "alice")
	if err != nil {
		return err
	}

	if balance != 70 {
		return errors.Errorf("unexpected balance after recovery: got %d, want 70", balance)
	}

	r.logger.Info("recovery scenario done", zap.Int("balance", balance))

	return nil
}

func readAmount(store *database.TxKVStore, key string) (int, error) {
	data, err := store.Get(key)
	if err != nil {
		return 0, err
	}

	amount, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, errors.Wrapf(err, "corrupt amount for key %q", key)
	}

	return amount, nil
}

func amountBytes(amount int) []byte {
	return []byte(strconv.Itoa(amount))
}
