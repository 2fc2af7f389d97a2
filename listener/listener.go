package listener

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openbridge-labs/bridge-listener/chain"
	"github.com/openbridge-labs/bridge-listener/db"
	"github.com/openbridge-labs/bridge-listener/relayer"
)

const (
	connectErrWaitInterval = time.Second

	relayRetryBaseDelay = time.Millisecond * 500
	relayRetryMaxDelay  = time.Second * 10

	// how long a completion may wait for its transfer to be scanned and
	// relayed before it is treated as untracked and dropped
	heldCompletionTTL = time.Minute * 30
)

// RelaySender issues one relay attempt. relayer.Client implements it.
type RelaySender interface {
	Relay(ctx context.Context, req *relayer.Request) error
}

// Listener drives both chain scanners and owns every state transition of the
// tracked transfers. The source loop turns deposits into PENDING records and
// relays them; the destination loop confirms completions. The two loops poll
// independently so a slow chain cannot delay the other.
type Listener struct {
	logger *zap.SugaredLogger

	repository  db.ITxRepository
	relayClient RelaySender

	source *ChainScanner
	dest   *ChainScanner

	sourcePollInterval time.Duration
	destPollInterval   time.Duration
	relayMaxAttempts   int

	// completions that arrived before their transfer reached RELAYED, keyed
	// by source tx hash and re-applied on every destination tick until they
	// match or outlive heldCompletionTTL
	heldCompletions map[string]*heldCompletion
	heldMu          sync.Mutex

	idLocks sync.Map

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(logger *zap.SugaredLogger, repository db.ITxRepository, relayClient RelaySender,
	source, dest *ChainScanner, sourcePollInterval, destPollInterval time.Duration,
	relayMaxAttempts int) *Listener {
	return &Listener{
		logger:      logger,
		repository:  repository,
		relayClient: relayClient,

		source: source,
		dest:   dest,

		sourcePollInterval: sourcePollInterval,
		destPollInterval:   destPollInterval,
		relayMaxAttempts:   relayMaxAttempts,

		heldCompletions: make(map[string]*heldCompletion),

		quit: make(chan struct{}),
	}
}

func (l *Listener) Start() {
	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.sourceLoop()
	}()
	go func() {
		defer l.wg.Done()
		l.destLoop()
	}()
}

func (l *Listener) Stop() {
	close(l.quit)
}

func (l *Listener) WaitForShutdown() {
	l.wg.Wait()
}

// sourceLoop polls the source chain for deposits. No error ends the loop; a
// failed tick is logged and retried after a short wait.
func (l *Listener) sourceLoop() {
	for {
		select {
		case <-l.quit:
			l.logger.Debugf("Source loop quit")
			return
		default:
		}

		if err := l.source.Scan(context.Background(), l.handleSourceEvent); err != nil {
			l.logger.Errorf("Source scan tick failed: %v", err)
			l.sleep(connectErrWaitInterval)
			continue
		}

		l.sleep(l.sourcePollInterval)
	}
}

// destLoop polls the destination chain for completions, first retrying any
// completion held from earlier ticks.
func (l *Listener) destLoop() {
	for {
		select {
		case <-l.quit:
			l.logger.Debugf("Destination loop quit")
			return
		default:
		}

		l.retryHeldCompletions()

		if err := l.dest.Scan(context.Background(), l.handleDestEvent); err != nil {
			l.logger.Errorf("Destination scan tick failed: %v", err)
			l.sleep(connectErrWaitInterval)
			continue
		}

		l.sleep(l.destPollInterval)
	}
}

func (l *Listener) handleSourceEvent(ev chain.Event) error {
	deposit, ok := ev.(*chain.DepositInitiatedEvent)
	if !ok {
		// completions on the source chain belong to the reverse direction
		l.logger.Debugf("Ignoring %s event on source chain", ev.EventName())
		return nil
	}

	record := &db.CrossChainTx{
		ID:     db.TransactionID(deposit.SourceChainID.Uint64(), deposit.TxHash, deposit.LogIndex),
		Status: db.StatusPending,

		SourceChainID:     deposit.SourceChainID.Uint64(),
		SourceTxHash:      deposit.TxHash.Hex(),
		LogIndex:          deposit.LogIndex,
		SourceBlockNumber: deposit.BlockNumber,
		SourceBlockTime:   deposit.BlockTime,

		Amount:    deposit.Amount.String(),
		Sender:    deposit.Sender.Hex(),
		Recipient: deposit.Recipient.Hex(),
	}

	stored, isNew, err := l.repository.CreateIfAbsent(record)
	if err != nil {
		return err
	}
	if isNew {
		l.logger.Infof("New transfer detected, id: %s, source tx: %s, block: %d, amount: %s",
			stored.ID, stored.SourceTxHash, stored.SourceBlockNumber, stored.Amount)
	} else {
		l.logger.Debugf("Deposit already tracked, id: %s", stored.ID)
	}
	if stored.Status != db.StatusPending {
		return nil
	}

	return l.relayDeposit(stored)
}

// relayDeposit attempts the outbound relay call for a PENDING record,
// consuming whatever retry budget the record has left. Exhaustion is
// terminal.
func (l *Listener) relayDeposit(record *db.CrossChainTx) error {
	unlock := l.lockID(record.ID)
	defer unlock()

	attempts := record.RetryCount
	budget := l.relayMaxAttempts - attempts
	if budget <= 0 {
		return l.markRelayFailed(record.ID, attempts)
	}

	req := &relayer.Request{
		TransactionID: record.ID,
		SourceTxHash:  record.SourceTxHash,
		Amount:        record.Amount,
		Sender:        record.Sender,
		Recipient:     record.Recipient,
		SourceChainID: record.SourceChainID,
	}

	relayErr := retry.Do(func() error {
		err := l.relayClient.Relay(context.Background(), req)
		if err != nil {
			attempts++
			l.logger.Warnf("Relay attempt %d/%d failed, id: %s, error: %v",
				attempts, l.relayMaxAttempts, record.ID, err)
			if uerr := l.repository.UpdateRetryCount(record.ID, attempts); uerr != nil {
				l.logger.Errorf("Failed to update retry count, id: %s, error: %v", record.ID, uerr)
			}
		}
		return err
	},
		retry.Attempts(uint(budget)),
		retry.Delay(relayRetryBaseDelay),
		retry.MaxDelay(relayRetryMaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	if relayErr != nil {
		return l.markRelayFailed(record.ID, attempts)
	}

	err := l.repository.Transition(record.ID, db.StatusPending, db.StatusRelayed, db.Update{})
	if errors.Is(err, db.ErrInvalidTransition) {
		l.logger.Infof("Transfer already advanced past PENDING, id: %s", record.ID)
		return nil
	}
	if err != nil {
		return err
	}

	l.logger.Infof("Transfer relayed, id: %s", record.ID)
	return nil
}

func (l *Listener) markRelayFailed(id string, attempts int) error {
	l.logger.Errorf("Relay attempts exhausted, id: %s, attempts: %d", id, attempts)
	err := l.repository.Transition(id, db.StatusPending, db.StatusFailed, db.Update{RetryCount: &attempts})
	if errors.Is(err, db.ErrInvalidTransition) {
		return nil
	}
	return err
}

func (l *Listener) handleDestEvent(ev chain.Event) error {
	completion, ok := ev.(*chain.TransferCompletedEvent)
	if !ok {
		l.logger.Debugf("Ignoring %s event on destination chain", ev.EventName())
		return nil
	}

	applied, err := l.applyCompletion(completion)
	if err != nil {
		return err
	}
	if !applied {
		l.holdCompletion(completion)
	}

	return nil
}

// applyCompletion returns false when the completion cannot be matched yet and
// must be held for a later tick.
func (l *Listener) applyCompletion(completion *chain.TransferCompletedEvent) (bool, error) {
	sourceTxHash := completion.SourceTxHash.Hex()
	record, err := l.repository.GetBySourceTxHash(sourceTxHash)
	if err != nil {
		if errors.Is(err, db.ErrTxNotFound) {
			// either a deposit this listener has not scanned yet, or a
			// transfer it never tracked
			l.logger.Warnf("Completion without a matching transfer, source tx: %s", sourceTxHash)
			return false, nil
		}
		return false, err
	}

	unlock := l.lockID(record.ID)
	defer unlock()

	switch record.Status {
	case db.StatusRelayed:
		destTxHash := completion.TxHash.Hex()
		err := l.repository.Transition(record.ID, db.StatusRelayed, db.StatusCompleted,
			db.Update{DestTxHash: &destTxHash})
		if errors.Is(err, db.ErrInvalidTransition) {
			l.logger.Debugf("Transfer already advanced past RELAYED, id: %s", record.ID)
			return true, nil
		}
		if err != nil {
			return false, err
		}
		l.logger.Infof("Transfer completed, id: %s, dest tx: %s", record.ID, destTxHash)
		return true, nil
	case db.StatusPending:
		// relay has not happened yet, keep the completion until it does
		return false, nil
	case db.StatusFailed:
		l.logger.Warnf("Completion observed for a FAILED transfer, id: %s, source tx: %s",
			record.ID, sourceTxHash)
		return true, nil
	default:
		return true, nil
	}
}

// heldCompletion is a completion waiting for its transfer record. heldAt is
// set on first sighting so redeliveries do not extend the hold window.
type heldCompletion struct {
	event  *chain.TransferCompletedEvent
	heldAt time.Time
}

func (l *Listener) holdCompletion(completion *chain.TransferCompletedEvent) {
	l.heldMu.Lock()
	defer l.heldMu.Unlock()

	key := completion.SourceTxHash.Hex()
	if held, ok := l.heldCompletions[key]; ok {
		held.event = completion
		return
	}
	l.logger.Infof("Holding completion for later, source tx: %s", key)
	l.heldCompletions[key] = &heldCompletion{event: completion, heldAt: time.Now()}
}

func (l *Listener) retryHeldCompletions() {
	l.heldMu.Lock()
	held := make(map[string]*heldCompletion, len(l.heldCompletions))
	for key, hc := range l.heldCompletions {
		held[key] = hc
	}
	l.heldMu.Unlock()

	for key, hc := range held {
		if time.Since(hc.heldAt) > heldCompletionTTL {
			l.logger.Warnf("Dropping completion with no matching transfer, source tx: %s", key)
			l.dropHeldCompletion(key)
			continue
		}

		applied, err := l.applyCompletion(hc.event)
		if err != nil {
			l.logger.Errorf("Failed to re-apply held completion, source tx: %s, error: %v", key, err)
			continue
		}
		if applied {
			l.dropHeldCompletion(key)
		}
	}
}

func (l *Listener) dropHeldCompletion(key string) {
	l.heldMu.Lock()
	delete(l.heldCompletions, key)
	l.heldMu.Unlock()
}

// lockID serializes state changes per transaction id so a deposit and its
// completion can never race.
func (l *Listener) lockID(id string) func() {
	muIface, _ := l.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (l *Listener) sleep(d time.Duration) {
	select {
	case <-l.quit:
	case <-time.After(d):
	}
}
