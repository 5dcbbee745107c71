package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	domain "github.com/voidwallet/voidd/internal/app/domain/bridge"
	"github.com/voidwallet/voidd/internal/metrics"
	"github.com/voidwallet/voidd/pkg/logger"
)

// Committer publishes the balance-tree root on-chain at a fixed interval.
// The contract treats missed commitments as enclave death, so the committer
// keeps ticking through transient failures and retries on the next tick
// rather than retrying inline.
type Committer struct {
	bridge   *Service
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCommitter(bridge *Service, interval time.Duration, log *logger.Logger) *Committer {
	if log == nil {
		log = logger.NewDefault("committer")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Committer{
		bridge:   bridge,
		interval: interval,
		timeout:  interval,
		log:      log,
	}
}

func (c *Committer) Name() string { return "state-root-committer" }

func (c *Committer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(runCtx)

	c.log.WithField("interval", c.interval.String()).Info("state-root committer started")
	return nil
}

func (c *Committer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Committer) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CommitOnce(ctx); err != nil {
				metrics.CommitFailures.Inc()
				c.log.WithError(err).Error("state-root commitment failed")
			}
		}
	}
}

// CommitOnce signs and submits the current balance root under the next
// term. The term only advances after the transaction is accepted, so a
// failed submission is retried under the same term instead of leaving a
// gap.
func (c *Committer) CommitOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	root := common.HexToHash(c.bridge.ledger.BalanceRoot())

	term, err := c.bridge.commitments.CurrentTerm(ctx)
	if err != nil {
		return fmt.Errorf("read term: %w", err)
	}
	term++

	txHash, sig, err := c.bridge.chain.CommitStateRoot(ctx, root, term)
	if err != nil {
		return fmt.Errorf("submit commitment term %d: %w", term, err)
	}

	if err := c.bridge.commitments.PutTerm(ctx, term); err != nil {
		return fmt.Errorf("persist term: %w", err)
	}
	commitment := domain.Commitment{
		StateRoot: root.Hex(),
		Term:      term,
		Signature: common.Bytes2Hex(sig),
		TxHash:    txHash.Hex(),
		SentAt:    time.Now().UTC(),
	}
	if err := c.bridge.commitments.PutLastCommitment(ctx, commitment); err != nil {
		return fmt.Errorf("persist commitment: %w", err)
	}

	metrics.CommitsSubmitted.Inc()
	c.log.WithFields(map[string]interface{}{
		"root": root.Hex(), "term": term, "tx": txHash.Hex(),
	}).Info("state root committed")
	return nil
}
