package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexycode/altflex/internal/anomaly"
	"github.com/flexycode/altflex/internal/audit"
	"github.com/flexycode/altflex/internal/chaindata"
	"github.com/flexycode/altflex/internal/custody"
	"github.com/flexycode/altflex/internal/exploitdb"
	"github.com/flexycode/altflex/internal/verify"
)

const testTxHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

type serviceFixture struct {
	service      *Service
	ledgerStore  *audit.MemoryStore
	custodyStore *custody.MemoryStore
	store        *MemoryStore
}

func newFixture(t *testing.T, scorer anomaly.Scorer) *serviceFixture {
	t.Helper()

	exploits := exploitdb.NewMemoryStore()
	ledgerStore := audit.NewMemoryStore()
	ledger := audit.NewLedger(ledgerStore, "test-signing-key-0123456789abcdef")

	signer, err := custody.NewSigner("analysis-engine")
	require.NoError(t, err)
	registry := custody.NewMemoryRegistry(map[string]string{signer.ID(): signer.Address()})
	custodyStore := custody.NewMemoryStore()
	tracker := custody.NewTracker(custodyStore, registry, ledger)

	store := NewMemoryStore()
	verifier := verify.NewVerifier(chaindata.NewStaticClient(), exploits, exploits)
	aggregator := NewAggregator(0.8, 0.5, exploitdb.NewMatcher(exploits))

	service := NewService(NewEngine(), aggregator, verifier, scorer, exploits,
		ledger, tracker, signer, store, nil, Options{
			EthPriceUSD:    2000,
			AnomalyTimeout: time.Second,
			LendingProtocols: map[string]struct{}{
				lendingAddr: {},
			},
		})

	return &serviceFixture{
		service:      service,
		ledgerStore:  ledgerStore,
		custodyStore: custodyStore,
		store:        store,
	}
}

func TestAnalyzeKnownAttackerFlashLoan(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0})

	tx := &TransactionRecord{
		Hash:    testTxHash,
		From:    attackerAddr,
		To:      lendingAddr,
		GasUsed: 200_000,
		Input:   "0xab9c4b5d" + "0000",
	}

	a, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
	require.NoError(t, err)

	ids := a.TriggeredRuleIDs()
	assert.Contains(t, ids, "known_attacker")
	assert.Contains(t, ids, "flash_loan")
	// Zero anomaly score still classifies CRITICAL.
	assert.Equal(t, ClassCritical, a.Classification)
	assert.Equal(t, "euler_finance_2023", a.MatchedExploitID)
	assert.NotEmpty(t, a.LedgerEntryID)
}

func TestAnalyzeNormalTransaction(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0.1})

	tx := &TransactionRecord{
		Hash:     testTxHash,
		From:     cleanAddr,
		To:       "0xdef4560000000000000000000000000000000000",
		ValueWei: eth(0.5),
		GasUsed:  150_000,
	}

	a, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
	require.NoError(t, err)

	assert.Empty(t, a.TriggeredRuleIDs())
	assert.Equal(t, ClassNormal, a.Classification)
	assert.Equal(t, 6, a.RulesChecked)
	assert.True(t, a.MLAvailable)
}

func TestAnalyzeRecordsLedgerAndCustody(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0.2})

	tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr, GasUsed: 100_000}
	a, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
	require.NoError(t, err)

	// One detection entry plus the custody reference entry.
	assert.Equal(t, 2, f.ledgerStore.Len())

	chain, err := f.custodyStore.Chain(context.Background(), testTxHash)
	require.NoError(t, err)
	require.Len(t, chain.Events, 1)
	assert.Equal(t, custody.ActionAnalyzed, chain.Events[0].Action)
	assert.Equal(t, "analysis-engine", chain.Events[0].Actor)
	assert.NotEmpty(t, chain.IntegrityHash)

	stored, err := f.store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.LedgerEntryID, stored.LedgerEntryID)

	ok, violations, err := audit.NewLedger(f.ledgerStore, "test-signing-key-0123456789abcdef").
		Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestAnalyzeDegradedWhenScorerUnavailable(t *testing.T) {
	f := newFixture(t, anomaly.UnavailableScorer{})

	tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr, GasUsed: 700_000}
	a, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
	require.NoError(t, err)

	// Rule-only scoring: the verdict is still produced, visibly degraded.
	assert.False(t, a.MLAvailable)
	assert.Zero(t, a.AnomalyScore)
	assert.Contains(t, a.TriggeredRuleIDs(), "high_gas")
	assert.InDelta(t, 0.4, a.RiskScore, 0.001)
}

func TestAnalyzeRejectsMalformedTransaction(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{})

	cases := []*TransactionRecord{
		nil,
		{Hash: "nothex", From: cleanAddr},
		{Hash: testTxHash, From: "0x123"},
		{Hash: testTxHash, From: cleanAddr, To: "junk"},
	}
	for _, tx := range cases {
		_, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
		assert.ErrorIs(t, err, ErrInvalidTransaction)
	}

	// Rejected submissions never reach the ledger.
	assert.Zero(t, f.ledgerStore.Len())
}

func TestAnalyzeCancelledContextAppendsNothing(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0.3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr}
	_, err := f.service.AnalyzeTransaction(ctx, tx, nil)
	require.Error(t, err)
	assert.Zero(t, f.ledgerStore.Len())

	assessments, err := f.store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, assessments)
}

func TestAnalyzeBatchSummary(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0})

	txs := []*TransactionRecord{
		{Hash: testTxHash, From: attackerAddr},
		{
			Hash: "0x2222222222222222222222222222222222222222222222222222222222222222",
			From: cleanAddr,
		},
		{Hash: "bad", From: cleanAddr},
	}

	results, summary, err := f.service.AnalyzeBatch(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Critical)
	assert.Equal(t, 1, summary.Normal)
	assert.Equal(t, 0, summary.Suspicious)
	assert.Equal(t, 1, summary.Failed)
	assert.NotEmpty(t, results[2].Error)
}

func TestAnalyzeConcurrentVerdictsFormOneChain(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0.1})

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr}
			_, err := f.service.AnalyzeTransaction(context.Background(), tx, nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	// Each analysis appends a detection entry and a custody entry.
	assert.Equal(t, 2*n, f.ledgerStore.Len())

	ok, violations, err := audit.NewLedger(f.ledgerStore, "test-signing-key-0123456789abcdef").
		Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "violations: %+v", violations)
}

func TestEvaluateRulesRecordsNothing(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0})

	tx := &TransactionRecord{Hash: testTxHash, From: attackerAddr, GasUsed: 700_000}
	results, err := f.service.EvaluateRules(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, results, 6)

	ids := make([]string, 0, 2)
	for _, r := range results {
		if r.Triggered {
			ids = append(ids, r.RuleID)
		}
	}
	assert.ElementsMatch(t, []string{"known_attacker", "high_gas"}, ids)

	// Diagnostic path leaves no trace.
	assert.Zero(t, f.ledgerStore.Len())
	assessments, err := f.store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, assessments)

	_, err = f.service.EvaluateRules(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestEvaluateRulesLeavesPairingStateUntouched(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0})

	// A borrow leg seen only through the diagnostic endpoint must not
	// pair with a later repay in the same block.
	borrow := &TransactionRecord{
		Hash:        testTxHash,
		From:        cleanAddr,
		BlockNumber: 100,
		Input:       "0xa415bcad",
	}
	_, err := f.service.EvaluateRules(context.Background(), borrow)
	require.NoError(t, err)

	repay := &TransactionRecord{
		Hash:        "0x9999999999999999999999999999999999999999999999999999999999999999",
		From:        cleanAddr,
		BlockNumber: 100,
		Input:       "0x573ade81",
	}
	a, err := f.service.AnalyzeTransaction(context.Background(), repay, nil)
	require.NoError(t, err)
	assert.NotContains(t, a.TriggeredRuleIDs(), "same_block_borrow_repay")
}

func TestProbeAnomaly(t *testing.T) {
	f := newFixture(t, anomaly.StaticScorer{Probability: 0.7})

	tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr}
	score, available, err := f.service.ProbeAnomaly(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, 0.7, score)
	assert.Zero(t, f.ledgerStore.Len())

	_, _, err = f.service.ProbeAnomaly(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestProbeAnomalyUnavailable(t *testing.T) {
	f := newFixture(t, anomaly.UnavailableScorer{})

	tx := &TransactionRecord{Hash: testTxHash, From: cleanAddr}
	score, available, err := f.service.ProbeAnomaly(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, available)
	assert.Zero(t, score)
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, anomaly.UnavailableScorer{})
	info := f.service.ModelInfo()
	assert.Equal(t, "none", info.Kind)
	assert.False(t, info.Available)
	assert.Equal(t, anomaly.FeatureNames(), info.Features)
}
