package feed

import (
	"context"
	"testing"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func importedFixture(t *testing.T) *reconciler.Engine {
	t.Helper()
	loader := newTestLoader()
	period, err := loader.Load(context.Background(), fixturePeriod)
	require.NoError(t, err)
	imp, _, err := loader.Import(period)
	require.NoError(t, err)

	engine, err := reconciler.NewEngine(nil, reconciler.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, engine.Import(imp))
	return engine
}

func TestRunScript_FixtureSession(t *testing.T) {
	engine := importedFixture(t)
	script, err := LoadScript("../../testdata/periods/q2-2024-session.yaml")
	require.NoError(t, err)

	result, err := RunScript(context.Background(), engine, script, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Steps, 8)
	assert.True(t, result.Steps[2].Expected)
	assert.Equal(t, errors.CodeInvalidTransition, result.Steps[2].Code)
	assert.Equal(t, 8, result.Progress.Current)

	require.NotNil(t, result.Summary)
	summary := result.Summary
	assert.True(t, summary.Balanced)
	assert.True(t, summary.LedgerNetTotal.Equal(decimal.RequireFromString("12543.22")), "net %s", summary.LedgerNetTotal)
	assert.True(t, summary.Difference.IsZero())
	assert.Equal(t, 1, summary.AutoCount)
	require.Len(t, summary.CarryForward, 1)
	assert.Equal(t, "l8", summary.CarryForward[0].ID)

	// the period is frozen after sign-off
	assert.True(t, errors.HasCode(engine.Accept("missing-bank-l8"), errors.CodeFinalized))
}

func TestRunScript_ManualCommands(t *testing.T) {
	engine := importedFixture(t)
	script, err := DecodeScript("manual.yaml", []byte(`
actions:
  - {op: reject, id: m1}
  - {op: manual_resolve, ledger: [m1], statements: [m1]}
  - {op: apply_suggestion, id: acme}
  - {op: resolve_updated, id: acme}
  - {op: edit_ledger_entry, id: missing-bank-l8, description: "CHEQUE 000123 VOID", amount: "-260"}
  - {op: add_ledger_entry, direction: expense, date: "2024-06-30", description: "Card fee", amount: "12.50"}
  - {op: set_statement_balance, amount: "142900.00"}
  - {op: ignore_duplication, id: office}
`))
	require.NoError(t, err)

	result, err := RunScript(context.Background(), engine, script, logger.Discard())
	require.NoError(t, err)
	for _, step := range result.Steps {
		assert.True(t, step.OK, "step %d %s: %s", step.Index, step.Op, step.Error)
	}
	assert.Nil(t, result.Summary)

	snap := engine.Snapshot()
	assert.True(t, snap.StatementBalance.Equal(decimal.RequireFromString("142900")))
	assert.Equal(t, reconciler.ContainerResolved, snap.Location("acme"))
	assert.Equal(t, reconciler.ContainerAttention, snap.Location("missing-bank-l8"))
	assert.Equal(t, reconciler.ContainerAttention, snap.Location("office"))

	var manual int
	for _, item := range snap.CarryForward() {
		if item.Manual {
			manual++
			assert.True(t, item.Amount.Equal(decimal.RequireFromString("-12.50")))
		}
	}
	assert.Equal(t, 1, manual)

	totals := snap.Totals()
	assert.Equal(t, 1, totals.ResolvedByMethod[models.MethodAIUpdated])
}

func TestRunScript_Failures(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		failed      int
		steps       int
		stopped     bool
		errContains string
	}{
		{
			name:   "keeps going",
			script: "actions:\n  - {op: accept, id: nope}\n  - {op: accept, id: acme}\n",
			failed: 1,
			steps:  2,
		},
		{
			name:        "stops on first error",
			script:      "stop_on_error: true\nactions:\n  - {op: accept, id: nope}\n  - {op: accept, id: acme}\n",
			failed:      1,
			steps:       1,
			stopped:     true,
			errContains: "nope",
		},
		{
			name:        "expected error did not happen",
			script:      "stop_on_error: true\nactions:\n  - {op: accept, id: acme, expect_error: not_found}\n",
			failed:      1,
			steps:       1,
			stopped:     true,
			errContains: "expected not_found",
		},
		{
			name:   "wrong error code",
			script: "actions:\n  - {op: accept, id: office, expect_error: not_found}\n",
			failed: 1,
			steps:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := DecodeScript(tt.name, []byte(tt.script))
			require.NoError(t, err)

			result, err := RunScript(context.Background(), importedFixture(t), script, logger.Discard())
			assert.Equal(t, tt.failed, result.Failed)
			assert.Len(t, result.Steps, tt.steps)
			if tt.stopped {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScript_Validate(t *testing.T) {
	_, err := DecodeScript("bad.yaml", []byte(`
actions:
  - {op: accept}
  - {op: explode, id: x}
  - {op: add_ledger_entry, direction: sideways, date: "2024-06-01", amount: "1"}
  - {op: set_statement_balance, amount: "lots"}
  - {op: manual_resolve}
`))
	summary, ok := err.(*errors.ErrorSummary)
	require.True(t, ok, "expected an error summary, got %T: %v", err, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.ByCode[errors.CodeMissingField])
	assert.Equal(t, 2, summary.ByCode[errors.CodeInvalidData])
	assert.Equal(t, 1, summary.ByCode[errors.CodeInvalidAmount])
	assert.Contains(t, summary.Error(), "actions[1].op")
}

func TestRunScript_Cancelled(t *testing.T) {
	script := &Script{Actions: []Action{{Op: OpAccept, ID: "acme"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := RunScript(ctx, importedFixture(t), script, logger.Discard())
	require.Error(t, err)
	assert.Empty(t, result.Steps)
}
